package id

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generate returns a 48-character nanoid using an alphanumeric alphabet (A-Za-z0-9).
// Used for every entity identifier: sessions, directories, repositories,
// conversations, tasks, subscriptions, attachments.
func Generate() string {
	id, err := gonanoid.Generate(alphabet, 48)
	if err != nil {
		panic(fmt.Sprintf("generate nanoid: %v", err))
	}
	return id
}

// Short returns a 12-character nanoid for identifiers that appear in paths
// and log lines, such as command ids issued by the bundled client.
func Short() string {
	id, err := gonanoid.Generate(alphabet, 12)
	if err != nil {
		panic(fmt.Sprintf("generate nanoid: %v", err))
	}
	return id
}
