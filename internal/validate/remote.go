package validate

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// scp-like git remote: git@github.com:org/repo
var scpLikeRemote = regexp.MustCompile(`^git@([^:/]+):(.+)$`)

// NormalizeRemoteURL canonicalizes a git remote URL so that equivalent
// spellings compare equal: whitespace trimmed, trailing "/" and ".git"
// stripped, host lowercased, and ssh/git/scp-like forms mapped to the
// https form. The canonical shape is "https://host/path".
func NormalizeRemoteURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("remote url must not be empty")
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			return "", fmt.Errorf("remote url must not contain control characters")
		}
	}
	s = strings.TrimSuffix(s, "/")
	s = strings.TrimSuffix(s, ".git")
	s = strings.TrimSuffix(s, "/")

	if m := scpLikeRemote.FindStringSubmatch(s); m != nil {
		return "https://" + strings.ToLower(m[1]) + "/" + strings.Trim(m[2], "/"), nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("remote url %q is not recognized: %w", raw, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ssh", "git":
	default:
		return "", fmt.Errorf("remote url %q has unsupported scheme %q", raw, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("remote url %q has no host", raw)
	}
	p := strings.Trim(u.Path, "/")
	if p == "" {
		return "", fmt.Errorf("remote url %q has no path", raw)
	}
	return "https://" + host + "/" + p, nil
}
