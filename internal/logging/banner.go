package logging

import (
	"fmt"
	"os"
)

// ANSI color codes.
const (
	reset = "\033[0m"
	bold  = "\033[1m"
	cyan  = "\033[36m"
	dim   = "\033[2m"
)

var logoLines = [6]string{
	`  ____                  _    `,
	` |  _ \ ___   ___  ___| |_  `,
	` | |_) / _ \ / _ \/ __| __| `,
	` |  _ < (_) | (_) \__ \ |_  `,
	` |_| \_\___/ \___/|___/\__| `,
	`                             `,
}

// PrintBanner prints the ASCII art logo followed by version and the two
// listen addresses. Colors are used only when stderr is a TTY.
func PrintBanner(ver, streamAddr, httpAddr string) {
	color := stderrIsTTY()

	for i := 0; i < 6; i++ {
		if color {
			fmt.Fprintf(os.Stderr, "%s%s%s\n", bold+cyan, logoLines[i], reset)
		} else {
			fmt.Fprintf(os.Stderr, "%s\n", logoLines[i])
		}
	}

	if color {
		fmt.Fprintf(os.Stderr, "  %sversion%s %s   %sstream%s %s   %shttp%s %s\n\n",
			dim, reset, ver, dim, reset, streamAddr, dim, reset, httpAddr)
	} else {
		fmt.Fprintf(os.Stderr, "  version %s   stream %s   http %s\n\n", ver, streamAddr, httpAddr)
	}
}
