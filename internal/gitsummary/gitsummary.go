// Package gitsummary produces a small per-directory git summary for
// live session records: branch, dirty flag and ahead/behind counts.
// Collection is best-effort; a directory that is not a git repository
// (or a machine without git) yields nil.
package gitsummary

import (
	"fmt"
	"os/exec"
	"strings"
)

// Summary is published as an opaque map so clients never depend on a
// fixed schema beyond the documented keys.
type Summary struct {
	Branch string
	Dirty  bool
	Ahead  int
	Behind int
}

// Collect returns the summary for dir, or nil when dir is not inside a
// git work tree.
func Collect(dir string) *Summary {
	// Porcelain v2 first (git 2.13.2+), v1 as fallback.
	out, err := exec.Command("git", "-C", dir, "status", "--porcelain=v2", "--branch").Output()
	if err == nil {
		return parseV2(string(out))
	}
	out, err = exec.Command("git", "-C", dir, "status", "--porcelain", "--branch").Output()
	if err != nil {
		return nil
	}
	return parseV1(string(out))
}

func parseV2(out string) *Summary {
	s := &Summary{}
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "# branch.head "):
			s.Branch = strings.TrimPrefix(line, "# branch.head ")
			if s.Branch == "(detached)" {
				s.Branch = ""
			}
		case strings.HasPrefix(line, "# branch.ab "):
			// "# branch.ab +N -M"
			parts := strings.Fields(line)
			if len(parts) >= 4 {
				_, _ = fmt.Sscanf(parts[2], "+%d", &s.Ahead)
				_, _ = fmt.Sscanf(parts[3], "-%d", &s.Behind)
			}
		case strings.HasPrefix(line, "1 "), strings.HasPrefix(line, "2 "),
			strings.HasPrefix(line, "u "), strings.HasPrefix(line, "? "):
			s.Dirty = true
		}
	}
	return s
}

func parseV1(out string) *Summary {
	s := &Summary{}
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "## ") {
			header := strings.TrimPrefix(line, "## ")
			// "branch...tracking [ahead N, behind M]"
			name := header
			if i := strings.Index(header, "..."); i >= 0 {
				name = header[:i]
			} else if i := strings.IndexByte(header, ' '); i >= 0 {
				name = header[:i]
			}
			s.Branch = name
			if i := strings.IndexByte(header, '['); i >= 0 {
				for _, part := range strings.Split(strings.Trim(header[i:], "[]"), ", ") {
					_, _ = fmt.Sscanf(part, "ahead %d", &s.Ahead)
					_, _ = fmt.Sscanf(part, "behind %d", &s.Behind)
				}
			}
			continue
		}
		s.Dirty = true
	}
	return s
}

// Map renders the summary in the wire shape carried by git-summary
// session events and session records.
func (s *Summary) Map() map[string]any {
	if s == nil {
		return nil
	}
	return map[string]any{
		"branch": s.Branch,
		"dirty":  s.Dirty,
		"ahead":  s.Ahead,
		"behind": s.Behind,
	}
}
