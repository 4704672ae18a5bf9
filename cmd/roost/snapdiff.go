package main

import (
	"flag"
	"fmt"
	"path/filepath"

	"github.com/roostlabs/roost/internal/snapdiff"
)

// runSnapdiff replays scenario files against the snapshot oracle and
// prints a checkpoint report. A non-nil return (mismatch or unusable
// input) exits the process with status 1.
func runSnapdiff(args []string) error {
	fs := flag.NewFlagSet("snapdiff", flag.ExitOnError)
	verbose := fs.Bool("v", false, "print passing checkpoints too")
	_ = fs.Parse(args)

	if fs.NArg() == 0 {
		return fmt.Errorf("usage: roost snapdiff [-v] <scenario.json> [more.json ...]")
	}

	var scenarios, checks, failedChecks int
	for _, path := range fs.Args() {
		scs, err := snapdiff.Load(path)
		if err != nil {
			return err
		}
		results, err := snapdiff.RunAll(scs)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		for i, res := range results {
			scenarios++
			name := res.Name
			if name == "" {
				name = fmt.Sprintf("%s#%d", filepath.Base(path), i)
			}

			nfail := 0
			for _, cr := range res.Checkpoints {
				checks++
				if !cr.Pass {
					nfail++
					failedChecks++
				}
			}
			if res.Pass {
				fmt.Printf("PASS %s (%d checkpoints)\n", name, len(res.Checkpoints))
			} else {
				fmt.Printf("FAIL %s (%d of %d checkpoints)\n", name, nfail, len(res.Checkpoints))
			}

			for _, cr := range res.Checkpoints {
				if cr.Pass {
					if *verbose {
						fmt.Printf("  step %d: ok\n", cr.Step)
					}
					continue
				}
				fmt.Printf("  step %d: frame hash mismatch\n", cr.Step)
				fmt.Printf("    want %s\n", cr.WantHash)
				fmt.Printf("    got  %s\n", cr.GotHash)
				for _, d := range cr.Diff {
					fmt.Printf("    %s\n", d)
				}
			}
		}
	}

	if failedChecks > 0 {
		return fmt.Errorf("%d of %d checkpoints failed across %d scenarios", failedChecks, checks, scenarios)
	}
	fmt.Printf("ok: %d scenarios, %d checkpoints\n", scenarios, checks)
	return nil
}
