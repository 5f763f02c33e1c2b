package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/bead/internal/engine"
	"github.com/calvinalkan/bead/internal/gitx"
	"github.com/calvinalkan/bead/internal/worktree"
)

// SyncCmd returns the sync command.
func SyncCmd(eng *engine.Engine) *Command {
	flags := flag.NewFlagSet("sync", flag.ContinueOnError)

	statusOnly := flags.Bool("status", false, "Report sync state without changing anything")
	noPush := flags.Bool("no-push", false, "Commit and merge but do not push")
	noPull := flags.Bool("no-pull", false, "Commit and push but do not merge remote changes")
	fix := flags.Bool("fix", false, "Repair a broken worktree, discarding its uncommitted files")

	return &Command{
		Flags: flags,
		Usage: "sync [flags]",
		Short: "Commit, fetch, merge, push",
		Long: "Synchronize local issue changes with the remote sync branch.\n" +
			"Conflicting edits keep the local version; the remote version is\n" +
			"archived in the attic, never discarded.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			opts := engine.Options{
				Push:       !*noPush,
				Pull:       !*noPull,
				StatusOnly: *statusOnly,
				Fix:        *fix,
			}

			summary, err := eng.Sync(ctx, opts)

			var syncErr *gitx.SyncError

			switch {
			case errors.As(err, &syncErr):
				// Local state is consistent; only the remote exchange failed.
				printSummary(o, summary)
				o.WarnAgent(
					fmt.Sprintf("%s failed (%s): %v", syncErr.Op, syncErr.Class, syncErr.Err),
					retryAdvice(syncErr.Class),
				)

				return nil
			case errors.Is(err, worktree.ErrFixRequired):
				return fmt.Errorf("%w (rerun with --fix to repair)", err)
			case err != nil:
				return err
			}

			printSummary(o, summary)

			return nil
		},
	}
}

func retryAdvice(class gitx.Class) string {
	switch class {
	case gitx.ClassTransient:
		return "retry: bead sync (the failure looks temporary)"
	case gitx.ClassPermanent:
		return "check repository access; retrying will not help"
	default:
		return "inspect the error, then retry: bead sync"
	}
}

func printSummary(o *IO, s *engine.Summary) {
	if s == nil {
		return
	}

	if s.WorktreeState != worktree.StateHealthy {
		o.Println("worktree:", s.WorktreeState)
	}

	if s.WorktreeRepaired {
		o.Println("worktree: repaired")
	}

	if s.NoOp {
		o.Println("up to date")

		return
	}

	if s.Dirty > 0 && s.Committed == 0 {
		o.Println("uncommitted:", s.Dirty, "file(s)")
	}

	if s.Committed > 0 {
		o.Printf("committed %d file(s): %d new, %d updated, %d deleted\n",
			s.Committed, s.Sent.New, s.Sent.Updated, s.Sent.Deleted)
	}

	if s.Received.Total() > 0 {
		o.Printf("received: %d new, %d updated, %d deleted\n",
			s.Received.New, s.Received.Updated, s.Received.Deleted)
	}

	if s.Conflicts > 0 {
		o.Println(color.YellowString("conflicts:"), s.Conflicts, "(losing versions archived, see: bead attic ls)")
	}

	if s.Pushed {
		o.Println("pushed")
	}

	if s.Unpushed > 0 {
		o.Println("unpushed:", s.Unpushed, "commit(s)")
	}

	if s.Behind > 0 {
		o.Println("behind:", s.Behind, "commit(s)")
	}
}
