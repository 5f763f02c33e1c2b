package cli

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/bead/internal/engine"
)

// InitCmd returns the init command.
func InitCmd(eng *engine.Engine) *Command {
	flags := flag.NewFlagSet("init", flag.ContinueOnError)

	fix := flags.Bool("fix", false, "Repair an existing but broken worktree, discarding its uncommitted files")

	return &Command{
		Flags: flags,
		Usage: "init [--fix]",
		Short: "Set up the sync worktree and layout",
		Long: "Create the sync branch, the hidden worktree, the directory layout and\n" +
			"a .gitignore entry for the worktree. Safe to run repeatedly.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			result, err := eng.Init(ctx, *fix)
			if err != nil {
				return err
			}

			switch {
			case result.Created || result.WorktreeRepaired:
				o.Println("Initialized bead in", eng.Config().WorktreeDir, "on branch", eng.Config().SyncBranch)
			default:
				o.Println("Already initialized")
			}

			return nil
		},
	}
}
