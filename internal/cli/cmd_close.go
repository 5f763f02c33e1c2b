package cli

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/bead/internal/engine"
)

// CloseCmd returns the close command.
func CloseCmd(eng *engine.Engine) *Command {
	return &Command{
		Flags: flag.NewFlagSet("close", flag.ContinueOnError),
		Usage: "close <id>",
		Short: "Close an issue",
		Long: "Mark an issue closed and record the closing time.\n" +
			"The record file is kept; closed issues stay queryable forever.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := requireInit(eng); err != nil {
				return err
			}

			if len(args) == 0 {
				return errIDRequired
			}

			internal, err := resolveID(eng, args[0])
			if err != nil {
				return err
			}

			is, err := eng.Store().CloseIssue(internal)
			if err != nil {
				return err
			}

			mapping, _, err := eng.Mapping()
			if err != nil {
				return err
			}

			o.Println("Closed", displayID(mapping, is.ID), is.Title)

			return nil
		},
	}
}
