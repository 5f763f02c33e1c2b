package cli

import (
	"context"
	"errors"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/bead/internal/doctor"
	"github.com/calvinalkan/bead/internal/engine"
)

var errUnhealthy = errors.New("repository has problems")

// DoctorCmd returns the doctor command.
func DoctorCmd(eng *engine.Engine) *Command {
	flags := flag.NewFlagSet("doctor", flag.ContinueOnError)

	fix := flags.Bool("fix", false, "Apply safe repairs")

	return &Command{
		Flags: flags,
		Usage: "doctor [--fix]",
		Short: "Diagnose and repair the repository",
		Long: "Run all health checks: worktree state, record well-formedness,\n" +
			"id uniqueness, dependency targets, mapping integrity, data location\n" +
			"and sync state. With --fix, checks that know a safe repair apply it.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			results := doctor.New(eng).Run(ctx, *fix)

			for _, r := range results {
				o.Printf("%s %-14s %s\n", statusMark(r.Status), r.Check, r.Message)

				if r.Suggestion != "" {
					o.Printf("  %s %s\n", color.New(color.Faint).Sprint("->"), r.Suggestion)
				}

				if r.Fixed {
					o.Printf("  %s\n", color.GreenString("fixed"))
				}
			}

			if !doctor.Healthy(results) {
				return errUnhealthy
			}

			return nil
		},
	}
}

func statusMark(s doctor.Status) string {
	switch s {
	case doctor.StatusOK:
		return color.GreenString("ok  ")
	case doctor.StatusWarn:
		return color.YellowString("warn")
	default:
		return color.RedString("FAIL")
	}
}
