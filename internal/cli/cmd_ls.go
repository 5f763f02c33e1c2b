package cli

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/bead/internal/engine"
	"github.com/calvinalkan/bead/internal/issue"
)

// LsCmd returns the ls command.
func LsCmd(eng *engine.Engine) *Command {
	flags := flag.NewFlagSet("ls", flag.ContinueOnError)

	status := flags.String("status", "", "Filter by status (open|in_progress|blocked|deferred|closed)")
	kind := flags.String("kind", "", "Filter by kind (bug|feature|task|epic|chore)")
	label := flags.String("label", "", "Filter by label")
	all := flags.Bool("all", false, "Include closed issues")

	return &Command{
		Flags: flags,
		Usage: "ls [flags]",
		Short: "List issues",
		Long: "List issues, open ones by default.\n" +
			"Unreadable record files are skipped and reported as warnings.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := requireInit(eng); err != nil {
				return err
			}

			issues, skipped, err := eng.Store().List()
			if err != nil {
				return err
			}

			for _, skip := range skipped {
				o.WarnAgent(
					fmt.Sprintf("skipped unreadable record %s (%v)", skip.Path, skip.Err),
					"run: bead doctor",
				)
			}

			mapping, report, err := eng.Mapping()
			if err != nil {
				return err
			}

			if !report.Clean() {
				o.WarnAgent("short id mapping has duplicate keys", "run: bead doctor --fix")
			}

			filtered := issues[:0]

			for _, is := range issues {
				switch {
				case *status != "" && is.Status != *status:
				case *status == "" && !*all && is.Status == issue.StatusClosed:
				case *kind != "" && is.Kind != *kind:
				case *label != "" && !hasLabel(is, *label):
				default:
					filtered = append(filtered, is)
				}
			}

			// Most urgent first, then newest.
			sort.SliceStable(filtered, func(i, j int) bool {
				if filtered[i].Priority != filtered[j].Priority {
					return filtered[i].Priority < filtered[j].Priority
				}

				return filtered[i].Created.After(filtered[j].Created)
			})

			for _, is := range filtered {
				o.Printf("%-8s %-12s p%d  %s\n",
					displayID(mapping, is.ID),
					statusColored(is.Status),
					is.Priority,
					is.Title,
				)
			}

			if len(filtered) == 0 {
				o.Println("no issues")
			}

			return nil
		},
	}
}

func hasLabel(is *issue.Issue, label string) bool {
	return slices.Contains(is.Labels, label)
}

// statusColored renders a status for terminal output. Color codes are
// stripped automatically when stdout is not a terminal.
func statusColored(status string) string {
	switch status {
	case issue.StatusOpen:
		return color.GreenString(status)
	case issue.StatusInProgress:
		return color.CyanString(status)
	case issue.StatusBlocked:
		return color.RedString(status)
	case issue.StatusDeferred:
		return color.YellowString(status)
	case issue.StatusClosed:
		return color.New(color.Faint).Sprint(status)
	default:
		return status
	}
}
