package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/bead/internal/attic"
	"github.com/calvinalkan/bead/internal/engine"
)

// Errors for attic argument handling.
var (
	errAtticSubcommand = errors.New("attic needs a subcommand: ls, show or restore")
	errAtticTimestamp  = errors.New("timestamp is required (see: bead attic ls <id>)")
	errBadTimestamp    = errors.New("timestamp must be RFC3339, e.g. 2026-08-28T10:30:00Z")
)

// AtticCmd returns the attic command.
func AtticCmd(eng *engine.Engine) *Command {
	return &Command{
		Flags: flag.NewFlagSet("attic", flag.ContinueOnError),
		Usage: "attic <ls|show|restore> [args]",
		Short: "Inspect and restore conflict-archived issues",
		Long: "The attic holds issue versions that lost a sync conflict.\n\n" +
			"  attic ls [id]               List archived versions\n" +
			"  attic show <id> <time>      Print one archived version\n" +
			"  attic restore <id> <time>   Copy an archived version back as current\n\n" +
			"Restore never deletes the attic entry; restoring is itself undoable.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := requireInit(eng); err != nil {
				return err
			}

			if len(args) == 0 {
				return errAtticSubcommand
			}

			switch args[0] {
			case "ls":
				return atticLs(eng, o, args[1:])
			case "show":
				return atticShow(eng, o, args[1:])
			case "restore":
				return atticRestore(eng, o, args[1:])
			default:
				return fmt.Errorf("%w (got %q)", errAtticSubcommand, args[0])
			}
		},
	}
}

func atticLs(eng *engine.Engine, o *IO, args []string) error {
	mapping, _, err := eng.Mapping()
	if err != nil {
		return err
	}

	entries, err := listAtticEntries(eng, args)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		o.Println("attic is empty")

		return nil
	}

	for _, entry := range entries {
		o.Printf("%-8s %s\n", displayID(mapping, entry.ID), entry.LostAt.Format(time.RFC3339))
	}

	return nil
}

func atticShow(eng *engine.Engine, o *IO, args []string) error {
	id, lostAt, err := atticArgs(eng, args)
	if err != nil {
		return err
	}

	is, err := eng.Attic().Show(id, lostAt)
	if err != nil {
		return err
	}

	o.Println(is.Title)
	o.Println("  id:     ", is.ID)
	o.Println("  status: ", is.Status)
	o.Println("  updated:", is.Updated.Format(time.RFC3339))

	if is.Description != "" {
		o.Println()
		o.Println(is.Description)
	}

	return nil
}

func atticRestore(eng *engine.Engine, o *IO, args []string) error {
	id, lostAt, err := atticArgs(eng, args)
	if err != nil {
		return err
	}

	is, err := eng.Attic().Restore(eng.Store(), id, lostAt)
	if err != nil {
		return err
	}

	mapping, _, mapErr := eng.Mapping()
	if mapErr != nil {
		return mapErr
	}

	o.Println("Restored", displayID(mapping, is.ID), "as version", is.Version)

	return nil
}

func listAtticEntries(eng *engine.Engine, args []string) ([]attic.Entry, error) {
	if len(args) == 0 {
		return eng.Attic().List()
	}

	internal, err := resolveID(eng, args[0])
	if err != nil {
		return nil, err
	}

	return eng.Attic().ListFor(internal)
}

func atticArgs(eng *engine.Engine, args []string) (string, time.Time, error) {
	if len(args) == 0 {
		return "", time.Time{}, errIDRequired
	}

	if len(args) < 2 {
		return "", time.Time{}, errAtticTimestamp
	}

	internal, err := resolveID(eng, args[0])
	if err != nil {
		return "", time.Time{}, err
	}

	lostAt, err := time.Parse(time.RFC3339, args[1])
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w (got %q)", errBadTimestamp, args[1])
	}

	return internal, lostAt, nil
}
