package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/bead/internal/engine"
	"github.com/calvinalkan/bead/internal/ids"
	"github.com/calvinalkan/bead/internal/issue"
)

// Errors for create argument validation.
var (
	errTitleRequired = errors.New("title is required")
	errInvalidKind   = errors.New("invalid kind")
	errInvalidPrio   = errors.New("invalid priority (must be 0-4)")
	errBadDependency = errors.New("dependency must be <relation>:<id>")
)

// CreateCmd returns the create command.
func CreateCmd(eng *engine.Engine) *Command {
	flags := flag.NewFlagSet("create", flag.ContinueOnError)

	kind := flags.StringP("kind", "k", "task", "Kind: bug|feature|task|epic|chore")
	priority := flags.IntP("priority", "p", issue.DefaultPriority, "Priority 0-4 (0=most urgent)")
	description := flags.StringP("description", "d", "", "Description text")
	labels := flags.StringArray("label", nil, "Label (repeatable)")
	parent := flags.String("parent", "", "Parent issue id")
	deps := flags.StringArray("dep", nil, "Dependency as <relation>:<id> (repeatable)")
	specPath := flags.String("spec", "", "Path to a spec document")
	externalURL := flags.String("url", "", "External issue URL")

	return &Command{
		Flags: flags,
		Usage: "create <title> [flags]",
		Short: "Create an issue, prints its short id",
		Long: "Create a new issue in the sync worktree and assign it a short id.\n" +
			"The short id is printed on success and is what every other command accepts.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if err := requireInit(eng); err != nil {
				return err
			}

			if len(args) == 0 || args[0] == "" {
				return errTitleRequired
			}

			if !issue.IsValidKind(*kind) {
				return fmt.Errorf("%w: %s", errInvalidKind, *kind)
			}

			if !issue.IsValidPriority(*priority) {
				return errInvalidPrio
			}

			is := &issue.Issue{
				ID:          ids.NewInternalID(),
				Kind:        *kind,
				Title:       args[0],
				Status:      issue.StatusOpen,
				Priority:    *priority,
				Labels:      *labels,
				Description: *description,
				SpecPath:    *specPath,
				ExternalURL: *externalURL,
			}

			if *parent != "" {
				parentID, err := resolveID(eng, *parent)
				if err != nil {
					return err
				}

				is.Parent = parentID
			}

			for _, dep := range *deps {
				relation, target, found := strings.Cut(dep, ":")
				if !found || relation == "" || target == "" {
					return fmt.Errorf("%w: %s", errBadDependency, dep)
				}

				targetID, err := resolveID(eng, target)
				if err != nil {
					return err
				}

				is.Dependencies = append(is.Dependencies, issue.Dependency{Relation: relation, Target: targetID})
			}

			err := eng.Store().Create(is)
			if err != nil {
				return err
			}

			short, err := assignShortID(eng, is.ID)
			if err != nil {
				return err
			}

			o.Println(short)

			return nil
		},
	}
}

// assignShortID claims a fresh short id for internal and persists the
// mapping.
func assignShortID(eng *engine.Engine, internal string) (string, error) {
	mapping, _, err := eng.Mapping()
	if err != nil {
		return "", err
	}

	short, err := ids.NewShortID(mapping)
	if err != nil {
		return "", err
	}

	mapping[short] = internal

	err = ids.Save(eng.Config().MappingPath(), mapping)
	if err != nil {
		return "", err
	}

	return short, nil
}

// resolveID turns a user-supplied identifier, short or internal, into an
// internal id.
func resolveID(eng *engine.Engine, arg string) (string, error) {
	if issue.IsInternalID(arg) {
		return arg, nil
	}

	mapping, _, err := eng.Mapping()
	if err != nil {
		return "", err
	}

	return mapping.Internal(arg)
}

// displayID returns the short id for internal when one exists, otherwise
// the internal id itself.
func displayID(mapping ids.Mapping, internal string) string {
	if short, ok := mapping.Short(internal); ok {
		return short
	}

	return internal
}
