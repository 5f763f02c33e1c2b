package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/bead/internal/engine"
)

var errIDRequired = errors.New("issue id is required")

// ShowCmd returns the show command.
func ShowCmd(eng *engine.Engine) *Command {
	flags := flag.NewFlagSet("show", flag.ContinueOnError)

	raw := flags.Bool("raw", false, "Print the record file verbatim")

	return &Command{
		Flags: flags,
		Usage: "show <id>",
		Short: "Print one issue",
		Long:  "Print an issue by short or internal id.",
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

			is, err := eng.Store().Get(internal)
			if err != nil {
				return err
			}

			mapping, _, err := eng.Mapping()
			if err != nil {
				return err
			}

			if *raw {
				content, readErr := rawRecord(eng, internal)
				if readErr != nil {
					return readErr
				}

				o.Printf("%s", content)

				return nil
			}

			header := color.New(color.Bold)

			o.Println(header.Sprint(displayID(mapping, is.ID)), is.Title)
			o.Println("  id:      ", is.ID)
			o.Println("  kind:    ", is.Kind)
			o.Println("  status:  ", statusColored(is.Status))
			o.Println("  priority:", is.Priority)

			if len(is.Labels) > 0 {
				o.Println("  labels:  ", strings.Join(is.Labels, ", "))
			}

			if is.Parent != "" {
				o.Println("  parent:  ", displayID(mapping, is.Parent))
			}

			for _, dep := range is.Dependencies {
				o.Println("  dep:     ", dep.Relation, displayID(mapping, dep.Target))
			}

			o.Println("  created: ", is.Created.Format(time.RFC3339))
			o.Println("  updated: ", is.Updated.Format(time.RFC3339))

			if !is.Closed.IsZero() {
				o.Println("  closed:  ", is.Closed.Format(time.RFC3339))
			}

			if is.SpecPath != "" {
				o.Println("  spec:    ", is.SpecPath)
			}

			if is.ExternalURL != "" {
				o.Println("  url:     ", is.ExternalURL)
			}

			if is.Description != "" {
				o.Println()
				o.Println(is.Description)
			}

			return nil
		},
	}
}

func rawRecord(eng *engine.Engine, internal string) (string, error) {
	content, err := os.ReadFile(eng.Store().Path(internal))
	if err != nil {
		return "", fmt.Errorf("reading record: %w", err)
	}

	return string(content), nil
}
