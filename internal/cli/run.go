package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/calvinalkan/bead/internal/config"
	"github.com/calvinalkan/bead/internal/engine"
	"github.com/calvinalkan/bead/internal/gitx"
)

// Errors for global argument handling.
var (
	errUnknownFlag    = errors.New("unknown flag")
	errFlagNeedsValue = errors.New("flag requires a value")
)

// Run is the main entry point. Returns exit code.
func Run(ctx context.Context, out, errOut io.Writer, args []string) int {
	o := NewIO(out, errOut)

	if len(args) < 2 {
		printUsage(o)

		return 0
	}

	flags, err := parseGlobalFlags(args[1:])
	if err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	workDir := flags.workDir
	if workDir == "" {
		workDir, err = os.Getwd()
		if err != nil {
			o.ErrPrintln("error: cannot get working directory:", err)

			return 1
		}
	}

	if len(flags.remaining) == 0 || flags.remaining[0] == "-h" || flags.remaining[0] == "--help" {
		printUsage(o)

		return 0
	}

	// Commands operate on the enclosing repository, wherever inside it the
	// process was started.
	root := workDir
	if top, rootErr := gitx.New(workDir).Root(ctx); rootErr == nil {
		root = top
	}

	cfg, err := config.Load(root, flags.configPath)
	if err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	eng := engine.New(cfg)

	name := flags.remaining[0]

	cmd, ok := commands(eng)[name]
	if !ok {
		o.ErrPrintln("error: unknown command:", name)
		printUsage(o)

		return 1
	}

	if code := cmd.Run(ctx, o, flags.remaining[1:]); code != 0 {
		return code
	}

	return o.Finish()
}

// commands builds the registry against one engine.
func commands(eng *engine.Engine) map[string]*Command {
	list := []*Command{
		InitCmd(eng),
		CreateCmd(eng),
		ShowCmd(eng),
		LsCmd(eng),
		CloseCmd(eng),
		SyncCmd(eng),
		DoctorCmd(eng),
		AtticCmd(eng),
	}

	byName := make(map[string]*Command, len(list))
	for _, c := range list {
		byName[c.Name()] = c
	}

	return byName
}

type globalFlags struct {
	workDir    string
	configPath string
	remaining  []string
}

func parseGlobalFlags(args []string) (globalFlags, error) {
	var flags globalFlags

	idx := 0

	for idx < len(args) {
		arg := args[idx]

		switch {
		case arg == "-C" || arg == "--cwd":
			if idx+1 >= len(args) {
				return globalFlags{}, errValueFor(arg)
			}

			flags.workDir = args[idx+1]
			idx += 2
		case strings.HasPrefix(arg, "--cwd="):
			flags.workDir = strings.TrimPrefix(arg, "--cwd=")
			idx++
		case arg == "-c" || arg == "--config":
			if idx+1 >= len(args) {
				return globalFlags{}, errValueFor(arg)
			}

			flags.configPath = args[idx+1]
			idx += 2
		case strings.HasPrefix(arg, "--config="):
			flags.configPath = strings.TrimPrefix(arg, "--config=")
			idx++
		case arg == "-h" || arg == "--help":
			flags.remaining = []string{"--help"}

			return flags, nil
		case strings.HasPrefix(arg, "-") && arg != "-":
			return globalFlags{}, fmt.Errorf("%w: %s", errUnknownFlag, arg)
		default:
			flags.remaining = args[idx:]

			return flags, nil
		}
	}

	return flags, nil
}

func errValueFor(flag string) error {
	return fmt.Errorf("%w: %s", errFlagNeedsValue, flag)
}

func printUsage(o *IO) {
	o.Println(`bead - git-native issue tracking for agents

Usage: bead [options] <command> [args]

Options:
  -C, --cwd <dir>    Run as if started in <dir>
  -c, --config       Use specified config file

Commands:
  init                       Set up the sync worktree and layout
  create <title> [flags]     Create an issue, prints its short id
  show <id>                  Print one issue
  ls [flags]                 List issues
  close <id>                 Close an issue
  sync [flags]               Commit, fetch, merge, push
  doctor [--fix]             Diagnose and repair the repository
  attic <subcommand>         Inspect and restore conflict-archived issues

Run 'bead <command> --help' for details on a command.`)
}
