package cli_test

import (
	"strings"
	"testing"

	"github.com/calvinalkan/bead/internal/cli"
)

func TestUsageWithoutArguments(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	stdout, _, code := c.Run()
	if code != 0 {
		t.Fatalf("exitCode=%d, want=0", code)
	}

	cli.AssertContains(t, stdout, "Usage: bead")
	cli.AssertContains(t, stdout, "sync")
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	stderr := c.MustFail("frobnicate")
	cli.AssertContains(t, stderr, "unknown command")
}

func TestCreateRequiresInit(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	stderr := c.MustFail("create", "no layout yet")
	cli.AssertContains(t, stderr, "not initialized")
}

func TestCreateArgumentValidation(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name       string
		args       []string
		wantStderr string
	}{
		{
			name:       "missing title",
			args:       []string{"create"},
			wantStderr: "title is required",
		},
		{
			name:       "bad kind",
			args:       []string{"create", "x", "--kind", "saga"},
			wantStderr: "invalid kind",
		},
		{
			name:       "bad priority",
			args:       []string{"create", "x", "--priority", "9"},
			wantStderr: "invalid priority",
		},
		{
			name:       "bad dependency syntax",
			args:       []string{"create", "x", "--dep", "no-colon"},
			wantStderr: "dependency must be",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := cli.NewCLI(t)
			c.MustRun("init")

			stderr := c.MustFail(tt.args...)
			cli.AssertContains(t, stderr, tt.wantStderr)
		})
	}
}

func TestCreateShowRoundTrip(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("init")

	short := c.MustRun("create", "Fix login timeout",
		"--kind", "bug",
		"--priority", "1",
		"--label", "auth",
		"-d", "Sessions expire after 30 seconds.")

	if len(short) < 4 || len(short) > 5 {
		t.Fatalf("short id %q has unexpected length", short)
	}

	stdout := c.MustRun("show", short)
	cli.AssertContains(t, stdout, "Fix login timeout")
	cli.AssertContains(t, stdout, "bug")
	cli.AssertContains(t, stdout, "auth")
	cli.AssertContains(t, stdout, "Sessions expire after 30 seconds.")
}

func TestShowAcceptsInternalID(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("init")

	short := c.MustRun("create", "Lookup by ulid")
	shown := c.MustRun("show", short)

	// Extract the internal id line.
	var internal string

	for _, line := range strings.Split(shown, "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "id:"); ok {
			internal = strings.TrimSpace(rest)
		}
	}

	if internal == "" {
		t.Fatalf("no internal id in output:\n%s", shown)
	}

	stdout := c.MustRun("show", internal)
	cli.AssertContains(t, stdout, "Lookup by ulid")
}

func TestShowUnknownID(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("init")

	stderr := c.MustFail("show", "zzzz")
	cli.AssertContains(t, stderr, "zzzz")
}

func TestLsFiltersAndDefaults(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("init")

	bugID := c.MustRun("create", "A bug", "--kind", "bug")
	c.MustRun("create", "A feature", "--kind", "feature")
	closedID := c.MustRun("create", "Already done")
	c.MustRun("close", closedID)

	stdout := c.MustRun("ls")
	cli.AssertContains(t, stdout, "A bug")
	cli.AssertContains(t, stdout, "A feature")

	if strings.Contains(stdout, "Already done") {
		t.Error("default ls should hide closed issues")
	}

	stdout = c.MustRun("ls", "--all")
	cli.AssertContains(t, stdout, "Already done")

	stdout = c.MustRun("ls", "--kind", "bug")
	cli.AssertContains(t, stdout, bugID)

	if strings.Contains(stdout, "A feature") {
		t.Error("kind filter leaked other kinds")
	}
}

func TestCloseTwiceFails(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("init")

	short := c.MustRun("create", "Close me")
	c.MustRun("close", short)

	stderr := c.MustFail("close", short)
	cli.AssertContains(t, stderr, "already closed")
}

func TestSyncLocalOnly(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("init")
	c.MustRun("create", "Commit me")

	stdout := c.MustRun("sync")
	cli.AssertContains(t, stdout, "committed")

	stdout = c.MustRun("sync")
	cli.AssertContains(t, stdout, "up to date")
}

func TestSyncStatusDoesNotCommit(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("init")
	c.MustRun("create", "Pending")

	stdout := c.MustRun("sync", "--status")
	cli.AssertContains(t, stdout, "uncommitted")

	// The pending change is still there.
	stdout = c.MustRun("sync", "--status")
	cli.AssertContains(t, stdout, "uncommitted")
}

func TestDoctorHealthyAfterInit(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("init")
	c.MustRun("sync")

	stdout := c.MustRun("doctor")
	cli.AssertContains(t, stdout, "worktree")
	cli.AssertContains(t, stdout, "records")
}

func TestAtticEmpty(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("init")

	stdout := c.MustRun("attic", "ls")
	cli.AssertContains(t, stdout, "attic is empty")
}

func TestAtticArgumentValidation(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("init")

	stderr := c.MustFail("attic")
	cli.AssertContains(t, stderr, "subcommand")

	short := c.MustRun("create", "Conflict bait")

	stderr = c.MustFail("attic", "show", short)
	cli.AssertContains(t, stderr, "timestamp")

	stderr = c.MustFail("attic", "show", short, "not-a-time")
	cli.AssertContains(t, stderr, "RFC3339")
}

func TestGlobalFlagErrors(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	_, stderr, code := c.Run("--bogus", "ls")
	if code == 0 {
		t.Fatal("unknown global flag should fail")
	}

	cli.AssertContains(t, stderr, "unknown flag")
}
