package engine

import (
	"fmt"
	"regexp"
	"strconv"
)

// Sync commits carry a standardized, parseable message so that later runs
// (and humans reading `git log` on the sync branch) can tell record commits
// from everything else.
const commitPrefix = "bead sync: "

var commitMessagePattern = regexp.MustCompile(`^bead sync: (.+) \((\d+) files?\)$`)

// FormatCommitMessage renders a sync commit subject.
func FormatCommitMessage(desc string, files int) string {
	noun := "files"
	if files == 1 {
		noun = "file"
	}

	return fmt.Sprintf("%s%s (%d %s)", commitPrefix, desc, files, noun)
}

// ParseCommitMessage decodes a sync commit subject.
func ParseCommitMessage(subject string) (desc string, files int, ok bool) {
	match := commitMessagePattern.FindStringSubmatch(subject)
	if match == nil {
		return "", 0, false
	}

	files, err := strconv.Atoi(match[2])
	if err != nil {
		return "", 0, false
	}

	return match[1], files, true
}
