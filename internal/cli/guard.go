package cli

import (
	"errors"
	"os"

	"github.com/calvinalkan/bead/internal/engine"
)

var errNotInitialized = errors.New("bead is not initialized here (run: bead init)")

// requireInit rejects data commands before init has built the layout,
// instead of letting them scribble a half-layout into place.
func requireInit(eng *engine.Engine) error {
	if _, err := os.Stat(eng.Config().IssuesDir()); err != nil {
		return errNotInitialized
	}

	return nil
}
