// Package prompt asks the terminal user for OBEX credentials and
// confirmations.
package prompt

import (
	"errors"
	"io"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user presses Ctrl+C or Ctrl+D.
var ErrAborted = errors.New("aborted")

// IsAborted reports whether err came from an aborted prompt.
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) || errors.Is(err, ErrAborted)
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
		return ErrAborted
	}
	return err
}

// Terminal runs prompts on a pair of streams. The zero value uses the
// process stdin and stdout.
type Terminal struct {
	In  io.ReadCloser
	Out io.WriteCloser
}
