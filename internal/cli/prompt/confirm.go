package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
)

// Confirm asks a yes/no question. An empty answer picks defaultYes.
func (t Terminal) Confirm(label string, defaultYes bool) (bool, error) {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}
	p := promptui.Prompt{
		Label:     fmt.Sprintf("%s [%s]", label, hint),
		IsConfirm: true,
		Stdin:     t.In,
		Stdout:    t.Out,
	}
	result, err := p.Run()
	if err != nil {
		switch {
		case errors.Is(err, promptui.ErrInterrupt):
			return false, ErrAborted
		case result == "":
			return defaultYes, nil
		case errors.Is(err, promptui.ErrAbort):
			return false, nil
		}
		return false, err
	}
	r := strings.ToLower(result)
	return r == "y" || r == "yes", nil
}

// ConfirmWithForce skips the question when force is set.
func (t Terminal) ConfirmWithForce(label string, force bool) (bool, error) {
	if force {
		return true, nil
	}
	return t.Confirm(label, false)
}
