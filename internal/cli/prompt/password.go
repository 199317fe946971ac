package prompt

import (
	"errors"
	"fmt"

	"github.com/manifoldco/promptui"
)

// ErrEmptyPassword is returned when the user enters no password.
var ErrEmptyPassword = errors.New("password must not be empty")

// Password reads a masked line.
func (t Terminal) Password(label string) (string, error) {
	p := promptui.Prompt{
		Label:  label,
		Mask:   '*',
		Stdin:  t.In,
		Stdout: t.Out,
		Validate: func(s string) error {
			if s == "" {
				return ErrEmptyPassword
			}
			return nil
		},
	}
	result, err := p.Run()
	return result, wrapError(err)
}

// Credentials answers an OBEX authentication challenge. The user ID is
// asked only when the peer requires one.
func (t Terminal) Credentials(realm string, userIDRequired bool) (userID, password []byte, err error) {
	label := "Password"
	if realm != "" {
		label = fmt.Sprintf("Password for %s", realm)
	}
	if userIDRequired {
		p := promptui.Prompt{Label: "User ID", Stdin: t.In, Stdout: t.Out}
		id, err := p.Run()
		if err != nil {
			return nil, nil, wrapError(err)
		}
		userID = []byte(id)
	}
	pw, err := t.Password(label)
	if err != nil {
		return nil, nil, err
	}
	return userID, []byte(pw), nil
}
