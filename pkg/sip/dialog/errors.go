package dialog

import "errors"

var (
	// Dialog errors
	ErrDialogNotFound = errors.New("dialog not found")
	ErrInvalidState   = errors.New("invalid dialog state")
)
