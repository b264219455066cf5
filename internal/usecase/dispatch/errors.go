package dispatch

import "errors"

var (
	// ErrNoRecipients is wrapped by the ValidationError returned when a
	// recipient spec resolves to nobody.
	ErrNoRecipients = errors.New("no recipients")

	// ErrTooManyRecipients is wrapped when a spec exceeds the recipient cap.
	ErrTooManyRecipients = errors.New("too many recipients")
)
