package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure surfaced to a user unwraps to exactly one of these.
var (
	ErrValidation        = errors.New("validation failed")
	ErrCredentialMissing = errors.New("credential missing")
	ErrUpload            = errors.New("upload failed")
	ErrGeneration        = errors.New("generation failed")
	ErrProvider          = errors.New("provider error")
)

// Error describes a failed step of a single action. Body holds the raw
// response of the remote endpoint, if any.
type Error struct {
	Kind    error
	Op      string
	Message string
	Status  int
	Body    string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = msg + ", body: " + e.Body
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Validationf builds an ErrValidation error.
func Validationf(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// CredentialMissing reports the configuration keys that must be supplied
// before the dependent action can run.
func CredentialMissing(keys ...string) error {
	return &Error{Kind: ErrCredentialMissing, Message: fmt.Sprintf("missing %v", keys)}
}

// RemoteError wraps a non-success response from an external endpoint.
func RemoteError(kind error, op string, status int, body string) error {
	return &Error{Kind: kind, Op: op, Message: kind.Error(), Status: status, Body: body}
}

// Wrap attaches kind to err unless err already carries one of the kinds.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != nil {
		return err
	}
	return &Error{Kind: kind, Op: op, Message: err.Error(), Err: err}
}

// KindOf returns the error kind carried by err, or nil.
func KindOf(err error) error {
	for _, kind := range []error{ErrValidation, ErrCredentialMissing, ErrUpload, ErrGeneration, ErrProvider} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
