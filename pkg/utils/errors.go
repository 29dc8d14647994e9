package utils

import (
	"fmt"
	"strings"
)

// ErrArray holds an array of errors.
type ErrArray struct {
	Errors []error
}

// Error returns a pretty string of errors present.
func (e ErrArray) Error() string {
	if len(e.Errors) == 0 {
		return "nil"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d errors occurred:", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&b, "\n\t%v", err)
	}
	return b.String()
}

// Unwrap returns the wrapped errors for errors.Is / errors.As.
func (e ErrArray) Unwrap() []error {
	return e.Errors
}
