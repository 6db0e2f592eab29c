package dom

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrMissingElement = errors.New("dom: required element missing")
	ErrCycle          = errors.New("dom: a group cannot adopt itself or its ancestors")
	ErrNotGroup       = errors.New("dom: node is not a group")
	ErrNotEntry       = errors.New("dom: node is not an entry")
	ErrRootGroup      = errors.New("dom: cannot move or remove the root group")
	ErrNoNode         = errors.New("dom: no such node")
)

func missing(parent, name string) error {
	return fmt.Errorf("%w: <%s> in <%s>", ErrMissingElement, name, parent)
}

// ValueError reports an element whose text could not be converted.
type ValueError struct {
	Element string
	Value   string
	Err     error
}

func (e *ValueError) Error() string {
	msg := fmt.Sprintf("dom: invalid value %q for <%s>", e.Value, e.Element)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValueError) Unwrap() error { return e.Err }
