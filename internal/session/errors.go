package session

import (
	"errors"
	"fmt"

	"github.com/graaaaa/vrclog-lifelog/internal/logevent"
)

// ErrMissingContext is matched by every ContextError. It signals that the
// event stream arrived out of order and the file must not be processed further.
var ErrMissingContext = errors.New("missing session context")

// ContextError reports an event that needs a current instance or location
// when none is set.
type ContextError struct {
	Event   logevent.Kind
	Missing string // "instance" or "location"
}

func (e *ContextError) Error() string {
	return fmt.Sprintf("%v: %s requires a current %s", ErrMissingContext, e.Event, e.Missing)
}

// Is makes errors.Is(err, ErrMissingContext) match.
func (e *ContextError) Is(target error) bool {
	return target == ErrMissingContext
}
