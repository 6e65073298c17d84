package recording

import (
	"errors"
	"fmt"
)

// ErrWrongState is returned when an operation is not valid in the session's
// current state.
var ErrWrongState = errors.New("recording: operation not valid in current state")

// BufferIntegrityError reports a take whose buffer cannot be trusted: it was
// stopped before the tail beat, its tail is shorter than required, or the
// artifact written to disk disagrees with the captured sample count.
type BufferIntegrityError struct {
	Alias  string
	Reason string
	Have   int64
	Want   int64
	Err    error
}

func (e *BufferIntegrityError) Error() string {
	msg := fmt.Sprintf("recording: take %q: %s (have %d frames, want %d)", e.Alias, e.Reason, e.Have, e.Want)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BufferIntegrityError) Unwrap() error { return e.Err }
