package engine

import "errors"

var (
	errDenied        = errors.New("denied")
	errUnsatisfiable = errors.New("circular or unsatisfiable dependency")
	errFailed        = errors.New("capability reported failure")
)

// memberFailure carries the index of the parallel member that failed first.
type memberFailure struct {
	index int
	err   error
}

func (f *memberFailure) Error() string {
	return f.err.Error()
}

func (f *memberFailure) Unwrap() error {
	return f.err
}
