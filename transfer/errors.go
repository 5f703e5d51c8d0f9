package transfer

import "fmt"

// ChecksumError means the assembled bytes do not match what the release
// metadata promised. The partial file is already gone by the time callers
// see this; the next attempt starts clean.
type ChecksumError struct {
	File     string
	Expected string
	Actual   string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.File, e.Expected, e.Actual)
}

// IncompleteError lists the segments that never finished. Completed segment
// state is persisted, so a retry only re-fetches the listed ones.
type IncompleteError struct {
	File     string
	Segments []int
	Errs     []error
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("download incomplete: %d segments failed: %v", len(e.Segments), e.Segments)
}

func (e *IncompleteError) Unwrap() []error {
	return e.Errs
}

type TaskError struct {
	URL  string
	Dest string
	Err  error
}

func (e TaskError) Error() string {
	return fmt.Sprintf("transfer to %s failed: %v", e.Dest, e.Err)
}

func (e TaskError) Unwrap() error {
	return e.Err
}

// PartialFailureError is returned from strict-policy batches after every
// task has settled.
type PartialFailureError struct {
	Failed []TaskError
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("batch finished with %d failed transfers", len(e.Failed))
}
