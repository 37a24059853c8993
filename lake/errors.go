package lake

import "fmt"

// ErrTableNotFound reports that a table URI holds no commit log, i.e. the
// table was never created.
type ErrTableNotFound struct {
	TableUri string
}

func (e *ErrTableNotFound) Error() string {
	return fmt.Sprintf("no table found at %s", e.TableUri)
}

// ErrVersionAlreadyExists reports a commit collision: another writer
// published the version this transaction was about to claim.
type ErrVersionAlreadyExists struct {
	Inner   error
	Version int64
}

func (e *ErrVersionAlreadyExists) Error() string {
	return fmt.Sprintf("table version %v already exists", e.Version)
}

func (e *ErrVersionAlreadyExists) Unwrap() error {
	return e.Inner
}

// ErrMissingPartitionColumn reports a batch row lacking a value for one of
// the table's partition columns.
type ErrMissingPartitionColumn struct {
	Column string
}

func (e *ErrMissingPartitionColumn) Error() string {
	return fmt.Sprintf("missing partition value for column %s", e.Column)
}
