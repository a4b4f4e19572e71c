package sync

import (
	"errors"
	"fmt"

	"github.com/tonimelisma/listsync/internal/sharepoint"
)

// TransientWriteError records a failed single-item write. The run carries
// on with the next item.
type TransientWriteError struct {
	Key    string
	Op     sharepoint.OpKind
	ItemID int
	Err    error
}

func (e *TransientWriteError) Error() string {
	if e.ItemID != 0 {
		return fmt.Sprintf("sync: %s of %q (item %d) failed: %v", e.Op, e.Key, e.ItemID, e.Err)
	}

	return fmt.Sprintf("sync: %s of %q failed: %v", e.Op, e.Key, e.Err)
}

func (e *TransientWriteError) Unwrap() error {
	return e.Err
}

// BatchSubmissionError records a $batch request that failed as a whole.
// None of its operations may be assumed applied; the next pass re-derives
// them from a fresh diff.
type BatchSubmissionError struct {
	Batch int // 1-based batch number within the run
	Size  int
	Err   error
}

func (e *BatchSubmissionError) Error() string {
	return fmt.Sprintf("sync: batch %d (%d operations) failed: %v", e.Batch, e.Size, e.Err)
}

func (e *BatchSubmissionError) Unwrap() error {
	return e.Err
}

// AttachmentTransferError records a failed attachment download, upload or
// delete for one item pair. It never aborts the run.
type AttachmentTransferError struct {
	Key           string
	DestinationID int
	File          string
	Err           error
}

func (e *AttachmentTransferError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("sync: attachment %q of %q: %v", e.File, e.Key, e.Err)
	}

	return fmt.Sprintf("sync: attachments of %q: %v", e.Key, e.Err)
}

func (e *AttachmentTransferError) Unwrap() error {
	return e.Err
}

// isFatal reports whether err must abort the whole run.
func isFatal(err error) bool {
	var (
		schemaErr *sharepoint.SchemaFetchError
		notFound  *sharepoint.ListNotFoundError
	)

	return errors.As(err, &schemaErr) || errors.As(err, &notFound) || errors.Is(err, sharepoint.ErrUnauthorized)
}
