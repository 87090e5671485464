package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingData is recorded for items without a filename or base URL.
	ErrMissingData = errors.New("missing filename or base URL")

	// ErrUnsafeFilename is recorded for filenames that are not a plain name
	// inside the staging directory (empty after cleaning, "..", or a path).
	ErrUnsafeFilename = errors.New("filename is not a plain file name")
)

// TransferError represents a non-success response from the remote service.
type TransferError struct {
	Status     int    // HTTP status code
	StatusText string // Reason phrase returned by the remote service
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.StatusText)
}

// ItemErrorKind classifies why a single item of a batch failed.
type ItemErrorKind string

const (
	// KindInvalidItem means the item itself could not be downloaded as given.
	KindInvalidItem ItemErrorKind = "invalid_item"
	// KindTransfer means the remote retrieval failed.
	KindTransfer ItemErrorKind = "transfer"
	// KindStorage means the bytes could not be written to the staging area.
	KindStorage ItemErrorKind = "storage"
)

// ItemError is the outcome of a failed item. It is only turned into a string
// when it is recorded into a progress record.
type ItemError struct {
	Kind     ItemErrorKind
	Index    int    // Zero-based position in the batch
	Filename string // Empty when the item had none
	Err      error
}

func (e *ItemError) Error() string {
	if e.Kind == KindInvalidItem || e.Filename == "" {
		return fmt.Sprintf("item %d: %v", e.Index+1, e.Err)
	}

	return fmt.Sprintf("%s: %v", e.Filename, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}
