package downloads

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures so the HTTP layer can map them to
// statuses without string matching.
type Kind int

const (
	// KindInvalidRequest: bad or missing input; the downloader was never invoked.
	KindInvalidRequest Kind = iota + 1
	// KindDownloaderFailure: the external tool reported an error; partial file removed.
	KindDownloaderFailure
	// KindTimeout: the download deadline expired; partial file removed.
	KindTimeout
	// KindInconsistentResult: the tool reported success but no file was found; nothing persisted.
	KindInconsistentResult
	// KindPersistenceFailed: the store rejected the record; the downloaded file stays on disk.
	KindPersistenceFailed
	// KindNotFound: lookup or delete on an unknown id.
	KindNotFound
	// KindPartialFailure: delete removed one of {file, record} but not the other.
	KindPartialFailure
)

// Error is a classified pipeline failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a classified error. cause may be nil.
func E(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf returns the failure kind, or 0 for unclassified errors.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}
