package worker

import (
	"errors"

	"go.temporal.io/sdk/temporal"

	"github.com/jdholdren/lodgebook/internal/sync"
)

// Error types
//
// These are error types in the temporal sense, not the general "go" error types sense.
// They are used since between activities error types are marshaled and type information is lost.
const (
	errTypeInternal        = "internal"
	errTypeConfigNotFound  = "configNotFound"
	errTypeFeedUnreachable = "feedUnreachable"
	errTypeReconcile       = "reconcile"
)

// Turns an application error coming out of a workflow back into the sync
// package's errors. Anything else is returned as is.
func asSyncErr(err error) error {
	if err == nil {
		return nil
	}

	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) {
		return err
	}

	switch appErr.Type() {
	case errTypeConfigNotFound:
		return remoteError{msg: appErr.Message(), kind: sync.ErrConfigNotFound}
	case errTypeFeedUnreachable:
		var (
			feedErr sync.FeedError
			cause   string
		)
		if derr := appErr.Details(&feedErr.URL, &feedErr.StatusCode, &feedErr.Status, &cause); derr != nil {
			return remoteError{msg: appErr.Message(), kind: sync.ErrFeedUnreachable}
		}
		if cause != "" {
			feedErr.Err = errors.New(cause)
		}
		return &feedErr
	case errTypeReconcile:
		return remoteError{msg: appErr.Message(), kind: sync.ErrReconcile}
	}

	return err
}

// remoteError keeps the message from the activity while matching the sync
// sentinel it was raised for.
type remoteError struct {
	msg  string
	kind error
}

func (e remoteError) Error() string { return e.msg }
func (e remoteError) Unwrap() error { return e.kind }
