package worker

import "github.com/spooled/spooled-sdk-go/sdkerrors"

// raceTolerated reports whether err is a dequeue-race outcome the runtime
// treats as handled rather than a real failure: the server authoritatively
// assigned the job elsewhere (NotFound) or it was already settled by another
// worker (Conflict).
func raceTolerated(err error) bool {
	svcErr, ok := err.(*sdkerrors.ServiceError)
	if !ok {
		return false
	}
	return svcErr.Kind == sdkerrors.KindNotFound || svcErr.Kind == sdkerrors.KindConflict
}
