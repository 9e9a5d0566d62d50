package calendar

import "errors"

var (
	//ErrNoCalendars means the client was configured without any calendar urls
	ErrNoCalendars = errors.New("no calendar services configured")

	//ErrServiceUnavailable is transient, the caller should retry with backoff
	ErrServiceUnavailable = errors.New("calendar service unavailable")

	//ErrStillPending means no bitcoin block anchors the commitment yet, also
	//only a matter of retrying later
	ErrStillPending = errors.New("commitment not yet anchored in a bitcoin block")

	//ErrUpstreamUnknown is terminal for the handle, the upstream calendar
	//doesn't know the commitment (anymore)
	ErrUpstreamUnknown = errors.New("upstream calendar doesn't know the commitment")

	//ErrHandleNotExist means no submission is tracked for the digest
	ErrHandleNotExist = errors.New("no handle exists for the digest")
)
