package trigger

import "fmt"

// DispatchError signals that a matched binding could not be enqueued,
// typically because the job queue or dedup store is unreachable. The
// event stays unacknowledged and redelivery retries the dispatch.
type DispatchError struct {
	EventID   string
	BindingID string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("trigger: dispatch event %s binding %s: %v", e.EventID, e.BindingID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
