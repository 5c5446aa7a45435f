package platform

import "fmt"

// RejectionError carries the platform's reason for refusing an outbound
// send, e.g. a truly expired messaging window despite tagging. It is
// surfaced to the operator and the optimistic entry is retracted.
type RejectionError struct {
	StatusCode int
	Code       int
	Type       string
	Reason     string
}

func (e *RejectionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("platform rejected send (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("platform rejected send: %s (code %d)", e.Reason, e.Code)
}
