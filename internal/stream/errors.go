package stream

import "fmt"

// MalformedMessageError marks a payload that cannot be parsed into a post.
// Such messages are acknowledged and dropped, never retried.
type MalformedMessageError struct {
	Reason string
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("malformed message: %s", e.Reason)
}
