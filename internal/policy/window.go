// Package policy holds the messaging-window decision: how long after the
// customer's last contact a page may still send free-form replies.
package policy

import "time"

// Window is the platform's standard messaging window.
const Window = 24 * time.Hour

// HumanAgentTag is the tag an outbound send must carry once the window has
// elapsed.
const HumanAgentTag = "HUMAN_AGENT"

type Decision struct {
	Allowed     bool
	RequiresTag bool
}

// Evaluate decides whether a send to the conversation is inside the
// messaging window. Restricted does not block the send; it means the request
// must carry HumanAgentTag and the operator should be warned. A zero
// lastMessageAt (no recorded contact) is treated as outside the window.
func Evaluate(lastMessageAt time.Time, now time.Time) Decision {
	if lastMessageAt.IsZero() || now.Sub(lastMessageAt) > Window {
		return Decision{Allowed: false, RequiresTag: true}
	}
	return Decision{Allowed: true}
}
