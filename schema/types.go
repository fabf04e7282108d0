package schema

// SessionName identifies a remote terminal session. The empty name is the
// agent's default session.
type SessionName string

// DefaultSession is the remote agent's default session.
const DefaultSession SessionName = ""

// SubscriptionID is the opaque handle of a live session view subscription.
type SubscriptionID uint64

// Display returns a user-facing label for the session.
func (n SessionName) Display() string {
	if n == DefaultSession {
		return "default"
	}
	return string(n)
}

// ViewPath returns the subscription path of the session's display stream.
func (n SessionName) ViewPath() string {
	return "/session/" + string(n) + "/view"
}

// Cursor is a zero-based cursor position on a render surface.
type Cursor struct {
	X int `json:"x"`
	Y int `json:"y"`
}
