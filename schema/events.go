package schema

// SessionEventType identifies a session lifecycle event.
type SessionEventType string

const (
	// SessionAdded is emitted once a session's view is subscribed.
	SessionAdded SessionEventType = "added"
	// SessionBell is emitted when a non-selected session rings the bell.
	SessionBell SessionEventType = "bell"
	// SessionStale is emitted when resubscription attempts are exhausted.
	SessionStale SessionEventType = "stale"
	// SessionReconnected is emitted after a successful resubscription.
	SessionReconnected SessionEventType = "reconnected"
	// SessionPending is emitted when the outstanding request count changes.
	SessionPending SessionEventType = "pending"
	// SessionSelected is emitted when the selected session changes.
	SessionSelected SessionEventType = "selected"
	// SessionRemoved is emitted when a session is shut.
	SessionRemoved SessionEventType = "removed"
	// SessionNotice carries an out-of-band notice such as a url blit.
	SessionNotice SessionEventType = "notice"
)

// SessionEvent describes a change to a session record.
type SessionEvent struct {
	Type    SessionEventType `json:"type"`
	Session SessionName      `json:"session"`
	Pending int              `json:"pending,omitempty"`
	Notice  string           `json:"notice,omitempty"`
}
