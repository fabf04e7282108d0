package core

import "pkt.systems/hermterm/schema"

// Session is the mutable state of one terminal session. It is owned by the
// session's loop goroutine; other goroutines read it through snapshots.
type Session struct {
	Name    schema.SessionName
	Cursor  schema.Cursor
	Content string
	Echo    EchoCache
	Pending int
}

// SessionSnapshot is a read-only copy of a session record.
type SessionSnapshot struct {
	Name           schema.SessionName
	Cursor         schema.Cursor
	Content        string
	EchoLen        int
	Blocked        bool
	Pending        int
	SubscriptionID schema.SubscriptionID
	HasUnseenBell  bool
	Stale          bool
	Selected       bool
}

func (s *Session) snapshot() SessionSnapshot {
	return SessionSnapshot{
		Name:    s.Name,
		Cursor:  s.Cursor,
		Content: s.Content,
		EchoLen: s.Echo.Len(),
		Blocked: s.Echo.Blocked(),
		Pending: s.Pending,
	}
}
