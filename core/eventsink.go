package core

import "pkt.systems/hermterm/schema"

// EventSink receives session lifecycle events from the manager.
type EventSink interface {
	OnSessionEvent(event schema.SessionEvent)
}

type nopSink struct{}

func (nopSink) OnSessionEvent(schema.SessionEvent) {}
