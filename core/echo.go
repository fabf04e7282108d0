package core

import "pkt.systems/hermterm/internal/ansi"

// EchoEntry is a predicted fragment, or the sentinel that blocks input until
// the remote redraws the prompt.
type EchoEntry struct {
	Fragment string
	Block    bool
}

// Matches reports whether an update confirms the entry. Reposition-only
// updates match on column alone; anything else must be byte-identical.
func (e EchoEntry) Matches(update string) bool {
	if e.Block {
		return false
	}
	if col, ok := ansi.RepositionColumn(update); ok {
		cached, ok := ansi.RepositionColumn(e.Fragment)
		return ok && cached == col
	}
	return e.Fragment == update
}

// EchoCache is the FIFO of unconfirmed predictions.
type EchoCache struct {
	entries []EchoEntry
}

// Push appends predicted fragments.
func (c *EchoCache) Push(fragments ...string) {
	for _, fragment := range fragments {
		c.entries = append(c.entries, EchoEntry{Fragment: fragment})
	}
}

// PushBlock appends the blocking sentinel.
func (c *EchoCache) PushBlock() {
	c.entries = append(c.entries, EchoEntry{Block: true})
}

// Head returns the oldest entry.
func (c *EchoCache) Head() (EchoEntry, bool) {
	if len(c.entries) == 0 {
		return EchoEntry{}, false
	}
	return c.entries[0], true
}

// Shift drops the oldest entry.
func (c *EchoCache) Shift() {
	if len(c.entries) == 0 {
		return
	}
	c.entries[0] = EchoEntry{}
	c.entries = c.entries[1:]
}

// Clear drops every entry.
func (c *EchoCache) Clear() {
	c.entries = nil
}

// Blocked reports whether the newest entry is the blocking sentinel.
func (c *EchoCache) Blocked() bool {
	return len(c.entries) > 0 && c.entries[len(c.entries)-1].Block
}

// Len returns the number of queued entries.
func (c *EchoCache) Len() int {
	return len(c.entries)
}

// Entries returns a copy of the queued entries, oldest first.
func (c *EchoCache) Entries() []EchoEntry {
	return append([]EchoEntry(nil), c.entries...)
}
