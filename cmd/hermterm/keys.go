package main

import (
	"fmt"
	"sort"
	"strings"

	"pkt.systems/hermterm/schema"
)

// prefixKey is Ctrl-], the escape into hermterm's own key bindings.
const prefixKey = 0x1d

type keyAction int

const (
	keyInput keyAction = iota
	keyNext
	keyPrev
	keyNew
	keyShut
	keyDetach
)

type keyEvent struct {
	action keyAction
	input  string
}

// hotkeys splits raw host input into input for the selected session and
// prefixed client actions. A doubled prefix sends the prefix byte itself.
type hotkeys struct {
	armed bool
}

func (h *hotkeys) feed(data []byte) []keyEvent {
	var out []keyEvent
	var buf []byte
	flush := func() {
		if len(buf) > 0 {
			out = append(out, keyEvent{action: keyInput, input: string(buf)})
			buf = nil
		}
	}
	for _, b := range data {
		if h.armed {
			h.armed = false
			action := keyInput
			switch b {
			case 'n':
				action = keyNext
			case 'p':
				action = keyPrev
			case 'c':
				action = keyNew
			case 'x':
				action = keyShut
			case 'd', 'q':
				action = keyDetach
			case prefixKey:
				buf = append(buf, prefixKey)
				continue
			default:
				continue
			}
			flush()
			out = append(out, keyEvent{action: action})
			continue
		}
		if b == prefixKey {
			h.armed = true
			continue
		}
		buf = append(buf, b)
	}
	flush()
	return out
}

// cycle returns the session delta steps away from current in sorted order.
func cycle(names []schema.SessionName, current schema.SessionName, delta int) schema.SessionName {
	if len(names) == 0 {
		return current
	}
	sorted := append([]schema.SessionName(nil), names...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := 0
	for i, name := range sorted {
		if name == current {
			idx = i
			break
		}
	}
	n := len(sorted)
	return sorted[((idx+delta)%n+n)%n]
}

// freeSessionName picks the first unused name of the form s1, s2, ...
func freeSessionName(names []schema.SessionName) schema.SessionName {
	used := make(map[schema.SessionName]struct{}, len(names))
	for _, name := range names {
		used[name] = struct{}{}
	}
	for i := 1; ; i++ {
		name := schema.SessionName(fmt.Sprintf("s%d", i))
		if _, ok := used[name]; !ok {
			return name
		}
	}
}

// titleState folds session events into the host window title.
type titleState struct {
	ship     string
	selected schema.SessionName
	bells    map[schema.SessionName]struct{}
	stale    map[schema.SessionName]struct{}
	pending  map[schema.SessionName]int
	notice   string
}

func newTitleState(ship string) *titleState {
	return &titleState{
		ship:    schema.NormalizeShip(ship),
		bells:   make(map[schema.SessionName]struct{}),
		stale:   make(map[schema.SessionName]struct{}),
		pending: make(map[schema.SessionName]int),
	}
}

func (s *titleState) apply(event schema.SessionEvent) {
	switch event.Type {
	case schema.SessionSelected:
		s.selected = event.Session
		delete(s.bells, event.Session)
		s.notice = ""
	case schema.SessionBell:
		s.bells[event.Session] = struct{}{}
	case schema.SessionStale:
		s.stale[event.Session] = struct{}{}
	case schema.SessionReconnected:
		delete(s.stale, event.Session)
	case schema.SessionPending:
		if event.Pending > 0 {
			s.pending[event.Session] = event.Pending
		} else {
			delete(s.pending, event.Session)
		}
	case schema.SessionRemoved:
		delete(s.bells, event.Session)
		delete(s.stale, event.Session)
		delete(s.pending, event.Session)
	case schema.SessionNotice:
		s.notice = event.Notice
	}
}

func (s *titleState) String() string {
	var b strings.Builder
	b.WriteString("hermterm ~")
	b.WriteString(s.ship)
	b.WriteString(": ")
	b.WriteString(s.selected.Display())
	if n := s.pending[s.selected]; n > 0 {
		fmt.Fprintf(&b, " (%d pending)", n)
	}
	if _, ok := s.stale[s.selected]; ok {
		b.WriteString(" (stale)")
	}
	if len(s.bells) > 0 {
		names := make([]string, 0, len(s.bells))
		for name := range s.bells {
			names = append(names, name.Display())
		}
		sort.Strings(names)
		b.WriteString(" | bell: ")
		b.WriteString(strings.Join(names, ","))
	}
	if s.notice != "" {
		b.WriteString(" | ")
		b.WriteString(s.notice)
	}
	return b.String()
}

// oscTitle sets the host terminal window title.
func oscTitle(title string) string {
	return "\x1b]0;" + strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, title) + "\x07"
}
