package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TaskKind discriminates the Task variants.
type TaskKind string

const (
	// TaskBelt forwards an input event.
	TaskBelt TaskKind = "belt"
	// TaskBlew reports the terminal size.
	TaskBlew TaskKind = "blew"
	// TaskHail asks the agent to redraw the session.
	TaskHail TaskKind = "hail"
	// TaskOpen creates a session.
	TaskOpen TaskKind = "open"
	// TaskShut closes a session.
	TaskShut TaskKind = "shut"
)

// Size is a terminal size in cells.
type Size struct {
	W int `json:"w"`
	H int `json:"h"`
}

// OpenApp links an agent app into a new session.
type OpenApp struct {
	Who string `json:"who"`
	App string `json:"app"`
}

// Open is the payload of an open task.
type Open struct {
	Term string    `json:"term"`
	Apps []OpenApp `json:"apps"`
}

// Task is a request sent to the remote agent for one session.
type Task struct {
	Kind TaskKind
	Belt Belt
	Blew Size
	Open Open
}

// SessionTask is a Task addressed to a session.
type SessionTask struct {
	Session SessionName
	Task
}

// BeltTask wraps an input event.
func BeltTask(b Belt) Task { return Task{Kind: TaskBelt, Belt: b} }

// BlewTask reports a terminal size.
func BlewTask(w, h int) Task { return Task{Kind: TaskBlew, Blew: Size{W: w, H: h}} }

// HailTask requests a redraw.
func HailTask() Task { return Task{Kind: TaskHail} }

// OpenTask creates a session named term.
func OpenTask(term string, apps ...OpenApp) Task {
	return Task{Kind: TaskOpen, Open: Open{Term: term, Apps: append([]OpenApp{}, apps...)}}
}

// DojoOpenTask opens a session running the dojo of ship on the default
// terminal. An empty ship leaves the owner to the remote.
func DojoOpenTask(ship string) Task {
	app := OpenApp{App: DefaultOpenApp}
	if ship = NormalizeShip(ship); ship != "" {
		app.Who = "~" + ship
	}
	return OpenTask(DefaultOpenTerm, app)
}

// ShutTask closes the session.
func ShutTask() Task { return Task{Kind: TaskShut} }

func (t Task) payload() (any, error) {
	switch t.Kind {
	case TaskBelt:
		return t.Belt, nil
	case TaskBlew:
		return t.Blew, nil
	case TaskHail, TaskShut:
		return nil, nil
	case TaskOpen:
		open := t.Open
		if open.Apps == nil {
			open.Apps = []OpenApp{}
		}
		return open, nil
	}
	return nil, fmt.Errorf("%w: kind %q", ErrInvalidTask, t.Kind)
}

// MarshalJSON encodes the task in its tagged wire form.
func (t Task) MarshalJSON() ([]byte, error) {
	body, err := t.payload()
	if err != nil {
		return nil, err
	}
	return tagged(string(t.Kind), body)
}

// UnmarshalJSON decodes the tagged wire form.
func (t *Task) UnmarshalJSON(data []byte) error {
	tag, body, err := untag(bytes.TrimSpace(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	out, err := decodeTask(tag, body)
	if err != nil {
		return err
	}
	*t = out
	return nil
}

// MarshalJSON encodes the task with the session key alongside the tag.
func (s SessionTask) MarshalJSON() ([]byte, error) {
	body, err := s.Task.payload()
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"session":      s.Session,
		string(s.Kind): body,
	})
}

// UnmarshalJSON decodes a task carrying a session key.
func (s *SessionTask) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	rawSession, ok := obj["session"]
	if !ok {
		return fmt.Errorf("%w: session is required", ErrInvalidTask)
	}
	var name SessionName
	if err := json.Unmarshal(rawSession, &name); err != nil {
		return fmt.Errorf("%w: session: %v", ErrInvalidTask, err)
	}
	delete(obj, "session")
	if len(obj) != 1 {
		return fmt.Errorf("%w: expected exactly one task tag, got %d", ErrInvalidTask, len(obj))
	}
	for tag, body := range obj {
		task, err := decodeTask(tag, body)
		if err != nil {
			return err
		}
		*s = SessionTask{Session: name, Task: task}
	}
	return nil
}

func decodeTask(tag string, body json.RawMessage) (Task, error) {
	out := Task{Kind: TaskKind(tag)}
	switch out.Kind {
	case TaskBelt:
		if err := json.Unmarshal(body, &out.Belt); err != nil {
			return Task{}, fmt.Errorf("%w: belt: %v", ErrInvalidTask, err)
		}
	case TaskBlew:
		if err := json.Unmarshal(body, &out.Blew); err != nil {
			return Task{}, fmt.Errorf("%w: blew: %v", ErrInvalidTask, err)
		}
	case TaskHail, TaskShut:
	case TaskOpen:
		if err := json.Unmarshal(body, &out.Open); err != nil {
			return Task{}, fmt.Errorf("%w: open: %v", ErrInvalidTask, err)
		}
	default:
		return Task{}, fmt.Errorf("%w: unknown tag %q", ErrInvalidTask, tag)
	}
	return out, nil
}
