package channel

import (
	"bufio"
	"strings"
)

// sseEvent is one server-sent event.
type sseEvent struct {
	ID    string
	Event string
	Data  string
}

// readSSE reads the next event from r. Comment lines and events without a
// data field are skipped.
func readSSE(r *bufio.Reader) (sseEvent, error) {
	var (
		event     sseEvent
		dataLines []string
		seen      bool
	)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return sseEvent{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if seen {
				event.Data = strings.Join(dataLines, "\n")
				return event, nil
			}
			event = sseEvent{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			event.ID = value
		case "event":
			event.Event = value
		case "data":
			dataLines = append(dataLines, value)
			seen = true
		}
	}
}
