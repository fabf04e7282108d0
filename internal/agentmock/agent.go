// Package agentmock is an in-process stand-in for the remote terminal agent.
// It speaks the channel protocol over HTTP, keeps one dojo line editor per
// session and streams the resulting display updates to subscribers.
package agentmock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"pkt.systems/hermterm/schema"
	"pkt.systems/pslog"
)

// Config configures the mock agent.
type Config struct {
	// Ship is the ship name served by /~/name, without the sigil.
	Ship string
	// Code is the login access code. Empty disables authentication.
	Code string
	// HistorySize bounds the unacked events kept per channel.
	HistorySize int
	Logger      pslog.Logger
}

// Agent is the mock remote.
type Agent struct {
	cfg  Config
	ship string
	log  pslog.Logger

	mu       sync.Mutex
	sessions map[schema.SessionName]*dojo
	channels map[string]*channelState
	tokens   map[string]struct{}
	tasks    []schema.SessionTask
	slog     lineHub
}

type channelState struct {
	hub  *channelHub
	subs map[uint64]string
}

var errNoSession = errors.New("no such session")

// New builds a mock agent serving the default session.
func New(cfg Config) *Agent {
	ship := schema.NormalizeShip(cfg.Ship)
	if ship == "" {
		ship = "zod"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	a := &Agent{
		cfg:      cfg,
		ship:     ship,
		log:      logger.With("ship", "~"+ship),
		sessions: make(map[schema.SessionName]*dojo),
		channels: make(map[string]*channelState),
		tokens:   make(map[string]struct{}),
	}
	a.sessions[schema.DefaultSession] = newDojo(ship)
	return a
}

// Ship returns the served ship name without the sigil.
func (a *Agent) Ship() string {
	return a.ship
}

// Sessions returns the open session names, sorted.
func (a *Agent) Sessions() []schema.SessionName {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionNamesLocked()
}

func (a *Agent) sessionNamesLocked() []schema.SessionName {
	names := make([]schema.SessionName, 0, len(a.sessions))
	for name := range a.sessions {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Tasks returns every task poked so far.
func (a *Agent) Tasks() []schema.SessionTask {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]schema.SessionTask(nil), a.tasks...)
}

// Slog publishes a runtime log line and reports how many streams got it.
func (a *Agent) Slog(line string) int {
	return a.slog.publish(line)
}

// SlogStreams reports the number of open slog streams.
func (a *Agent) SlogStreams() int {
	return a.slog.count()
}

// Quit ends every view subscription of the session, as the remote does when
// a session is torn down under a client.
func (a *Agent) Quit(name schema.SessionName) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.quitLocked(name)
}

func (a *Agent) quitLocked(name schema.SessionName) int {
	path := name.ViewPath()
	quit := 0
	for _, ch := range a.channels {
		for id, subPath := range ch.subs {
			if subPath != path {
				continue
			}
			delete(ch.subs, id)
			ch.hub.publish(channelResponse{ID: id, Response: "quit"})
			quit++
		}
	}
	if quit > 0 {
		a.log.Info("agentmock session quit", "session", name.Display(), "subscriptions", quit)
	}
	return quit
}

// DropStreams closes every open channel and slog stream without touching
// subscriptions, forcing clients to reconnect.
func (a *Agent) DropStreams() {
	a.mu.Lock()
	channels := make([]*channelState, 0, len(a.channels))
	for _, ch := range a.channels {
		channels = append(channels, ch)
	}
	a.mu.Unlock()
	for _, ch := range channels {
		ch.hub.drop()
	}
	a.slog.drop()
}

// Subscriptions reports the live view subscriptions across all channels.
func (a *Agent) Subscriptions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	count := 0
	for _, ch := range a.channels {
		count += len(ch.subs)
	}
	return count
}

func (a *Agent) login(code string) (string, bool) {
	if a.cfg.Code != "" && code != a.cfg.Code {
		return "", false
	}
	token := uuid.NewString()
	a.mu.Lock()
	a.tokens[token] = struct{}{}
	a.mu.Unlock()
	return token, true
}

func (a *Agent) authorized(token string) bool {
	if a.cfg.Code == "" {
		return true
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.tokens[token]
	return ok
}

func (a *Agent) cookieName() string {
	return "urbauth-~" + a.ship
}

// channel returns the state of uid, creating it when create is set.
func (a *Agent) channel(uid string, create bool) *channelState {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch := a.channels[uid]
	if ch == nil && create {
		ch = &channelState{
			hub:  newChannelHub(a.cfg.HistorySize, a.log.With("channel", uid)),
			subs: make(map[uint64]string),
		}
		a.channels[uid] = ch
	}
	return ch
}

func (a *Agent) deleteChannel(uid string) {
	a.mu.Lock()
	ch := a.channels[uid]
	delete(a.channels, uid)
	a.mu.Unlock()
	if ch != nil {
		ch.hub.drop()
	}
}

// channelAction is one entry of a channel PUT body.
type channelAction struct {
	ID           uint64          `json:"id"`
	Action       string          `json:"action"`
	Ship         string          `json:"ship"`
	App          string          `json:"app"`
	Mark         string          `json:"mark"`
	JSON         json.RawMessage `json:"json"`
	Path         string          `json:"path"`
	Subscription uint64          `json:"subscription"`
	EventID      uint64          `json:"event-id"`
}

func (a *Agent) handleAction(uid string, ch *channelState, act channelAction) {
	log := a.log.With("channel", uid, "id", act.ID)
	switch act.Action {
	case "poke":
		err := a.poke(act)
		resp := channelResponse{ID: act.ID, Response: "poke", OK: "ok"}
		if err != nil {
			log.Debug("agentmock poke rejected", "err", err)
			resp = channelResponse{ID: act.ID, Response: "poke", Err: err.Error()}
		}
		ch.hub.publish(resp)
	case "subscribe":
		err := a.subscribe(ch, act)
		resp := channelResponse{ID: act.ID, Response: "subscribe", OK: "ok"}
		if err != nil {
			log.Debug("agentmock subscribe rejected", "path", act.Path, "err", err)
			resp = channelResponse{ID: act.ID, Response: "subscribe", Err: err.Error()}
		}
		ch.hub.publish(resp)
	case "unsubscribe":
		a.mu.Lock()
		delete(ch.subs, act.Subscription)
		a.mu.Unlock()
	case "ack":
		ch.hub.ack(act.EventID)
	case "delete":
		a.deleteChannel(uid)
	default:
		log.Warn("agentmock unknown action", "action", act.Action)
	}
}

func (a *Agent) subscribe(ch *channelState, act channelAction) error {
	if act.App != schema.DefaultApp {
		return fmt.Errorf("unknown app %q", act.App)
	}
	name, ok := parseViewPath(act.Path)
	if !ok {
		return fmt.Errorf("bad path %q", act.Path)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.sessions[name]; !ok {
		return errNoSession
	}
	ch.subs[act.ID] = act.Path
	return nil
}

// poke applies a session task and streams the resulting blits to the
// session's view subscribers.
func (a *Agent) poke(act channelAction) error {
	if act.App != schema.DefaultApp || act.Mark != schema.DefaultTaskMark {
		return fmt.Errorf("unknown poke %s/%s", act.App, act.Mark)
	}
	var task schema.SessionTask
	if err := json.Unmarshal(act.JSON, &task); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tasks = append(a.tasks, task)
	var blits []schema.Blit
	switch task.Kind {
	case schema.TaskOpen:
		if _, ok := a.sessions[task.Session]; !ok {
			a.sessions[task.Session] = newDojo(a.ship)
			a.log.Info("agentmock session opened", "session", task.Session.Display())
		}
		return nil
	case schema.TaskShut:
		if _, ok := a.sessions[task.Session]; !ok {
			return errNoSession
		}
		delete(a.sessions, task.Session)
		a.quitLocked(task.Session)
		return nil
	}
	d, ok := a.sessions[task.Session]
	if !ok {
		return errNoSession
	}
	switch task.Kind {
	case schema.TaskBelt:
		blits = d.apply(task.Belt)
	case schema.TaskBlew:
		d.size = task.Blew
	case schema.TaskHail:
		blits = []schema.Blit{d.redraw()}
	}
	a.factsLocked(task.Session, blits)
	return nil
}

func (a *Agent) factsLocked(name schema.SessionName, blits []schema.Blit) {
	if len(blits) == 0 {
		return
	}
	path := name.ViewPath()
	for _, ch := range a.channels {
		for id, subPath := range ch.subs {
			if subPath != path {
				continue
			}
			for _, blit := range blits {
				ch.hub.publish(channelResponse{ID: id, Response: "diff", JSON: blit})
			}
		}
	}
}

func parseViewPath(path string) (schema.SessionName, bool) {
	rest, ok := strings.CutPrefix(path, "/session/")
	if !ok {
		return "", false
	}
	name, ok := strings.CutSuffix(rest, "/view")
	if !ok {
		return "", false
	}
	if err := schema.ValidateSessionName(schema.SessionName(name)); err != nil {
		return "", false
	}
	return schema.SessionName(name), true
}
