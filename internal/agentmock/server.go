package agentmock

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pkt.systems/hermterm/schema"
	"pkt.systems/pslog"
)

const shutdownTimeout = 5 * time.Second

// Handler returns the HTTP surface of the agent.
func (a *Agent) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /~/login", a.handleLogin)
	mux.HandleFunc("GET /~/name", a.requireAuth(a.handleName))
	mux.HandleFunc("GET /~/scry/{app}/{path...}", a.requireAuth(a.handleScry))
	mux.HandleFunc("PUT /~/channel/{uid}", a.requireAuth(a.handleChannelPut))
	mux.HandleFunc("GET /~/channel/{uid}", a.requireAuth(a.handleChannelStream))
	mux.HandleFunc("DELETE /~/channel/{uid}", a.requireAuth(a.handleChannelDelete))
	mux.HandleFunc("GET /~_~/slog", a.requireAuth(a.handleSlog))
	return withRequestLogging(mux, a.log)
}

func (a *Agent) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	token, ok := a.login(r.PostForm.Get("password"))
	if !ok {
		a.log.Warn("agentmock login rejected", "remote", r.RemoteAddr)
		writeError(w, http.StatusBadRequest, errors.New("invalid code"))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName(),
		Value:    token,
		Path:     "/",
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *Agent) handleName(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "~"+a.ship)
}

func (a *Agent) handleScry(w http.ResponseWriter, r *http.Request) {
	app := r.PathValue("app")
	path := "/" + r.PathValue("path")
	if app != schema.DefaultApp || path != "/sessions.json" {
		writeError(w, http.StatusNotFound, fmt.Errorf("no scry at %s%s", app, path))
		return
	}
	writeJSON(w, http.StatusOK, a.Sessions())
}

func (a *Agent) handleChannelPut(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	var actions []channelAction
	if err := json.NewDecoder(r.Body).Decode(&actions); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ch := a.channel(uid, true)
	for _, act := range actions {
		a.handleAction(uid, ch, act)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Agent) handleChannelDelete(w http.ResponseWriter, r *http.Request) {
	a.deleteChannel(r.PathValue("uid"))
	w.WriteHeader(http.StatusNoContent)
}

func (a *Agent) handleChannelStream(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	ch := a.channel(uid, false)
	if ch == nil {
		writeError(w, http.StatusNotFound, errors.New("no such channel"))
		return
	}
	log := pslog.Ctx(r.Context()).With("channel", uid)

	lastID, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)
	events, unsubscribe := ch.hub.subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	replay := ch.hub.replay(lastID)
	var sent uint64 = lastID
	for _, event := range replay {
		writeEvent(w, event)
		sent = event.Seq
	}
	flusher.Flush()
	log.Info("agentmock stream opened", "last_id", lastID, "replay", len(replay))

	for {
		select {
		case <-r.Context().Done():
			log.Info("agentmock stream closed")
			return
		case event, ok := <-events:
			if !ok {
				log.Info("agentmock stream dropped")
				return
			}
			if event.Seq <= sent {
				continue
			}
			writeEvent(w, event)
			sent = event.Seq
			flusher.Flush()
		}
	}
}

func (a *Agent) handleSlog(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	lines, unsubscribe := a.slog.subscribe()
	defer unsubscribe()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			for _, part := range strings.Split(line, "\n") {
				_, _ = fmt.Fprintf(w, "data: %s\n", part)
			}
			_, _ = fmt.Fprint(w, "\n")
			flusher.Flush()
		}
	}
}

func (a *Agent) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(a.cookieName())
		token := ""
		if err == nil {
			token = cookie.Value
		}
		if !a.authorized(token) {
			writeError(w, http.StatusForbidden, errors.New("missing or invalid session"))
			return
		}
		next(w, r)
	}
}

func writeEvent(w http.ResponseWriter, event channelEvent) {
	_, _ = fmt.Fprintf(w, "id: %d\ndata: %s\n\n", event.Seq, strings.TrimSpace(string(event.Data)))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
