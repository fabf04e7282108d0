package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"pkt.systems/hermterm/internal/agentmock"
	"pkt.systems/hermterm/schema"
)

func newTestAgent(t *testing.T, code string) (*agentmock.Agent, *httptest.Server) {
	t.Helper()
	agent := agentmock.New(agentmock.Config{Ship: "zod", Code: code})
	srv := httptest.NewServer(agent.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(agent.DropStreams)
	return agent, srv
}

func newTestClient(t *testing.T, url, code string) *Client {
	t.Helper()
	c, err := New(context.Background(), Config{
		URL:              url,
		Code:             code,
		RequestTimeout:   3 * time.Second,
		StreamRetryDelay: 10 * time.Millisecond,
		SlogRetryDelay:   10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

type factRecorder struct {
	mu     sync.Mutex
	facts  []schema.Blit
	errs   int
	ends   int
	failed error
}

func (r *factRecorder) handlers() Handlers {
	return Handlers{
		OnEvent: func(data json.RawMessage) {
			var blit schema.Blit
			err := json.Unmarshal(data, &blit)
			r.mu.Lock()
			defer r.mu.Unlock()
			if err != nil {
				r.failed = err
				return
			}
			r.facts = append(r.facts, blit)
		},
		OnError: func(error) {
			r.mu.Lock()
			r.errs++
			r.mu.Unlock()
		},
		OnEnd: func() {
			r.mu.Lock()
			r.ends++
			r.mu.Unlock()
		},
	}
}

func (r *factRecorder) snapshot() ([]schema.Blit, int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schema.Blit(nil), r.facts...), r.errs, r.ends, r.failed
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func pokeTask(t *testing.T, c *Client, task schema.SessionTask) error {
	t.Helper()
	return c.Poke(context.Background(), schema.DefaultApp, schema.DefaultTaskMark, task)
}

func TestLoginNameAndScry(t *testing.T) {
	_, srv := newTestAgent(t, "lidlut-tabwed")
	c := newTestClient(t, srv.URL, "lidlut-tabwed")
	ctx := context.Background()

	var names []schema.SessionName
	if err := c.Scry(ctx, schema.DefaultApp, "/sessions", &names); !errors.Is(err, schema.ErrUnauthorized) {
		t.Fatalf("expected unauthorized before login, got %v", err)
	}
	if err := c.Login(ctx); err != nil {
		t.Fatalf("login: %v", err)
	}
	ship, err := c.Name(ctx)
	if err != nil {
		t.Fatalf("name: %v", err)
	}
	if ship != "zod" || c.Ship() != "zod" {
		t.Fatalf("expected ship zod, got %q", ship)
	}
	if err := c.Scry(ctx, schema.DefaultApp, "/sessions", &names); err != nil {
		t.Fatalf("scry: %v", err)
	}
	if !reflect.DeepEqual(names, []schema.SessionName{schema.DefaultSession}) {
		t.Fatalf("expected only the default session, got %v", names)
	}
}

func TestLoginRejectsBadCode(t *testing.T) {
	_, srv := newTestAgent(t, "lidlut-tabwed")
	c := newTestClient(t, srv.URL, "wrong")
	if err := c.Login(context.Background()); !errors.Is(err, schema.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestSubscribeAndPokeDeliverFacts(t *testing.T) {
	agent, srv := newTestAgent(t, "")
	c := newTestClient(t, srv.URL, "")
	rec := &factRecorder{}
	id, err := c.Subscribe(context.Background(), schema.DefaultApp, schema.DefaultSession.ViewPath(), rec.handlers())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected a subscription id")
	}
	if err := pokeTask(t, c, schema.SessionTask{Task: schema.HailTask()}); err != nil {
		t.Fatalf("poke hail: %v", err)
	}
	if err := pokeTask(t, c, schema.SessionTask{Task: schema.BeltTask(schema.TextBelt([]string{"l", "s"}))}); err != nil {
		t.Fatalf("poke belt: %v", err)
	}
	waitFor(t, "facts", func() bool {
		facts, _, _, _ := rec.snapshot()
		return len(facts) == 2
	})
	facts, _, _, failed := rec.snapshot()
	if failed != nil {
		t.Fatalf("decode fact: %v", failed)
	}
	for _, fact := range facts {
		if fact.Kind != schema.BlitMulti || len(fact.Mor) != 4 {
			t.Fatalf("expected prompt redraw, got %+v", fact)
		}
	}
	if hop := facts[1].Mor[3].Hop.X; hop != 13 {
		t.Fatalf("expected cursor after ls at 13, got %d", hop)
	}
	tasks := agent.Tasks()
	if len(tasks) != 2 || tasks[1].Belt.String() != `txt("ls")` {
		t.Fatalf("unexpected tasks %+v", tasks)
	}

	if err := pokeTask(t, c, schema.SessionTask{Session: "nope", Task: schema.HailTask()}); !errors.Is(err, schema.ErrPokeRejected) {
		t.Fatalf("expected rejected poke, got %v", err)
	}
	if err := c.Poke(context.Background(), "hood", "helm-hi", "hi"); !errors.Is(err, schema.ErrPokeRejected) {
		t.Fatalf("expected rejected poke for another app, got %v", err)
	}
}

func TestSubscribeRejectsUnknownSession(t *testing.T) {
	agent, srv := newTestAgent(t, "")
	c := newTestClient(t, srv.URL, "")
	rec := &factRecorder{}
	_, err := c.Subscribe(context.Background(), schema.DefaultApp, schema.SessionName("work").ViewPath(), rec.handlers())
	if !errors.Is(err, schema.ErrSubscriptionRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if agent.Subscriptions() != 0 {
		t.Fatalf("expected no live subscriptions")
	}
}

func TestQuitEndsSubscription(t *testing.T) {
	agent, srv := newTestAgent(t, "")
	c := newTestClient(t, srv.URL, "")
	rec := &factRecorder{}
	if _, err := c.Subscribe(context.Background(), schema.DefaultApp, schema.DefaultSession.ViewPath(), rec.handlers()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if n := agent.Quit(schema.DefaultSession); n != 1 {
		t.Fatalf("expected one subscription quit, got %d", n)
	}
	waitFor(t, "end", func() bool {
		_, _, ends, _ := rec.snapshot()
		return ends == 1
	})
}

func TestUnsubscribeStopsFacts(t *testing.T) {
	agent, srv := newTestAgent(t, "")
	c := newTestClient(t, srv.URL, "")
	rec := &factRecorder{}
	id, err := c.Subscribe(context.Background(), schema.DefaultApp, schema.DefaultSession.ViewPath(), rec.handlers())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := c.Unsubscribe(context.Background(), id); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	waitFor(t, "unsubscribe", func() bool { return agent.Subscriptions() == 0 })
	if err := pokeTask(t, c, schema.SessionTask{Task: schema.HailTask()}); err != nil {
		t.Fatalf("poke: %v", err)
	}
	facts, _, ends, _ := rec.snapshot()
	if len(facts) != 0 || ends != 0 {
		t.Fatalf("expected silence after unsubscribe, got %d facts %d ends", len(facts), ends)
	}
}

func TestStreamReconnectReplaysMissedEvents(t *testing.T) {
	agent, srv := newTestAgent(t, "")
	c := newTestClient(t, srv.URL, "")
	rec := &factRecorder{}
	if _, err := c.Subscribe(context.Background(), schema.DefaultApp, schema.DefaultSession.ViewPath(), rec.handlers()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	agent.DropStreams()
	for i := 0; i < 3; i++ {
		if err := pokeTask(t, c, schema.SessionTask{Task: schema.BeltTask(schema.CharBelt("a"))}); err != nil {
			t.Fatalf("poke %d: %v", i, err)
		}
	}
	waitFor(t, "facts", func() bool {
		facts, _, _, _ := rec.snapshot()
		return len(facts) == 3
	})
	time.Sleep(20 * time.Millisecond)
	facts, errs, ends, _ := rec.snapshot()
	if len(facts) != 3 {
		t.Fatalf("expected each fact exactly once, got %d", len(facts))
	}
	if errs == 0 {
		t.Fatalf("expected the interruption to be reported")
	}
	if ends != 0 {
		t.Fatalf("did not expect the subscription to end")
	}
}

func TestCloseDeletesChannel(t *testing.T) {
	agent, srv := newTestAgent(t, "")
	c := newTestClient(t, srv.URL, "")
	rec := &factRecorder{}
	if _, err := c.Subscribe(context.Background(), schema.DefaultApp, schema.DefaultSession.ViewPath(), rec.handlers()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if agent.Subscriptions() != 0 {
		t.Fatalf("expected channel deleted on the remote")
	}
	if err := pokeTask(t, c, schema.SessionTask{Task: schema.HailTask()}); !errors.Is(err, schema.ErrChannelClosed) {
		t.Fatalf("expected closed channel, got %v", err)
	}
}

func TestSlogStream(t *testing.T) {
	agent, srv := newTestAgent(t, "")
	c := newTestClient(t, srv.URL, "")
	ctx, cancel := context.WithCancel(context.Background())
	lines := make(chan string, 4)
	done := make(chan error, 1)
	go func() {
		done <- c.Slog(ctx, func(line string) { lines <- line })
	}()
	waitFor(t, "slog stream", func() bool { return agent.SlogStreams() == 1 })
	agent.Slog("%ames-lost")
	select {
	case line := <-lines:
		if line != "%ames-lost" {
			t.Fatalf("unexpected slog line %q", line)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for slog line")
	}

	agent.DropStreams()
	waitFor(t, "slog reconnect", func() bool { return agent.SlogStreams() == 1 })
	agent.Slog("again")
	select {
	case line := <-lines:
		if line != "again" {
			t.Fatalf("unexpected slog line %q", line)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for slog line after reconnect")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected canceled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("slog did not stop")
	}
}

func TestSlogUnavailableReturnsError(t *testing.T) {
	_, srv := newTestAgent(t, "lidlut-tabwed")
	c := newTestClient(t, srv.URL, "")
	if err := c.Slog(context.Background(), func(string) {}); !errors.Is(err, schema.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestNewValidatesURL(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty url")
	}
	if _, err := New(context.Background(), Config{URL: "ftp://example"}); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}
