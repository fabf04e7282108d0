// Package channel implements a client for the remote agent's HTTP channel
// protocol: pokes and subscriptions are PUT as JSON actions and their
// acknowledgements and facts arrive on a single server-sent event stream.
package channel

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"pkt.systems/hermterm/schema"
	"pkt.systems/pslog"
)

const (
	// DefaultRequestTimeout bounds the wait for a poke or subscribe ack.
	DefaultRequestTimeout = 10 * time.Second
	// DefaultAckEvery is the number of stream events between acks.
	DefaultAckEvery = 20
	// DefaultStreamRetries bounds consecutive failed stream reconnects.
	DefaultStreamRetries = 3
	// DefaultStreamRetryDelay is the pause between stream reconnects.
	DefaultStreamRetryDelay = time.Second
	// DefaultSlogRetryDelay is the pause before reopening the slog stream.
	DefaultSlogRetryDelay = 10 * time.Second
	// DefaultUserAgent identifies the client when Config.UserAgent is empty.
	DefaultUserAgent = "hermterm"
)

// Config configures a channel client.
type Config struct {
	URL              string
	Code             string
	Ship             string
	RequestTimeout   time.Duration
	AckEvery         int
	StreamRetries    int
	StreamRetryDelay time.Duration
	SlogRetryDelay   time.Duration
	UserAgent        string
	HTTPClient       *http.Client
}

// Handlers receive the facts of one subscription. OnEnd is called once when
// the remote quits the subscription or the channel collapses.
type Handlers struct {
	OnEvent func(json.RawMessage)
	OnError func(error)
	OnEnd   func()
}

// Client is a single channel to the remote.
type Client struct {
	cfg  Config
	base *url.URL
	http *http.Client
	uid  string
	log  pslog.Logger

	mu        sync.Mutex
	ship      string
	nextID    uint64
	waiters   map[uint64]chan error
	subs      map[uint64]*subscription
	streaming bool
	lastEvent uint64
	acked     uint64
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type subscription struct {
	app      string
	path     string
	handlers Handlers
}

type action struct {
	ID           uint64 `json:"id"`
	Action       string `json:"action"`
	Ship         string `json:"ship,omitempty"`
	App          string `json:"app,omitempty"`
	Mark         string `json:"mark,omitempty"`
	JSON         any    `json:"json,omitempty"`
	Path         string `json:"path,omitempty"`
	Subscription uint64 `json:"subscription,omitempty"`
	EventID      uint64 `json:"event-id,omitempty"`
}

type response struct {
	ID       uint64          `json:"id"`
	Response string          `json:"response"`
	OK       json.RawMessage `json:"ok,omitempty"`
	Err      json.RawMessage `json:"err,omitempty"`
	JSON     json.RawMessage `json:"json,omitempty"`
}

// New builds a client. The channel is created lazily on the first action.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("channel: url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("channel: url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("channel: unsupported url scheme %q", base.Scheme)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.AckEvery <= 0 {
		cfg.AckEvery = DefaultAckEvery
	}
	if cfg.StreamRetries <= 0 {
		cfg.StreamRetries = DefaultStreamRetries
	}
	if cfg.StreamRetryDelay < 0 {
		cfg.StreamRetryDelay = 0
	}
	if cfg.SlogRetryDelay <= 0 {
		cfg.SlogRetryDelay = DefaultSlogRetryDelay
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Jar: jar}
	if cfg.HTTPClient != nil {
		copied := *cfg.HTTPClient
		if copied.Jar == nil {
			copied.Jar = jar
		}
		httpClient = &copied
	}
	uid := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &Client{
		cfg:     cfg,
		base:    base,
		http:    httpClient,
		uid:     uid,
		log:     pslog.Ctx(ctx).With("channel", uid),
		ship:    schema.NormalizeShip(cfg.Ship),
		waiters: make(map[uint64]chan error),
		subs:    make(map[uint64]*subscription),
		ctx:     runCtx,
		cancel:  cancel,
	}, nil
}

// UID returns the channel identifier.
func (c *Client) UID() string {
	return c.uid
}

// Ship returns the remote ship name without its sigil.
func (c *Client) Ship() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ship
}

// Login exchanges the access code for an auth cookie.
func (c *Client) Login(ctx context.Context) error {
	form := url.Values{"password": {c.cfg.Code}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/~/login"), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer drain(resp.Body)
	switch {
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("login: %w", schema.ErrUnauthorized)
	case resp.StatusCode >= 400:
		return fmt.Errorf("login: %s", resp.Status)
	}
	c.log.Debug("channel login ok")
	return nil
}

// Name asks the remote for its ship name and remembers it.
func (c *Client) Name(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/~/name"), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("name: %w", err)
	}
	defer drain(resp.Body)
	if err := statusError("name", resp); err != nil {
		return "", err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return "", fmt.Errorf("name: %w", err)
	}
	ship := schema.NormalizeShip(string(body))
	c.mu.Lock()
	c.ship = ship
	c.mu.Unlock()
	return ship, nil
}

// Scry reads app state at path and decodes the JSON result into out.
func (c *Client) Scry(ctx context.Context, app, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/~/scry/"+app+path+".json"), nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("scry %s%s: %w", app, path, err)
	}
	defer drain(resp.Body)
	if err := statusError("scry "+app+path, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("scry %s%s: decode: %w", app, path, err)
	}
	return nil
}

// Poke sends a JSON payload to app and waits for the remote ack.
func (c *Client) Poke(ctx context.Context, app, mark string, payload any) error {
	id, wait, err := c.register(nil)
	if err != nil {
		return err
	}
	act := action{ID: id, Action: "poke", Ship: c.Ship(), App: app, Mark: mark, JSON: payload}
	if err := c.put(ctx, act); err != nil {
		c.unregister(id, false)
		return err
	}
	if err := c.await(ctx, id, wait); err != nil {
		return fmt.Errorf("poke %s %d: %w", mark, id, err)
	}
	return nil
}

// Subscribe opens a subscription on app at path and waits for the remote to
// accept it.
func (c *Client) Subscribe(ctx context.Context, app, path string, handlers Handlers) (uint64, error) {
	sub := &subscription{app: app, path: path, handlers: handlers}
	id, wait, err := c.register(sub)
	if err != nil {
		return 0, err
	}
	act := action{ID: id, Action: "subscribe", Ship: c.Ship(), App: app, Path: path}
	if err := c.put(ctx, act); err != nil {
		c.unregister(id, true)
		return 0, err
	}
	if err := c.await(ctx, id, wait); err != nil {
		c.unregister(id, true)
		return 0, fmt.Errorf("subscribe %s%s: %w", app, path, err)
	}
	c.log.Debug("channel subscribed", "id", id, "app", app, "path", path)
	return id, nil
}

// Unsubscribe ends a subscription. Its OnEnd handler is not called.
func (c *Client) Unsubscribe(ctx context.Context, id uint64) error {
	c.mu.Lock()
	_, ok := c.subs[id]
	delete(c.subs, id)
	c.nextID++
	actID := c.nextID
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return c.send(ctx, action{ID: actID, Action: "unsubscribe", Subscription: id})
}

// Close deletes the channel on the remote and stops the event stream.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.streaming
	c.nextID++
	id := c.nextID
	c.mu.Unlock()

	var err error
	if started {
		err = c.send(ctx, action{ID: id, Action: "delete"})
	}
	c.cancel()
	c.wg.Wait()
	c.failAll(schema.ErrChannelClosed, false)
	return err
}

// Slog follows the remote runtime log stream and calls fn per line. The
// stream is reopened after SlogRetryDelay, but only once it has been
// available at least once.
func (c *Client) Slog(ctx context.Context, fn func(line string)) error {
	log := c.log.With("stream", "slog")
	available := false
	for {
		connected, err := c.readSlog(ctx, fn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected && !available {
			available = true
		}
		if !available {
			return fmt.Errorf("slog: %w", err)
		}
		log.Warn("slog stream lost, reconnecting", "err", err, "delay", c.cfg.SlogRetryDelay)
		if err := sleepCtx(ctx, c.cfg.SlogRetryDelay); err != nil {
			return err
		}
	}
}

func (c *Client) readSlog(ctx context.Context, fn func(string)) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/~_~/slog"), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.do(req)
	if err != nil {
		return false, err
	}
	defer drain(resp.Body)
	if err := statusError("slog", resp); err != nil {
		return false, err
	}
	reader := bufio.NewReader(resp.Body)
	for {
		event, err := readSSE(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return true, err
		}
		fn(event.Data)
	}
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	return c.http.Do(req)
}

func (c *Client) register(sub *subscription) (uint64, chan error, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, nil, schema.ErrChannelClosed
	}
	c.nextID++
	id := c.nextID
	wait := make(chan error, 1)
	c.waiters[id] = wait
	if sub != nil {
		c.subs[id] = sub
	}
	return id, wait, nil
}

func (c *Client) unregister(id uint64, sub bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.waiters, id)
	if sub {
		delete(c.subs, id)
	}
}

func (c *Client) await(ctx context.Context, id uint64, wait chan error) error {
	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		c.unregister(id, false)
		return ctx.Err()
	case <-timer.C:
		c.unregister(id, false)
		return context.DeadlineExceeded
	}
}

func (c *Client) put(ctx context.Context, actions ...action) error {
	if err := c.send(ctx, actions...); err != nil {
		return err
	}
	c.ensureStream()
	return nil
}

func (c *Client) send(ctx context.Context, actions ...action) error {
	body, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("channel: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.channelURL(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("channel put: %w", err)
	}
	defer drain(resp.Body)
	return statusError("channel put", resp)
}

func (c *Client) ensureStream() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streaming || c.closed {
		return
	}
	c.streaming = true
	c.wg.Add(1)
	go c.stream()
}

// stream reads the channel event stream, reconnecting with Last-Event-ID.
// After StreamRetries consecutive failed connects every waiter fails and
// every subscription ends.
func (c *Client) stream() {
	defer c.wg.Done()
	failures := 0
	for {
		connected, err := c.readStream()
		if c.ctx.Err() != nil {
			return
		}
		if connected {
			failures = 0
			c.log.Warn("channel stream interrupted", "err", err)
			c.notifyError(err)
		} else {
			failures++
			c.log.Warn("channel stream connect failed", "err", err, "failures", failures)
		}
		if failures > c.cfg.StreamRetries {
			c.log.Error("channel stream lost", "err", err)
			c.mu.Lock()
			c.streaming = false
			c.mu.Unlock()
			c.failAll(fmt.Errorf("%w: %v", schema.ErrChannelClosed, err), true)
			return
		}
		if err := sleepCtx(c.ctx, c.cfg.StreamRetryDelay); err != nil {
			return
		}
	}
}

func (c *Client) readStream() (bool, error) {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, c.channelURL(), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.mu.Lock()
	if c.lastEvent > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatUint(c.lastEvent, 10))
	}
	c.mu.Unlock()
	resp, err := c.do(req)
	if err != nil {
		return false, err
	}
	defer drain(resp.Body)
	if err := statusError("channel stream", resp); err != nil {
		return false, err
	}
	reader := bufio.NewReader(resp.Body)
	for {
		event, err := readSSE(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return true, err
		}
		c.dispatch(event)
	}
}

func (c *Client) dispatch(event sseEvent) {
	eventID, _ := strconv.ParseUint(event.ID, 10, 64)
	c.mu.Lock()
	if eventID > 0 {
		if eventID <= c.lastEvent {
			c.mu.Unlock()
			return
		}
		c.lastEvent = eventID
	}
	ackDue := c.lastEvent-c.acked >= uint64(c.cfg.AckEvery)
	if ackDue {
		c.acked = c.lastEvent
	}
	c.mu.Unlock()

	var resp response
	if err := json.Unmarshal([]byte(event.Data), &resp); err != nil {
		c.log.Warn("channel event decode failed", "err", err, "event", eventID)
	} else {
		c.handle(resp)
	}
	if ackDue {
		c.ack(eventID)
	}
}

func (c *Client) handle(resp response) {
	switch resp.Response {
	case "poke":
		c.resolve(resp, schema.ErrPokeRejected, false)
	case "subscribe":
		c.resolve(resp, schema.ErrSubscriptionRejected, true)
	case "diff":
		c.mu.Lock()
		sub := c.subs[resp.ID]
		c.mu.Unlock()
		if sub == nil {
			c.log.Trace("channel fact for unknown subscription", "id", resp.ID)
			return
		}
		if sub.handlers.OnEvent != nil {
			sub.handlers.OnEvent(resp.JSON)
		}
	case "quit":
		c.mu.Lock()
		sub := c.subs[resp.ID]
		delete(c.subs, resp.ID)
		c.mu.Unlock()
		if sub == nil {
			return
		}
		c.log.Info("channel subscription quit", "id", resp.ID, "path", sub.path)
		if sub.handlers.OnEnd != nil {
			sub.handlers.OnEnd()
		}
	default:
		c.log.Debug("channel event ignored", "response", resp.Response, "id", resp.ID)
	}
}

func (c *Client) resolve(resp response, rejected error, sub bool) {
	var err error
	if len(resp.Err) > 0 {
		err = fmt.Errorf("%w: %s", rejected, errorText(resp.Err))
	}
	c.mu.Lock()
	wait := c.waiters[resp.ID]
	delete(c.waiters, resp.ID)
	if err != nil && sub {
		delete(c.subs, resp.ID)
	}
	c.mu.Unlock()
	if wait != nil {
		wait <- err
	}
}

func (c *Client) ack(eventID uint64) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.mu.Unlock()
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.RequestTimeout)
	defer cancel()
	if err := c.send(ctx, action{ID: id, Action: "ack", EventID: eventID}); err != nil {
		c.log.Warn("channel ack failed", "event", eventID, "err", err)
	}
}

func (c *Client) notifyError(err error) {
	c.mu.Lock()
	subs := make([]*subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.Unlock()
	for _, sub := range subs {
		if sub.handlers.OnError != nil {
			sub.handlers.OnError(err)
		}
	}
}

func (c *Client) failAll(err error, end bool) {
	c.mu.Lock()
	waiters := c.waiters
	subs := c.subs
	c.waiters = make(map[uint64]chan error)
	c.subs = make(map[uint64]*subscription)
	c.mu.Unlock()
	for _, wait := range waiters {
		wait <- err
	}
	if !end {
		return
	}
	for _, sub := range subs {
		if sub.handlers.OnEnd != nil {
			sub.handlers.OnEnd()
		}
	}
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

func (c *Client) channelURL() string {
	return c.endpoint("/~/channel/" + c.uid)
}

func statusError(op string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w", op, schema.ErrUnauthorized)
	case resp.StatusCode >= 300:
		return fmt.Errorf("%s: %s", op, resp.Status)
	}
	return nil
}

func errorText(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return string(raw)
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
