package schema

import "time"

// ClientConfig defines the tunables of the session engine.
type ClientConfig struct {
	App               string
	DefaultSession    SessionName
	Debounce          time.Duration
	ResizeDebounce    time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	// MouseReporting enables X10 mouse reports when a surface is created.
	MouseReporting bool
}

const (
	// DefaultApp is the remote agent app serving terminal sessions.
	DefaultApp = "herm"
	// DefaultTaskMark is the mark of session task pokes.
	DefaultTaskMark = "herm-task"
	// DefaultOpenTerm is the terminal agent linked into new sessions.
	DefaultOpenTerm = "hood"
	// DefaultOpenApp is the app a new session starts in.
	DefaultOpenApp = "dojo"
	// DefaultDebounce is the idle window for coalescing text and hits.
	DefaultDebounce = 300 * time.Millisecond
	// DefaultResizeDebounce is the idle window for window resize notices.
	DefaultResizeDebounce = 200 * time.Millisecond
	// DefaultReconnectAttempts bounds consecutive resubscription attempts.
	DefaultReconnectAttempts = 5
	// DefaultReconnectDelay is the first resubscription delay; it doubles per attempt.
	DefaultReconnectDelay = time.Second
)

// NormalizeClientConfig applies defaults.
func NormalizeClientConfig(cfg ClientConfig) ClientConfig {
	if cfg.App == "" {
		cfg.App = DefaultApp
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.ResizeDebounce <= 0 {
		cfg.ResizeDebounce = DefaultResizeDebounce
	}
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = DefaultReconnectAttempts
	}
	if cfg.ReconnectDelay < 0 {
		cfg.ReconnectDelay = 0
	}
	return cfg
}
