package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"pkt.systems/hermterm/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int             `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string          `mapstructure:"state_dir" yaml:"state_dir"`
	DownloadsDir  string          `mapstructure:"downloads_dir" yaml:"downloads_dir"`
	Remote        RemoteConfig    `mapstructure:"remote" yaml:"remote"`
	Terminal      TerminalConfig  `mapstructure:"terminal" yaml:"terminal"`
	AgentMock     AgentMockConfig `mapstructure:"agent_mock" yaml:"agent_mock"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// RemoteConfig points the client at the remote agent.
type RemoteConfig struct {
	URL                   string `mapstructure:"url" yaml:"url"`
	Code                  string `mapstructure:"code" yaml:"code"`
	Ship                  string `mapstructure:"ship" yaml:"ship"`
	App                   string `mapstructure:"app" yaml:"app"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

// TerminalConfig tunes the session engine and the local surface.
type TerminalConfig struct {
	DefaultSession    string `mapstructure:"default_session" yaml:"default_session"`
	DebounceMS        int    `mapstructure:"debounce_ms" yaml:"debounce_ms"`
	ResizeDebounceMS  int    `mapstructure:"resize_debounce_ms" yaml:"resize_debounce_ms"`
	ReconnectAttempts int    `mapstructure:"reconnect_attempts" yaml:"reconnect_attempts"`
	ReconnectDelayMS  int    `mapstructure:"reconnect_delay_ms" yaml:"reconnect_delay_ms"`
	ConvertEOL        bool   `mapstructure:"convert_eol" yaml:"convert_eol"`
	MouseReporting    bool   `mapstructure:"mouse_reporting" yaml:"mouse_reporting"`
	Slog              bool   `mapstructure:"slog" yaml:"slog"`
}

// AgentMockConfig configures the bundled mock agent.
type AgentMockConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
	Ship string `mapstructure:"ship" yaml:"ship"`
	Code string `mapstructure:"code" yaml:"code"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".hermterm", "state"),
		DownloadsDir:  filepath.Join(home, ".hermterm", "downloads"),
		Remote: RemoteConfig{
			URL:                   "http://127.0.0.1:8080",
			Code:                  "",
			Ship:                  "",
			App:                   schema.DefaultApp,
			RequestTimeoutSeconds: 10,
		},
		Terminal: TerminalConfig{
			DefaultSession:    "",
			DebounceMS:        int(schema.DefaultDebounce / time.Millisecond),
			ResizeDebounceMS:  int(schema.DefaultResizeDebounce / time.Millisecond),
			ReconnectAttempts: schema.DefaultReconnectAttempts,
			ReconnectDelayMS:  int(schema.DefaultReconnectDelay / time.Millisecond),
			ConvertEOL:        true,
			MouseReporting:    true,
			Slog:              true,
		},
		AgentMock: AgentMockConfig{
			Addr: "127.0.0.1:8080",
			Ship: "zod",
			Code: "lidlut-tabwed-pillex-ridrup",
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".hermterm", "config.yaml"), nil
}

// ClientConfig returns the session engine settings.
func (c Config) ClientConfig() schema.ClientConfig {
	return schema.ClientConfig{
		App:               c.Remote.App,
		DefaultSession:    schema.SessionName(c.Terminal.DefaultSession),
		Debounce:          time.Duration(c.Terminal.DebounceMS) * time.Millisecond,
		ResizeDebounce:    time.Duration(c.Terminal.ResizeDebounceMS) * time.Millisecond,
		ReconnectAttempts: c.Terminal.ReconnectAttempts,
		ReconnectDelay:    time.Duration(c.Terminal.ReconnectDelayMS) * time.Millisecond,
		MouseReporting:    c.Terminal.MouseReporting,
	}
}

// RequestTimeout returns the remote ack timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Remote.RequestTimeoutSeconds) * time.Second
}
