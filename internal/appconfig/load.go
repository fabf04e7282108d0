package appconfig

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
	"pkt.systems/hermterm/schema"
)

// EnvPrefix prefixes environment overrides, e.g. HERMTERM_REMOTE_URL.
const EnvPrefix = "HERMTERM"

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
// A missing file yields the defaults; environment variables override both.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("downloads_dir", cfg.DownloadsDir)
	v.SetDefault("remote.url", cfg.Remote.URL)
	v.SetDefault("remote.code", cfg.Remote.Code)
	v.SetDefault("remote.ship", cfg.Remote.Ship)
	v.SetDefault("remote.app", cfg.Remote.App)
	v.SetDefault("remote.request_timeout_seconds", cfg.Remote.RequestTimeoutSeconds)
	v.SetDefault("terminal.default_session", cfg.Terminal.DefaultSession)
	v.SetDefault("terminal.debounce_ms", cfg.Terminal.DebounceMS)
	v.SetDefault("terminal.resize_debounce_ms", cfg.Terminal.ResizeDebounceMS)
	v.SetDefault("terminal.reconnect_attempts", cfg.Terminal.ReconnectAttempts)
	v.SetDefault("terminal.reconnect_delay_ms", cfg.Terminal.ReconnectDelayMS)
	v.SetDefault("terminal.convert_eol", cfg.Terminal.ConvertEOL)
	v.SetDefault("terminal.mouse_reporting", cfg.Terminal.MouseReporting)
	v.SetDefault("terminal.slog", cfg.Terminal.Slog)
	v.SetDefault("agent_mock.addr", cfg.AgentMock.Addr)
	v.SetDefault("agent_mock.ship", cfg.AgentMock.Ship)
	v.SetDefault("agent_mock.code", cfg.AgentMock.Code)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.InConfig("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	remote := strings.TrimSpace(cfg.Remote.URL)
	parsed, err := url.Parse(remote)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("remote.url must include an http(s) scheme and host (e.g. http://127.0.0.1:8080)")
	}
	if strings.TrimSpace(cfg.Remote.App) == "" {
		return fmt.Errorf("remote.app is required")
	}
	if err := schema.ValidateSessionName(schema.SessionName(cfg.Terminal.DefaultSession)); err != nil {
		return fmt.Errorf("terminal.default_session: %w", err)
	}
	if cfg.Terminal.DebounceMS < 0 || cfg.Terminal.ResizeDebounceMS < 0 || cfg.Terminal.ReconnectDelayMS < 0 {
		return fmt.Errorf("terminal durations must not be negative")
	}
	if cfg.Terminal.ReconnectAttempts < 0 {
		return fmt.Errorf("terminal.reconnect_attempts must not be negative")
	}
	if cfg.Remote.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("remote.request_timeout_seconds must not be negative")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.DownloadsDir = expandEnv(cfg.DownloadsDir)
	cfg.Remote.URL = expandEnv(cfg.Remote.URL)
	cfg.Remote.Code = expandEnv(cfg.Remote.Code)
	cfg.AgentMock.Code = expandEnv(cfg.AgentMock.Code)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
