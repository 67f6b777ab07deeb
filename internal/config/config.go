// Package config handles Docket configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths lists where FindConfig looks when no path is given:
// the working directory, then ~/.config/docket/, then /etc/docket/.
func DefaultSearchPaths() []string {
	candidates := []string{"config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "docket", "config.yaml"))
	}
	return append(candidates, "/etc/docket/config.yaml")
}

// FindConfig resolves the config file path. A non-empty explicit path
// (the -config flag) wins but must exist; with no explicit path the
// first hit from DefaultSearchPaths is used.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}
	for _, candidate := range DefaultSearchPaths() {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Docket configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Backboard BackboardConfig `yaml:"backboard"`
	Agent     AgentConfig     `yaml:"agent"`
	API       APIConfig       `yaml:"api"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	CalDAV    CalDAVConfig    `yaml:"caldav"`
	GitHub    GitHubConfig    `yaml:"github"`
	Mailbox   MailboxConfig   `yaml:"mailbox"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"` // text or json
}

// ListenConfig sets where the API server binds.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// BackboardConfig defines the Backboard provider connection.
type BackboardConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	// LLMProvider and ModelName select the model Backboard routes to.
	LLMProvider string `yaml:"llm_provider"`
	ModelName   string `yaml:"model_name"`
	// TimeoutSec bounds a single provider round trip. Model runs are slow;
	// the default is 120 seconds.
	TimeoutSec int `yaml:"timeout_sec"`
	// InlineSystemPrompt includes the system prompt in every message
	// instead of relying on the instructions pushed to the assistant.
	InlineSystemPrompt bool `yaml:"inline_system_prompt"`
}

// AgentConfig defines orchestration loop settings.
type AgentConfig struct {
	// SessionTTLMinutes is how long a chat thread stays live without
	// being recreated (default 120).
	SessionTTLMinutes int `yaml:"session_ttl_minutes"`
	// AssistantNamePrefix prefixes the per-owner assistant name
	// registered with the provider (default "user").
	AssistantNamePrefix string `yaml:"assistant_name_prefix"`
}

// APIConfig defines HTTP API extras beyond the bind address.
type APIConfig struct {
	// PublicURL is the externally reachable base URL, used by /api/qr.
	PublicURL string `yaml:"public_url"`
	// AuthTokenHash is a bcrypt hash. When set, requests must carry
	// a matching bearer token. Empty disables auth.
	AuthTokenHash string `yaml:"auth_token_hash"`
}

// MQTTConfig defines the optional task event publisher.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BrokerURL   string `yaml:"broker_url"` // mqtt://, mqtts://, tcp://, ssl://
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"` // default "docket"
	DeviceName  string `yaml:"device_name"`  // default "docket"
}

// CalDAVConfig defines the optional VTODO export target.
type CalDAVConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"` // collection URL
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// GitHubConfig defines the optional issue importer.
type GitHubConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	Repo    string `yaml:"repo"` // owner/name
	// Owner is the local task owner imported issues are filed under.
	Owner string `yaml:"owner"`
	// IntervalMinutes between polls (default 15).
	IntervalMinutes int `yaml:"interval_minutes"`
}

// MailboxConfig defines the optional IMAP task importer.
type MailboxConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"` // default 993
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	Folder          string `yaml:"folder"` // default "INBOX"
	Owner           string `yaml:"owner"`
	DialInsecure    bool   `yaml:"dial_insecure"`    // plain TCP, for test servers
	IntervalMinutes int    `yaml:"interval_minutes"` // default 5
}

// Load parses the YAML file at path, expanding ${VAR} references from
// the environment so secrets can stay out of the file itself. Defaults
// are filled in and the result validated before it is returned.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied and
// nothing else set. Tests and the -version path use it.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.Backboard.BaseURL == "" {
		c.Backboard.BaseURL = "https://app.backboard.io/api"
	}
	if c.Backboard.LLMProvider == "" {
		c.Backboard.LLMProvider = "openai"
	}
	if c.Backboard.ModelName == "" {
		c.Backboard.ModelName = "gpt-4o-mini"
	}
	if c.Backboard.TimeoutSec == 0 {
		c.Backboard.TimeoutSec = 120
	}
	if c.Agent.SessionTTLMinutes == 0 {
		c.Agent.SessionTTLMinutes = 120
	}
	if c.Agent.AssistantNamePrefix == "" {
		c.Agent.AssistantNamePrefix = "user"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "docket"
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "docket"
	}
	if c.GitHub.IntervalMinutes == 0 {
		c.GitHub.IntervalMinutes = 15
	}
	if c.Mailbox.Port == 0 {
		c.Mailbox.Port = 993
	}
	if c.Mailbox.Folder == "" {
		c.Mailbox.Folder = "INBOX"
	}
	if c.Mailbox.IntervalMinutes == 0 {
		c.Mailbox.IntervalMinutes = 5
	}
}

// Validate rejects configurations that cannot start.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat)
	}
	if c.GitHub.Enabled {
		if c.GitHub.Repo == "" || !strings.Contains(c.GitHub.Repo, "/") {
			return fmt.Errorf("github.repo must be owner/name, got %q", c.GitHub.Repo)
		}
		if c.GitHub.Owner == "" {
			return fmt.Errorf("github.owner is required when github sync is enabled")
		}
	}
	if c.Mailbox.Enabled {
		if c.Mailbox.Host == "" {
			return fmt.Errorf("mailbox.host is required when mailbox import is enabled")
		}
		if c.Mailbox.Owner == "" {
			return fmt.Errorf("mailbox.owner is required when mailbox import is enabled")
		}
	}
	if c.CalDAV.Enabled && c.CalDAV.URL == "" {
		return fmt.Errorf("caldav.url is required when caldav export is enabled")
	}
	if c.MQTT.Enabled && c.MQTT.BrokerURL == "" {
		return fmt.Errorf("mqtt.broker_url is required when mqtt is enabled")
	}
	return nil
}
