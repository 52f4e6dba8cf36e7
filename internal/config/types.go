package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Store     StoreConfig     `json:"store"`
	Assistant AssistantConfig `json:"assistant"`
	Respqueue RespqueueConfig `json:"respqueue,omitempty"`
	Broadcast BroadcastConfig `json:"broadcast,omitempty"`
	Trigger   TriggerConfig   `json:"trigger,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// TokenEnv names an environment variable consulted when Token is empty,
	// so the secret can stay out of the config file.
	TokenEnv     string  `json:"token_env,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// AdminChatID receives log relay messages when logging.telegram is on.
	AdminChatID int64 `json:"admin_chat_id,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StoreConfig controls the persistence layer.
//
// Example:
//
//	"store": { "driver": "sqlite", "path": "./ariabot.db" }
type StoreConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// AssistantConfig controls generation and the reply pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "3s").
type AssistantConfig struct {
	Model string `json:"model,omitempty"`
	// APIKeyEnv names the environment variable holding the provider key.
	APIKeyEnv    string `json:"api_key_env,omitempty"`
	BaseURL      string `json:"base_url,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`

	HistoryLimit int    `json:"history_limit,omitempty"`
	GenTimeout   string `json:"gen_timeout,omitempty"`
	// DeliveryDelay routes replies through the pending-response queue when
	// set; empty or "0s" sends immediately.
	DeliveryDelay    string `json:"delivery_delay,omitempty"`
	MaxDocumentPages int    `json:"max_document_pages,omitempty"`

	Delays DelayConfig `json:"delays,omitempty"`
	FAQ    []FAQEntry  `json:"faq,omitempty"`
}

// DelayConfig tunes the aggregation debounce windows.
type DelayConfig struct {
	Short           string `json:"short,omitempty"`
	Medium          string `json:"medium,omitempty"`
	Long            string `json:"long,omitempty"`
	TypingExtension string `json:"typing_extension,omitempty"`
	AlbumWindow     string `json:"album_window,omitempty"`
}

type FAQEntry struct {
	Patterns []string `json:"patterns"`
	Answer   string   `json:"answer"`
}

type RespqueueConfig struct {
	PollInterval string `json:"poll_interval,omitempty"`
	Lookahead    string `json:"lookahead,omitempty"`
	TypingLead   string `json:"typing_lead,omitempty"`
}

type BroadcastConfig struct {
	PollInterval string `json:"poll_interval,omitempty"`
	RatePerSec   int    `json:"rate_per_sec,omitempty"`
	RetryMax     int    `json:"retry_max,omitempty"`
}

type TriggerConfig struct {
	PollInterval string `json:"poll_interval,omitempty"`
	// Timezone is an IANA zone name used for trigger wall-clock decisions.
	Timezone string `json:"timezone,omitempty"`
}

// BotToken resolves the Telegram token, preferring the inline value and
// falling back to the configured environment variable.
func (t TelegramConfig) BotToken() string {
	if tok := strings.TrimSpace(t.Token); tok != "" {
		return tok
	}
	if t.TokenEnv != "" {
		return strings.TrimSpace(os.Getenv(t.TokenEnv))
	}
	return ""
}

// APIKey resolves the generation provider key from the environment.
func (a AssistantConfig) APIKey() string {
	env := a.APIKeyEnv
	if env == "" {
		env = "OPENAI_API_KEY"
	}
	return strings.TrimSpace(os.Getenv(env))
}

// Validate checks cross-field constraints that the strict decoder cannot.
func (c *Config) Validate() error {
	if c.Telegram.BotToken() == "" {
		return fmt.Errorf("telegram: token missing (set telegram.token or telegram.token_env)")
	}
	for _, raw := range []struct{ path, val string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"store.busy_timeout", c.Store.BusyTimeout},
		{"assistant.gen_timeout", c.Assistant.GenTimeout},
		{"assistant.delivery_delay", c.Assistant.DeliveryDelay},
		{"assistant.delays.short", c.Assistant.Delays.Short},
		{"assistant.delays.medium", c.Assistant.Delays.Medium},
		{"assistant.delays.long", c.Assistant.Delays.Long},
		{"assistant.delays.typing_extension", c.Assistant.Delays.TypingExtension},
		{"assistant.delays.album_window", c.Assistant.Delays.AlbumWindow},
		{"respqueue.poll_interval", c.Respqueue.PollInterval},
		{"respqueue.lookahead", c.Respqueue.Lookahead},
		{"respqueue.typing_lead", c.Respqueue.TypingLead},
		{"broadcast.poll_interval", c.Broadcast.PollInterval},
		{"trigger.poll_interval", c.Trigger.PollInterval},
	} {
		if _, err := ParseDurationField(raw.path, raw.val); err != nil {
			return err
		}
	}
	if tz := strings.TrimSpace(c.Trigger.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("trigger.timezone: %w", err)
		}
	}
	for i, f := range c.Assistant.FAQ {
		if len(f.Patterns) == 0 {
			return fmt.Errorf("assistant.faq[%d]: patterns must not be empty", i)
		}
		if strings.TrimSpace(f.Answer) == "" {
			return fmt.Errorf("assistant.faq[%d]: answer must not be empty", i)
		}
	}
	return nil
}

// TriggerLocation loads the configured zone, defaulting to Asia/Jakarta.
func (c *Config) TriggerLocation() *time.Location {
	tz := strings.TrimSpace(c.Trigger.Timezone)
	if tz == "" {
		tz = "Asia/Jakarta"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}
