package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validYAML = `
telegram:
  token: "123:abc"
  poll_timeout: "10s"
  owner_user_ids: [42]
logging:
  level: info
  console: true
store:
  driver: sqlite
  path: ./bot.db
assistant:
  model: gpt-4o-mini
  history_limit: 30
  delivery_delay: "2s"
  delays:
    short: "3500ms"
    medium: "2500ms"
    long: "1500ms"
  faq:
    - patterns: ["price", "pricing"]
      answer: "See /subscribe for pricing."
trigger:
  poll_interval: "60s"
  timezone: Asia/Jakarta
`

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.BotToken() != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.BotToken())
	}
	if cfg.Assistant.Delays.Short != "3500ms" {
		t.Fatalf("delays.short = %q", cfg.Assistant.Delays.Short)
	}
	if len(cfg.Assistant.FAQ) != 1 || len(cfg.Assistant.FAQ[0].Patterns) != 2 {
		t.Fatalf("faq = %+v", cfg.Assistant.FAQ)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", validYAML+"\nmystery: true\n"))
	if _, err := m.parse(); err == nil {
		t.Fatal("unknown top-level key should fail the strict decoder")
	}
}

func TestValidateBadDuration(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	cfg.Telegram.Token = "x"
	cfg.Respqueue.PollInterval = "fast"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected invalid duration error")
	}
}

func TestValidateBadTimezone(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	cfg.Telegram.Token = "x"
	cfg.Trigger.Timezone = "Mars/Olympus"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unknown timezone error")
	}
}

func TestValidateMissingToken(t *testing.T) {
	cfg := &Config{}
	cfg.Telegram.TokenEnv = "ARIABOT_TEST_TOKEN_UNSET"
	os.Unsetenv("ARIABOT_TEST_TOKEN_UNSET")
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing token error")
	}
}

func TestTriggerLocationDefault(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	if got := cfg.TriggerLocation().String(); got != "Asia/Jakarta" {
		t.Fatalf("default zone = %q", got)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{}
	oldCfg.Logging.Level = "info"
	newCfg := &Config{}
	newCfg.Logging.Level = "debug"
	newCfg.Broadcast.RatePerSec = 5

	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"broadcast", "logging"}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	for i := range want {
		if changed[i] != want[i] {
			t.Fatalf("changed = %v, want %v", changed, want)
		}
	}
}
