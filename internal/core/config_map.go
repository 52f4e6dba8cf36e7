package core

import (
	"strings"
	"time"

	"ariabot/internal/config"
	"ariabot/internal/services/aggregate"
	"ariabot/internal/services/broadcast"
	"ariabot/internal/services/dispatch"
	"ariabot/internal/services/logging"
	"ariabot/internal/services/respqueue"
	"ariabot/internal/services/trigger"
	"ariabot/internal/storage"
)

// The map* helpers translate the wire-format config (duration strings,
// omitted fields) into per-service configs. They re-parse durations so a
// caller skipping Validate still gets a field-level error.

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("store.busy_timeout", cfg.Store.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	sc := storage.Config{
		Driver:      cfg.Store.Driver,
		Path:        cfg.Store.Path,
		BusyTimeout: busy,
	}
	if strings.TrimSpace(sc.Path) == "" {
		sc.Path = "ariabot.db"
	}
	return sc, nil
}

func mapLoggingConfig(cfg *config.Config) logging.Config {
	return logging.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logging.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logging.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapDelayConfig(cfg *config.Config) (aggregate.Config, error) {
	d := cfg.Assistant.Delays
	var out aggregate.Config
	for _, f := range []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"assistant.delays.short", d.Short, &out.ShortInputDelay},
		{"assistant.delays.medium", d.Medium, &out.MediumInputDelay},
		{"assistant.delays.long", d.Long, &out.LongInputDelay},
		{"assistant.delays.typing_extension", d.TypingExtension, &out.TypingExtension},
		{"assistant.delays.album_window", d.AlbumWindow, &out.AlbumWindow},
	} {
		v, err := config.ParseDurationField(f.path, f.raw)
		if err != nil {
			return aggregate.Config{}, err
		}
		*f.dst = v
	}
	return out, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	genTimeout, err := config.ParseDurationField("assistant.gen_timeout", cfg.Assistant.GenTimeout)
	if err != nil {
		return dispatch.Config{}, err
	}
	delay, err := config.ParseDurationField("assistant.delivery_delay", cfg.Assistant.DeliveryDelay)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		HistoryLimit:      cfg.Assistant.HistoryLimit,
		GenTimeout:        genTimeout,
		DeliveryDelay:     delay,
		PrivilegedUserIDs: cfg.Telegram.OwnerUserIDs,
		MaxDocumentPages:  cfg.Assistant.MaxDocumentPages,
	}, nil
}

func mapFAQ(entries []config.FAQEntry) []dispatch.FAQRule {
	rules := make([]dispatch.FAQRule, 0, len(entries))
	for _, e := range entries {
		rules = append(rules, dispatch.FAQRule{Patterns: e.Patterns, Answer: e.Answer})
	}
	return rules
}

func mapRespqueueConfig(cfg *config.Config) (respqueue.Config, error) {
	poll, err := config.ParseDurationField("respqueue.poll_interval", cfg.Respqueue.PollInterval)
	if err != nil {
		return respqueue.Config{}, err
	}
	lookahead, err := config.ParseDurationField("respqueue.lookahead", cfg.Respqueue.Lookahead)
	if err != nil {
		return respqueue.Config{}, err
	}
	lead, err := config.ParseDurationField("respqueue.typing_lead", cfg.Respqueue.TypingLead)
	if err != nil {
		return respqueue.Config{}, err
	}
	return respqueue.Config{
		PollInterval: poll,
		Lookahead:    lookahead,
		TypingLead:   lead,
	}, nil
}

func mapBroadcastConfig(cfg *config.Config) (broadcast.Config, error) {
	poll, err := config.ParseDurationField("broadcast.poll_interval", cfg.Broadcast.PollInterval)
	if err != nil {
		return broadcast.Config{}, err
	}
	return broadcast.Config{
		PollInterval: poll,
		RatePerSec:   cfg.Broadcast.RatePerSec,
		RetryMax:     cfg.Broadcast.RetryMax,
	}, nil
}

func mapTriggerConfig(cfg *config.Config) (trigger.Config, error) {
	poll, err := config.ParseDurationField("trigger.poll_interval", cfg.Trigger.PollInterval)
	if err != nil {
		return trigger.Config{}, err
	}
	return trigger.Config{PollInterval: poll}, nil
}
