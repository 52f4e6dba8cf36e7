package config

import (
	"reflect"
	"sort"
	"strings"

	logx "ariabot/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus safe
// structured attrs for logging. Secrets (tokens, keys) are never included,
// only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 20)

	// Telegram (never log the token)
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		oldCfg.Telegram.AdminChatID != newCfg.Telegram.AdminChatID ||
		(oldCfg.Telegram.BotToken() != "") != (newCfg.Telegram.BotToken() != "") {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.admin_chat_set", newCfg.Telegram.AdminChatID != 0),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Store, newCfg.Store) {
		changed = append(changed, "store")
		attrs = append(attrs,
			logx.String("store.driver", strings.TrimSpace(newCfg.Store.Driver)),
			logx.Bool("store.path_set", strings.TrimSpace(newCfg.Store.Path) != ""),
			logx.String("store.busy_timeout", strings.TrimSpace(newCfg.Store.BusyTimeout)),
		)
	}

	// Assistant (never log the API key; FAQ content only as counts)
	if assistantChanged(oldCfg.Assistant, newCfg.Assistant) {
		changed = append(changed, "assistant")
		attrs = append(attrs,
			logx.String("assistant.model", newCfg.Assistant.Model),
			logx.Int("assistant.history_limit", newCfg.Assistant.HistoryLimit),
			logx.String("assistant.gen_timeout", strings.TrimSpace(newCfg.Assistant.GenTimeout)),
			logx.String("assistant.delivery_delay", strings.TrimSpace(newCfg.Assistant.DeliveryDelay)),
			logx.Int("assistant.faq_count", len(newCfg.Assistant.FAQ)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Respqueue, newCfg.Respqueue) {
		changed = append(changed, "respqueue")
		attrs = append(attrs,
			logx.String("respqueue.poll_interval", strings.TrimSpace(newCfg.Respqueue.PollInterval)),
			logx.String("respqueue.lookahead", strings.TrimSpace(newCfg.Respqueue.Lookahead)),
			logx.String("respqueue.typing_lead", strings.TrimSpace(newCfg.Respqueue.TypingLead)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Broadcast, newCfg.Broadcast) {
		changed = append(changed, "broadcast")
		attrs = append(attrs,
			logx.String("broadcast.poll_interval", strings.TrimSpace(newCfg.Broadcast.PollInterval)),
			logx.Int("broadcast.rate_per_sec", newCfg.Broadcast.RatePerSec),
			logx.Int("broadcast.retry_max", newCfg.Broadcast.RetryMax),
		)
	}

	if !reflect.DeepEqual(oldCfg.Trigger, newCfg.Trigger) {
		changed = append(changed, "trigger")
		attrs = append(attrs,
			logx.String("trigger.poll_interval", strings.TrimSpace(newCfg.Trigger.PollInterval)),
			logx.String("trigger.timezone", strings.TrimSpace(newCfg.Trigger.Timezone)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func assistantChanged(o, n AssistantConfig) bool {
	if o.Model != n.Model || o.APIKeyEnv != n.APIKeyEnv || o.BaseURL != n.BaseURL ||
		o.SystemPrompt != n.SystemPrompt || o.HistoryLimit != n.HistoryLimit ||
		strings.TrimSpace(o.GenTimeout) != strings.TrimSpace(n.GenTimeout) ||
		strings.TrimSpace(o.DeliveryDelay) != strings.TrimSpace(n.DeliveryDelay) ||
		o.MaxDocumentPages != n.MaxDocumentPages {
		return true
	}
	if !reflect.DeepEqual(o.Delays, n.Delays) {
		return true
	}
	return !reflect.DeepEqual(o.FAQ, n.FAQ)
}
