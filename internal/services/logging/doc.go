// Package logging configures the bot's structured logging.
//
// The package builds slog handlers based on configuration and can emit logs to
// multiple sinks:
//   - Console (human-friendly pretty output)
//   - File (JSON lines)
//   - Telegram admin chat, rate limited with a minimum level
//
// The Telegram relay is intended for concise operator visibility. It should be
// configured with an explicit admin chat and a min_level to avoid noise.
package logging
