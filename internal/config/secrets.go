package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Wallet
	out.Wallet = cfg.Wallet
	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)

	// Kalshi
	out.Kalshi = cfg.Kalshi
	redact(&out.Kalshi.ApiKey)

	// Postgres
	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// S3
	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Notify
	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Kalshi.Series != nil {
		out.Kalshi.Series = make([]string, len(cfg.Kalshi.Series))
		copy(out.Kalshi.Series, cfg.Kalshi.Series)
	}
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Execution.FillMonitorScheduleMs != nil {
		out.Execution.FillMonitorScheduleMs = make([]int, len(cfg.Execution.FillMonitorScheduleMs))
		copy(out.Execution.FillMonitorScheduleMs, cfg.Execution.FillMonitorScheduleMs)
	}

	// Copy maps so mutations to the redacted copy do not affect the original.
	if cfg.Matcher.QuantizationOffsetS != nil {
		out.Matcher.QuantizationOffsetS = make(map[string]int, len(cfg.Matcher.QuantizationOffsetS))
		for k, v := range cfg.Matcher.QuantizationOffsetS {
			out.Matcher.QuantizationOffsetS[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
