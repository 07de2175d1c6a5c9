package config

import "strings"

const redacted = "***"

// RedactedConfig returns a copy of cfg with credentials masked, for logging.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.WebhookToken)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	redact(&out.Fanout.CodecKey)
	redact(&out.Server.APIKey)

	// Webhook URLs often embed tokens in the query string.
	out.Notify.WebhookURLs = make([]string, len(cfg.Notify.WebhookURLs))
	for i, u := range cfg.Notify.WebhookURLs {
		if j := strings.IndexByte(u, '?'); j >= 0 {
			u = u[:j] + "?" + redacted
		}
		out.Notify.WebhookURLs[i] = u
	}
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)

	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
