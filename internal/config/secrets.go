package config

// RedactedConfig returns a copy of the configuration with credentials
// masked, suitable for startup logging.
func (c Config) RedactedConfig() Config {
	out := c
	out.Postgres.Password = redact(c.Postgres.Password)
	if c.Postgres.DSN != "" {
		out.Postgres.DSN = "<redacted>"
	}
	out.Redis.Password = redact(c.Redis.Password)
	out.S3.AccessKey = redact(c.S3.AccessKey)
	out.S3.SecretKey = redact(c.S3.SecretKey)
	return out
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}
