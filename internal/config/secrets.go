package config

const redacted = "***"

// RedactedConfig returns a copy of cfg with every secret replaced by the
// placeholder "***". Log this copy instead of the live config.
func RedactedConfig(cfg *Config) Config {
	out := *cfg
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}

	secrets := []*string{
		&out.Chain.PrivateKey,
		&out.Chain.KeyPassword,
		&out.Postgres.DSN,
		&out.Postgres.Password,
		&out.Redis.Password,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
		&out.Server.AdminAPIKey,
	}
	for _, s := range secrets {
		if *s != "" {
			*s = redacted
		}
	}
	return out
}
