package api

// Config configures the read-only HTTP API. An empty Addr disables it.
type Config struct {
	Addr               string   `json:"addr"`
	CORSAllowedOrigins []string `json:"cors_allowed_origins"`
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	if c.Addr != "" && len(c.CORSAllowedOrigins) == 0 {
		c.CORSAllowedOrigins = []string{"*"}
	}
}
