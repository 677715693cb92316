package chargepoint

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds the account credentials and client limits.
type Config struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	StationID string `json:"station_id"`

	AccountURL string `json:"account_url"`
	MapURL     string `json:"map_url"`
	// TokenPath caches the session token between runs. Empty disables it.
	TokenPath string `json:"token_path"`
	// CachePath keeps the response cache between runs. Empty disables it.
	CachePath string `json:"cache_path"`

	RateLimit  int           `json:"rate_limit"`
	RatePeriod time.Duration `json:"rate_period"`
	CacheTTL   time.Duration `json:"cache_ttl"`
	Timeout    time.Duration `json:"timeout"`
	PageSize   int           `json:"page_size"`
	MaxPages   int           `json:"max_pages"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.AccountURL == "" {
		c.AccountURL = "https://account.chargepoint.com/account/"
	}
	if c.MapURL == "" {
		c.MapURL = "https://mc.chargepoint.com/map-prod/v2"
	}
	if c.RateLimit == 0 {
		c.RateLimit = 6
	}
	if c.RatePeriod == 0 {
		c.RatePeriod = time.Minute
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Hour
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.PageSize == 0 {
		c.PageSize = 10
	}
	if c.MaxPages == 0 {
		c.MaxPages = 10
	}
}

// Validate checks a defaulted config.
func (c Config) Validate() error {
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("vendor: username and password are required")
	}
	for name, raw := range map[string]string{"account_url": c.AccountURL, "map_url": c.MapURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("vendor: invalid %s %q", name, raw)
		}
	}
	if c.RateLimit < 0 || c.RatePeriod < 0 {
		return fmt.Errorf("vendor: rate limit must not be negative")
	}
	if c.PageSize <= 0 || c.MaxPages <= 0 {
		return fmt.Errorf("vendor: page_size and max_pages must be positive")
	}
	return nil
}
