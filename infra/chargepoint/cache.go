package chargepoint

import (
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/kilianp07/homecharge/core/vendor"
	"github.com/kilianp07/homecharge/internal/jsondoc"
)

const (
	activityPrefix = "activity:"
	listingPrefix  = "sessions:"
	sessionPrefix  = "session:"
)

// cacheSnapshot is the on-disk form of the response cache. Expires is a
// Unix nanosecond deadline; zero never expires.
type cacheSnapshot struct {
	Activities map[string]cachedActivity `json:"activities"`
	Listings   map[string]cachedListing  `json:"listings"`
	Sessions   map[string]cachedSession  `json:"sessions"`
}

type cachedActivity struct {
	Value   activityDoc `json:"value"`
	Expires int64       `json:"expires"`
}

type cachedListing struct {
	Value   []vendor.Session `json:"value"`
	Expires int64            `json:"expires"`
}

type cachedSession struct {
	Value   vendor.Session `json:"value"`
	Expires int64          `json:"expires"`
}

type activityDoc struct {
	SessionID       string    `json:"session_id"`
	PowerKW         *float64  `json:"power_kw,omitempty"`
	EnergyKWh       *float64  `json:"energy_kwh,omitempty"`
	DurationMinutes *float64  `json:"duration_minutes,omitempty"`
	Status          string    `json:"status,omitempty"`
	Samples         []float64 `json:"samples"`
}

func (d activityDoc) activity() vendor.Activity {
	return vendor.Activity{
		SessionID:       d.SessionID,
		PowerKW:         d.PowerKW,
		EnergyKWh:       d.EnergyKWh,
		DurationMinutes: d.DurationMinutes,
		Status:          d.Status,
		Samples:         d.Samples,
	}
}

func activityDocOf(a vendor.Activity) activityDoc {
	return activityDoc{
		SessionID:       a.SessionID,
		PowerKW:         a.PowerKW,
		EnergyKWh:       a.EnergyKWh,
		DurationMinutes: a.DurationMinutes,
		Status:          a.Status,
		Samples:         a.Samples,
	}
}

// loadCache seeds the response cache from the snapshot at CachePath,
// dropping entries that expired while the process was not running. A
// missing or unreadable snapshot starts an empty cache.
func (c *Client) loadCache() *cache.Cache {
	items := map[string]cache.Item{}
	if c.cfg.CachePath != "" {
		var snap cacheSnapshot
		found, err := jsondoc.Load(c.cfg.CachePath, &snap)
		switch {
		case err != nil:
			c.log.Warnf("response cache ignored: %v", err)
		case found:
			now := time.Now().UnixNano()
			live := func(exp int64) bool { return exp == 0 || exp > now }
			for k, e := range snap.Activities {
				if live(e.Expires) {
					items[activityPrefix+k] = cache.Item{Object: e.Value.activity(), Expiration: e.Expires}
				}
			}
			for k, e := range snap.Listings {
				if live(e.Expires) {
					items[listingPrefix+k] = cache.Item{Object: e.Value, Expiration: e.Expires}
				}
			}
			for k, e := range snap.Sessions {
				if live(e.Expires) {
					items[sessionPrefix+k] = cache.Item{Object: e.Value, Expiration: e.Expires}
				}
			}
			c.log.Debugf("response cache: %d entries loaded", len(items))
		}
	}
	return cache.NewFrom(c.cfg.CacheTTL, 2*c.cfg.CacheTTL, items)
}

// SaveCache writes the unexpired response cache to CachePath. It is a no-op
// when no path is configured.
func (c *Client) SaveCache() error {
	if c.cfg.CachePath == "" {
		return nil
	}
	snap := cacheSnapshot{
		Activities: map[string]cachedActivity{},
		Listings:   map[string]cachedListing{},
		Sessions:   map[string]cachedSession{},
	}
	for k, it := range c.cache.Items() {
		switch {
		case strings.HasPrefix(k, activityPrefix):
			if a, ok := it.Object.(vendor.Activity); ok {
				snap.Activities[strings.TrimPrefix(k, activityPrefix)] = cachedActivity{Value: activityDocOf(a), Expires: it.Expiration}
			}
		case strings.HasPrefix(k, listingPrefix):
			if l, ok := it.Object.([]vendor.Session); ok {
				snap.Listings[strings.TrimPrefix(k, listingPrefix)] = cachedListing{Value: l, Expires: it.Expiration}
			}
		case strings.HasPrefix(k, sessionPrefix):
			if s, ok := it.Object.(vendor.Session); ok {
				snap.Sessions[strings.TrimPrefix(k, sessionPrefix)] = cachedSession{Value: s, Expires: it.Expiration}
			}
		}
	}
	return jsondoc.Save(c.cfg.CachePath, snap)
}
