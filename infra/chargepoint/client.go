// Package chargepoint implements vendor.Client over the ChargePoint web API.
//
// Every call is a JSON POST. Account calls go to the account endpoint;
// everything else is an envelope such as {"charging_status": {...}} posted
// to the map endpoint. Requests share one token bucket, and listings of
// past sessions are cached, optionally across runs through CachePath.
package chargepoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/kilianp07/homecharge/core/errs"
	"github.com/kilianp07/homecharge/core/logger"
	"github.com/kilianp07/homecharge/core/vendor"
)

// SessionCookie carries the session token.
const SessionCookie = "coulomb_sess"

const loginPath = "v2/driver/profile/account/login"

// Client talks to the vendor API.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	cache   *cache.Cache
	log     logger.Logger

	mu    sync.Mutex
	token string
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New builds a client. cfg is defaulted; call Login before other methods
// or let the first call log in lazily.
func New(cfg Config, log logger.Logger, opts ...Option) *Client {
	cfg.SetDefaults()
	limit := rate.Inf
	if cfg.RateLimit > 0 && cfg.RatePeriod > 0 {
		limit = rate.Every(cfg.RatePeriod / time.Duration(cfg.RateLimit))
	}
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, max(cfg.RateLimit, 1)),
		log:     logger.OrNop(log),
	}
	c.cache = c.loadCache()
	for _, o := range opts {
		o(c)
	}
	return c
}

// Login reuses the cached token when one exists, otherwise authenticates.
func (c *Client) Login(ctx context.Context) error {
	if tok := c.loadToken(); tok != "" {
		c.setToken(tok)
		c.log.Debugf("using cached session token")
		return nil
	}
	return c.login(ctx)
}

func (c *Client) login(ctx context.Context) error {
	body, err := json.Marshal(loginRequest{Username: c.cfg.Username, Password: c.cfg.Password})
	if err != nil {
		return err
	}
	resp, raw, err := c.send(ctx, joinURL(c.cfg.AccountURL, loginPath), body, false)
	if err != nil {
		return errs.E(errs.KindVendor, "chargepoint.login", err)
	}
	if resp.StatusCode >= 400 {
		return errs.E(errs.KindVendor, "chargepoint.login", statusError(resp.StatusCode, raw))
	}
	var lr loginResponse
	if err := json.Unmarshal(raw, &lr); err != nil {
		return errs.E(errs.KindVendor, "chargepoint.login", fmt.Errorf("decode: %w", err))
	}
	tok := lr.SessionID
	for _, ck := range resp.Cookies() {
		if ck.Name == SessionCookie && ck.Value != "" {
			tok = ck.Value
		}
	}
	if tok == "" {
		return errs.Errorf(errs.KindVendor, "chargepoint.login", "no session token in response")
	}
	c.setToken(tok)
	c.saveToken(tok)
	c.log.Infof("authenticated as %s", c.cfg.Username)
	return nil
}

func (c *Client) setToken(t string) {
	c.mu.Lock()
	c.token = t
	c.mu.Unlock()
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) loadToken() string {
	if c.cfg.TokenPath == "" {
		return ""
	}
	b, err := os.ReadFile(c.cfg.TokenPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func (c *Client) saveToken(tok string) {
	if c.cfg.TokenPath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.cfg.TokenPath), 0o755); err != nil {
		c.log.Warnf("cache session token: %v", err)
		return
	}
	if err := os.WriteFile(c.cfg.TokenPath, []byte(tok), 0o600); err != nil {
		c.log.Warnf("cache session token: %v", err)
	}
}

func (c *Client) dropToken() {
	c.setToken("")
	if c.cfg.TokenPath != "" {
		_ = os.Remove(c.cfg.TokenPath)
	}
}

// call posts an envelope to the map endpoint and decodes the response into
// out. An expired token triggers one fresh login and a retry.
func (c *Client) call(ctx context.Context, op string, payload, out any) error {
	if c.currentToken() == "" {
		if err := c.Login(ctx); err != nil {
			return err
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return errs.E(errs.KindValidation, op, err)
	}
	resp, raw, err := c.send(ctx, c.cfg.MapURL, body, true)
	if err == nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		c.log.Warnf("%s: session token rejected, logging in again", op)
		c.dropToken()
		if err := c.login(ctx); err != nil {
			return err
		}
		resp, raw, err = c.send(ctx, c.cfg.MapURL, body, true)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errs.E(errs.KindVendor, op, err)
	}
	if resp.StatusCode >= 400 {
		return errs.E(errs.KindVendor, op, statusError(resp.StatusCode, raw))
	}
	var er errorResponse
	if json.Unmarshal(raw, &er) == nil && er.Error != nil {
		return errs.E(errs.KindVendor, op, vendorError(er.text()))
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return errs.E(errs.KindVendor, op, fmt.Errorf("decode: %w", err))
	}
	return nil
}

func (c *Client) send(ctx context.Context, url string, body []byte, auth bool) (*http.Response, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	reqID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if auth {
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: c.currentToken()})
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	c.log.Debugw("vendor request", map[string]any{
		"request_id": reqID,
		"url":        url,
		"status":     resp.StatusCode,
		"duration":   time.Since(start).String(),
	})
	return resp, raw, nil
}

func statusError(code int, raw []byte) error {
	var er errorResponse
	msg := ""
	if json.Unmarshal(raw, &er) == nil {
		msg = er.text()
	}
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
		if len(msg) > 200 {
			msg = msg[:200]
		}
	}
	if err := vendorError(msg); errors.Is(err, errs.ErrStartTimeout) {
		return err
	}
	return fmt.Errorf("http %d: %s", code, msg)
}

func vendorError(msg string) error {
	if vendor.IsStartTimeout(errors.New(msg)) {
		return errs.ErrStartTimeout
	}
	return errors.New(msg)
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// HomeChargers lists the account's home charger ids. A configured station
// id takes precedence.
func (c *Client) HomeChargers(ctx context.Context) ([]string, error) {
	if c.cfg.StationID != "" {
		return []string{c.cfg.StationID}, nil
	}
	var r pandasResponse
	if err := c.call(ctx, "chargepoint.home_chargers", map[string]any{"get_pandas": mfhs{}}, &r); err != nil {
		return nil, err
	}
	if r.GetPandas == nil {
		return nil, nil
	}
	out := make([]string, 0, len(r.GetPandas.DeviceIDs))
	for _, d := range r.GetPandas.DeviceIDs {
		if d != "" {
			out = append(out, string(d))
		}
	}
	return out, nil
}

// ChargerStatus reads one home charger.
func (c *Client) ChargerStatus(ctx context.Context, chargerID string) (vendor.ChargerStatus, error) {
	var r pandaStatusResponse
	payload := map[string]any{"get_panda_status": map[string]any{"device_id": chargerID, "mfhs": mfhs{}}}
	if err := c.call(ctx, "chargepoint.charger_status", payload, &r); err != nil {
		return vendor.ChargerStatus{}, err
	}
	if r.GetPandaStatus == nil {
		return vendor.ChargerStatus{}, errs.Errorf(errs.KindNoData, "chargepoint.charger_status", "no status for charger %s", chargerID)
	}
	s := r.GetPandaStatus
	return vendor.ChargerStatus{
		ChargerID:       chargerID,
		Connected:       s.IsConnected,
		PluggedIn:       s.IsPluggedIn,
		ChargingStatus:  s.ChargingStatus,
		Model:           s.Model,
		LastConnectedAt: time.Time(s.LastConnectedAt),
	}, nil
}

// UserStatus reads the account charging state.
func (c *Client) UserStatus(ctx context.Context) (vendor.UserStatus, error) {
	var r userStatusResponse
	if err := c.call(ctx, "chargepoint.user_status", map[string]any{"user_status": map[string]any{"mfhs": mfhs{}}}, &r); err != nil {
		return vendor.UserStatus{}, err
	}
	if r.UserStatus == nil || r.UserStatus.Charging == nil {
		return vendor.UserStatus{}, nil
	}
	sid := string(r.UserStatus.Charging.SessionID)
	if sid == "0" {
		sid = ""
	}
	return vendor.UserStatus{SessionID: sid, State: r.UserStatus.Charging.State}, nil
}

// StartSession asks the charger to start charging.
func (c *Client) StartSession(ctx context.Context, chargerID string) (string, error) {
	const op = "chargepoint.start_session"
	var r startResponse
	if err := c.call(ctx, op, map[string]any{"start_session": map[string]any{"device_id": chargerID}}, &r); err != nil {
		return "", err
	}
	if r.StartSession == nil {
		return "", errs.Errorf(errs.KindVendor, op, "empty start response")
	}
	if r.StartSession.Error != "" {
		return "", errs.E(errs.KindVendor, op, vendorError(r.StartSession.Error))
	}
	return string(r.StartSession.SessionID), nil
}

// SessionActivity reads a session's detail and power samples. Details of
// sessions already seen in a history listing are cached.
func (c *Client) SessionActivity(ctx context.Context, sessionID string) (vendor.Activity, error) {
	const op = "chargepoint.session_activity"
	key := activityPrefix + sessionID
	if v, ok := c.cache.Get(key); ok {
		return v.(vendor.Activity), nil
	}
	var r activityResponse
	payload := map[string]any{"charging_status": map[string]any{
		"mfhs":            mfhs{},
		"session_id":      sessionID,
		"include_samples": true,
	}}
	if err := c.call(ctx, op, payload, &r); err != nil {
		return vendor.Activity{}, err
	}
	if r.ChargingStatus == nil {
		return vendor.Activity{}, errs.Errorf(errs.KindNoData, op, "no activity for session %s", sessionID)
	}
	s := r.ChargingStatus
	a := vendor.Activity{
		SessionID: sessionID,
		PowerKW:   s.PowerKW,
		EnergyKWh: s.EnergyKWh,
		Status:    s.CurrentStatus,
		Samples:   readings(s.PowerSamples, s.Samples, s.UpdateData),
	}
	if s.ChargingTimeMS != nil {
		m := *s.ChargingTimeMS / 60000
		a.DurationMinutes = &m
	}
	if _, historical := c.cache.Get(sessionPrefix + sessionID); historical {
		c.cache.SetDefault(key, a)
	}
	return a, nil
}

// Sessions lists a month of session history, following page offsets.
func (c *Client) Sessions(ctx context.Context, year int, month time.Month) ([]vendor.Session, error) {
	const op = "chargepoint.sessions"
	offset := fmt.Sprintf("p_%04d_%02d", year, int(month))
	key := listingPrefix + offset
	if v, ok := c.cache.Get(key); ok {
		return v.([]vendor.Session), nil
	}

	var out []vendor.Session
	req := monthlyRequest{PageSize: c.cfg.PageSize, ShowAddressForHomeSessions: true, PageOffset: offset}
	for page := 0; page < c.cfg.MaxPages; page++ {
		var r monthlyResponse
		if err := c.call(ctx, op, map[string]any{"charging_activity_monthly": req}, &r); err != nil {
			return nil, err
		}
		sessions, next, ok := r.page()
		if !ok {
			if page == 0 {
				c.log.Warnf("%s: response has no activity section", offset)
			}
			break
		}
		for _, s := range sessions {
			out = append(out, vendor.Session(s))
		}
		if next == "" || next == lastPage || next == req.PageOffset {
			break
		}
		req.PageOffset = next
	}

	c.cache.SetDefault(key, out)
	for _, s := range out {
		if sid := s.ID(); sid != "" {
			c.cache.SetDefault(sessionPrefix+sid, s)
		}
	}
	return out, nil
}

var _ vendor.Client = (*Client)(nil)
