// Package notify sends operator alerts through shoutrrr service URLs
// (ntfy, Telegram, Pushover, generic webhooks, ...).
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/kilianp07/homecharge/core/logger"
)

// Config lists the shoutrrr URLs alerts go to.
type Config struct {
	URLs    []string      `json:"urls"`
	Timeout time.Duration `json:"timeout"`
}

// Enabled reports whether any URL is configured.
func (c Config) Enabled() bool { return len(c.URLs) > 0 }

// SetDefaults applies a 10 s send timeout.
func (c *Config) SetDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

// Validate parses every URL so typos fail at startup rather than at the
// first alert.
func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if _, err := shoutrrr.CreateSender(c.URLs...); err != nil {
		return fmt.Errorf("notify urls: %w", err)
	}
	return nil
}

// Shoutrrr delivers alerts to every configured service.
type Shoutrrr struct {
	sender *router.ServiceRouter
	log    logger.Logger
}

// New builds the sender.
func New(cfg Config, log logger.Logger) (*Shoutrrr, error) {
	cfg.SetDefaults()
	if !cfg.Enabled() {
		return nil, errors.New("no notification urls configured")
	}
	sender, err := shoutrrr.CreateSender(cfg.URLs...)
	if err != nil {
		return nil, fmt.Errorf("notify urls: %w", err)
	}
	sender.Timeout = cfg.Timeout
	sender.SetLogger(quiet())
	return &Shoutrrr{sender: sender, log: logger.OrNop(log)}, nil
}

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

// Notify sends message with title to all services and returns the first
// delivery error.
func (s *Shoutrrr) Notify(ctx context.Context, title, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := stypes.Params{}
	if title != "" {
		params.SetTitle(title)
	}
	var first error
	for _, err := range s.sender.Send(message, &params) {
		if err == nil {
			continue
		}
		s.log.Warnf("notification failed: %v", err)
		if first == nil {
			first = err
		}
	}
	return first
}
