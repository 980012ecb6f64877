// Package session loads upstream cookies and drives re-login when they expire.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vietddude/groupwatch/internal/core/domain"
)

// Checker validates credentials against the upstream.
type Checker interface {
	CheckSession(ctx context.Context, creds domain.Credentials) error
}

// Notifier reaches the operator during re-login.
type Notifier interface {
	NotifyText(ctx context.Context, text string) error
	NotifyQRCode(ctx context.Context, image []byte) error
}

// LoginHook starts an interactive login and returns the QR image to scan.
// Whatever completes the login must write the new cookies to the cookie file.
type LoginHook interface {
	StartLogin(ctx context.Context) ([]byte, error)
}

// Config controls the provider.
type Config struct {
	CookiePath   string
	LoginTimeout time.Duration
	PollInterval time.Duration
	// RecheckAfter bounds how long a validated session is trusted without a probe.
	RecheckAfter time.Duration
}

// CookieProvider serves credentials from a JSON cookie file.
type CookieProvider struct {
	cfg      Config
	checker  Checker
	notifier Notifier
	login    LoginHook
	log      *slog.Logger

	mu          sync.Mutex
	cached      *domain.Credentials
	validatedAt time.Time
	loadedMod   time.Time

	// relogin serializes Reauthenticate across sources.
	relogin sync.Mutex
}

// NewCookieProvider creates a provider. notifier and login may be nil.
func NewCookieProvider(cfg Config, checker Checker, notifier Notifier, login LoginHook) *CookieProvider {
	if cfg.LoginTimeout == 0 {
		cfg.LoginTimeout = 5 * time.Minute
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.RecheckAfter == 0 {
		cfg.RecheckAfter = 30 * time.Minute
	}
	return &CookieProvider{
		cfg:      cfg,
		checker:  checker,
		notifier: notifier,
		login:    login,
		log:      slog.Default(),
	}
}

// GetValidSession returns credentials that passed the upstream probe,
// re-authenticating when the stored cookie is missing or rejected.
func (p *CookieProvider) GetValidSession(ctx context.Context, src domain.Source) (domain.Credentials, error) {
	p.mu.Lock()
	if p.cached != nil && time.Since(p.validatedAt) < p.cfg.RecheckAfter && !p.fileChangedLocked() {
		creds := *p.cached
		p.mu.Unlock()
		return creds, nil
	}
	p.mu.Unlock()

	creds, err := p.loadAndCheck(ctx)
	switch {
	case err == nil:
		return creds, nil
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, domain.ErrAuthExpired):
		p.log.Warn("Session unusable, re-authenticating", "source", src.ID, "error", err)
		return p.Reauthenticate(ctx, src)
	default:
		return domain.Credentials{}, err
	}
}

// Reauthenticate asks the operator for a fresh login and waits for the cookie
// file to change and validate, up to LoginTimeout.
func (p *CookieProvider) Reauthenticate(ctx context.Context, src domain.Source) (domain.Credentials, error) {
	requestedAt := time.Now()

	p.relogin.Lock()
	defer p.relogin.Unlock()

	// Another source may have completed a login while we waited for the lock.
	p.mu.Lock()
	if p.cached != nil && p.validatedAt.After(requestedAt) {
		creds := *p.cached
		p.mu.Unlock()
		return creds, nil
	}
	p.cached = nil
	p.mu.Unlock()

	baseline := p.modTime()

	msg := fmt.Sprintf("[groupwatch] session expired while reading %s (%s). Please log in again within %s.",
		src.Name, src.ID, p.cfg.LoginTimeout)
	p.notifyText(ctx, msg)

	if p.login != nil {
		image, err := p.login.StartLogin(ctx)
		if err != nil {
			p.log.Error("Login hook failed", "error", err)
		} else if p.notifier != nil && len(image) > 0 {
			if err := p.notifier.NotifyQRCode(ctx, image); err != nil {
				p.log.Warn("Failed to send QR code", "error", err)
			}
		}
	}

	deadline := time.NewTimer(p.cfg.LoginTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return domain.Credentials{}, ctx.Err()
		case <-deadline.C:
			return domain.Credentials{}, fmt.Errorf("%w: no valid login within %s", domain.ErrAuthExpired, p.cfg.LoginTimeout)
		case <-ticker.C:
			if !p.modTime().After(baseline) {
				continue
			}
			creds, err := p.loadAndCheck(ctx)
			if err != nil {
				p.log.Warn("New cookie not usable yet", "error", err)
				baseline = p.modTime()
				continue
			}
			p.log.Info("Session restored", "source", src.ID)
			p.notifyText(ctx, "[groupwatch] login succeeded, resuming.")
			return creds, nil
		}
	}
}

// Save writes cookies to the cookie file, e.g. after an external login.
func (p *CookieProvider) Save(cookies map[string]string) error {
	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.cfg.CookiePath), 0o700); err != nil {
		return fmt.Errorf("create cookie dir: %w", err)
	}
	tmp := p.cfg.CookiePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write cookie file: %w", err)
	}
	return os.Rename(tmp, p.cfg.CookiePath)
}

func (p *CookieProvider) loadAndCheck(ctx context.Context) (domain.Credentials, error) {
	mod := p.modTime()
	creds, err := p.load()
	if err != nil {
		return domain.Credentials{}, err
	}
	if !creds.Valid() {
		return domain.Credentials{}, fmt.Errorf("%w: cookie file is empty", domain.ErrAuthExpired)
	}
	if p.checker != nil {
		if err := p.checker.CheckSession(ctx, creds); err != nil {
			return domain.Credentials{}, err
		}
	}

	p.mu.Lock()
	p.cached = &creds
	p.validatedAt = time.Now()
	p.loadedMod = mod
	p.mu.Unlock()
	return creds, nil
}

func (p *CookieProvider) load() (domain.Credentials, error) {
	data, err := os.ReadFile(p.cfg.CookiePath)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("read cookie file: %w", err)
	}
	var cookies map[string]string
	if err := json.Unmarshal(data, &cookies); err != nil {
		return domain.Credentials{}, fmt.Errorf("%w: parse cookie file: %v", domain.ErrAuthExpired, err)
	}
	return domain.Credentials{Cookies: cookies}, nil
}

func (p *CookieProvider) modTime() time.Time {
	info, err := os.Stat(p.cfg.CookiePath)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func (p *CookieProvider) fileChangedLocked() bool {
	return !p.modTime().Equal(p.loadedMod)
}

func (p *CookieProvider) notifyText(ctx context.Context, msg string) {
	if p.notifier == nil {
		p.log.Warn(msg)
		return
	}
	if err := p.notifier.NotifyText(ctx, msg); err != nil {
		p.log.Warn("Failed to notify operator", "error", err)
	}
}
