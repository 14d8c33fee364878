package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/walletauth/internal/ephemeral"
)

var (
	ErrCooldownActive      = errors.New("cooldown active")
	ErrCooldownUnavailable = errors.New("cooldown limiter unavailable")
)

// CooldownError carries the wait remaining before the subject may retry.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%v: retry in %s", ErrCooldownActive, e.Remaining.Round(time.Second))
}

func (e *CooldownError) Unwrap() error { return ErrCooldownActive }

// Cooldown places a presence-only mark per (action, subject). While the mark
// exists, further Acquire calls for the same pair fail.
type Cooldown struct {
	store  *ephemeral.Store
	window time.Duration
}

// NewCooldown returns a limiter with the given window. A zero window disables it.
func NewCooldown(store *ephemeral.Store, window time.Duration) *Cooldown {
	return &Cooldown{store: store, window: window}
}

func (c *Cooldown) key(action, subject string) string {
	return c.store.Key("cd", action, subject)
}

// Acquire sets the mark for (action, subject) or returns a *CooldownError
// with the remaining TTL of the existing mark.
func (c *Cooldown) Acquire(ctx context.Context, action, subject string) error {
	if c == nil || c.window <= 0 {
		return nil
	}

	key := c.key(action, subject)
	ok, err := c.store.SetIfAbsent(ctx, key, []byte{1}, c.window)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCooldownUnavailable, err)
	}
	if ok {
		return nil
	}

	remaining, err := c.store.TTL(ctx, key)
	if err != nil {
		if errors.Is(err, ephemeral.ErrAbsent) {
			// Expired between the two calls; report a minimal wait rather than racing.
			remaining = time.Second
		} else {
			return fmt.Errorf("%w: %v", ErrCooldownUnavailable, err)
		}
	}
	if remaining <= 0 {
		remaining = time.Second
	}
	return &CooldownError{Remaining: remaining}
}

// Release removes the mark so the subject can retry immediately.
func (c *Cooldown) Release(ctx context.Context, action, subject string) error {
	if c == nil || c.window <= 0 {
		return nil
	}
	if err := c.store.Delete(ctx, c.key(action, subject)); err != nil {
		return fmt.Errorf("%w: %v", ErrCooldownUnavailable, err)
	}
	return nil
}

// Window returns the configured cooldown.
func (c *Cooldown) Window() time.Duration {
	if c == nil {
		return 0
	}
	return c.window
}
