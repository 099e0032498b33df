package rrr

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrAddressRequired = errors.New("rrr: address required")

// Dial connects to the hardware channel, redialing with backoff until it
// succeeds, attempts run out, or ctx ends.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	cfg = cfg.WithDefaults()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var attempt int
	for {
		attempt++
		dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
		nc, err := dialer.DialContext(ctx, "tcp", cfg.Address)
		if err == nil {
			log.Info().Str("addr", cfg.Address).Int("attempt", attempt).Msg("rrr.Dial connected")
			return NewConn(nc, cfg.Limits), nil
		}
		log.Warn().Err(err).Str("addr", cfg.Address).Int("attempt", attempt).Msg("rrr.Dial failed")
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if cfg.MaxConnectAttempts > 0 && attempt >= cfg.MaxConnectAttempts {
			return nil, err
		}

		timer := time.NewTimer(NextBackoffDelay(cfg.Backoff, attempt, rng))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
