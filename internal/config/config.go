package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/leapscan/internal/debugscan"
	"github.com/danmuck/leapscan/internal/rrr"
	"github.com/danmuck/leapscan/internal/strtab"
)

var ErrInvalid = errors.New("config: invalid")

// DebugScanConfig configures the scan coordinator and its live endpoint.
type DebugScanConfig struct {
	Sentinel        uint8
	WatchdogTimeout time.Duration
	LiveEnabled     bool
	LivePath        string
	LivePause       time.Duration
}

// DaemonConfig is the resolved scand configuration.
type DaemonConfig struct {
	RRR         rrr.Config
	StringsPath string
	DebugScan   DebugScanConfig
	// AdminAddr enables the HTTP admin server when non-empty.
	AdminAddr string
	Layout    strtab.Layout
}

func DefaultDaemonConfig() DaemonConfig {
	return DaemonConfig{
		RRR:         rrr.DefaultConfig(),
		StringsPath: "global-strings.db",
		DebugScan: DebugScanConfig{
			Sentinel:        debugscan.DefaultSentinel,
			WatchdogTimeout: debugscan.DefaultWatchdogTimeout,
			LiveEnabled:     true,
			LivePath:        debugscan.DefaultLivePath,
			LivePause:       debugscan.DefaultLivePause,
		},
		Layout: strtab.DefaultLayout(),
	}
}

type daemonFile struct {
	RRR struct {
		Address            string  `toml:"address"`
		ConnectTimeout     string  `toml:"connect_timeout"`
		MaxConnectAttempts int     `toml:"max_connect_attempts"`
		BackoffInitial     string  `toml:"backoff_initial"`
		BackoffMax         string  `toml:"backoff_max"`
		BackoffMultiplier  float64 `toml:"backoff_multiplier"`
		BackoffJitter      bool    `toml:"backoff_jitter"`
	} `toml:"rrr"`
	Strings struct {
		Path string `toml:"path"`
	} `toml:"strings"`
	DebugScan struct {
		Sentinel        int    `toml:"sentinel"`
		WatchdogTimeout string `toml:"watchdog_timeout"`
		LiveEnabled     bool   `toml:"live_enabled"`
		LivePath        string `toml:"live_path"`
		LivePause       string `toml:"live_pause"`
	} `toml:"debug_scan"`
	Admin struct {
		Addr string `toml:"addr"`
	} `toml:"admin"`
	UID struct {
		Bits      int `toml:"bits"`
		LocalBits int `toml:"local_bits"`
	} `toml:"uid"`
}

// LoadDaemonConfig overlays the keys present in the file at path on
// DefaultDaemonConfig and validates the result.
func LoadDaemonConfig(path string) (DaemonConfig, error) {
	cfg := DefaultDaemonConfig()

	var raw daemonFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return DaemonConfig{}, fmt.Errorf("load scand config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return DaemonConfig{}, fmt.Errorf("%w: unknown key %q", ErrInvalid, undecoded[0].String())
	}

	durations := []struct {
		key []string
		raw string
		dst *time.Duration
	}{
		{[]string{"rrr", "connect_timeout"}, raw.RRR.ConnectTimeout, &cfg.RRR.ConnectTimeout},
		{[]string{"rrr", "backoff_initial"}, raw.RRR.BackoffInitial, &cfg.RRR.Backoff.InitialDelay},
		{[]string{"rrr", "backoff_max"}, raw.RRR.BackoffMax, &cfg.RRR.Backoff.MaxDelay},
		{[]string{"debug_scan", "watchdog_timeout"}, raw.DebugScan.WatchdogTimeout, &cfg.DebugScan.WatchdogTimeout},
		{[]string{"debug_scan", "live_pause"}, raw.DebugScan.LivePause, &cfg.DebugScan.LivePause},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return DaemonConfig{}, fmt.Errorf("parse %s: %w", strings.Join(d.key, "."), err)
		}
		*d.dst = v
	}

	if meta.IsDefined("rrr", "address") {
		cfg.RRR.Address = strings.TrimSpace(raw.RRR.Address)
	}
	if meta.IsDefined("rrr", "max_connect_attempts") {
		cfg.RRR.MaxConnectAttempts = raw.RRR.MaxConnectAttempts
	}
	if meta.IsDefined("rrr", "backoff_multiplier") {
		cfg.RRR.Backoff.Multiplier = raw.RRR.BackoffMultiplier
	}
	if meta.IsDefined("rrr", "backoff_jitter") {
		cfg.RRR.Backoff.Jitter = raw.RRR.BackoffJitter
	}
	if meta.IsDefined("strings", "path") {
		cfg.StringsPath = strings.TrimSpace(raw.Strings.Path)
	}
	if meta.IsDefined("debug_scan", "sentinel") {
		if raw.DebugScan.Sentinel < 1 || raw.DebugScan.Sentinel > 255 {
			return DaemonConfig{}, fmt.Errorf("%w: debug_scan.sentinel %d not in 1..255", ErrInvalid, raw.DebugScan.Sentinel)
		}
		cfg.DebugScan.Sentinel = uint8(raw.DebugScan.Sentinel)
	}
	if meta.IsDefined("debug_scan", "live_enabled") {
		cfg.DebugScan.LiveEnabled = raw.DebugScan.LiveEnabled
	}
	if meta.IsDefined("debug_scan", "live_path") {
		cfg.DebugScan.LivePath = strings.TrimSpace(raw.DebugScan.LivePath)
	}
	if meta.IsDefined("admin", "addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.Admin.Addr)
	}
	if meta.IsDefined("uid", "bits") {
		cfg.Layout.UIDBits = raw.UID.Bits
	}
	if meta.IsDefined("uid", "local_bits") {
		cfg.Layout.LocalBits = raw.UID.LocalBits
	}

	if err := ValidateDaemonConfig(cfg); err != nil {
		return DaemonConfig{}, err
	}
	return cfg, nil
}

func ValidateDaemonConfig(cfg DaemonConfig) error {
	if strings.TrimSpace(cfg.RRR.Address) == "" {
		return fmt.Errorf("%w: rrr.address is required", ErrInvalid)
	}
	if cfg.RRR.MaxConnectAttempts < 0 {
		return fmt.Errorf("%w: rrr.max_connect_attempts must be >= 0", ErrInvalid)
	}
	if strings.TrimSpace(cfg.StringsPath) == "" {
		return fmt.Errorf("%w: strings.path is required", ErrInvalid)
	}
	if cfg.DebugScan.Sentinel == 0 {
		return fmt.Errorf("%w: debug_scan.sentinel must be non-zero", ErrInvalid)
	}
	if cfg.DebugScan.WatchdogTimeout <= 0 {
		return fmt.Errorf("%w: debug_scan.watchdog_timeout must be positive", ErrInvalid)
	}
	if cfg.DebugScan.LivePause < debugscan.MinLivePause {
		return fmt.Errorf("%w: debug_scan.live_pause must be >= %s", ErrInvalid, debugscan.MinLivePause)
	}
	if cfg.DebugScan.LiveEnabled && strings.TrimSpace(cfg.DebugScan.LivePath) == "" {
		return fmt.Errorf("%w: debug_scan.live_path is required when live_enabled", ErrInvalid)
	}
	if err := cfg.Layout.Validate(); err != nil {
		return fmt.Errorf("%w: uid: %w", ErrInvalid, err)
	}
	return nil
}
