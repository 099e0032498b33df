package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/leapscan/internal/hwsim"
	"github.com/danmuck/leapscan/internal/strtab"
	"github.com/pelletier/go-toml/v2"
)

// SimConfig describes a scansim instance and the scan it replays.
type SimConfig struct {
	Addr          string      `toml:"addr"`
	EchoOffset    uint8       `toml:"echo_offset"`
	StallLiveness bool        `toml:"stall_liveness"`
	UID           UIDConfig   `toml:"uid"`
	Records       []SimRecord `toml:"records"`
}

type UIDConfig struct {
	Bits      int `toml:"bits"`
	LocalBits int `toml:"local_bits"`
}

type SimRecord struct {
	Tag    uint32     `toml:"tag"`
	Fields []SimField `toml:"fields"`
	// Hex is appended after the fields as literal bytes.
	Hex string `toml:"hex"`
}

type SimField struct {
	Width int    `toml:"width"`
	Value uint64 `toml:"value"`
}

func LoadSimConfig(path string) (SimConfig, error) {
	var cfg SimConfig
	if err := loadToml(path, &cfg); err != nil {
		return SimConfig{}, err
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:7411"
	}
	if cfg.UID == (UIDConfig{}) {
		def := strtab.DefaultLayout()
		cfg.UID = UIDConfig{Bits: def.UIDBits, LocalBits: def.LocalBits}
	}
	if err := ValidateSimConfig(cfg); err != nil {
		return SimConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func (c SimConfig) Layout() strtab.Layout {
	return strtab.Layout{UIDBits: c.UID.Bits, LocalBits: c.UID.LocalBits}
}

func ValidateSimConfig(cfg SimConfig) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("%w: sim config missing addr", ErrInvalid)
	}
	if err := cfg.Layout().Validate(); err != nil {
		return fmt.Errorf("%w: uid: %w", ErrInvalid, err)
	}
	for i, rec := range cfg.Records {
		if cfg.UID.Bits < 32 && uint64(rec.Tag) >= 1<<uint(cfg.UID.Bits) {
			return fmt.Errorf("%w: records[%d] tag %#x wider than %d bits", ErrInvalid, i, rec.Tag, cfg.UID.Bits)
		}
		for j, f := range rec.Fields {
			if f.Width < 0 || f.Width > 64 {
				return fmt.Errorf("%w: records[%d].fields[%d] width %d not in 0..64", ErrInvalid, i, j, f.Width)
			}
		}
		if _, err := hex.DecodeString(rec.Hex); err != nil {
			return fmt.Errorf("%w: records[%d].hex: %w", ErrInvalid, i, err)
		}
	}
	return nil
}

// HWSim converts a validated SimConfig into simulator settings.
func (c SimConfig) HWSim() (hwsim.Config, error) {
	out := hwsim.Config{
		Layout:        c.Layout(),
		EchoOffset:    c.EchoOffset,
		StallLiveness: c.StallLiveness,
	}
	for i, rec := range c.Records {
		raw, err := hex.DecodeString(rec.Hex)
		if err != nil {
			return hwsim.Config{}, fmt.Errorf("records[%d].hex: %w", i, err)
		}
		r := hwsim.Record{Tag: rec.Tag}
		if len(raw) > 0 {
			r.Bytes = raw
		}
		for _, f := range rec.Fields {
			r.Fields = append(r.Fields, hwsim.Field{Width: f.Width, Value: f.Value})
		}
		out.Records = append(out.Records, r)
	}
	return out, nil
}
