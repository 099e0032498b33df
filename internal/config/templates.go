package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "scand":
		return scandTemplate, nil
	case "scansim":
		return scansimTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Validate loads the file at path as the given kind.
func Validate(path, kind string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "scand":
		_, err := LoadDaemonConfig(path)
		return err
	case "scansim":
		_, err := LoadSimConfig(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

const scandTemplate = `[rrr]
address = "127.0.0.1:7411"
connect_timeout = "5s"
max_connect_attempts = 5
backoff_initial = "200ms"
backoff_max = "5s"
backoff_multiplier = 2.0
backoff_jitter = false

[strings]
path = "cmd/scand/global-strings.db"

[debug_scan]
sentinel = 27
watchdog_timeout = "30s"
live_enabled = true
live_path = "/tmp/leap-live-debug/debug-scan"
live_pause = "10s"

[admin]
addr = "127.0.0.1:9410"

[uid]
bits = 32
local_bits = 20
`

const scansimTemplate = `addr = "127.0.0.1:7411"
echo_offset = 0
stall_liveness = false

[uid]
bits = 32
local_bits = 20

# C:2 with two entries
[[records]]
tag = 0x00100001
fields = [
  { width = 20, value = 2 },
  { width = 1, value = 1 },
  { width = 1, value = 0 },
  { width = 20, value = 3 },
  { width = 1, value = 0 },
  { width = 1, value = 1 },
]

# R:regfile
[[records]]
tag = 0x00100004
hex = "34120000"

# N:alu~M8~result~4~opcode
[[records]]
tag = 0x00100005
fields = [
  { width = 8, value = 5 },
  { width = 1, value = 1 },
  { width = 4, value = 10 },
]
`
