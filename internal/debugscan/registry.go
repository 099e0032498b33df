package debugscan

import (
	"io"
	"strings"
)

// Scanner is a software participant that appends its own state to every
// successful scan. It runs after hardware completes, inside the same
// session, so its output never interleaves with another scan.
type Scanner interface {
	Name() string
	DebugScan(w io.Writer) error
}

// RegisterScanner adds s to the end of the run order. Names must be unique.
func (c *Coordinator) RegisterScanner(s Scanner) error {
	if s == nil {
		return ErrNilScanner
	}
	name := strings.TrimSpace(s.Name())
	c.regMu.Lock()
	defer c.regMu.Unlock()
	for _, existing := range c.scanners {
		if strings.TrimSpace(existing.Name()) == name {
			return ErrScannerName
		}
	}
	c.scanners = append(c.scanners, s)
	c.logger.Debug().Str("scanner", name).Msg("debugscan.Coordinator.RegisterScanner")
	return nil
}

// Scanners returns the registered participants in run order.
func (c *Coordinator) Scanners() []Scanner {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	return append([]Scanner(nil), c.scanners...)
}

// ScannerFunc adapts a function to Scanner.
type ScannerFunc struct {
	ID string
	Fn func(w io.Writer) error
}

func (f ScannerFunc) Name() string               { return f.ID }
func (f ScannerFunc) DebugScan(w io.Writer) error { return f.Fn(w) }
