package strtab

import (
	"errors"
	"fmt"
)

const (
	DefaultUIDBits   = 32
	DefaultLocalBits = 20
)

var ErrInvalidLayout = errors.New("strtab: invalid uid layout")

// Layout describes how a global uid splits into a synthesis boundary and a
// local index. The boundary's own name lives at local index 0.
type Layout struct {
	UIDBits   int
	LocalBits int
}

func DefaultLayout() Layout {
	return Layout{UIDBits: DefaultUIDBits, LocalBits: DefaultLocalBits}
}

func (l Layout) Validate() error {
	if l.UIDBits <= 0 || l.UIDBits > 32 {
		return fmt.Errorf("%w: uid bits %d not in 1..32", ErrInvalidLayout, l.UIDBits)
	}
	if l.LocalBits <= 0 || l.LocalBits >= l.UIDBits {
		return fmt.Errorf("%w: local bits %d not in 1..%d", ErrInvalidLayout, l.LocalBits, l.UIDBits-1)
	}
	return nil
}

// Boundary clears the local part of uid.
func (l Layout) Boundary(uid uint32) uint32 {
	return uid &^ (uint32(1)<<uint(l.LocalBits) - 1)
}
