// Package strtab maps the compact uids hardware sends in place of strings
// back to their text, and splits uids into synthesis boundary and local
// parts.
package strtab

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

var (
	ErrDuplicateUID = errors.New("strtab: uid already bound to different text")
	ErrUndefined    = errors.New("strtab: uid undefined")
	ErrMalformed    = errors.New("strtab: malformed database line")
)

// Table is safe for concurrent use. Entries are never removed.
type Table struct {
	mu    sync.RWMutex
	items map[uint32]string
}

func New() *Table {
	return &Table{items: make(map[uint32]string)}
}

// Add binds uid to text. Re-adding identical text is a no-op.
func (t *Table) Add(uid uint32, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.items[uid]; ok {
		if prev != text {
			return fmt.Errorf("%w: uid=%d have=%q got=%q", ErrDuplicateUID, uid, prev, text)
		}
		return nil
	}
	t.items[uid] = text
	return nil
}

func (t *Table) Lookup(uid uint32) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.items[uid]
	return s, ok
}

// MustLookup is Lookup for callers that treat a missing uid as a broken
// hardware/software contract.
func (t *Table) MustLookup(uid uint32) (string, error) {
	s, ok := t.Lookup(uid)
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUndefined, uid)
	}
	return s, nil
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// ReadFrom loads a string database: one "<uid>,<text>" per line, decimal
// uid, text running to end of line. Blank lines are skipped.
func (t *Table) ReadFrom(r io.Reader) (int64, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	var n int64
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		n += int64(len(line)) + 1
		if strings.TrimSpace(line) == "" {
			continue
		}
		head, text, ok := strings.Cut(line, ",")
		if !ok {
			return n, fmt.Errorf("%w: line %d: missing ','", ErrMalformed, lineNo)
		}
		uid, err := strconv.ParseUint(strings.TrimSpace(head), 10, 32)
		if err != nil {
			return n, fmt.Errorf("%w: line %d: uid %q", ErrMalformed, lineNo, head)
		}
		text = strings.TrimSuffix(text, "\r")
		if err := t.Add(uint32(uid), text); err != nil {
			return n, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("strtab: read: %w", err)
	}
	return n, nil
}

// Load builds a table from the database file at path.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("strtab: open %s: %w", path, err)
	}
	defer f.Close()

	t := New()
	if _, err := t.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("strtab: %s: %w", path, err)
	}
	return t, nil
}
