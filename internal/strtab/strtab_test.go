package strtab

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/leapscan/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestAddIdempotentAndDuplicate(t *testing.T) {
	testlog.Start(t)

	tbl := New()
	require.NoError(t, tbl.Add(7, "N:fifo"))
	require.NoError(t, tbl.Add(7, "N:fifo"))
	err := tbl.Add(7, "R:other")
	require.ErrorIs(t, err, ErrDuplicateUID)

	s, ok := tbl.Lookup(7)
	require.True(t, ok)
	require.Equal(t, "N:fifo", s)
}

func TestMustLookupUndefined(t *testing.T) {
	testlog.Start(t)

	_, err := New().MustLookup(99)
	require.ErrorIs(t, err, ErrUndefined)
}

func TestReadFrom(t *testing.T) {
	testlog.Start(t)

	db := "1048576,cpu_core\n1048577,C:2\n\n1048578,N:alu~8~opcode~M4~dst\r\n"
	tbl := New()
	_, err := tbl.ReadFrom(strings.NewReader(db))
	require.NoError(t, err)
	require.Equal(t, 3, tbl.Len())

	s, err := tbl.MustLookup(1048578)
	require.NoError(t, err)
	require.Equal(t, "N:alu~8~opcode~M4~dst", s)
}

func TestReadFromTextKeepsCommas(t *testing.T) {
	testlog.Start(t)

	tbl := New()
	_, err := tbl.ReadFrom(strings.NewReader("5,a,b,c\n"))
	require.NoError(t, err)
	s, _ := tbl.Lookup(5)
	require.Equal(t, "a,b,c", s)
}

func TestReadFromMalformed(t *testing.T) {
	testlog.Start(t)

	for _, db := range []string{"nocomma\n", "x1,name\n", "-1,name\n"} {
		_, err := New().ReadFrom(strings.NewReader(db))
		require.ErrorIs(t, err, ErrMalformed, "db=%q", db)
	}
}

func TestLoad(t *testing.T) {
	testlog.Start(t)

	path := filepath.Join(t.TempDir(), "global-strings.db")
	require.NoError(t, os.WriteFile(path, []byte("3,R:bus\n"), 0o644))

	tbl, err := Load(path)
	require.NoError(t, err)
	s, ok := tbl.Lookup(3)
	require.True(t, ok)
	require.Equal(t, "R:bus", s)

	_, err = Load(filepath.Join(t.TempDir(), "missing.db"))
	require.Error(t, err)
}

func TestLayout(t *testing.T) {
	testlog.Start(t)

	l := DefaultLayout()
	require.NoError(t, l.Validate())
	require.Equal(t, uint32(0x00300000), l.Boundary(0x00312345))

	require.ErrorIs(t, Layout{UIDBits: 32, LocalBits: 32}.Validate(), ErrInvalidLayout)
	require.ErrorIs(t, Layout{UIDBits: 33, LocalBits: 20}.Validate(), ErrInvalidLayout)
	require.ErrorIs(t, Layout{UIDBits: 32, LocalBits: 0}.Validate(), ErrInvalidLayout)
}
