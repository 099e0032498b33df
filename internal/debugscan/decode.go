package debugscan

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/danmuck/leapscan/internal/bitbuf"
	"github.com/danmuck/leapscan/internal/observability"
	"github.com/danmuck/leapscan/internal/strtab"
)

// ErrContractViolation marks hardware output that software cannot make
// sense of: an unknown tag, a short or over-long record, a field wider than
// 64 bits. None of these are recoverable.
var ErrContractViolation = errors.New("debugscan: hardware/software contract violation")

// StringTable resolves the uids hardware sends in place of names.
// A missing uid is reported as an error wrapping strtab.ErrUndefined.
type StringTable interface {
	MustLookup(uid uint32) (string, error)
}

// Decoder renders one completed record.
type Decoder struct {
	Strings StringTable
	Layout  strtab.Layout
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrContractViolation, fmt.Sprintf(format, args...))
}

// Decode reads the record tag from buf, renders the record into w and
// returns the record kind. buf must hold exactly one record.
func (d Decoder) Decode(buf *bitbuf.Buffer, w io.Writer) (string, error) {
	raw, err := buf.Get(d.Layout.UIDBits)
	if err != nil {
		return "", violation("tag uid: %v", err)
	}
	uid := uint32(raw)
	tag, err := d.lookup(uid)
	if err != nil {
		return "", err
	}
	if len(tag) <= 2 || tag[1] != ':' {
		return "", violation("malformed tag %q (uid %d)", tag, uid)
	}

	body := tag[2:]
	switch tag[0] {
	case 'C':
		n, err := strconv.Atoi(body)
		if err != nil || n < 0 {
			return "", violation("connection count %q (uid %d)", body, uid)
		}
		return observability.KindConnection, d.connections(buf, w, uid, n)
	case 'R':
		return observability.KindRaw, d.raw(buf, w, body)
	case 'N':
		return observability.KindFormatted, d.formatted(buf, w, uid, body)
	default:
		return "", violation("unexpected debug scan tag %q", tag)
	}
}

func (d Decoder) lookup(uid uint32) (string, error) {
	s, err := d.Strings.MustLookup(uid)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrContractViolation, err)
	}
	return s, nil
}

func (d Decoder) get(buf *bitbuf.Buffer, nBits int) (uint64, error) {
	v, err := buf.Get(nBits)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrContractViolation, err)
	}
	return v, nil
}

// connections renders soft connection fill state. Each entry is a local
// uid, then a not-empty bit, then a not-full bit.
func (d Decoder) connections(buf *bitbuf.Buffer, w io.Writer, uid uint32, count int) error {
	boundary := d.Layout.Boundary(uid)
	boundaryName, err := d.lookup(boundary)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "  Soft connection state [%s]:\n", boundaryName)

	for i := 0; i < count; i++ {
		local, err := d.get(buf, d.Layout.LocalBits)
		if err != nil {
			return err
		}
		notEmpty, err := d.get(buf, 1)
		if err != nil {
			return err
		}
		notFull, err := d.get(buf, 1)
		if err != nil {
			return err
		}
		name, err := d.lookup(boundary | uint32(local))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\t%s:  %sfull / %sempty\n", name, notWord(notFull), notWord(notEmpty))
	}

	if left := buf.MsgBitsLeft(); left >= 8 {
		return violation("connection record declares %d entries but %d bits remain", count, left)
	}
	return nil
}

func notWord(flag uint64) string {
	if flag != 0 {
		return "not "
	}
	return ""
}

// raw prints the remaining bits as 16-bit groups, most significant first.
// A short final group is printed as the leading group.
func (d Decoder) raw(buf *bitbuf.Buffer, w io.Writer, label string) error {
	var chunks []uint16
	for left := buf.MsgBitsLeft(); left != 0; left = buf.MsgBitsLeft() {
		n := 16
		if left < 16 {
			n = int(left)
		}
		v, err := d.get(buf, n)
		if err != nil {
			return err
		}
		chunks = append(chunks, uint16(v))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "  %s:\n\tH", label)
	for i := len(chunks) - 1; i >= 0; i-- {
		fmt.Fprintf(&sb, " %04x", chunks[i])
	}
	sb.WriteString("  \tB")
	for i := len(chunks) - 1; i >= 0; i-- {
		for b := 16; b > 0; b-- {
			if b&3 == 0 {
				sb.WriteByte(' ')
			}
			sb.WriteByte('0' + byte(chunks[i]>>uint(b-1)&1))
		}
	}
	sb.WriteByte('\n')
	_, err := io.WriteString(w, sb.String())
	return err
}

// formatted renders a "~" separated field description: a label followed by
// (width, name) pairs. A width prefixed with 'M' is a maybe field carrying
// a trailing valid bit. Empty tokens are skipped.
func (d Decoder) formatted(buf *bitbuf.Buffer, w io.Writer, uid uint32, desc string) error {
	tokens := strings.FieldsFunc(desc, func(r rune) bool { return r == '~' })
	if len(tokens) == 0 {
		return nil
	}

	boundaryName, err := d.lookup(d.Layout.Boundary(uid))
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "  %s [%s]:\n", tokens[0], boundaryName)

	for i := 1; i < len(tokens); i += 2 {
		width := tokens[i]
		maybe := width[0] == 'M'
		if maybe {
			width = width[1:]
		}
		nBits, err := strconv.Atoi(width)
		if err != nil || nBits < 0 || nBits > bitbuf.MaxFieldBits {
			return violation("formatted field width %q must be 0..64", tokens[i])
		}
		if i+1 >= len(tokens) {
			break
		}
		name := tokens[i+1]

		val, err := d.get(buf, nBits)
		if err != nil {
			return err
		}
		if !maybe {
			fmt.Fprintf(w, "\t%s:  0x%x\n", name, val)
			continue
		}
		valid, err := d.get(buf, 1)
		if err != nil {
			return err
		}
		if valid == 1 {
			fmt.Fprintf(w, "\t%s:  Valid 0x%x\n", name, val)
		} else {
			fmt.Fprintf(w, "\t%s:  Invalid\n", name)
		}
	}
	return nil
}
