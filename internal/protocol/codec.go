package protocol

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Framing constants. A delimiter is live only when preceded by an even
// number of consecutive escape characters.
const (
	fieldDelimiter = '|'
	escapeChar     = '\\'
	newlineEscape  = 'n'

	fieldCount = 5

	// MinFrameLen and MaxFrameLen bound the size of a raw frame accepted
	// by Validate.
	MinFrameLen = 5
	MaxFrameLen = 1024
)

// TimestampLayout is the wall-clock format carried in the timestamp field.
const TimestampLayout = "2006-01-02 15:04:05"

// Validation and parse errors.
var (
	ErrEmptyMessage    = errors.New("protocol: empty message")
	ErrMessageTooShort = errors.New("protocol: message below minimum length")
	ErrMessageTooLong  = errors.New("protocol: message exceeds maximum length")
	ErrFieldCount      = errors.New("protocol: not enough fields")
	ErrDanglingEscape  = errors.New("protocol: message ends with dangling escape")
	ErrInvalidType     = errors.New("protocol: empty or unrecognized message type")
)

// messageID assigns process-wide unique, increasing message ids. Seeded at
// 100 to keep low ids free for out-of-band use.
var messageID atomic.Int64

func init() {
	messageID.Store(100)
}

func nextMessageID() int64 {
	return messageID.Add(1) - 1
}

// Escape rewrites s so it can travel inside a single frame field: the field
// delimiter becomes `\|`, the escape character doubles, and a newline
// becomes `\n`. No other characters are touched.
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case fieldDelimiter:
			b.WriteByte(escapeChar)
			b.WriteByte(fieldDelimiter)
		case escapeChar:
			b.WriteByte(escapeChar)
			b.WriteByte(escapeChar)
		case '\n':
			b.WriteByte(escapeChar)
			b.WriteByte(newlineEscape)
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// Unescape reverses Escape. An unrecognized two-character escape sequence is
// passed through unchanged, backslash included.
func Unescape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == escapeChar && i+1 < len(s) {
			switch s[i+1] {
			case fieldDelimiter:
				b.WriteByte(fieldDelimiter)
				i++
				continue
			case escapeChar:
				b.WriteByte(escapeChar)
				i++
				continue
			case newlineEscape:
				b.WriteByte('\n')
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// liveDelimiter reports whether the delimiter at position i in raw is live,
// i.e. preceded by an even number of consecutive escape characters.
func liveDelimiter(raw []byte, i int) bool {
	backslashes := 0
	for k := i - 1; k >= 0 && raw[k] == escapeChar; k-- {
		backslashes++
	}
	return backslashes%2 == 0
}

// trimNewline drops the optional frame terminator so the boundary rules
// see the same bytes whether or not the transport delivered the newline.
func trimNewline(raw []byte) []byte {
	if n := len(raw); n > 0 && raw[n-1] == '\n' {
		return raw[:n-1]
	}
	return raw
}

// Validate applies the frame boundary rules without building a Message:
// length bounds, at least four live delimiters, and no odd run of trailing
// escape characters. It is the first gate for inbound bytes, so malformed
// input fails before any allocation.
func Validate(raw []byte) error {
	raw = trimNewline(raw)
	if len(raw) == 0 {
		return ErrEmptyMessage
	}
	if len(raw) < MinFrameLen {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooShort, len(raw))
	}
	if len(raw) > MaxFrameLen {
		return ErrMessageTooLong
	}

	delimiters := 0
	for i := 0; i < len(raw); i++ {
		if raw[i] == fieldDelimiter && liveDelimiter(raw, i) {
			delimiters++
		}
	}
	if delimiters < fieldCount-1 {
		return fmt.Errorf("%w: %d live delimiters", ErrFieldCount, delimiters)
	}

	if raw[len(raw)-1] == escapeChar {
		backslashes := 0
		for i := len(raw) - 1; i >= 0 && raw[i] == escapeChar; i-- {
			backslashes++
		}
		if backslashes%2 == 1 {
			return ErrDanglingEscape
		}
	}

	return nil
}

// Parse decodes one raw frame into a Message. The frame is split at its
// first four live delimiters; any further delimiters belong to the content
// field verbatim. Every field is unescaped independently, the type field is
// checked against the fixed type set, a fresh message id is assigned, and an
// empty timestamp is filled with the current local time.
func Parse(raw []byte) (*Message, error) {
	if err := Validate(raw); err != nil {
		return nil, err
	}

	body := trimNewline(raw)

	fields := make([]string, 0, fieldCount)
	start := 0
	for i := 0; i < len(body) && len(fields) < fieldCount-1; i++ {
		if body[i] == fieldDelimiter && liveDelimiter(body, i) {
			fields = append(fields, string(body[start:i]))
			start = i + 1
		}
	}
	fields = append(fields, string(body[start:]))

	if len(fields) < fieldCount {
		return nil, fmt.Errorf("%w: %d fields", ErrFieldCount, len(fields))
	}

	msg := &Message{
		Type:      Unescape(fields[0]),
		Sender:    Unescape(fields[1]),
		Receiver:  Unescape(fields[2]),
		Timestamp: Unescape(fields[3]),
		Content:   Unescape(fields[4]),
	}

	if msg.Type == "" || !ValidType(msg.Type) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, msg.Type)
	}

	msg.ID = nextMessageID()
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().Format(TimestampLayout)
	}

	return msg, nil
}

// Serialize encodes m as one newline-terminated frame, escaping every field
// independently. It fails when the type field is empty.
func Serialize(m *Message) ([]byte, error) {
	if m == nil {
		return nil, ErrEmptyMessage
	}
	if m.Type == "" {
		return nil, ErrInvalidType
	}

	var b strings.Builder
	b.WriteString(Escape(m.Type))
	b.WriteByte(fieldDelimiter)
	b.WriteString(Escape(m.Sender))
	b.WriteByte(fieldDelimiter)
	b.WriteString(Escape(m.Receiver))
	b.WriteByte(fieldDelimiter)
	b.WriteString(Escape(m.Timestamp))
	b.WriteByte(fieldDelimiter)
	b.WriteString(Escape(m.Content))
	b.WriteByte('\n')

	return []byte(b.String()), nil
}
