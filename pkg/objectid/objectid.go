// pkg/objectid/objectid.go
package objectid

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Layout of a 12-byte ObjectId-style identifier, in hex characters.
const (
	HexLength       = 24
	timestampHexLen = 8
	randomHexLen    = 10
	counterHexLen   = 6

	// MaxCounter is the largest value the 3-byte counter can hold.
	MaxCounter = 1<<24 - 1
)

var (
	// ErrInvalidLength is returned when an identifier is not 24 hex characters.
	ErrInvalidLength = errors.New("objectid: identifier must be 24 hex characters")

	// ErrCounterOverflow is returned when a counter does not fit in 3 bytes.
	ErrCounterOverflow = errors.New("objectid: counter exceeds 24 bits")
)

// ID is a decoded identifier: 4-byte timestamp, 5 opaque bytes, 3-byte counter.
type ID struct {
	Timestamp uint32
	Random    [5]byte
	Counter   uint32
}

// Parse decodes a canonical 24-character hex identifier.
func Parse(s string) (ID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != HexLength {
		return ID{}, fmt.Errorf("%w: got %d characters", ErrInvalidLength, len(s))
	}

	ts, err := DecodeTimestamp(s)
	if err != nil {
		return ID{}, err
	}

	var id ID
	id.Timestamp = ts

	if _, err := hex.Decode(id.Random[:], []byte(s[timestampHexLen:timestampHexLen+randomHexLen])); err != nil {
		return ID{}, fmt.Errorf("objectid: invalid random segment: %w", err)
	}

	counter, err := strconv.ParseUint(s[timestampHexLen+randomHexLen:], 16, 32)
	if err != nil {
		return ID{}, fmt.Errorf("objectid: invalid counter: %w", err)
	}
	id.Counter = uint32(counter)

	return id, nil
}

// DecodeTimestamp parses the first 8 hex characters as a big-endian Unix timestamp.
func DecodeTimestamp(s string) (uint32, error) {
	if len(s) < timestampHexLen {
		return 0, fmt.Errorf("%w: got %d characters", ErrInvalidLength, len(s))
	}
	ts, err := strconv.ParseUint(s[:timestampHexLen], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("objectid: invalid timestamp: %w", err)
	}
	return uint32(ts), nil
}

// Construct renders timestamp, random segment and counter into the canonical
// hex form. The counter is the low three bytes of a big-endian uint32.
func Construct(timestamp uint32, randomHex string, counter uint32) (string, error) {
	if counter > MaxCounter {
		return "", fmt.Errorf("%w: %d", ErrCounterOverflow, counter)
	}

	var buf [4]byte
	var b strings.Builder
	b.Grow(HexLength)

	binary.BigEndian.PutUint32(buf[:], timestamp)
	b.WriteString(hex.EncodeToString(buf[:]))

	b.WriteString(randomHex)

	binary.BigEndian.PutUint32(buf[:], counter)
	b.WriteString(hex.EncodeToString(buf[1:]))

	return b.String(), nil
}

// RandomHex returns the 5 opaque bytes as 10 lowercase hex characters.
func (id ID) RandomHex() string {
	return hex.EncodeToString(id.Random[:])
}

// Time returns the embedded timestamp in UTC.
func (id ID) Time() time.Time {
	return time.Unix(int64(id.Timestamp), 0).UTC()
}

// WithParts returns a copy of id with timestamp and counter replaced.
func (id ID) WithParts(timestamp, counter uint32) ID {
	id.Timestamp = timestamp
	id.Counter = counter
	return id
}

// String renders the canonical 24-character hex form. Counters wider than
// 24 bits are masked; use Construct to have them rejected instead.
func (id ID) String() string {
	s, err := Construct(id.Timestamp, id.RandomHex(), id.Counter&MaxCounter)
	if err != nil {
		return ""
	}
	return s
}
