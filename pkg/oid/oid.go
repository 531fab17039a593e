// Package oid implements the document identifier type used by every
// collection-backed module: a 12-byte id rendered as a 24-character hex
// string, ordered by creation time.
package oid

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

// ID is a 12-byte document identifier: a 4-byte big-endian unix timestamp,
// a 5-byte process-unique random value and a 3-byte counter.
type ID [12]byte

// Nil is the zero ID.
var Nil ID

var (
	processUnique = mustRandom5()
	idCounter     = mustRandomCounter()
)

func mustRandom5() [5]byte {
	var b [5]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Errorf("oid: read random: %w", err))
	}
	return b
}

func mustRandomCounter() *uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Errorf("oid: read random: %w", err))
	}
	n := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	return &n
}

// New generates a new ID stamped with the current time.
func New() ID {
	return NewAt(time.Now())
}

// NewAt generates a new ID stamped with the given time.
func NewAt(t time.Time) ID {
	var id ID
	ts := uint32(t.Unix())
	id[0] = byte(ts >> 24)
	id[1] = byte(ts >> 16)
	id[2] = byte(ts >> 8)
	id[3] = byte(ts)
	copy(id[4:9], processUnique[:])
	n := atomic.AddUint32(idCounter, 1)
	id[9] = byte(n >> 16)
	id[10] = byte(n >> 8)
	id[11] = byte(n)
	return id
}

// Parse converts a 24-character hex string into an ID.
func Parse(s string) (ID, error) {
	var id ID
	if len(s) != 24 {
		return Nil, fmt.Errorf("oid: invalid id length %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Nil, fmt.Errorf("oid: invalid id %q: %w", s, err)
	}
	copy(id[:], b)
	return id, nil
}

// IsValid reports whether s parses as an ID.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Hex returns the 24-character hex encoding of the ID.
func (id ID) Hex() string {
	return hex.EncodeToString(id[:])
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return id.Hex()
}

// IsZero reports whether the ID is the zero value.
func (id ID) IsZero() bool {
	return id == Nil
}

// Timestamp returns the creation time embedded in the ID, truncated to
// second precision.
func (id ID) Timestamp() time.Time {
	ts := uint32(id[0])<<24 | uint32(id[1])<<16 | uint32(id[2])<<8 | uint32(id[3])
	return time.Unix(int64(ts), 0)
}

// MarshalJSON encodes the ID as its hex string.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.Hex())
}

// UnmarshalJSON decodes an ID from a hex string.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
