// Package storekey implements the storage addressing scheme: an ordered
// sequence of segments serialized with "/" as separator. Keys are the unit
// of storage addressing and gas accounting.
package storekey

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ReservedVP is the reserved segment marking a validity-predicate key.
const ReservedVP = "?"

// ErrInvalidSegment is returned when a segment contains the separator, is
// empty, or is not valid UTF-8. The DB comparator assumes UTF-8 keys; that
// assumption is enforced here rather than left as a panic deep in the
// storage layer.
var ErrInvalidSegment = errors.New("storekey: invalid segment")

// Key is an ordered sequence of segments.
type Key struct {
	segments []string
}

// New builds a Key from segments, validating each one.
func New(segments ...string) (Key, error) {
	for _, s := range segments {
		if err := validateSegment(s); err != nil {
			return Key{}, err
		}
	}
	out := make([]string, len(segments))
	copy(out, segments)
	return Key{segments: out}, nil
}

// MustNew is New but panics on error; intended for compile-time-constant
// key construction (e.g. well-known prefixes), never for attacker-controlled
// input.
func MustNew(segments ...string) Key {
	k, err := New(segments...)
	if err != nil {
		panic(err)
	}
	return k
}

func validateSegment(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty segment", ErrInvalidSegment)
	}
	if strings.Contains(s, "/") {
		return fmt.Errorf("%w: segment %q contains '/'", ErrInvalidSegment, s)
	}
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: segment %q is not valid UTF-8", ErrInvalidSegment, s)
	}
	return nil
}

// Parse decodes the "/"-separated wire form of a key.
func Parse(s string) (Key, error) {
	if s == "" {
		return Key{}, fmt.Errorf("%w: empty key string", ErrInvalidSegment)
	}
	return New(strings.Split(s, "/")...)
}

// String returns the canonical "/"-joined wire form.
func (k Key) String() string {
	return strings.Join(k.segments, "/")
}

// Segments returns a copy of the ordered segment list.
func (k Key) Segments() []string {
	out := make([]string, len(k.segments))
	copy(out, k.segments)
	return out
}

// Len reports the byte length of the canonical wire form, used for gas
// accounting (gas per storage op = key length + value length).
func (k Key) Len() int {
	return len(k.String())
}

// Push returns a new Key with segment appended.
func (k Key) Push(segment string) (Key, error) {
	if err := validateSegment(segment); err != nil {
		return Key{}, err
	}
	out := make([]string, len(k.segments)+1)
	copy(out, k.segments)
	out[len(k.segments)] = segment
	return Key{segments: out}, nil
}

// IsVP reports whether this key is a validity-predicate key, i.e. its last
// segment is the reserved "?" marker.
func (k Key) IsVP() bool {
	return len(k.segments) > 0 && k.segments[len(k.segments)-1] == ReservedVP
}

// LeadingSegment returns the first segment, used by verifier discovery to
// recover the address a key belongs to.
func (k Key) LeadingSegment() (string, bool) {
	if len(k.segments) == 0 {
		return "", false
	}
	return k.segments[0], true
}

// VPKey builds the validity-predicate key for addr: Key[addr, "?"].
func VPKey(addr string) Key {
	return MustNew(addr, ReservedVP)
}

// Equal reports structural equality.
func (k Key) Equal(other Key) bool {
	if len(k.segments) != len(other.segments) {
		return false
	}
	for i := range k.segments {
		if k.segments[i] != other.segments[i] {
			return false
		}
	}
	return true
}
