package catalog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrInvalidCoordinate is returned when a coordinate string does not address a slot of a kind.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// AxisKind identifies how a single coordinate axis is written.
type AxisKind string

const (
	// AxisLetters addresses positions as A, B, ... Z, AA, AB, ...
	AxisLetters AxisKind = "letters"
	// AxisNumbers addresses positions as 1..N, optionally zero padded.
	AxisNumbers AxisKind = "numbers"
)

// Mode describes the addressing scheme of a container kind.
type Mode string

const (
	// ModeGrid addresses slots through one or more axes (grids and linear strips).
	ModeGrid Mode = "grid"
	// ModeSingle holds exactly one occupant at the empty coordinate.
	ModeSingle Mode = "single"
	// ModeUnbounded holds any number of occupants, all at the empty coordinate.
	ModeUnbounded Mode = "unbounded"
)

// Unbounded is the capacity reported for ModeUnbounded kinds.
const Unbounded = -1

const (
	maxAxes        = 3
	maxLetterWidth = 3
)

// Axis is one dimension of a grid coordinate system.
type Axis struct {
	Kind AxisKind `yaml:"kind" json:"kind"`
	Size int      `yaml:"size" json:"size"`
	Pad  int      `yaml:"pad,omitempty" json:"pad,omitempty"`
}

// CoordinateSystem encodes the addressing scheme of a container kind.
type CoordinateSystem struct {
	Mode Mode   `yaml:"mode" json:"mode"`
	Axes []Axis `yaml:"axes,omitempty" json:"axes,omitempty"`
}

// Grid builds a row-letter x column-number system such as "A01".."H12".
func Grid(rows, columns, pad int) CoordinateSystem {
	return CoordinateSystem{Mode: ModeGrid, Axes: []Axis{
		{Kind: AxisLetters, Size: rows},
		{Kind: AxisNumbers, Size: columns, Pad: pad},
	}}
}

// Linear builds a single numeric axis system.
func Linear(size, pad int) CoordinateSystem {
	return CoordinateSystem{Mode: ModeGrid, Axes: []Axis{{Kind: AxisNumbers, Size: size, Pad: pad}}}
}

// SingleSlot builds the system used by tubes.
func SingleSlot() CoordinateSystem { return CoordinateSystem{Mode: ModeSingle} }

// UnboundedSlot builds the system used by rooms, freezers and drawers.
func UnboundedSlot() CoordinateSystem { return CoordinateSystem{Mode: ModeUnbounded} }

// Coordinate is a validated position. The zero value is the empty coordinate.
type Coordinate struct {
	n   int
	idx [maxAxes]int
}

// IsEmpty reports whether c is the empty (no position) coordinate.
func (c Coordinate) IsEmpty() bool { return c.n == 0 }

// Indices returns the 1-based position along each axis.
func (c Coordinate) Indices() []int { return append([]int(nil), c.idx[:c.n]...) }

// NewCoordinate constructs a coordinate from 1-based axis positions. It is not
// validated against any system; use CoordinateSystem.Format to check it.
func NewCoordinate(indices ...int) Coordinate {
	var c Coordinate
	if len(indices) > maxAxes {
		indices = indices[:maxAxes]
	}
	c.n = copy(c.idx[:], indices)
	return c
}

// Addressed reports whether occupants are distinguished by coordinate.
func (cs CoordinateSystem) Addressed() bool { return cs.Mode == ModeGrid }

// Exclusive reports whether a slot of this system may hold at most one occupant.
func (cs CoordinateSystem) Exclusive() bool { return cs.Mode != ModeUnbounded }

// Capacity returns the number of addressable slots, or Unbounded.
func (cs CoordinateSystem) Capacity() int {
	switch cs.Mode {
	case ModeSingle:
		return 1
	case ModeUnbounded:
		return Unbounded
	}
	total := 1
	for _, axis := range cs.Axes {
		total *= axis.Size
	}
	return total
}

// check verifies that the system is total and decidable: every string maps to
// at most one slot. Adjacent axes of the same kind would make "111" ambiguous.
func (cs CoordinateSystem) check() error {
	switch cs.Mode {
	case ModeSingle, ModeUnbounded:
		if len(cs.Axes) != 0 {
			return fmt.Errorf("%s coordinate system cannot declare axes", cs.Mode)
		}
		return nil
	case ModeGrid:
	default:
		return fmt.Errorf("unknown coordinate mode %q", cs.Mode)
	}
	if len(cs.Axes) == 0 || len(cs.Axes) > maxAxes {
		return fmt.Errorf("grid coordinate system needs 1..%d axes, got %d", maxAxes, len(cs.Axes))
	}
	for i, axis := range cs.Axes {
		if axis.Kind != AxisLetters && axis.Kind != AxisNumbers {
			return fmt.Errorf("axis %d: unknown kind %q", i, axis.Kind)
		}
		if axis.Size <= 0 {
			return fmt.Errorf("axis %d: size must be positive", i)
		}
		if axis.Pad < 0 {
			return fmt.Errorf("axis %d: pad must not be negative", i)
		}
		if axis.Kind == AxisLetters && axis.Size > letterLimit() {
			return fmt.Errorf("axis %d: letter axis larger than %d", i, letterLimit())
		}
		if i > 0 && cs.Axes[i-1].Kind == axis.Kind {
			return fmt.Errorf("axis %d: adjacent axes must alternate letters and numbers", i)
		}
	}
	return nil
}

// Parse validates raw against the system and returns the addressed coordinate.
// Input is case-insensitive and zero padding is ignored; out-of-range
// positions are rejected, never clamped. Only ASCII input is accepted.
func (cs CoordinateSystem) Parse(raw string) (Coordinate, error) {
	for i := 0; i < len(raw); i++ {
		if raw[i] >= utf8.RuneSelf {
			return Coordinate{}, fmt.Errorf("%w: %q is not ASCII", ErrInvalidCoordinate, raw)
		}
	}
	s := strings.ToUpper(strings.TrimSpace(raw))
	if !cs.Addressed() {
		if s != "" {
			return Coordinate{}, fmt.Errorf("%w: %q given for a kind without coordinates", ErrInvalidCoordinate, raw)
		}
		return Coordinate{}, nil
	}
	if s == "" {
		return Coordinate{}, fmt.Errorf("%w: coordinate required", ErrInvalidCoordinate)
	}
	var c Coordinate
	rest := s
	for i, axis := range cs.Axes {
		var (
			token string
			pos   int
		)
		switch axis.Kind {
		case AxisLetters:
			token, rest = splitPrefix(rest, isLetter)
			if token == "" || len(token) > maxLetterWidth {
				return Coordinate{}, fmt.Errorf("%w: %q expects letters on axis %d", ErrInvalidCoordinate, raw, i+1)
			}
			pos = lettersToIndex(token)
		case AxisNumbers:
			token, rest = splitPrefix(rest, isDigit)
			if token == "" {
				return Coordinate{}, fmt.Errorf("%w: %q expects digits on axis %d", ErrInvalidCoordinate, raw, i+1)
			}
			n, err := strconv.Atoi(token)
			if err != nil {
				return Coordinate{}, fmt.Errorf("%w: %q: %v", ErrInvalidCoordinate, raw, err)
			}
			pos = n
		}
		if pos < 1 || pos > axis.Size {
			return Coordinate{}, fmt.Errorf("%w: %q out of range on axis %d (1..%d)", ErrInvalidCoordinate, raw, i+1, axis.Size)
		}
		c.idx[i] = pos
	}
	if rest != "" {
		return Coordinate{}, fmt.Errorf("%w: unexpected trailing %q in %q", ErrInvalidCoordinate, rest, raw)
	}
	c.n = len(cs.Axes)
	return c, nil
}

// Format renders c in canonical form. Format(Parse(s)) is the normalized s.
func (cs CoordinateSystem) Format(c Coordinate) (string, error) {
	if !cs.Addressed() {
		if !c.IsEmpty() {
			return "", fmt.Errorf("%w: kind has no coordinates", ErrInvalidCoordinate)
		}
		return "", nil
	}
	if c.n != len(cs.Axes) {
		return "", fmt.Errorf("%w: expected %d axes, got %d", ErrInvalidCoordinate, len(cs.Axes), c.n)
	}
	var b strings.Builder
	for i, axis := range cs.Axes {
		pos := c.idx[i]
		if pos < 1 || pos > axis.Size {
			return "", fmt.Errorf("%w: position %d out of range on axis %d", ErrInvalidCoordinate, pos, i+1)
		}
		switch axis.Kind {
		case AxisLetters:
			b.WriteString(indexToLetters(pos))
		case AxisNumbers:
			fmt.Fprintf(&b, "%0*d", axis.Pad, pos)
		}
	}
	return b.String(), nil
}

func splitPrefix(s string, accept func(byte) bool) (string, string) {
	i := 0
	for i < len(s) && accept(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

func isLetter(b byte) bool { return b >= 'A' && b <= 'Z' }
func isDigit(b byte) bool  { return b >= '0' && b <= '9' }

// lettersToIndex decodes bijective base-26: A=1, Z=26, AA=27.
func lettersToIndex(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		n = n*26 + int(s[i]-'A') + 1
	}
	return n
}

func indexToLetters(n int) string {
	var out []byte
	for n > 0 {
		n--
		out = append([]byte{byte('A' + n%26)}, out...)
		n /= 26
	}
	return string(out)
}

func letterLimit() int { return lettersToIndex(strings.Repeat("Z", maxLetterWidth)) }
