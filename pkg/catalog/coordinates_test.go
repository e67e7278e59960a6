package catalog

import (
	"errors"
	"testing"
)

func TestGridParseNormalizesCaseAndPadding(t *testing.T) {
	cs := Grid(8, 12, 2)
	cases := map[string]string{
		"A01":   "A01",
		"a1":    "A01",
		" h12 ": "H12",
		"B007":  "B07",
		"c10":   "C10",
	}
	for raw, want := range cases {
		coord, err := cs.Parse(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		got, err := cs.Format(coord)
		if err != nil {
			t.Fatalf("format %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("parse %q: expected %q, got %q", raw, want, got)
		}
	}
}

func TestGridParseRejectsOutOfRangeAndMalformed(t *testing.T) {
	cs := Grid(8, 12, 2)
	for _, raw := range []string{"", "I01", "A00", "A13", "A", "01", "A1B", "1A", "A-1", "AAAA1"} {
		if _, err := cs.Parse(raw); !errors.Is(err, ErrInvalidCoordinate) {
			t.Fatalf("expected invalid coordinate for %q, got %v", raw, err)
		}
	}
}

func TestParseRejectsNonASCIILetters(t *testing.T) {
	cs := Grid(9, 9, 0)
	if _, err := cs.Parse("i1"); err != nil {
		t.Fatalf("ascii i1 must parse: %v", err)
	}
	// Unicode case mapping would turn the first two into I1 and S1.
	for _, raw := range []string{"ı1", "ſ1", "Ａ1", "A\u00a01"} {
		if _, err := cs.Parse(raw); !errors.Is(err, ErrInvalidCoordinate) {
			t.Fatalf("expected invalid coordinate for %q, got %v", raw, err)
		}
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	systems := []CoordinateSystem{Grid(8, 12, 2), Grid(16, 24, 2), Grid(9, 9, 0), Linear(30, 3)}
	for _, cs := range systems {
		for _, raw := range allSlots(t, cs) {
			first, err := cs.Parse(raw)
			if err != nil {
				t.Fatalf("parse %q: %v", raw, err)
			}
			formatted, err := cs.Format(first)
			if err != nil {
				t.Fatalf("format %q: %v", raw, err)
			}
			second, err := cs.Parse(formatted)
			if err != nil {
				t.Fatalf("reparse %q: %v", formatted, err)
			}
			if first != second {
				t.Fatalf("round trip of %q changed coordinate: %v vs %v", raw, first.Indices(), second.Indices())
			}
		}
	}
}

func allSlots(t *testing.T, cs CoordinateSystem) []string {
	t.Helper()
	var out []string
	switch len(cs.Axes) {
	case 1:
		for i := 1; i <= cs.Axes[0].Size; i++ {
			s, err := cs.Format(NewCoordinate(i))
			if err != nil {
				t.Fatalf("format: %v", err)
			}
			out = append(out, s)
		}
	case 2:
		for i := 1; i <= cs.Axes[0].Size; i++ {
			for j := 1; j <= cs.Axes[1].Size; j++ {
				s, err := cs.Format(NewCoordinate(i, j))
				if err != nil {
					t.Fatalf("format: %v", err)
				}
				out = append(out, s)
			}
		}
	}
	if len(out) != cs.Capacity() {
		t.Fatalf("expected %d slots, enumerated %d", cs.Capacity(), len(out))
	}
	return out
}

func TestLettersBeyondZ(t *testing.T) {
	cs := CoordinateSystem{Mode: ModeGrid, Axes: []Axis{{Kind: AxisLetters, Size: 30}, {Kind: AxisNumbers, Size: 2}}}
	coord, err := cs.Parse("ad2")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if idx := coord.Indices(); idx[0] != 30 || idx[1] != 2 {
		t.Fatalf("unexpected indices %v", idx)
	}
	if s, _ := cs.Format(coord); s != "AD2" {
		t.Fatalf("expected AD2, got %q", s)
	}
	if _, err := cs.Parse("AE1"); !errors.Is(err, ErrInvalidCoordinate) {
		t.Fatalf("expected AE to be out of range, got %v", err)
	}
}

func TestNonAddressedModes(t *testing.T) {
	for _, cs := range []CoordinateSystem{SingleSlot(), UnboundedSlot()} {
		coord, err := cs.Parse("  ")
		if err != nil || !coord.IsEmpty() {
			t.Fatalf("%s: expected empty coordinate, got %v %v", cs.Mode, coord, err)
		}
		if _, err := cs.Parse("A01"); !errors.Is(err, ErrInvalidCoordinate) {
			t.Fatalf("%s: expected invalid coordinate, got %v", cs.Mode, err)
		}
		if _, err := cs.Format(NewCoordinate(1, 1)); !errors.Is(err, ErrInvalidCoordinate) {
			t.Fatalf("%s: expected format failure, got %v", cs.Mode, err)
		}
	}
	if SingleSlot().Capacity() != 1 {
		t.Fatalf("single slot capacity must be 1")
	}
	if UnboundedSlot().Capacity() != Unbounded {
		t.Fatalf("unbounded capacity must be Unbounded")
	}
	if !SingleSlot().Exclusive() || UnboundedSlot().Exclusive() {
		t.Fatalf("unexpected exclusivity")
	}
}

func TestCheckRejectsAmbiguousSystems(t *testing.T) {
	bad := []CoordinateSystem{
		{Mode: ModeGrid},
		{Mode: ModeGrid, Axes: []Axis{{Kind: AxisNumbers, Size: 3}, {Kind: AxisNumbers, Size: 3}}},
		{Mode: ModeGrid, Axes: []Axis{{Kind: AxisLetters, Size: 0}}},
		{Mode: ModeGrid, Axes: []Axis{{Kind: "roman", Size: 3}}},
		{Mode: ModeSingle, Axes: []Axis{{Kind: AxisNumbers, Size: 1}}},
		{Mode: "circular"},
	}
	for i, cs := range bad {
		if err := cs.check(); err == nil {
			t.Fatalf("case %d: expected check failure", i)
		}
	}
	if err := Grid(8, 12, 2).check(); err != nil {
		t.Fatalf("grid should be valid: %v", err)
	}
}
