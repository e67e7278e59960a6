package domain

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// VolumeEventType enumerates volume history entries.
type VolumeEventType string

// Volume event types. Set carries an absolute value; Add and Remove carry
// non-negative magnitudes; Deplete forces the volume to zero.
const (
	VolumeSet     VolumeEventType = "set"
	VolumeAdd     VolumeEventType = "add"
	VolumeRemove  VolumeEventType = "remove"
	VolumeDeplete VolumeEventType = "deplete"
)

// VolumeEvent is one dated entry of a sample's append-only volume history.
type VolumeEvent struct {
	Date              time.Time       `json:"date"`
	Type              VolumeEventType `json:"update_type"`
	Value             decimal.Decimal `json:"volume_value"`
	ProcessBySampleID *int64          `json:"process_by_sample,omitempty"`
}

// SetVolume records an absolute volume.
func SetVolume(at time.Time, value decimal.Decimal) VolumeEvent {
	return VolumeEvent{Date: at, Type: VolumeSet, Value: value}
}

// AddVolume records an addition.
func AddVolume(at time.Time, value decimal.Decimal) VolumeEvent {
	return VolumeEvent{Date: at, Type: VolumeAdd, Value: value}
}

// RemoveVolume records a removal.
func RemoveVolume(at time.Time, value decimal.Decimal) VolumeEvent {
	return VolumeEvent{Date: at, Type: VolumeRemove, Value: value}
}

// Deplete records that the sample was used up.
func Deplete(at time.Time) VolumeEvent {
	return VolumeEvent{Date: at, Type: VolumeDeplete}
}

// Validate checks the event in isolation.
func (e VolumeEvent) Validate() error {
	switch e.Type {
	case VolumeSet, VolumeAdd, VolumeRemove:
		if e.Value.IsNegative() {
			return fmt.Errorf("%w: %s value %s is negative", ErrInvalidVolume, e.Type, e.Value)
		}
	case VolumeDeplete:
		if !e.Value.IsZero() {
			return fmt.Errorf("%w: deplete carries no value", ErrInvalidVolume)
		}
	default:
		return fmt.Errorf("%w: unknown update type %q", ErrInvalidVolume, e.Type)
	}
	if e.Date.IsZero() {
		return fmt.Errorf("%w: event has no date", ErrInvalidVolume)
	}
	return nil
}

// Chronological returns a copy of history ordered by date. Events sharing a
// date keep their insertion order.
func Chronological(history []VolumeEvent) []VolumeEvent {
	out := slices.Clone(history)
	slices.SortStableFunc(out, func(a, b VolumeEvent) int { return a.Date.Compare(b.Date) })
	return out
}

// FoldVolume computes the current volume from history. It fails with
// ErrNegativeVolume if any prefix of the chronological fold drops below zero.
func FoldVolume(history []VolumeEvent) (decimal.Decimal, error) {
	current := decimal.Zero
	for i, e := range Chronological(history) {
		if err := e.Validate(); err != nil {
			return decimal.Zero, fmt.Errorf("volume event %d: %w", i, err)
		}
		switch e.Type {
		case VolumeSet:
			current = e.Value
		case VolumeAdd:
			current = current.Add(e.Value)
		case VolumeRemove:
			current = current.Sub(e.Value)
		case VolumeDeplete:
			current = decimal.Zero
		}
		if current.IsNegative() {
			return decimal.Zero, fmt.Errorf("%w: %s on %s leaves %s", ErrNegativeVolume, e.Type, e.Date.Format(time.RFC3339), current)
		}
	}
	return current, nil
}

// CurrentVolume folds the sample's volume history.
func (s Sample) CurrentVolume() (decimal.Decimal, error) {
	return FoldVolume(s.VolumeHistory)
}

// VolumeAt folds only the events dated at or before t.
func (s Sample) VolumeAt(t time.Time) (decimal.Decimal, error) {
	var prefix []VolumeEvent
	for _, e := range s.VolumeHistory {
		if !e.Date.After(t) {
			prefix = append(prefix, e)
		}
	}
	return FoldVolume(prefix)
}

// AppendVolume appends ev and refreshes Depleted. The sample is left
// untouched when the resulting history would be invalid.
func (s *Sample) AppendVolume(ev VolumeEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	history := append(slices.Clone(s.VolumeHistory), ev)
	volume, err := FoldVolume(history)
	if err != nil {
		return err
	}
	s.VolumeHistory = history
	s.Depleted = volume.IsZero()
	return nil
}

// RefreshDepleted recomputes Depleted from the history.
func (s *Sample) RefreshDepleted() error {
	volume, err := s.CurrentVolume()
	if err != nil {
		return err
	}
	s.Depleted = volume.IsZero()
	return nil
}
