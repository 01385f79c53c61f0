package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Timeframe represents candle resolution buckets.
type Timeframe string

const (
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
	TF1w  Timeframe = "1w"
)

var timeframeDurations = map[Timeframe]time.Duration{
	TF15m: 15 * time.Minute,
	TF1h:  time.Hour,
	TF4h:  4 * time.Hour,
	TF1d:  24 * time.Hour,
	TF1w:  7 * 24 * time.Hour,
}

// DefaultTimeframes returns the supported timeframes from fastest to slowest.
func DefaultTimeframes() []Timeframe {
	return []Timeframe{TF15m, TF1h, TF4h, TF1d, TF1w}
}

// IsValid returns true if tf is a supported timeframe.
func (tf Timeframe) IsValid() bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// Duration returns the bar length, or zero for unknown timeframes.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

func (tf Timeframe) String() string { return string(tf) }

// NormalizeTimeframe converts raw string to a valid timeframe.
func NormalizeTimeframe(s string) (Timeframe, error) {
	s = strings.TrimSpace(s)
	// "1D"/"1W" are common spellings of the daily and weekly bars.
	if len(s) > 0 {
		last := s[len(s)-1]
		if last == 'D' || last == 'W' || last == 'H' {
			s = strings.ToLower(s)
		}
	}
	tf := Timeframe(s)
	if !tf.IsValid() {
		return "", fmt.Errorf("unsupported timeframe %q", s)
	}
	return tf, nil
}

// ParseTimeframes normalizes a list, dropping duplicates.
func ParseTimeframes(raw []string) ([]Timeframe, error) {
	out := make([]Timeframe, 0, len(raw))
	seen := make(map[Timeframe]struct{}, len(raw))
	for _, r := range raw {
		tf, err := NormalizeTimeframe(r)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[tf]; dup {
			continue
		}
		seen[tf] = struct{}{}
		out = append(out, tf)
	}
	return out, nil
}

// SortSlowToFast returns a copy ordered 1w, 1d, 4h, 1h, 15m.
func SortSlowToFast(tfs []Timeframe) []Timeframe {
	out := append([]Timeframe(nil), tfs...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Duration() > out[j].Duration()
	})
	return out
}

// SortFastToSlow returns a copy ordered 15m, 1h, 4h, 1d, 1w.
func SortFastToSlow(tfs []Timeframe) []Timeframe {
	out := append([]Timeframe(nil), tfs...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Duration() < out[j].Duration()
	})
	return out
}
