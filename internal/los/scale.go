package los

import (
	"errors"
	"fmt"
	"math"
)

// Grade is one level of service band. A headway h belongs to the grade when
// Min < h <= Max. The bounds are left out of JSON since the worst grade's Max
// is +Inf.
type Grade struct {
	Name    string  `json:"name" yaml:"name"`
	Label   string  `json:"label" yaml:"label"`
	Min     float64 `json:"-" yaml:"min"`
	Max     float64 `json:"-" yaml:"max"`
	Color   string  `json:"color" yaml:"color"`
	Opacity float64 `json:"opacity" yaml:"opacity"`
	Width   float64 `json:"width" yaml:"width"`
}

// Contains reports whether headway falls inside the grade's (Min, Max] interval.
func (g Grade) Contains(headway float64) bool {
	return headway > g.Min && headway <= g.Max
}

// Rank is a position in a Scale. Lower is worse.
type Rank int

// NoService is the worst rank, used for routes without trips in the window.
const NoService Rank = 0

// Scale is an ordered threshold table, worst grade first. Classification scans
// it front to back and the first matching grade wins.
type Scale []Grade

// Colors from colorbrewer2.org (RdYlBu, 6 classes).
var DefaultScale = Scale{
	{Name: " ", Label: "No service", Min: 7200, Max: math.Inf(1), Color: "#ccc", Opacity: 1.0, Width: 1.0},
	{Name: "F", Label: "F: -", Min: 3600, Max: 7200, Color: "#d73027", Opacity: 1.0, Width: 1.0},
	{Name: "E", Label: "E: 60m", Min: 1800, Max: 3600, Color: "#fc8d59", Opacity: 1.0, Width: 1.0},
	{Name: "D", Label: "D: 30m", Min: 1200, Max: 1800, Color: "#fee090", Opacity: 1.0, Width: 1.0},
	{Name: "C", Label: "C: 20m", Min: 900, Max: 1200, Color: "#e0f3f8", Opacity: 1.0, Width: 1.0},
	{Name: "B", Label: "B: 15m", Min: 600, Max: 900, Color: "#91bfdb", Opacity: 1.0, Width: 1.0},
	{Name: "A", Label: "A: 10m", Min: -1, Max: 600, Color: "#4575b4", Opacity: 1.0, Width: 1.0},
}

var ErrInvalidScale = errors.New("invalid los scale")

// Validate checks that the table is non-empty, open ended at the worst grade,
// and that consecutive grades share a boundary.
func (s Scale) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: no grades", ErrInvalidScale)
	}
	if !math.IsInf(s[0].Max, 1) {
		return fmt.Errorf("%w: worst grade %q must have an unbounded max", ErrInvalidScale, s[0].Name)
	}
	if s[len(s)-1].Min >= 0 {
		return fmt.Errorf("%w: best grade %q must admit a zero headway", ErrInvalidScale, s[len(s)-1].Name)
	}
	for i := 1; i < len(s); i++ {
		prev, cur := s[i-1], s[i]
		if cur.Max != prev.Min {
			return fmt.Errorf("%w: grade %q max %v does not meet grade %q min %v",
				ErrInvalidScale, cur.Name, cur.Max, prev.Name, prev.Min)
		}
		if cur.Min >= cur.Max {
			return fmt.Errorf("%w: grade %q has an empty interval", ErrInvalidScale, cur.Name)
		}
	}
	return nil
}

// Grade returns the grade at rank r. Out of range ranks resolve to the worst grade.
func (s Scale) Grade(r Rank) Grade {
	if int(r) < 0 || int(r) >= len(s) {
		return s[NoService]
	}
	return s[r]
}

// Classify grades a route's trips over the window. The window must be valid.
func (s Scale) Classify(trips []int, w Window) Rank {
	headway, n := Headway(trips, w)
	if n == 0 {
		return NoService
	}
	for i, g := range s {
		if g.Contains(headway) {
			return Rank(i)
		}
	}
	return NoService
}

// Classify grades trips against DefaultScale.
func Classify(trips []int, w Window) Rank {
	return DefaultScale.Classify(trips, w)
}
