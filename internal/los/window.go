package los

import (
	"errors"
	"fmt"
	"math"
)

const secondsPerHour = 3600

// Window is a time-of-day interval in seconds since midnight. Trips departing
// in (Start, End] are counted.
type Window struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// DefaultWindow is the 07:00-09:00 morning peak.
var DefaultWindow = Window{Start: 7 * secondsPerHour, End: 9 * secondsPerHour}

var ErrInvalidWindow = errors.New("invalid los window")

// WindowFromHours builds a window from whole hours.
func WindowFromHours(start, end int) Window {
	return Window{Start: start * secondsPerHour, End: end * secondsPerHour}
}

func (w Window) Validate() error {
	if w.Start >= w.End {
		return fmt.Errorf("%w: start %d must be before end %d", ErrInvalidWindow, w.Start, w.End)
	}
	return nil
}

// Duration is the window length in seconds.
func (w Window) Duration() int {
	return w.End - w.Start
}

func (w Window) String() string {
	return Clock(w.Start) + "-" + Clock(w.End)
}

// Headway returns the average seconds between trips assuming they are evenly
// spread over the window, and the number of trips counted. With no trips the
// headway is +Inf.
func Headway(trips []int, w Window) (float64, int) {
	n := 0
	for _, t := range trips {
		if t > w.Start && t <= w.End {
			n++
		}
	}
	if n == 0 {
		return math.Inf(1), 0
	}
	return (float64(w.Duration()) / secondsPerHour / float64(n)) * secondsPerHour, n
}

// Clock formats seconds since midnight as HH:MM. Hours past midnight of the
// service day are kept, so 90600 is "25:10". Negative values print as "00:00".
func Clock(seconds int) string {
	seconds = max(seconds, 0)
	h := seconds / secondsPerHour
	m := (seconds % secondsPerHour) / 60
	return fmt.Sprintf("%02d:%02d", h, m)
}
