package schedule

import (
	"errors"
	"fmt"
	"time"
)

// CallWindow is the local time-of-day range in which a campaign may dial.
// Start and End are "HH:MM". Both empty means no restriction.
// End before Start wraps midnight (e.g. 20:00-02:00).
type CallWindow struct {
	Start    string
	End      string
	Timezone string
}

var ErrInvalidWindow = errors.New("invalid call window")

func (w CallWindow) IsZero() bool {
	return w.Start == "" && w.End == ""
}

func (w CallWindow) Validate() error {
	if (w.Start == "") != (w.End == "") {
		return fmt.Errorf("%w: start and end must both be set", ErrInvalidWindow)
	}
	if !w.IsZero() {
		start, err := parseClock(w.Start)
		if err != nil {
			return err
		}
		end, err := parseClock(w.End)
		if err != nil {
			return err
		}
		if start == end {
			return fmt.Errorf("%w: start and end must differ", ErrInvalidWindow)
		}
	}
	if _, err := w.location(); err != nil {
		return err
	}
	return nil
}

// Contains reports whether t falls inside the window in the window's time zone.
// Start is inclusive, End exclusive. A zero-length window never matches.
func (w CallWindow) Contains(t time.Time) bool {
	if w.IsZero() {
		return true
	}
	start, err := parseClock(w.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(w.End)
	if err != nil {
		return false
	}
	loc, err := w.location()
	if err != nil {
		return false
	}

	local := t.In(loc)
	now := local.Hour()*60 + local.Minute()

	if start <= end {
		return now >= start && now < end
	}
	return now >= start || now < end
}

func (w CallWindow) location() (*time.Location, error) {
	tz := w.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q", ErrInvalidWindow, tz)
	}
	return loc, nil
}

// parseClock returns minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not HH:MM", ErrInvalidWindow, s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
