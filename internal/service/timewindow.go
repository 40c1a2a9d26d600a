package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/recrutai/engage-server-go/internal/model"
)

// Window is a delivery time window evaluated in a fixed location.
type Window struct {
	weekdays map[time.Weekday]bool
	start    int // minutes after midnight
	end      int
	loc      *time.Location
	expr     string
}

// NewWindow builds the window of policy. An empty weekday set allows every
// day. A start after the end wraps past midnight.
func NewWindow(policy *model.TimeWindowPolicy, loc *time.Location) (*Window, error) {
	if loc == nil {
		loc = time.UTC
	}
	start, err := parseClock(policy.StartTime)
	if err != nil {
		return nil, fmt.Errorf("start time: %w", err)
	}
	end, err := parseClock(policy.EndTime)
	if err != nil {
		return nil, fmt.Errorf("end time: %w", err)
	}

	w := &Window{start: start, end: end, loc: loc}
	days := "*"
	if len(policy.AllowedWeekdays) > 0 {
		w.weekdays = make(map[time.Weekday]bool)
		parts := make([]string, 0, len(policy.AllowedWeekdays))
		for _, d := range policy.AllowedWeekdays {
			if d < 0 || d > 6 {
				return nil, fmt.Errorf("weekday %d out of range", d)
			}
			w.weekdays[time.Weekday(d)] = true
			parts = append(parts, strconv.FormatInt(d, 10))
		}
		days = strings.Join(parts, ",")
	}
	w.expr = fmt.Sprintf("%d %d * * %s", start%60, start/60, days)

	if !gronx.New().IsValid(w.expr) {
		return nil, fmt.Errorf("invalid window expression %q", w.expr)
	}
	return w, nil
}

// Expr is the cron expression matching each window start.
func (w *Window) Expr() string {
	return w.expr
}

// Allows reports whether t falls inside the window.
func (w *Window) Allows(t time.Time) bool {
	t = t.In(w.loc)
	minute := t.Hour()*60 + t.Minute()

	if w.start <= w.end {
		return w.dayAllowed(t.Weekday()) && minute >= w.start && minute < w.end
	}
	// overnight: the early part belongs to the previous day's window
	if minute >= w.start {
		return w.dayAllowed(t.Weekday())
	}
	if minute < w.end {
		return w.dayAllowed(t.AddDate(0, 0, -1).Weekday())
	}
	return false
}

// NextStart returns the first window start strictly after t.
func (w *Window) NextStart(t time.Time) (time.Time, error) {
	next, err := gronx.NextTickAfter(w.expr, t.In(w.loc), false)
	if err != nil {
		return time.Time{}, fmt.Errorf("next window start: %w", err)
	}
	return next, nil
}

func (w *Window) dayAllowed(d time.Weekday) bool {
	return w.weekdays == nil || w.weekdays[d]
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
