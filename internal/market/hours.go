package market

import (
	"strings"
	"time"

	"github.com/Tonic56/stock-trading-simulator/lib/errs"
)

const (
	opensAt  = 9*time.Hour + 30*time.Minute
	closesAt = 16 * time.Hour

	clockLayout = "15:04:05"
)

// Status describes the trading session as seen from the caller's timezone.
type Status struct {
	Open      bool   `json:"market_open"`
	LocalTime string `json:"local_time"`
	Day       string `json:"day"`
	Time      string `json:"time"`
	Timezone  string `json:"timezone"`
	OpensAt   string `json:"market_opens_at"`
	ClosesAt  string `json:"market_closes_at"`
}

// Oracle answers whether the market is open for a timezone.
type Oracle interface {
	IsOpen(timezone string) (Status, error)
}

// Hours is the default Oracle: 09:30 to 16:00 local time, Monday to Friday,
// both bounds inclusive.
type Hours struct {
	now        func() time.Time
	alwaysOpen bool
}

func NewHours(alwaysOpen bool) *Hours {
	return &Hours{now: time.Now, alwaysOpen: alwaysOpen}
}

// WithClock replaces the time source.
func (h *Hours) WithClock(now func() time.Time) *Hours {
	h.now = now
	return h
}

func (h *Hours) IsOpen(timezone string) (Status, error) {
	timezone = strings.TrimSpace(timezone)
	if timezone == "" {
		return Status{}, errs.New(errs.KindInvalidInput, "timezone is required")
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return Status{}, errs.Wrap(errs.KindInvalidInput, "invalid timezone", err)
	}

	now := h.now().In(loc)
	sinceMidnight := time.Duration(now.Hour())*time.Hour +
		time.Duration(now.Minute())*time.Minute +
		time.Duration(now.Second())*time.Second +
		time.Duration(now.Nanosecond())

	weekend := now.Weekday() == time.Saturday || now.Weekday() == time.Sunday
	inSession := sinceMidnight >= opensAt && sinceMidnight <= closesAt

	return Status{
		Open:      h.alwaysOpen || (inSession && !weekend),
		LocalTime: now.Format(time.RFC3339),
		Day:       now.Weekday().String(),
		Time:      now.Format(clockLayout),
		Timezone:  timezone,
		OpensAt:   time.Time{}.Add(opensAt).Format(clockLayout),
		ClosesAt:  time.Time{}.Add(closesAt).Format(clockLayout),
	}, nil
}
