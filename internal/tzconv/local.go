package tzconv

import (
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02T15:04"
)

// LocalDate is a calendar date with no zone attached.
type LocalDate struct {
	Year  int
	Month time.Month
	Day   int
}

// LocalDateTime is a wall-clock reading with minute precision and no zone attached.
type LocalDateTime struct {
	Date   LocalDate
	Hour   int
	Minute int
}

func ParseLocalDate(s string) (LocalDate, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return LocalDate{}, fmt.Errorf("parse local date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// ParseLocalDateTime accepts "2006-01-02T15:04" or "2006-01-02 15:04".
func ParseLocalDateTime(s string) (LocalDateTime, error) {
	raw := strings.Replace(strings.TrimSpace(s), " ", "T", 1)
	t, err := time.Parse(dateTimeLayout, raw)
	if err != nil {
		return LocalDateTime{}, fmt.Errorf("parse local time %q: %w", s, err)
	}
	return DateTimeOf(t), nil
}

// DateOf reads the calendar date of t in t's own location.
func DateOf(t time.Time) LocalDate {
	y, m, d := t.Date()
	return LocalDate{Year: y, Month: m, Day: d}
}

// DateTimeOf reads the wall clock of t in t's own location, dropping seconds.
func DateTimeOf(t time.Time) LocalDateTime {
	return LocalDateTime{Date: DateOf(t), Hour: t.Hour(), Minute: t.Minute()}
}

func (d LocalDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// AddDays normalizes through time.Date so month and year rollover are handled.
func (d LocalDate) AddDays(n int) LocalDate {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 0, 0, 0, 0, time.UTC))
}

func (d LocalDate) Weekday() time.Weekday {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Weekday()
}

func (d LocalDate) IsZero() bool {
	return d == LocalDate{}
}

func (dt LocalDateTime) String() string {
	return fmt.Sprintf("%sT%02d:%02d", dt.Date, dt.Hour, dt.Minute)
}

// In places the wall clock reading in loc. Use ToUTC when gap and overlap
// handling matters.
func (dt LocalDateTime) In(loc *time.Location) time.Time {
	return time.Date(dt.Date.Year, dt.Date.Month, dt.Date.Day, dt.Hour, dt.Minute, 0, 0, loc)
}

// MarshalText lets LocalDateTime travel as "2006-01-02T15:04" in JSON.
func (dt LocalDateTime) MarshalText() ([]byte, error) {
	return []byte(dt.String()), nil
}

func (dt *LocalDateTime) UnmarshalText(b []byte) error {
	parsed, err := ParseLocalDateTime(string(b))
	if err != nil {
		return err
	}
	*dt = parsed
	return nil
}

func (d LocalDate) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *LocalDate) UnmarshalText(b []byte) error {
	parsed, err := ParseLocalDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
