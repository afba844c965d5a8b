package ical

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// Date is a calendar day with no time-of-day or zone.
type Date civil.Date

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	return Date(civil.DateOf(t))
}

// Time returns midnight UTC of the day.
func (d Date) Time() time.Time {
	return civil.Date(d).In(time.UTC)
}

// AddDays returns the date n days later (or earlier for negative n).
func (d Date) AddDays(n int) Date {
	return Date(civil.Date(d).AddDays(n))
}

// AddYears returns the date n years later, normalizing Feb 29 like [time.Time.AddDate].
func (d Date) AddYears(n int) Date {
	return DateOf(d.Time().AddDate(n, 0, 0))
}

func (d Date) Before(o Date) bool { return civil.Date(d).Before(civil.Date(o)) }
func (d Date) After(o Date) bool  { return civil.Date(d).After(civil.Date(o)) }
func (d Date) IsZero() bool       { return civil.Date(d).IsZero() }
func (d Date) IsValid() bool      { return civil.Date(d).IsValid() }
func (d Date) String() string     { return civil.Date(d).String() }

// ParseDate reads a date in YYYY-MM-DD form.
func ParseDate(s string) (Date, error) {
	cd, err := civil.ParseDate(s)
	if err != nil {
		return Date{}, fmt.Errorf("error parsing date %q: %w", s, err)
	}

	return Date(cd), nil
}

func (d Date) MarshalText() ([]byte, error) {
	return civil.Date(d).MarshalText()
}

func (d *Date) UnmarshalText(byts []byte) error {
	parsed, err := ParseDate(string(byts))
	if err != nil {
		return err
	}

	*d = parsed
	return nil
}

// Value stores the date as YYYY-MM-DD text.
func (d Date) Value() (driver.Value, error) {
	return d.String(), nil
}

func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case string:
		parsed, err := ParseDate(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*d = parsed
	case []byte:
		return d.Scan(string(v))
	case time.Time:
		*d = DateOf(v.UTC())
	case nil:
		*d = Date{}
	default:
		return fmt.Errorf("cannot scan %T into ical.Date", src)
	}

	return nil
}

var errBadToken = errors.New("malformed date token")

// ToDate converts a DATE (YYYYMMDD) or DATE-TIME (YYYYMMDDTHHMMSS[Z]) token
// into the calendar day it names. Time-of-day is validated but discarded.
func ToDate(token string) (Date, error) {
	token = strings.TrimSpace(token)

	digits := token
	if strings.Contains(token, "T") {
		digits = strings.ReplaceAll(digits, "T", "")
		digits = strings.ReplaceAll(digits, "Z", "")
		if len(digits) < 12 || !allDigits(digits[8:12]) {
			return Date{}, fmt.Errorf("%w: %q", errBadToken, token)
		}
	} else if len(digits) != 8 {
		return Date{}, fmt.Errorf("%w: %q", errBadToken, token)
	}
	if len(digits) < 8 || !allDigits(digits[:8]) {
		return Date{}, fmt.Errorf("%w: %q", errBadToken, token)
	}

	out := Date{Year: atoi(digits[0:4]), Month: time.Month(atoi(digits[4:6])), Day: atoi(digits[6:8])}
	if !out.IsValid() {
		return Date{}, fmt.Errorf("%w: %q", errBadToken, token)
	}

	return out, nil
}

// IsAllDay reports whether a DTSTART token is a bare DATE.
func IsAllDay(startToken string) bool {
	return !strings.Contains(startToken, "T")
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// atoi expects s to already be checked by allDigits.
func atoi(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		n = n*10 + int(s[i]-'0')
	}
	return n
}
