package model

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// DateLayout is the day-granularity format used by every dated entity.
const DateLayout = "2006-01-02"

func validDate(date string) error {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return fmt.Errorf("bad date %q", date)
	}
	return nil
}

// Day formats t as a journal date.
func Day(t time.Time) string {
	return t.Format(DateLayout)
}

// NextDay returns the date after date.
func NextDay(date string) (string, error) {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", date, err)
	}
	return Day(d.AddDate(0, 0, 1)), nil
}

// DecodeRefs parses a string-encoded id list. The empty string is an empty list.
func DecodeRefs(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// EncodeRefs is the inverse of DecodeRefs.
func EncodeRefs(ids []string) string {
	if ids == nil {
		ids = []string{}
	}
	b, _ := json.Marshal(ids)
	return string(b)
}

// AddRef appends id to the encoded list unless already present.
func AddRef(raw, id string) (string, error) {
	ids, err := DecodeRefs(raw)
	if err != nil {
		return raw, err
	}
	if slices.Contains(ids, id) {
		return EncodeRefs(ids), nil
	}
	return EncodeRefs(append(ids, id)), nil
}

// PeriodRange returns the first and last day of a weekly or monthly period.
// Weeks follow ISO 8601: week 1 holds the year's first Thursday and starts
// on a Monday.
func PeriodRange(periodType GoalType, year, period int) (start, end string, err error) {
	if year <= 0 {
		return "", "", fmt.Errorf("%w: year %d out of range", ErrInvalid, year)
	}
	switch periodType {
	case GoalWeekly:
		if period < 1 || period > 53 {
			return "", "", fmt.Errorf("%w: week %d out of range", ErrInvalid, period)
		}
		jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
		monday := jan4.AddDate(0, 0, -((int(jan4.Weekday()) + 6) % 7))
		first := monday.AddDate(0, 0, 7*(period-1))
		return Day(first), Day(first.AddDate(0, 0, 6)), nil
	case GoalMonthly:
		if period < 1 || period > 12 {
			return "", "", fmt.Errorf("%w: month %d out of range", ErrInvalid, period)
		}
		first := time.Date(year, time.Month(period), 1, 0, 0, 0, 0, time.UTC)
		return Day(first), Day(first.AddDate(0, 1, -1)), nil
	default:
		return "", "", fmt.Errorf("%w: invalid period type %q", ErrInvalid, periodType)
	}
}
