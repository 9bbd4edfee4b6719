package entity

import (
	"errors"
	"time"
)

var errEmptyTime = errors.New("empty time string")

// isoLayouts are tried in order; offset-less forms are read as local time.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func FormatISOTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

func ParseISOTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errEmptyTime
	}
	var lastErr error
	for _, layout := range isoLayouts {
		t, err := time.ParseInLocation(layout, s, time.Local)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
