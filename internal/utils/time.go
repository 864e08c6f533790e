package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/markusmobius/go-dateparser"
)

// ParseSince parses an absolute or relative date such as "2 days ago" or
// "2025-06-01" against now. An empty string means the zero time.
func ParseSince(dateString string, now time.Time) (time.Time, error) {
	dateString = strings.TrimSpace(dateString)
	if dateString == "" {
		return time.Time{}, nil
	}

	cfg := &dateparser.Configuration{CurrentTime: now}

	dt, err := dateparser.Parse(cfg, dateString)
	if err != nil {
		return time.Time{}, fmt.Errorf("unable to parse date/time format: %w", err)
	}

	return dt.Time, nil
}
