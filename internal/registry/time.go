package registry

import "time"

const isoLayout = "2006-01-02T15:04:05.000000000Z"

func parseISO(s string) (time.Time, error) {
	if t, err := time.Parse(isoLayout, s); err == nil {
		return t, nil
	}
	// Tolerate the second-precision layout some legacy rows may carry.
	return time.Parse(time.RFC3339, s)
}

func parseISODate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return parseISO(s)
}
