package day

import "time"

// Layout is the business day key format used to partition per-day token
// numbering and queue queries.
const Layout = "2006-01-02"

// Key derives the clinic-local business day key for t.
func Key(t time.Time) string {
	return t.Format(Layout)
}

// Today returns the current business day key.
func Today() string {
	return Key(time.Now())
}

// Valid reports whether s is a well-formed day key.
func Valid(s string) bool {
	_, err := time.Parse(Layout, s)
	return err == nil
}
