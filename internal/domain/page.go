package domain

import "time"

// Cursor marks a position in a newest-first listing. At and ID hold the
// sort key of the last row the caller has seen; the next page contains
// rows strictly older than that key. Keying continuation on the row
// itself instead of a numeric offset means rows inserted between page
// fetches shift nothing: a row already seen can never reappear. A zero
// cursor starts from the top.
type Cursor struct {
	At time.Time
	ID string
}

// Zero reports whether the cursor points at the top of the listing.
func (c Cursor) Zero() bool {
	return c.ID == ""
}
