package recorder

import "time"

// SetNow replaces the clock used for timestamps.
func (r *Recorder) SetNow(now func() time.Time) { r.now = now }
