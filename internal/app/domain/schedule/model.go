package schedule

import "time"

// MinutesPerDay bounds window offsets.
const MinutesPerDay = 24 * 60

// Window is a recurring weekly block of working time, in minutes from local
// midnight.
type Window struct {
	Weekday     time.Weekday `json:"weekday"`
	StartMinute int          `json:"start_minute"`
	EndMinute   int          `json:"end_minute"`
}

// Contains reports whether [start, end) minutes of the window's day fall in w.
func (w Window) Contains(start, end int) bool {
	return start >= w.StartMinute && end <= w.EndMinute
}

// Availability is a provider's weekly working pattern.
type Availability struct {
	ProviderID string    `json:"provider_id"`
	Timezone   string    `json:"timezone"`
	Windows    []Window  `json:"windows"`
	UpdatedAt  time.Time `json:"updated_at"`
}
