package domain

import "time"

// Amount is a quantity of the fungible balance token.
type Amount = uint64

// ActivityStatus is one-way: Active → Resolved.
type ActivityStatus string

const (
	ActivityActive   ActivityStatus = "ACTIVE"
	ActivityResolved ActivityStatus = "RESOLVED"
)

// MinOptions is the minimum number of outcome options of an activity.
const MinOptions = 2

// Activity is a single betting market with an accumulating pot.
type Activity struct {
	ID          uint64
	Name        string
	Options     []string
	CloseTime   time.Time
	BaseAmount  Amount
	TotalAmount Amount // base + every stake ever placed; frozen once resolved
	Status      ActivityStatus
	// WinningOption is meaningful only when Status == ActivityResolved.
	WinningOption int
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

// HasOption reports whether idx is a valid option index.
func (a Activity) HasOption(idx int) bool {
	return idx >= 0 && idx < len(a.Options)
}

// IsActive reports whether the activity still accepts stakes and resolution.
func (a Activity) IsActive() bool {
	return a.Status == ActivityActive
}

// Winner returns the winning option index once the activity is resolved.
func (a Activity) Winner() (int, bool) {
	if a.Status != ActivityResolved {
		return 0, false
	}
	return a.WinningOption, true
}

// Closed reports whether now is at or past the close time.
func (a Activity) Closed(now time.Time) bool {
	return !now.Before(a.CloseTime)
}

// Clone returns a copy that does not share the options slice.
func (a Activity) Clone() Activity {
	c := a
	c.Options = append([]string(nil), a.Options...)
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		c.ResolvedAt = &t
	}
	return c
}
