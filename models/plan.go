package models

import "time"

// Plan is a purchasable subscription option. Plans are configuration, not
// database rows: the set is small and changes only on deploy.
type Plan struct {
	ID          string
	Days        int
	AmountMinor int64
	Currency    string
}

// Duration returns the access window length the plan grants.
func (p Plan) Duration() time.Duration {
	return time.Duration(p.Days) * 24 * time.Hour
}
