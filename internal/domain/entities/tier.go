package entities

// Tier is a subscription level read from the billing collaborator.
// HistoricalDays of -1 means the window reaches back to deployment.
type Tier struct {
	Name           string `json:"name"`
	HistoricalDays int    `json:"historicalDays"`
	ContinuousSync bool   `json:"continuousSyncEligible"`
}

// Unlimited reports whether the tier has no historical window cap
func (t Tier) Unlimited() bool {
	return t.HistoricalDays < 0
}
