package speed

import "fmt"

// PolicyType represents the decision policy variant
type PolicyType int

const (
	PolicyTypeReactive PolicyType = iota
	PolicyTypeSmoothing
)

// Config contains configuration for a decision policy
type Config struct {
	Logger       Logger
	Table        TierTable
	MinTimesLow  int
	MinTimesHigh int
}

// Policy defines the interface both decision policy implementations satisfy
type Policy interface {
	// Decide maps the latest distance reading to a speed fraction in [0, 1].
	// valid is false when no usable sample exists (mailbox empty or feed
	// stale); both policies then fail safe to the lowest tier.
	Decide(meters float64, valid bool) float64

	// Tier returns the tier backing the most recent Decide result
	Tier() Tier

	// Describe returns a short policy name for logs and status reporting
	Describe() string
}

func NewPolicy(policyType PolicyType, config Config) (Policy, error) {
	if config.Logger == nil {
		config.Logger = nopLogger{}
	}
	if config.Table.TierCount() == 0 {
		return nil, fmt.Errorf("tier table is empty")
	}

	switch policyType {
	case PolicyTypeReactive:
		config.Logger.Printf("Creating reactive policy")
		return NewReactivePolicy(config), nil
	case PolicyTypeSmoothing:
		if config.MinTimesLow < 1 || config.MinTimesHigh < 1 {
			return nil, fmt.Errorf("confirmation counts must be >= 1 (low=%d, high=%d)",
				config.MinTimesLow, config.MinTimesHigh)
		}
		config.Logger.Printf("Creating smoothing policy")
		return NewSmoothingPolicy(config), nil
	default:
		return nil, fmt.Errorf("unknown policy type: %v", policyType)
	}
}
