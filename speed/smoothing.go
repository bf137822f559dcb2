package speed

// SmoothingPolicy filters tier changes through consecutive-confirmation
// counters so a single noisy reading cannot flip the commanded speed. A
// slow-down commits after MinTimesLow consecutive lower-tier candidates, a
// speed-up after MinTimesHigh consecutive higher-tier ones. Keeping
// MinTimesLow below MinTimesHigh biases the filter toward caution.
type SmoothingPolicy struct {
	logger       Logger
	table        TierTable
	minTimesLow  int
	minTimesHigh int

	tier      Tier
	lowCount  int
	highCount int
}

func NewSmoothingPolicy(config Config) Policy {
	logger := config.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &SmoothingPolicy{
		logger:       logger,
		table:        config.Table,
		minTimesLow:  config.MinTimesLow,
		minTimesHigh: config.MinTimesHigh,
	}
}

func (p *SmoothingPolicy) Decide(meters float64, valid bool) float64 {
	if !valid {
		// Safety overrides smoothing: no usable sample drops the tier
		// immediately, without waiting out the counters.
		if p.tier != 0 {
			p.logger.Debug("No usable distance sample, dropping tier %d -> 0", p.tier)
		}
		p.tier = 0
		p.lowCount = 0
		p.highCount = 0
		return clamp01(p.table.FractionFor(0))
	}

	candidate := p.table.TierFor(meters)

	switch {
	case candidate < p.tier:
		p.lowCount++
		p.highCount = 0
		if p.lowCount >= p.minTimesLow {
			p.logger.Debug("Tier %d -> %d committed after %d low confirmations", p.tier, candidate, p.lowCount)
			p.commit(candidate)
		}
	case candidate > p.tier:
		p.highCount++
		p.lowCount = 0
		if p.highCount >= p.minTimesHigh {
			p.logger.Debug("Tier %d -> %d committed after %d high confirmations", p.tier, candidate, p.highCount)
			p.commit(candidate)
		}
	default:
		p.lowCount = 0
		p.highCount = 0
	}

	return clamp01(p.table.FractionFor(p.tier))
}

func (p *SmoothingPolicy) commit(candidate Tier) {
	p.tier = candidate
	p.lowCount = 0
	p.highCount = 0
}

func (p *SmoothingPolicy) Tier() Tier {
	return p.tier
}

func (p *SmoothingPolicy) Describe() string {
	return "smoothing"
}
