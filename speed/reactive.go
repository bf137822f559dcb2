package speed

// ReactivePolicy maps each cycle's distance directly to a tier. It carries no
// decision state; the stored tier only backs status reporting.
type ReactivePolicy struct {
	logger Logger
	table  TierTable
	tier   Tier
}

func NewReactivePolicy(config Config) Policy {
	logger := config.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &ReactivePolicy{
		logger: logger,
		table:  config.Table,
	}
}

func (p *ReactivePolicy) Decide(meters float64, valid bool) float64 {
	if !valid {
		if p.tier != 0 {
			p.logger.Debug("No usable distance sample, dropping tier %d -> 0", p.tier)
		}
		p.tier = 0
		return clamp01(p.table.FractionFor(0))
	}

	candidate := p.table.TierFor(meters)
	if candidate != p.tier {
		p.logger.Debug("Tier %d -> %d", p.tier, candidate)
	}
	p.tier = candidate
	return clamp01(p.table.FractionFor(p.tier))
}

func (p *ReactivePolicy) Tier() Tier {
	return p.tier
}

func (p *ReactivePolicy) Describe() string {
	return "reactive"
}
