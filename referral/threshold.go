package referral

// ThresholdPolicy computes how many completions each side needs before a
// level closes: Base * Factor^(level-1), capped at Max.
type ThresholdPolicy struct {
	Base   int
	Factor int
	Max    int
}

func DefaultThresholdPolicy() ThresholdPolicy {
	return ThresholdPolicy{Base: 2, Factor: 2, Max: 1024}
}

func (p ThresholdPolicy) Threshold(level int) int {
	base := p.Base
	if base < 1 {
		base = 1
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	if level < 1 {
		level = 1
	}

	t := base
	for i := 1; i < level; i++ {
		if (p.Max > 0 && t >= p.Max) || t > 1<<30 {
			break
		}
		t *= factor
	}
	if p.Max > 0 && t > p.Max {
		t = p.Max
	}
	return t
}
