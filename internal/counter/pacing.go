package counter

import (
	"math"
	"math/rand"
	"time"

	"github.com/korzewarrior/discord-countingbot/internal/domain"
)

const (
	maxDelayModifier     = 5.0
	modifierGrowth       = 1.5
	modifierDecay        = 0.8
	decayAfterSuccesses  = 5
	rateLimitCushion     = 500 * time.Millisecond
	rateReduceAfterHits  = 3
	rateReductionFactor  = 0.7
	minMessagesPerSecond = 0.5

	// Above this rate jitter is suppressed entirely for minimum latency.
	ludicrousThreshold = 20.0
)

// Pacer owns the cycle-scoped pacing state: base cadence from settings plus
// the adaptive delay modifier that backs off under rate limiting and decays
// again once sends succeed.
type Pacer struct {
	minDelay  float64 // seconds
	maxDelay  float64
	jitter    float64
	speedMode bool
	rate      float64 // messages per second in speed mode

	modifier  float64
	successes int
	hits      int

	randFloat func() float64
}

func NewPacer(s domain.Settings) *Pacer {
	return &Pacer{
		minDelay:  s.MinDelay,
		maxDelay:  s.MaxDelay,
		jitter:    s.JitterFactor,
		speedMode: s.SpeedMode,
		rate:      s.MessagesPerSecond,
		modifier:  1.0,
		randFloat: rand.Float64,
	}
}

func (p *Pacer) Ludicrous() bool {
	return p.speedMode && p.rate > ludicrousThreshold
}

// NextDelay returns the pause before the next post:
// base_interval(mode) * delay_modifier * jitter.
func (p *Pacer) NextDelay() time.Duration {
	var base float64
	switch {
	case p.Ludicrous():
		base = 1.0 / p.rate * 0.95
	case p.speedMode:
		base = 1.0 / p.rate * p.uniform(0.95, 1.05)
	default:
		base = p.uniform(p.minDelay, p.maxDelay) * p.uniform(1-p.jitter, 1+p.jitter)
	}
	return time.Duration(base * p.modifier * float64(time.Second))
}

// OnSuccess records a confirmed post and decays the modifier after enough
// consecutive successes, never dropping below 1.0.
func (p *Pacer) OnSuccess() {
	p.successes++
	if p.successes >= decayAfterSuccesses && p.modifier > 1.0 {
		p.modifier = math.Max(1.0, p.modifier*modifierDecay)
		p.successes = 0
	}
}

// OnRateLimit bumps the modifier and returns how long to wait before the
// next attempt. When repeated hits show the configured rate itself is
// unsustainable, the target rate is permanently reduced and the new rate is
// returned; otherwise the second return is 0.
func (p *Pacer) OnRateLimit(retryAfter time.Duration) (wait time.Duration, reducedRate float64) {
	p.hits++
	p.successes = 0
	if p.modifier < maxDelayModifier {
		p.modifier = math.Min(maxDelayModifier, p.modifier*modifierGrowth)
	}
	wait = retryAfter + rateLimitCushion

	if p.hits >= rateReduceAfterHits && p.speedMode {
		p.rate = math.Max(minMessagesPerSecond, p.rate*rateReductionFactor)
		p.hits = 0
		return wait, p.rate
	}
	return wait, 0
}

func (p *Pacer) Modifier() float64 { return p.modifier }

func (p *Pacer) uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*p.randFloat()
}
