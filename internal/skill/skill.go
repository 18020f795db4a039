// Package skill implements the rating math applied to frag events.
package skill

import "math"

const (
	// KBase anchors the K-factor before the experience decay.
	KBase = 16.0

	// HeadshotBonus scales the killer's gain on headshot kills.
	HeadshotBonus = 0.25

	// DefaultMaxChange caps a single rating swing unless the server
	// overrides it.
	DefaultMaxChange = 50

	// Default flat adjustments for non-frag outcomes.
	DefaultSuicidePenalty      = -5
	DefaultTeamkillPenalty     = -10
	DefaultTeamkillVictimBonus = 5
)

// Delta is the rating outcome for one kill, before persistence.
type Delta struct {
	Killer int64
	Victim int64
}

// Calculator computes rating changes. The zero value uses the defaults;
// MaxChange below 1 is treated as DefaultMaxChange.
type Calculator struct {
	MaxChange int
}

func New() *Calculator {
	return &Calculator{MaxChange: DefaultMaxChange}
}

// Kill computes the swing for one frag. killerGames drives the K-factor
// decay: new players move fast and veterans settle.
func (c *Calculator) Kill(killerSkill, victimSkill, killerGames int64, weaponModifier float64, headshot bool) Delta {
	expected := winProbability(killerSkill, victimSkill)

	k := KBase * experienceFactor(killerGames)
	if weaponModifier <= 0 {
		weaponModifier = 1.0
	}

	gain := k * weaponModifier * (1 - expected)
	if headshot {
		gain *= 1 + HeadshotBonus
	}

	killerDelta := int64(math.Round(gain))
	victimDelta := -int64(math.Round(0.8 * math.Abs(float64(killerDelta))))

	return Delta{
		Killer: c.clamp(killerDelta),
		Victim: c.clamp(victimDelta),
	}
}

// Teamkill returns the flat penalty pair for killing a teammate.
func (c *Calculator) Teamkill(penalty, victimBonus int) Delta {
	if penalty == 0 {
		penalty = DefaultTeamkillPenalty
	}
	if victimBonus == 0 {
		victimBonus = DefaultTeamkillVictimBonus
	}
	return Delta{
		Killer: c.clamp(int64(penalty)),
		Victim: c.clamp(int64(victimBonus)),
	}
}

// Suicide returns the flat self-kill penalty.
func (c *Calculator) Suicide(penalty int) int64 {
	if penalty == 0 {
		penalty = DefaultSuicidePenalty
	}
	return c.clamp(int64(penalty))
}

// Apply adds a delta to a rating, clamping the result at zero.
func Apply(skill, delta int64) int64 {
	next := skill + delta
	if next < 0 {
		return 0
	}
	return next
}

// winProbability is the standard Elo expectancy of the killer beating the
// victim.
func winProbability(killerSkill, victimSkill int64) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(victimSkill-killerSkill)/400.0))
}

// experienceFactor decays from 2.0 for fresh players down to 1.0 at 400
// games played.
func experienceFactor(games int64) float64 {
	switch {
	case games < 30:
		return 2.0
	case games >= 400:
		return 1.0
	default:
		return 2.0 - float64(games-30)/370.0
	}
}

func (c *Calculator) clamp(delta int64) int64 {
	limit := int64(c.MaxChange)
	if limit < 1 {
		limit = DefaultMaxChange
	}
	if delta > limit {
		return limit
	}
	if delta < -limit {
		return -limit
	}
	return delta
}
