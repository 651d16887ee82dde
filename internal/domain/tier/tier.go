// Package tier defines the ordered set of processing tiers a task can be routed to.
package tier

// Tier is a named processing capability level. The declared order of the
// ladder defines the "downgrade" direction: earlier entries are cheaper.
type Tier string

const (
	Cheap   Tier = "cheap"
	Mid     Tier = "mid"
	Premium Tier = "premium"
)

// Ladder is the ordered tier set, cheapest first.
var Ladder = []Tier{Cheap, Mid, Premium}

// Profile holds the static pricing and latency characteristics of a tier.
type Profile struct {
	BaseCostUSD float64 `json:"base_cost_usd"` // cost per request before multipliers
	BaseLatency int64   `json:"base_latency_ms"`
}

// Profiles maps each tier to its pricing profile.
var Profiles = map[Tier]Profile{
	Cheap:   {BaseCostUSD: 0.0004, BaseLatency: 300},
	Mid:     {BaseCostUSD: 0.012, BaseLatency: 900},
	Premium: {BaseCostUSD: 0.075, BaseLatency: 2500},
}

// Valid reports whether t is a known tier.
func Valid(t Tier) bool {
	_, ok := Profiles[t]
	return ok
}

// Cheapest returns the lowest rung of the ladder.
func Cheapest() Tier {
	return Ladder[0]
}

// Highest returns the top rung of the ladder.
func Highest() Tier {
	return Ladder[len(Ladder)-1]
}

// Index returns t's position on the ladder, or -1 if unknown.
func Index(t Tier) int {
	for i, candidate := range Ladder {
		if candidate == t {
			return i
		}
	}
	return -1
}

// Downgrade returns the next-cheaper tier and true, or t and false if t is
// already the cheapest rung (or unknown).
func Downgrade(t Tier) (Tier, bool) {
	i := Index(t)
	if i <= 0 {
		return t, false
	}
	return Ladder[i-1], true
}

// CheaperThan reports whether a sits strictly below b on the ladder.
func CheaperThan(a, b Tier) bool {
	return Index(a) < Index(b)
}
