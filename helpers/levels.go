package helpers

import "math/rand"

// Cumulative exp required to hold $level. 50*n*(n+1) keeps every next
// level strictly more expensive than the last: level 1 at 100 exp,
// level 2 at 300, level 3 at 600.
func GetExpForLevel(level int) int64 {
	if level <= 0 {
		return 0
	}
	return int64(50 * level * (level + 1))
}

// GetLevelFromExp returns the highest level covered by $exp. Monotonic in
// exp, so a recompute can never lower a stored level.
func GetLevelFromExp(exp int64) int {
	level := 0
	for GetExpForLevel(level+1) <= exp {
		level++
	}
	return level
}

// GetRandomExpForMessage returns the exp awarded for one qualifying
// message, in [5, 15].
func GetRandomExpForMessage() int64 {
	return int64(rand.Intn(11) + 5)
}

// GetRandomDailyAmount returns the cash awarded for one daily claim,
// in [100, 500].
func GetRandomDailyAmount() int64 {
	return int64(rand.Intn(401) + 100)
}
