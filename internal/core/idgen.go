package core

import (
	"fmt"
	"math/rand/v2"
)

const maxRoomIDDigits = 9

// roomIDs draws fixed-width decimal identifiers uniformly from [0, 10^digits).
type roomIDs struct {
	digits   int
	limit    int
	attempts int
}

func newRoomIDs(digits, attempts int) roomIDs {
	if digits <= 0 || digits > maxRoomIDDigits {
		digits = 6
	}
	if attempts <= 0 {
		attempts = 32
	}
	limit := 1
	for range digits {
		limit *= 10
	}
	return roomIDs{digits: digits, limit: limit, attempts: attempts}
}

func (g roomIDs) format(n int) string {
	return fmt.Sprintf("%0*d", g.digits, n)
}

// claim draws candidates until try accepts one. Random draws come first; when
// they all collide the namespace is scanned from a random offset so the call
// fails only when every id is taken.
func (g roomIDs) claim(try func(id string) bool) (string, error) {
	for range g.attempts {
		id := g.format(rand.IntN(g.limit))
		if try(id) {
			return id, nil
		}
	}

	start := rand.IntN(g.limit)
	for i := range g.limit {
		id := g.format((start + i) % g.limit)
		if try(id) {
			return id, nil
		}
	}
	return "", ErrCapacityExhausted
}
