package broadcast

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

var adjectives = []string{
	"QUICK", "HAPPY", "CALM", "BRAVE", "BRIGHT",
	"GENTLE", "GRAND", "GREAT", "GREEN", "BLUE",
	"RED", "GOLD", "SILVER", "WARM", "BOLD",
	"CLEAN", "CLEAR", "CRISP", "DEEP", "FAIR",
	"FINE", "FRESH", "GOOD", "HIGH", "KIND",
	"LIGHT", "MILD", "NEAT", "NICE", "PROUD",
	"PURE", "RICH", "SAFE", "SOFT", "SWEET",
	"TALL", "TRUE", "VAST", "WISE", "GLAD",
}

var nouns = []string{
	"DOVE", "LAMB", "RIVER", "CLOUD", "STONE",
	"LEAF", "BIRD", "FISH", "LION", "EAGLE",
	"TREE", "LAKE", "MOON", "STAR", "WAVE",
	"WIND", "FLAME", "PEAK", "DAWN", "RAIN",
	"BEACH", "GROVE", "HILL", "SHORE", "TRAIL",
	"VALE", "WOODS", "OLIVE", "CEDAR", "VINE",
	"BELL", "HARP", "LAMP", "ROCK", "SEED",
	"FIELD", "GATE", "TOWER", "CROWN", "BREAD",
}

var (
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
	rngMu sync.Mutex
)

// GenerateScreenCode creates a memorable screen id in ADJECTIVE-NOUN-NN format
func GenerateScreenCode() string {
	rngMu.Lock()
	defer rngMu.Unlock()

	adj := adjectives[rng.Intn(len(adjectives))]
	noun := nouns[rng.Intn(len(nouns))]
	num := rng.Intn(100)
	return fmt.Sprintf("%s-%s-%02d", adj, noun, num)
}

// NormalizeScreenCode ensures consistent formatting (uppercase, trimmed)
func NormalizeScreenCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateScreenCode checks if a screen code has valid format
func ValidateScreenCode(code string) bool {
	parts := strings.Split(code, "-")
	if len(parts) != 3 {
		return false
	}
	return len(parts[0]) > 0 && len(parts[1]) > 0 && len(parts[2]) > 0
}
