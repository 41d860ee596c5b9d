package utils

import (
	"math/rand/v2"
	"sync"
)

func Contains[T comparable](needle T, haystack []T) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

// TagGenerator produces short random tags for correlating log lines of one socket before
// it has a connection id.
type TagGenerator struct {
	mut_gen sync.Mutex
	gen     *rand.Rand
}

func CreateTagGenerator(seed uint64) *TagGenerator {
	return &TagGenerator{
		gen: rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
	}
}

var tagLetters = []rune("123456789abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ")

func (g *TagGenerator) Next(n int) string {
	g.mut_gen.Lock()
	defer g.mut_gen.Unlock()

	b := make([]rune, n)
	for i := range b {
		b[i] = tagLetters[g.gen.IntN(len(tagLetters))]
	}
	return string(b)
}
