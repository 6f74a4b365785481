package providers

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
)

// Default name-generation settings applied when a step omits them.
const (
	DefaultNameGenerator = "wyrdbound-rng"
	DefaultNameMaxLength = 15
	DefaultNameCorpus    = "generic-fantasy"
	DefaultNameSegmenter = "fantasy"
	DefaultNameAlgorithm = "bayesian"
)

// DefaultNameSettings returns a fresh copy of the default settings map.
func DefaultNameSettings() map[string]any {
	return map[string]any{
		"max_length": DefaultNameMaxLength,
		"corpus":     DefaultNameCorpus,
		"segmenter":  DefaultNameSegmenter,
		"algorithm":  DefaultNameAlgorithm,
	}
}

// corpora holds the syllable inventories the reference generator chains
// from. A real deployment points the engine at a trained generator; this
// one keeps the same settings surface with a toy model behind it.
var corpora = map[string][]string{
	"generic-fantasy": {"ael", "bor", "cael", "dra", "el", "fen", "gal", "hal", "ira", "kor", "lan", "mor", "nal", "or", "per", "quel", "ral", "syl", "tor", "ul", "vael", "wyn"},
	"norse":           {"ast", "bjor", "ei", "frey", "gud", "hall", "ing", "jor", "kol", "leif", "rag", "sig", "thor", "ulf", "vald"},
}

// SyllableNames is the reference NameGenerator: seeded syllable chains
// honoring the wyrdbound-rng settings keys.
type SyllableNames struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSyllableNames returns a generator whose output is fixed by seed.
func NewSyllableNames(seed int64) *SyllableNames {
	return &SyllableNames{rng: rand.New(rand.NewSource(seed))}
}

// Generate produces a name under the given settings. Unknown corpora
// are an error; unknown setting keys are ignored the way the real
// generator ignores hints it has no model for.
func (g *SyllableNames) Generate(ctx context.Context, settings map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	merged := DefaultNameSettings()
	for k, v := range settings {
		merged[k] = v
	}
	corpus, _ := merged["corpus"].(string)
	syllables, ok := corpora[corpus]
	if !ok {
		return nil, fmt.Errorf("unknown name corpus %q", corpus)
	}
	maxLength := DefaultNameMaxLength
	switch n := merged["max_length"].(type) {
	case int:
		maxLength = n
	case float64:
		maxLength = int(n)
	}
	if maxLength < 3 {
		maxLength = 3
	}

	g.mu.Lock()
	count := 2 + g.rng.Intn(2)
	var b strings.Builder
	for i := 0; i < count; i++ {
		s := syllables[g.rng.Intn(len(syllables))]
		if b.Len()+len(s) > maxLength {
			break
		}
		b.WriteString(s)
	}
	g.mu.Unlock()

	name := b.String()
	if name == "" {
		name = syllables[0]
	}
	name = strings.ToUpper(name[:1]) + name[1:]
	return map[string]any{
		"name":      name,
		"corpus":    corpus,
		"algorithm": merged["algorithm"],
	}, nil
}
