package providers

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// SeededDice is the reference DiceRoller: a seeded roller for the
// classic NdM(+/-K) form. Hosts with a richer dice grammar supply their
// own roller; this one exists so the bundled flows run and so resume
// tests can replay byte-identical rolls.
type SeededDice struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeededDice returns a roller whose sequence is fixed by seed.
func NewSeededDice(seed int64) *SeededDice {
	return &SeededDice{rng: rand.New(rand.NewSource(seed))}
}

var diceRe = regexp.MustCompile(`^(\d*)d(\d+)([+-]\d+)?$`)

// Roll evaluates expressions like "d20", "3d6", "2d8+1", "4d6-2".
func (d *SeededDice) Roll(ctx context.Context, expr string) (DiceResult, error) {
	if err := ctx.Err(); err != nil {
		return DiceResult{}, err
	}
	m := diceRe.FindStringSubmatch(strings.ReplaceAll(strings.TrimSpace(expr), " ", ""))
	if m == nil {
		return DiceResult{}, fmt.Errorf("unsupported dice expression %q", expr)
	}
	count := 1
	if m[1] != "" {
		count, _ = strconv.Atoi(m[1])
	}
	sides, _ := strconv.Atoi(m[2])
	if count < 1 || count > 1000 || sides < 1 {
		return DiceResult{}, fmt.Errorf("dice expression %q out of range", expr)
	}
	mod := 0
	if m[3] != "" {
		mod, _ = strconv.Atoi(m[3])
	}

	d.mu.Lock()
	rolls := make([]string, count)
	total := mod
	for i := 0; i < count; i++ {
		r := d.rng.Intn(sides) + 1
		total += r
		rolls[i] = strconv.Itoa(r)
	}
	d.mu.Unlock()

	detail := fmt.Sprintf("%s: [%s]", expr, strings.Join(rolls, " "))
	if mod > 0 {
		detail += fmt.Sprintf(" + %d", mod)
	} else if mod < 0 {
		detail += fmt.Sprintf(" - %d", -mod)
	}
	detail += fmt.Sprintf(" = %d", total)
	return DiceResult{Total: total, Detail: detail}, nil
}
