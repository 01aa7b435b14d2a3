package bot

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/game"
)

// Config is the flat settings bag callers hand to NewManager. Pointer
// fields are explicit overrides; nil means "inherit from the difficulty
// level". Strategy overrides the level's strategy kind outright.
type Config struct {
	Difficulty   string // easy | medium | hard | custom; default medium
	Strategy     Strategy
	Delay        *time.Duration
	MinDelay     *time.Duration
	SearchBudget *int
	MistakeRate  *float64
}

// ResolvedConfig is a Config after merging explicit overrides over the
// game's per-level tuning over the global presets.
type ResolvedConfig struct {
	Strategy     Strategy
	Delay        time.Duration
	MinDelay     time.Duration
	SearchBudget int
	MistakeRate  float64
}

// presets is the global difficulty table. A game's Difficulty map
// replaces the whole entry for a level, not individual fields.
var presets = map[string]game.BotTuning{
	"easy":   {Strategy: "random", Delay: 800 * time.Millisecond, MinDelay: 300 * time.Millisecond, MistakeRate: 0.3},
	"medium": {Strategy: "search", Delay: 800 * time.Millisecond, MinDelay: 300 * time.Millisecond, SearchBudget: 200, MistakeRate: 0.1},
	"hard":   {Strategy: "search", Delay: 600 * time.Millisecond, MinDelay: 200 * time.Millisecond, SearchBudget: 1000},
	"custom": {Strategy: "custom", Delay: 500 * time.Millisecond, MinDelay: 200 * time.Millisecond},
}

// Resolve merges cfg for one game. Precedence, highest first: explicit
// cfg fields, the game's Difficulty entry for the level, the preset.
func Resolve(def *game.Game, cfg Config, rng *rand.Rand) (ResolvedConfig, error) {
	level := cfg.Difficulty
	if level == "" {
		level = "medium"
	}
	tuning, ok := presets[level]
	if !ok {
		return ResolvedConfig{}, fmt.Errorf("bot: unknown difficulty %q", level)
	}
	if def != nil {
		if t, ok := def.Difficulty[level]; ok {
			tuning = t
		}
	}

	r := ResolvedConfig{
		Delay:        tuning.Delay,
		MinDelay:     tuning.MinDelay,
		SearchBudget: tuning.SearchBudget,
		MistakeRate:  tuning.MistakeRate,
	}
	if cfg.Delay != nil {
		r.Delay = *cfg.Delay
	}
	if cfg.MinDelay != nil {
		r.MinDelay = *cfg.MinDelay
	}
	if cfg.SearchBudget != nil {
		r.SearchBudget = *cfg.SearchBudget
	}
	if cfg.MistakeRate != nil {
		r.MistakeRate = *cfg.MistakeRate
	}
	if r.MinDelay > r.Delay {
		r.MinDelay = r.Delay
	}

	switch {
	case cfg.Strategy != nil:
		r.Strategy = cfg.Strategy
	case tuning.Strategy == "" || tuning.Strategy == "random":
		r.Strategy = NewRandom(rng)
	case tuning.Strategy == "search":
		r.Strategy = NewSearch(r.SearchBudget, rng)
	case tuning.Strategy == "custom":
		return ResolvedConfig{}, fmt.Errorf("bot: difficulty %q needs an explicit strategy", level)
	default:
		return ResolvedConfig{}, fmt.Errorf("bot: unknown strategy kind %q", tuning.Strategy)
	}
	return r, nil
}
