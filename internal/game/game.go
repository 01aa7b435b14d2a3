// Package game defines the contract between the replication layer and a
// hosted game: an initial-state constructor, a table of named moves that
// mutate state in place, and optional hooks for bots and turn tracking.
package game

import (
	"errors"
	"strconv"
	"time"
)

// PlayerID identifies one player slot ("0", "1", ...). The empty string
// marks a spectator.
type PlayerID string

// Move is a named move request with positional arguments. It is the shape
// games enumerate for bots and the shape carried inside update envelopes.
type Move struct {
	Type string `json:"type"`
	Args []any  `json:"args,omitempty"`
}

// Context is the framework-owned half of match state. Move functions may
// advance CurrentPlayer, Turn and Phase themselves; the layer never does.
type Context struct {
	CurrentPlayer PlayerID   `json:"currentPlayer"`
	Turn          int        `json:"turn"`
	Phase         string     `json:"phase,omitempty"`
	PlayOrder     []PlayerID `json:"playOrder"`
	ActivePlayers []PlayerID `json:"activePlayers,omitempty"`

	// Gameover is nil while the match runs. Games end the match by setting
	// it, conventionally to map[string]any{"winner": PlayerID}.
	Gameover any `json:"gameover,omitempty"`
}

// Winner reports the winning player when the game is over and recorded one.
func (c *Context) Winner() (PlayerID, bool) {
	m, ok := c.Gameover.(map[string]any)
	if !ok {
		return "", false
	}
	switch w := m["winner"].(type) {
	case string:
		return PlayerID(w), true
	case PlayerID:
		return w, true
	}
	return "", false
}

// MatchState is one replicated snapshot: the game-defined value G, the
// framework context, and a version that grows by one per accepted update.
type MatchState struct {
	G       any     `json:"G"`
	Ctx     Context `json:"ctx"`
	Version int64   `json:"version"`
}

// MoveFunc mutates g (and may mutate ctx) in place. Returning an error
// drops the whole update; the committed state is never touched because
// moves always run against a clone.
type MoveFunc func(g any, ctx *Context, player PlayerID, args ...any) error

// BotTuning adjusts the automated player for one difficulty level.
// An empty Strategy inherits the preset's kind for that level.
type BotTuning struct {
	Strategy     string
	Delay        time.Duration
	MinDelay     time.Duration
	SearchBudget int
	MistakeRate  float64
}

// Game is a complete game definition. Setup must return a pointer or map so
// moves can mutate it. CurrentActor covers games that track the acting
// player inside G instead of ctx.CurrentPlayer; leave it nil to use the
// standard turn-order convention.
type Game struct {
	Name string

	Setup func(ctx *Context) any
	Moves map[string]MoveFunc

	// Enumerate lists the legal moves for the current position. Optional;
	// without it bot slots simply never act.
	Enumerate func(g any, ctx *Context) []Move

	// CurrentActor derives the acting player from the position. Optional.
	CurrentActor func(g any, ctx *Context) PlayerID

	// Difficulty overrides the global bot presets per level name.
	Difficulty map[string]BotTuning
}

// Validate reports whether the definition is usable by a host.
func (g *Game) Validate() error {
	if g == nil {
		return errors.New("game: nil definition")
	}
	if g.Name == "" {
		return errors.New("game: missing name")
	}
	if g.Setup == nil {
		return errors.New("game: missing setup")
	}
	if len(g.Moves) == 0 {
		return errors.New("game: no moves defined")
	}
	return nil
}

// Actor derives the current acting player for a position.
func Actor(def *Game, st MatchState) PlayerID {
	if def != nil && def.CurrentActor != nil {
		return def.CurrentActor(st.G, &st.Ctx)
	}
	return st.Ctx.CurrentPlayer
}

// PlayOrder returns the default slot order for n players: "0".."n-1".
func PlayOrder(n int) []PlayerID {
	order := make([]PlayerID, n)
	for i := range order {
		order[i] = PlayerID(strconv.Itoa(i))
	}
	return order
}

// NewContext builds the starting context for n players with every slot
// active, so games without strict turn order work out of the box.
func NewContext(n int) Context {
	order := PlayOrder(n)
	return Context{
		CurrentPlayer: order[0],
		Turn:          0,
		PlayOrder:     order,
		ActivePlayers: append([]PlayerID(nil), order...),
	}
}
