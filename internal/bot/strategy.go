package bot

import (
	"math/rand"

	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/game"
)

// Strategy proposes a move for the acting player. Returning ok=false
// declines the position; the manager then falls back to uniform random
// selection.
type Strategy interface {
	Name() string
	Pick(def *game.Game, st game.MatchState, legal []game.Move, player game.PlayerID) (mv game.Move, ok bool)
}

// ---------- uniform random ----------

// Random picks uniformly among the legal moves.
type Random struct {
	rng *rand.Rand
}

// NewRandom builds a Random strategy on the given source.
func NewRandom(rng *rand.Rand) *Random {
	return &Random{rng: rng}
}

func (r *Random) Name() string { return "random" }

func (r *Random) Pick(_ *game.Game, _ game.MatchState, legal []game.Move, _ game.PlayerID) (game.Move, bool) {
	if len(legal) == 0 {
		return game.Move{}, false
	}
	return legal[r.rng.Intn(len(legal))], true
}

// ---------- budgeted playout search ----------

const maxPlayoutDepth = 64

// Search scores each legal move by uniformly random playouts, splitting a
// total playout budget across the candidates. It declines games that
// track the acting player inside G: without the turn-order convention it
// cannot tell whose move follows, so the manager's random fallback takes
// over.
type Search struct {
	budget int
	rng    *rand.Rand
}

// NewSearch builds a Search with a total playout budget.
func NewSearch(budget int, rng *rand.Rand) *Search {
	if budget <= 0 {
		budget = 100
	}
	return &Search{budget: budget, rng: rng}
}

func (s *Search) Name() string { return "search" }

func (s *Search) Pick(def *game.Game, st game.MatchState, legal []game.Move, player game.PlayerID) (game.Move, bool) {
	if def == nil || def.CurrentActor != nil || def.Enumerate == nil || len(legal) == 0 {
		return game.Move{}, false
	}
	perMove := s.budget / len(legal)
	if perMove < 1 {
		perMove = 1
	}

	best := -1.0
	var bestMove game.Move
	found := false
	for _, mv := range legal {
		total := 0.0
		for i := 0; i < perMove; i++ {
			total += s.playout(def, st, mv, player)
		}
		if avg := total / float64(perMove); avg > best {
			best = avg
			bestMove = mv
			found = true
		}
	}
	return bestMove, found
}

// playout applies first for player, then plays uniformly random moves
// until the game ends or the depth cap hits. Win 1, draw or cutoff 0.5,
// loss or illegal first move 0.
func (s *Search) playout(def *game.Game, st game.MatchState, first game.Move, player game.PlayerID) float64 {
	pos, err := game.CloneState(st)
	if err != nil {
		return 0
	}
	fn, ok := def.Moves[first.Type]
	if !ok {
		return 0
	}
	if err := fn(pos.G, &pos.Ctx, player, first.Args...); err != nil {
		return 0
	}

	for depth := 0; depth < maxPlayoutDepth && pos.Ctx.Gameover == nil; depth++ {
		actor := pos.Ctx.CurrentPlayer
		moves := def.Enumerate(pos.G, &pos.Ctx)
		if len(moves) == 0 {
			break
		}
		mv := moves[s.rng.Intn(len(moves))]
		fn, ok := def.Moves[mv.Type]
		if !ok {
			break
		}
		if err := fn(pos.G, &pos.Ctx, actor, mv.Args...); err != nil {
			break
		}
	}

	if pos.Ctx.Gameover == nil {
		return 0.5
	}
	winner, ok := pos.Ctx.Winner()
	switch {
	case !ok:
		return 0.5
	case winner == player:
		return 1
	default:
		return 0
	}
}
