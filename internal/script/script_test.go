package script

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/game"
	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/host"
	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/wire"
)

const bumpScript = `
name = "bump"

function setup(ctx)
  return { score = 0, log = {} }
end

moves = {
  bump = function(g, ctx, player, amount)
    amount = amount or 1
    if player ~= ctx.currentPlayer then
      return "not your turn"
    end
    if amount > 3 then
      return "amount over 3"
    end
    g.score = g.score + amount
    table.insert(g.log, player)
    if g.score >= 5 then
      ctx.gameover = { winner = player }
    end
    if ctx.currentPlayer == "0" then
      ctx.currentPlayer = "1"
    else
      ctx.currentPlayer = "0"
    end
    ctx.turn = ctx.turn + 1
  end,
}

function enumerate(g, ctx)
  return {
    { type = "bump", args = { 1 } },
    { type = "bump", args = { 2 } },
  }
end

difficulty = {
  easy = { strategy = "random", delay_ms = 250, mistake_rate = 0.5 },
}
`

func mustLoad(t *testing.T) *game.Game {
	t.Helper()
	def, err := LoadString(bumpScript)
	require.NoError(t, err)
	return def
}

func TestLoadStringBuildsDefinition(t *testing.T) {
	def := mustLoad(t)

	assert.Equal(t, "bump", def.Name)
	assert.Contains(t, def.Moves, "bump")
	assert.NotNil(t, def.Enumerate)
	assert.Nil(t, def.CurrentActor)
	require.NoError(t, def.Validate())

	assert.Equal(t, game.BotTuning{
		Strategy:    "random",
		Delay:       250 * time.Millisecond,
		MistakeRate: 0.5,
	}, def.Difficulty["easy"])
}

func TestScriptedSetupSeedsState(t *testing.T) {
	def := mustLoad(t)

	ctx := game.NewContext(2)
	g := def.Setup(&ctx)

	gm, ok := g.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(0), gm["score"])
	assert.Empty(t, gm["log"])
}

func TestScriptedMoveMutatesInPlace(t *testing.T) {
	def := mustLoad(t)
	ctx := game.NewContext(2)
	g := def.Setup(&ctx)

	require.NoError(t, def.Moves["bump"](g, &ctx, "0", float64(2)))

	gm := g.(map[string]any)
	assert.Equal(t, float64(2), gm["score"])
	assert.Equal(t, []any{"0"}, gm["log"])
	assert.Equal(t, game.PlayerID("1"), ctx.CurrentPlayer)
	assert.Equal(t, 1, ctx.Turn)
	assert.Nil(t, ctx.Gameover)
}

func TestScriptedMoveRejectionLeavesStateAlone(t *testing.T) {
	def := mustLoad(t)
	ctx := game.NewContext(2)
	g := def.Setup(&ctx)

	err := def.Moves["bump"](g, &ctx, "1", float64(1))
	require.EqualError(t, err, "not your turn")

	err = def.Moves["bump"](g, &ctx, "0", float64(9))
	require.EqualError(t, err, "amount over 3")

	gm := g.(map[string]any)
	assert.Equal(t, float64(0), gm["score"])
	assert.Equal(t, game.PlayerID("0"), ctx.CurrentPlayer)
}

func TestScriptedGameover(t *testing.T) {
	def := mustLoad(t)
	ctx := game.NewContext(2)
	g := def.Setup(&ctx)

	require.NoError(t, def.Moves["bump"](g, &ctx, "0", float64(3)))
	require.NoError(t, def.Moves["bump"](g, &ctx, "1", float64(2)))

	require.NotNil(t, ctx.Gameover)
	winner, ok := ctx.Winner()
	require.True(t, ok)
	assert.Equal(t, game.PlayerID("1"), winner)
}

func TestScriptedEnumerate(t *testing.T) {
	def := mustLoad(t)
	ctx := game.NewContext(2)
	g := def.Setup(&ctx)

	moves := def.Enumerate(g, &ctx)
	require.Len(t, moves, 2)
	assert.Equal(t, game.Move{Type: "bump", Args: []any{float64(1)}}, moves[0])
	assert.Equal(t, game.Move{Type: "bump", Args: []any{float64(2)}}, moves[1])
}

func TestScriptedCurrentActorHook(t *testing.T) {
	def, err := LoadString(`
name = "fixed"
function setup(ctx) return { boss = "1" } end
moves = { noop = function(g, ctx, player) end }
function current_actor(g, ctx) return g.boss end
`)
	require.NoError(t, err)
	require.NotNil(t, def.CurrentActor)

	ctx := game.NewContext(2)
	st := game.MatchState{G: def.Setup(&ctx), Ctx: ctx}
	assert.Equal(t, game.PlayerID("1"), game.Actor(def, st))
}

func TestLoadRejectsBrokenScripts(t *testing.T) {
	cases := map[string]struct {
		src  string
		want string
	}{
		"missing name": {
			src:  `function setup(ctx) return {} end; moves = { a = function() end }`,
			want: "missing name",
		},
		"missing setup": {
			src:  `name = "x"; moves = { a = function() end }`,
			want: "missing setup",
		},
		"missing moves": {
			src:  `name = "x"; function setup(ctx) return {} end`,
			want: "missing moves",
		},
		"empty moves": {
			src:  `name = "x"; function setup(ctx) return {} end; moves = {}`,
			want: "no moves defined",
		},
		"move not a function": {
			src:  `name = "x"; function setup(ctx) return {} end; moves = { a = 1 }`,
			want: "map names to functions",
		},
		"setup crashes": {
			src:  `name = "x"; function setup(ctx) error("boom") end; moves = { a = function() end }`,
			want: "boom",
		},
		"setup returns nothing": {
			src:  `name = "x"; function setup(ctx) end; moves = { a = function() end }`,
			want: "must return a table",
		},
		"syntax error": {
			src:  `function (`,
			want: "",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadString(tc.src)
			require.Error(t, err)
			if tc.want != "" {
				assert.ErrorContains(t, err, tc.want)
			}
		})
	}
}

func TestLoadDirSkipsBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bump.lua"), []byte(bumpScript), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.lua"), []byte("function ("), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a script"), 0o644))

	defs, err := LoadDir(dir, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "bump", defs[0].Name)
}

// ---------- full pipeline ----------

type pipeClient struct {
	id     string
	player game.PlayerID

	mu  sync.Mutex
	got []wire.Action
}

func (c *pipeClient) ID() string              { return c.id }
func (c *pipeClient) PlayerID() game.PlayerID { return c.player }

func (c *pipeClient) Deliver(a wire.Action) {
	c.mu.Lock()
	c.got = append(c.got, a)
	c.mu.Unlock()
}

func (c *pipeClient) states() []game.MatchState {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []game.MatchState
	for _, a := range c.got {
		if su, ok := a.(wire.StateUpdate); ok {
			out = append(out, su.State)
		}
	}
	return out
}

func bump(player game.PlayerID, amount float64) wire.Update {
	return wire.Update{
		MatchID:  "m-lua",
		Move:     game.Move{Type: "bump", Args: []any{amount}},
		PlayerID: player,
	}
}

// A scripted game must behave exactly like a native one across the whole
// validate/apply/persist/broadcast path.
func TestScriptedGameThroughHost(t *testing.T) {
	def := mustLoad(t)
	h, err := host.New(host.Options{Game: def, MatchID: "m-lua", NumPlayers: 2})
	require.NoError(t, err)

	local := &pipeClient{id: "local", player: "0"}
	h.RegisterHostClient(local)

	h.Submit("local", bump("0", 2)) // accepted, 0 -> 1
	h.Submit("local", bump("1", 9)) // right actor, script rejects the amount
	h.Submit("local", bump("1", 3)) // accepted, score 5, game over
	h.Submit("local", bump("0", 1)) // rejected, match already over

	states := local.states()
	require.Len(t, states, 2)
	assert.Equal(t, int64(1), states[0].Version)
	assert.Equal(t, int64(2), states[1].Version)

	final, err := h.State()
	require.NoError(t, err)
	assert.Equal(t, int64(2), final.Version)

	gm, ok := final.G.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(5), gm["score"])

	winner, ok := final.Ctx.Winner()
	require.True(t, ok)
	assert.Equal(t, game.PlayerID("1"), winner)
}
