package tictactoe

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/bot"
	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/game"
)

func freshMatch(t *testing.T) (*game.Game, any, game.Context) {
	t.Helper()
	def := Game()
	require.NoError(t, def.Validate())
	ctx := game.NewContext(2)
	return def, def.Setup(&ctx), ctx
}

// playOut applies an alternating move sequence starting with slot "0".
func playOut(t *testing.T, def *game.Game, g any, ctx *game.Context, cells ...int) {
	t.Helper()
	for _, cell := range cells {
		player := ctx.CurrentPlayer
		require.NoError(t, def.Moves["place"](g, ctx, player, cell), "cell %d", cell)
	}
}

func TestPlaceMarksAndAdvancesTurn(t *testing.T) {
	def, g, ctx := freshMatch(t)

	require.NoError(t, def.Moves["place"](g, &ctx, "0", 4))

	b := g.(*Board)
	assert.Equal(t, "X", b.Cells[4])
	assert.Equal(t, game.PlayerID("1"), ctx.CurrentPlayer)
	assert.Equal(t, 1, ctx.Turn)

	// JSON-decoded argument shape works the same.
	require.NoError(t, def.Moves["place"](g, &ctx, "1", float64(0)))
	assert.Equal(t, "O", b.Cells[0])
}

func TestPlaceRejectsIllegalMoves(t *testing.T) {
	def, g, ctx := freshMatch(t)
	require.NoError(t, def.Moves["place"](g, &ctx, "0", 4))

	cases := map[string]struct {
		player game.PlayerID
		args   []any
	}{
		"out of turn":     {player: "0", args: []any{0}},
		"taken cell":      {player: "1", args: []any{4}},
		"out of range":    {player: "1", args: []any{9}},
		"negative cell":   {player: "1", args: []any{-1}},
		"fractional cell": {player: "1", args: []any{1.5}},
		"not a number":    {player: "1", args: []any{"four"}},
		"no args":         {player: "1", args: nil},
		"spectator":       {player: "", args: []any{0}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := def.Moves["place"](g, &ctx, tc.player, tc.args...)
			require.Error(t, err)
		})
	}

	b := g.(*Board)
	assert.Equal(t, Board{Cells: [9]string{4: "X"}}, *b)
	assert.Equal(t, game.PlayerID("1"), ctx.CurrentPlayer)
}

func TestWinEndsTheMatch(t *testing.T) {
	def, g, ctx := freshMatch(t)

	// X takes the top row while O wanders.
	playOut(t, def, g, &ctx, 0, 3, 1, 4, 2)

	require.NotNil(t, ctx.Gameover)
	winner, ok := ctx.Winner()
	require.True(t, ok)
	assert.Equal(t, game.PlayerID("0"), winner)
}

func TestFullBoardIsADraw(t *testing.T) {
	def, g, ctx := freshMatch(t)

	playOut(t, def, g, &ctx, 0, 1, 2, 4, 3, 5, 7, 6, 8)

	require.NotNil(t, ctx.Gameover)
	_, ok := ctx.Winner()
	assert.False(t, ok)
	over, isMap := ctx.Gameover.(map[string]any)
	require.True(t, isMap)
	assert.Equal(t, true, over["draw"])
}

func TestEnumerateListsOnlyEmptyCells(t *testing.T) {
	def, g, ctx := freshMatch(t)
	playOut(t, def, g, &ctx, 0, 4)

	moves := def.Enumerate(g, &ctx)
	require.Len(t, moves, 7)
	for _, mv := range moves {
		assert.Equal(t, "place", mv.Type)
		require.Len(t, mv.Args, 1)
		cell := mv.Args[0].(int)
		assert.NotContains(t, []int{0, 4}, cell)
	}
}

// With X one move from the top row, every playout through cell 2 is an
// immediate win, so search must pick it no matter the seed.
func TestSearchBotCompletesTheLine(t *testing.T) {
	def, g, ctx := freshMatch(t)
	playOut(t, def, g, &ctx, 0, 3, 1, 4)

	st := game.MatchState{G: g, Ctx: ctx}
	legal := def.Enumerate(g, &ctx)
	s := bot.NewSearch(200, rand.New(rand.NewSource(11)))

	mv, ok := s.Pick(def, st, legal, "0")
	require.True(t, ok)
	require.Len(t, mv.Args, 1)
	assert.Equal(t, 2, mv.Args[0])
}
