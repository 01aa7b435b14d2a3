package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deck struct {
	Cards []string       `json:"cards"`
	Score map[string]int `json:"score"`
}

func TestCloneValueKeepsPointerType(t *testing.T) {
	orig := &deck{Cards: []string{"AS", "KH"}, Score: map[string]int{"0": 3}}

	c, err := CloneValue(orig)
	require.NoError(t, err)

	clone, ok := c.(*deck)
	require.True(t, ok, "clone should come back as *deck, got %T", c)
	require.Equal(t, orig, clone)

	clone.Cards[0] = "2C"
	clone.Score["0"] = 99
	assert.Equal(t, "AS", orig.Cards[0], "mutating the clone must not touch the original")
	assert.Equal(t, 3, orig.Score["0"])
}

func TestCloneValueKeepsValueType(t *testing.T) {
	orig := deck{Cards: []string{"AS"}}

	c, err := CloneValue(orig)
	require.NoError(t, err)
	_, ok := c.(deck)
	require.True(t, ok, "clone should come back as deck, got %T", c)
}

func TestCloneValueNil(t *testing.T) {
	c, err := CloneValue(nil)
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestCloneStateIsolatesContext(t *testing.T) {
	st := MatchState{
		G:       map[string]any{"pot": float64(12)},
		Ctx:     NewContext(2),
		Version: 7,
	}

	clone, err := CloneState(st)
	require.NoError(t, err)
	require.Equal(t, int64(7), clone.Version)

	clone.Ctx.CurrentPlayer = "1"
	clone.Ctx.PlayOrder[0] = "9"
	clone.G.(map[string]any)["pot"] = float64(99)

	assert.Equal(t, PlayerID("0"), st.Ctx.CurrentPlayer)
	assert.Equal(t, PlayerID("0"), st.Ctx.PlayOrder[0])
	assert.Equal(t, float64(12), st.G.(map[string]any)["pot"])
}

func TestRehydrateRebuildsConcreteType(t *testing.T) {
	// JSON stores hand back generic maps; rehydration restores the shape
	// move functions type-assert.
	stored := map[string]any{"cards": []any{"AS"}, "score": map[string]any{"0": float64(3)}}

	v, err := Rehydrate(&deck{}, stored)
	require.NoError(t, err)
	d, ok := v.(*deck)
	require.True(t, ok, "got %T", v)
	assert.Equal(t, []string{"AS"}, d.Cards)
	assert.Equal(t, 3, d.Score["0"])
}

func TestRehydrateNilPassthrough(t *testing.T) {
	v, err := Rehydrate(&deck{}, nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = Rehydrate(nil, map[string]any{"x": float64(1)})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": float64(1)}, v)
}

func TestActorPrefersCurrentActorHook(t *testing.T) {
	def := &Game{
		Name:  "custom",
		Setup: func(ctx *Context) any { return &deck{} },
		Moves: map[string]MoveFunc{"noop": func(g any, ctx *Context, p PlayerID, args ...any) error { return nil }},
		CurrentActor: func(g any, ctx *Context) PlayerID {
			return PlayerID(g.(*deck).Cards[0]) // actor hidden inside G, not ctx
		},
	}
	st := MatchState{
		G:   &deck{Cards: []string{"1"}},
		Ctx: Context{CurrentPlayer: "0"},
	}
	assert.Equal(t, PlayerID("1"), Actor(def, st))
}

func TestActorFallsBackToContext(t *testing.T) {
	def := &Game{
		Name:  "plain",
		Setup: func(ctx *Context) any { return deck{} },
		Moves: map[string]MoveFunc{"noop": func(g any, ctx *Context, p PlayerID, args ...any) error { return nil }},
	}
	st := MatchState{Ctx: Context{CurrentPlayer: "2"}}
	assert.Equal(t, PlayerID("2"), Actor(def, st))
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		def  Game
		ok   bool
	}{
		{"complete", Game{
			Name:  "g",
			Setup: func(ctx *Context) any { return nil },
			Moves: map[string]MoveFunc{"m": func(g any, ctx *Context, p PlayerID, args ...any) error { return nil }},
		}, true},
		{"missing name", Game{
			Setup: func(ctx *Context) any { return nil },
			Moves: map[string]MoveFunc{"m": func(g any, ctx *Context, p PlayerID, args ...any) error { return nil }},
		}, false},
		{"missing setup", Game{
			Name:  "g",
			Moves: map[string]MoveFunc{"m": func(g any, ctx *Context, p PlayerID, args ...any) error { return nil }},
		}, false},
		{"no moves", Game{
			Name:  "g",
			Setup: func(ctx *Context) any { return nil },
		}, false},
		{"nil move func", Game{
			Name:  "g",
			Setup: func(ctx *Context) any { return nil },
			Moves: map[string]MoveFunc{"m": nil},
		}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.def.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestNewContext(t *testing.T) {
	ctx := NewContext(3)
	assert.Equal(t, PlayerID("0"), ctx.CurrentPlayer)
	assert.Equal(t, []PlayerID{"0", "1", "2"}, ctx.PlayOrder)
	assert.Equal(t, []PlayerID{"0", "1", "2"}, ctx.ActivePlayers)
	assert.Equal(t, 0, ctx.Turn)
}

func TestWinner(t *testing.T) {
	var ctx Context
	_, over := ctx.Winner()
	assert.False(t, over)

	ctx.Gameover = map[string]any{"winner": "1"}
	w, over := ctx.Winner()
	assert.True(t, over)
	assert.Equal(t, PlayerID("1"), w)

	ctx.Gameover = map[string]any{"draw": true}
	w, over = ctx.Winner()
	assert.True(t, over)
	assert.Equal(t, PlayerID(""), w)
}
