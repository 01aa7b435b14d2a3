package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/game"
	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/wire"
)

func sample(matchID string) Session {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	state := game.MatchState{
		G:       map[string]any{"pot": float64(4)},
		Ctx:     game.NewContext(2),
		Version: 2,
	}
	return Session{
		MatchID:      matchID,
		GameName:     "blackjack",
		NumPlayers:   2,
		State:        state,
		InitialState: game.MatchState{G: map[string]any{"pot": float64(0)}, Ctx: game.NewContext(2)},
		Log: []wire.LogEntry{
			{Move: game.Move{Type: "play", Args: []any{float64(4)}}, PlayerID: "0", Version: 1},
			{Move: game.Move{Type: "stand"}, PlayerID: "1", Version: 2},
		},
		Credentials: map[game.PlayerID]string{"0": "cred-0"},
		CreatedAt:   created,
		UpdatedAt:   created.Add(time.Minute),
	}
}

func testStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	in := sample("ABCDEF")
	require.NoError(t, s.Save(ctx, in))

	out, err := s.Load(ctx, "ABCDEF")
	require.NoError(t, err)
	assert.Equal(t, in.MatchID, out.MatchID)
	assert.Equal(t, in.GameName, out.GameName)
	assert.Equal(t, in.NumPlayers, out.NumPlayers)
	assert.Equal(t, in.State, out.State)
	assert.Equal(t, in.Log, out.Log)
	assert.Equal(t, in.Credentials, out.Credentials)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt), "createdAt %v != %v", in.CreatedAt, out.CreatedAt)

	// Saving again overwrites.
	in.State.Version = 3
	in.UpdatedAt = in.UpdatedAt.Add(time.Minute)
	require.NoError(t, s.Save(ctx, in))

	out, err = s.Load(ctx, "ABCDEF")
	require.NoError(t, err)
	assert.Equal(t, int64(3), out.State.Version)
	assert.True(t, in.UpdatedAt.Equal(out.UpdatedAt))
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	testStore(t, s)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, sample("M")))

	a, err := s.Load(ctx, "M")
	require.NoError(t, err)
	a.State.G.(map[string]any)["pot"] = float64(99)
	a.Log[0].Version = 42

	b, err := s.Load(ctx, "M")
	require.NoError(t, err)
	assert.Equal(t, float64(4), b.State.G.(map[string]any)["pot"])
	assert.Equal(t, int64(1), b.Log[0].Version)
}
