// Package session persists per-match host state so a reloaded host can
// resume a match instead of dealing fresh. One record per match ID.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/game"
	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/wire"
)

// ErrNotFound is returned by Load when no session exists for a match ID.
var ErrNotFound = errors.New("session: not found")

// Session is the durable record of one match.
type Session struct {
	MatchID      string                   `json:"matchID"`
	GameName     string                   `json:"gameName"`
	NumPlayers   int                      `json:"numPlayers"`
	State        game.MatchState          `json:"state"`
	InitialState game.MatchState          `json:"initialState"`
	Log          []wire.LogEntry          `json:"log"`
	Credentials  map[game.PlayerID]string `json:"credentials,omitempty"`
	CreatedAt    time.Time                `json:"createdAt"`
	UpdatedAt    time.Time                `json:"updatedAt"`
}

// Store reads and writes sessions keyed by match ID. Save overwrites.
type Store interface {
	Load(ctx context.Context, matchID string) (Session, error)
	Save(ctx context.Context, s Session) error
}
