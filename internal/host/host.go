// Package host implements the single authoritative holder of a match's
// state. One Host owns one match: it admits peers, validates and applies
// their moves against a cloned state, bumps the version, persists the
// session, and broadcasts the committed snapshot to every registered
// client.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/auth"
	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/game"
	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/session"
	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/wire"
)

// Client is the host's handle to one admitted peer. Deliver must not
// block; the transport owns any queueing.
type Client interface {
	ID() string
	PlayerID() game.PlayerID
	Deliver(a wire.Action)
}

// FilterFunc redacts a snapshot for one receiving player before it is
// sent. It must treat st as read-only and return the state to deliver.
// The default is identity; hidden-information games hook in here.
type FilterFunc func(st game.MatchState, player game.PlayerID) game.MatchState

// Options configures a Host. Game and MatchID are required; everything
// else has a usable default.
type Options struct {
	Game       *game.Game
	MatchID    string
	NumPlayers int

	Store  session.Store    // nil: in-memory only
	Filter FilterFunc       // nil: identity
	Logger zerolog.Logger   // zero value: no output
	Now    func() time.Time // nil: time.Now
}

// Host is the authority for one match.
type Host struct {
	def     *game.Game
	matchID string
	filter  FilterFunc
	log     zerolog.Logger
	now     func() time.Time
	store   session.Store
	gate    *auth.Gate

	mu         sync.Mutex
	numPlayers int
	state      game.MatchState
	initial    game.MatchState
	moveLog    []wire.LogEntry
	createdAt  time.Time
	clients    map[string]Client
	order      []string // delivery order, host-local client first
	hostClient string
}

// New builds a Host, restoring the session persisted for MatchID when one
// exists and its game name matches, otherwise dealing fresh state via the
// game's setup with every slot active.
func New(opts Options) (*Host, error) {
	if err := opts.Game.Validate(); err != nil {
		return nil, err
	}
	if opts.MatchID == "" {
		return nil, errors.New("host: missing match ID")
	}
	if opts.NumPlayers <= 0 {
		opts.NumPlayers = 2
	}
	if opts.Store == nil {
		opts.Store = session.NewMemoryStore()
	}
	if opts.Filter == nil {
		opts.Filter = func(st game.MatchState, _ game.PlayerID) game.MatchState { return st }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	h := &Host{
		def:        opts.Game,
		matchID:    opts.MatchID,
		filter:     opts.Filter,
		log:        opts.Logger.With().Str("matchID", opts.MatchID).Logger(),
		now:        opts.Now,
		store:      opts.Store,
		numPlayers: opts.NumPlayers,
		clients:    make(map[string]Client),
	}

	sess, err := opts.Store.Load(context.Background(), opts.MatchID)
	switch {
	case err == nil && sess.GameName == opts.Game.Name:
		restoreErr := h.restore(sess)
		if restoreErr == nil {
			h.log.Info().Int64("version", h.state.Version).Msg("session restored")
			return h, nil
		}
		h.log.Error().Err(restoreErr).Msg("session unusable, starting fresh")
	case err == nil:
		h.log.Info().Str("stored", sess.GameName).Str("want", opts.Game.Name).
			Msg("discarding session for different game")
	case !errors.Is(err, session.ErrNotFound):
		h.log.Error().Err(err).Msg("session load failed, starting fresh")
	}

	ctx := game.NewContext(h.numPlayers)
	g := opts.Game.Setup(&ctx)
	h.state = game.MatchState{G: g, Ctx: ctx, Version: 0}
	h.initial, err = game.CloneState(h.state)
	if err != nil {
		return nil, fmt.Errorf("host: snapshot initial state: %w", err)
	}
	h.createdAt = h.now()
	h.gate = auth.NewGate(h.numPlayers)

	h.mu.Lock()
	h.persistLocked()
	h.mu.Unlock()
	return h, nil
}

// restore adopts a persisted session, rebuilding G values with the
// concrete type the game's setup produces so move functions can keep
// type-asserting them.
func (h *Host) restore(sess session.Session) error {
	protoCtx := game.NewContext(sess.NumPlayers)
	proto := h.def.Setup(&protoCtx)

	g, err := game.Rehydrate(proto, sess.State.G)
	if err != nil {
		return err
	}
	initialG, err := game.Rehydrate(proto, sess.InitialState.G)
	if err != nil {
		return err
	}

	h.numPlayers = sess.NumPlayers
	h.state = sess.State
	h.state.G = g
	h.initial = sess.InitialState
	h.initial.G = initialG
	h.moveLog = sess.Log
	h.createdAt = sess.CreatedAt
	h.gate = auth.NewGate(h.numPlayers)
	h.gate.Restore(sess.Credentials)
	return nil
}

// MatchID returns the match this host owns.
func (h *Host) MatchID() string { return h.matchID }

// NumPlayers returns the slot count for the match.
func (h *Host) NumPlayers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.numPlayers
}

// State returns an isolated copy of the committed snapshot.
func (h *Host) State() (game.MatchState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return game.CloneState(h.state)
}

// ---------- registration ----------

// RegisterClient admits a remote peer. On rejection the error is returned
// for the transport to act on; no denial is ever sent to the peer.
func (h *Host) RegisterClient(c Client, md auth.ClientMetadata) error {
	if err := h.gate.Admit(md); err != nil {
		h.log.Warn().Err(err).Str("player", string(md.PlayerID)).Msg("client rejected")
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.addClientLocked(c, false)
	h.deliverSyncLocked(c)
	return nil
}

// RegisterHostClient admits the host peer's own client without an
// authentication check.
func (h *Host) RegisterHostClient(c Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.addClientLocked(c, true)
	h.deliverSyncLocked(c)
}

// Unregister removes a client; unknown IDs are ignored.
func (h *Host) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[id]; !ok {
		return
	}
	delete(h.clients, id)
	for i, cid := range h.order {
		if cid == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	if h.hostClient == id {
		h.hostClient = ""
	}
}

func (h *Host) addClientLocked(c Client, isHost bool) {
	id := c.ID()
	if _, ok := h.clients[id]; !ok {
		if isHost {
			h.order = append([]string{id}, h.order...)
		} else {
			h.order = append(h.order, id)
		}
	}
	h.clients[id] = c
	if isHost {
		h.hostClient = id
	}
}

// ---------- action processing ----------

// Submit processes one action from a registered client. Rejections leave
// state untouched and are visible only in the host's log.
func (h *Host) Submit(from string, a wire.Action) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[from]
	if !ok {
		h.log.Debug().Str("client", from).Msg("dropping action from unregistered client")
		return
	}

	switch v := a.(type) {
	case wire.Sync:
		h.deliverSyncLocked(c)
	case wire.Update:
		h.applyUpdateLocked(v)
	case wire.Chat:
		for _, id := range h.order {
			h.clients[id].Deliver(v)
		}
	default:
		h.log.Debug().Str("client", from).Type("action", a).Msg("dropping unexpected action")
	}
}

func (h *Host) applyUpdateLocked(u wire.Update) {
	if u.MatchID != h.matchID {
		h.dropUpdate(u, "wrong match")
		return
	}
	if h.state.Ctx.Gameover != nil {
		h.dropUpdate(u, "match is over")
		return
	}
	if actor := game.Actor(h.def, h.state); u.PlayerID != actor {
		h.dropUpdate(u, fmt.Sprintf("actor is %q", actor))
		return
	}
	mv, ok := h.def.Moves[u.Move.Type]
	if !ok {
		h.dropUpdate(u, "unknown move")
		return
	}

	next, err := game.CloneState(h.state)
	if err != nil {
		h.log.Error().Err(err).Msg("rejected update: clone failed")
		return
	}
	if err := mv(next.G, &next.Ctx, u.PlayerID, u.Move.Args...); err != nil {
		h.dropUpdate(u, err.Error())
		return
	}

	next.Version = h.state.Version + 1
	h.state = next
	h.moveLog = append(h.moveLog, wire.LogEntry{Move: u.Move, PlayerID: u.PlayerID, Version: next.Version})

	h.persistLocked()
	h.broadcastLocked()
}

func (h *Host) dropUpdate(u wire.Update, why string) {
	h.log.Debug().
		Str("player", string(u.PlayerID)).
		Str("move", u.Move.Type).
		Str("reason", why).
		Msg("update rejected")
}

// deliverSyncLocked sends the full authoritative snapshot plus log to one
// client.
func (h *Host) deliverSyncLocked(c Client) {
	c.Deliver(wire.SyncResponse{
		MatchID: h.matchID,
		State:   h.filter(h.state, c.PlayerID()),
		Log:     append([]wire.LogEntry(nil), h.moveLog...),
	})
}

// broadcastLocked fans the committed state out to every client, the
// host-local client first.
func (h *Host) broadcastLocked() {
	for _, id := range h.order {
		c := h.clients[id]
		c.Deliver(wire.StateUpdate{
			MatchID: h.matchID,
			State:   h.filter(h.state, c.PlayerID()),
		})
	}
}

// persistLocked writes the session through the store. Failures are logged
// and otherwise ignored; the in-memory state stays authoritative.
func (h *Host) persistLocked() {
	s := session.Session{
		MatchID:      h.matchID,
		GameName:     h.def.Name,
		NumPlayers:   h.numPlayers,
		State:        h.state,
		InitialState: h.initial,
		Log:          h.moveLog,
		Credentials:  h.gate.Bindings(),
		CreatedAt:    h.createdAt,
		UpdatedAt:    h.now(),
	}
	if err := h.store.Save(context.Background(), s); err != nil {
		h.log.Error().Err(err).Msg("session save failed, state kept in memory")
	}
}
