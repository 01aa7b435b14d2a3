// Package bot drives non-human player slots. A Manager observes every
// state change; when the acting slot is bot-controlled it picks a move
// through a pluggable strategy and applies it after an artificial
// thinking delay.
package bot

import (
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/game"
)

// State is the observable thinking indicator.
type State struct {
	IsThinking     bool
	ThinkingPlayer game.PlayerID
}

// Options configures a Manager.
type Options struct {
	Game   *game.Game
	Config Config
	Logger zerolog.Logger
	Rand   *rand.Rand // nil: time-seeded
}

// Manager schedules bot moves for one peer. Per slot it moves through
// idle -> thinking (timer pending) -> executing (apply running) and back;
// a fresh observation cancels a pending timer outright, while one that
// lands mid-apply is replayed once the apply finishes.
type Manager struct {
	def *game.Game
	cfg ResolvedConfig
	log zerolog.Logger
	rng *rand.Rand

	mu         sync.Mutex
	disposed   bool
	generation int
	timer      *time.Timer
	executing  bool
	pending    *observation
	state      State
	subs       []func(State)
}

type observation struct {
	st    game.MatchState
	bots  []game.PlayerID
	apply func(game.Move) error
}

// NewManager resolves the bot configuration for a game and returns a
// ready manager.
func NewManager(opts Options) (*Manager, error) {
	if err := opts.Game.Validate(); err != nil {
		return nil, err
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	cfg, err := Resolve(opts.Game, opts.Config, rng)
	if err != nil {
		return nil, err
	}
	return &Manager{def: opts.Game, cfg: cfg, log: opts.Logger, rng: rng}, nil
}

// Config returns the resolved tuning in effect.
func (m *Manager) Config() ResolvedConfig { return m.cfg }

// MaybePlayBot is called after every observed state change. When the
// derived current actor is in bots, exactly one move is picked and
// scheduled; apply runs after the resolved delay. Any previously pending
// move is cancelled first, never left to fire against stale state.
func (m *Manager) MaybePlayBot(st game.MatchState, bots []game.PlayerID, apply func(game.Move) error) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.cancelPendingLocked()

	if m.executing {
		// A move is mid-apply. Keep only the freshest observation and
		// replay it when the apply returns, otherwise bot-vs-bot games
		// stall after the first move.
		m.pending = &observation{st: st, bots: bots, apply: apply}
		m.mu.Unlock()
		return
	}

	actor := game.Actor(m.def, st)
	if st.Ctx.Gameover != nil || !slices.Contains(bots, actor) || m.def.Enumerate == nil {
		notify := m.setStateLocked(State{})
		m.mu.Unlock()
		notify()
		return
	}
	legal := m.def.Enumerate(st.G, &st.Ctx)
	if len(legal) == 0 {
		notify := m.setStateLocked(State{})
		m.mu.Unlock()
		notify()
		return
	}

	mv, viaStrategy := m.pickLocked(st, legal, actor)
	delay := m.nextDelayLocked()
	gen := m.generation
	notify := m.setStateLocked(State{IsThinking: true, ThinkingPlayer: actor})
	m.timer = time.AfterFunc(delay, func() { m.fire(gen, mv, apply) })
	m.log.Debug().
		Str("player", string(actor)).
		Str("move", mv.Type).
		Bool("viaStrategy", viaStrategy).
		Dur("delay", delay).
		Msg("bot move scheduled")
	m.mu.Unlock()
	notify()
}

// pickLocked selects a move: a deliberate mistake with probability
// MistakeRate, the strategy's preference otherwise, uniform random when
// the strategy declines the position.
func (m *Manager) pickLocked(st game.MatchState, legal []game.Move, actor game.PlayerID) (game.Move, bool) {
	if m.rng.Float64() < m.cfg.MistakeRate {
		return legal[m.rng.Intn(len(legal))], false
	}
	if mv, ok := m.cfg.Strategy.Pick(m.def, st, legal, actor); ok {
		return mv, true
	}
	return legal[m.rng.Intn(len(legal))], false
}

func (m *Manager) fire(gen int, mv game.Move, apply func(game.Move) error) {
	m.mu.Lock()
	if m.disposed || gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.executing = true
	notify := m.setStateLocked(State{})
	m.mu.Unlock()
	notify()

	if err := apply(mv); err != nil {
		m.log.Warn().Err(err).Str("move", mv.Type).Msg("bot move failed")
	}

	m.mu.Lock()
	m.executing = false
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	if pending != nil {
		m.MaybePlayBot(pending.st, pending.bots, pending.apply)
	}
}

func (m *Manager) cancelPendingLocked() {
	m.generation++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) nextDelayLocked() time.Duration {
	if m.cfg.MinDelay > 0 && m.cfg.MinDelay < m.cfg.Delay {
		span := int64(m.cfg.Delay - m.cfg.MinDelay)
		return m.cfg.MinDelay + time.Duration(m.rng.Int63n(span+1))
	}
	return m.cfg.Delay
}

// setStateLocked records the new state and returns the notification to
// run after the lock is released.
func (m *Manager) setStateLocked(s State) func() {
	if m.state == s {
		return func() {}
	}
	m.state = s
	subs := append(([]func(State))(nil), m.subs...)
	return func() {
		for _, f := range subs {
			f(s)
		}
	}
}

// Subscribe registers a thinking-state observer and calls it immediately
// with the current state.
func (m *Manager) Subscribe(fn func(State)) {
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	cur := m.state
	m.mu.Unlock()
	fn(cur)
}

// BotState returns the current thinking indicator.
func (m *Manager) BotState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Dispose cancels any scheduled move and drops all subscribers.
func (m *Manager) Dispose() {
	m.mu.Lock()
	m.disposed = true
	m.cancelPendingLocked()
	m.pending = nil
	m.subs = nil
	m.state = State{}
	m.mu.Unlock()
}
