package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/auth"
	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/game"
	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/host"
	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/wire"
)

// Options configures one peer's client.
type Options struct {
	GameName string
	MatchID  string
	PlayerID game.PlayerID
	Identity *auth.Identity // nil: connect without a credential

	// Host makes this peer the match authority: actions go straight into
	// it and no dialing happens. Leave nil for remote peers.
	Host *host.Host

	BaseURL      string        // ws endpoint prefix for remote peers, e.g. ws://127.0.0.1:8080/ws
	Dialer       Dialer        // nil: WebsocketDialer
	Retries      int           // dial attempts per (re)connect, default 5
	DialTimeout  time.Duration // per attempt, default 5s
	RetryDelay   time.Duration // between attempts, default 500ms
	WriteTimeout time.Duration // per outbound frame, default 5s

	Logger  zerolog.Logger
	OnError func(error)            // terminal connectivity failures
	OnChat  func(wire.ChatMessage) // relayed chat
}

// Client hides the host/remote distinction from the UI: it keeps a
// read-only projection of match state, refreshed by sync responses and
// broadcasts, and routes outbound actions to the right place.
//
// Subscribe callbacks run on the delivery goroutine. They must not submit
// actions synchronously; schedule instead (the bot manager's timers do).
type Client struct {
	mu   sync.Mutex
	opts Options
	log  zerolog.Logger

	generation int
	closed     bool
	connected  bool
	synced     bool
	cancel     context.CancelFunc

	conn    Conn   // remote mode, current session
	localID string // local mode, id registered with the host

	state game.MatchState
	mlog  []wire.LogEntry

	stateSubs []func(game.MatchState)
	connSubs  []func(bool)
}

// NewClient validates options and fills in defaults. Call Connect to go
// online.
func NewClient(opts Options) (*Client, error) {
	if opts.GameName == "" {
		return nil, errors.New("transport: missing game name")
	}
	if opts.MatchID == "" {
		return nil, errors.New("transport: missing match ID")
	}
	if opts.Host == nil && opts.BaseURL == "" {
		return nil, errors.New("transport: remote client needs a base URL")
	}
	if opts.Host != nil && opts.Host.MatchID() != opts.MatchID {
		return nil, fmt.Errorf("transport: host owns match %q, not %q", opts.Host.MatchID(), opts.MatchID)
	}
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.Retries <= 0 {
		opts.Retries = 5
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	c := &Client{opts: opts}
	c.log = opts.Logger.With().
		Str("matchID", opts.MatchID).
		Str("player", string(opts.PlayerID)).
		Logger()
	return c, nil
}

// ---------- lifecycle ----------

// Connect goes online. It never blocks and never returns an error:
// connectivity failures arrive through OnError once the retry budget is
// spent, and progress is visible through OnConnectionChange.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.generation++
	gen := c.generation
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	isHost := c.opts.Host != nil
	c.mu.Unlock()

	if isHost {
		c.connectLocal(gen)
		return
	}
	go c.run(ctx, gen)
}

// UpdateMatchID tears the connection down and reconnects against the new
// match. Identity changes are reconnections, never in-place mutation.
func (c *Client) UpdateMatchID(matchID string) {
	c.rebind(func() { c.opts.MatchID = matchID })
}

// UpdatePlayerID tears down and reconnects as the new player slot.
func (c *Client) UpdatePlayerID(p game.PlayerID) {
	c.rebind(func() { c.opts.PlayerID = p })
}

// UpdateCredentials tears down and reconnects with the new identity.
func (c *Client) UpdateCredentials(id *auth.Identity) {
	c.rebind(func() { c.opts.Identity = id })
}

// Close disconnects for good.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.rebind(func() {})
}

func (c *Client) rebind(mutate func()) {
	c.mu.Lock()
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	h, id := c.opts.Host, c.localID
	c.localID = ""
	mutate()
	wasConnected := c.connected
	c.connected = false
	c.synced = false
	subs := append(([]func(bool))(nil), c.connSubs...)
	closed := c.closed
	c.log = c.opts.Logger.With().
		Str("matchID", c.opts.MatchID).
		Str("player", string(c.opts.PlayerID)).
		Logger()
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if h != nil && id != "" {
		h.Unregister(id)
	}
	if wasConnected {
		for _, f := range subs {
			f(false)
		}
	}
	if !closed {
		c.Connect()
	}
}

// ---------- local mode ----------

func (c *Client) connectLocal(gen int) {
	c.mu.Lock()
	if c.generation != gen || c.closed {
		c.mu.Unlock()
		return
	}
	h := c.opts.Host
	if h.MatchID() != c.opts.MatchID {
		c.mu.Unlock()
		c.reportError(fmt.Errorf("transport: host owns match %q, not %q", h.MatchID(), c.opts.MatchID))
		return
	}
	id := randID()
	c.localID = id
	pid := c.opts.PlayerID
	c.mu.Unlock()

	h.RegisterHostClient(&localClient{c: c, id: id, pid: pid, gen: gen})
	c.setConnected(gen, true)
}

// localClient is the host peer's in-process registration. Snapshots are
// cloned on delivery so the UI can never alias the committed state.
type localClient struct {
	c   *Client
	id  string
	pid game.PlayerID
	gen int
}

func (l *localClient) ID() string              { return l.id }
func (l *localClient) PlayerID() game.PlayerID { return l.pid }

func (l *localClient) Deliver(a wire.Action) {
	if l.c.stale(l.gen) {
		return
	}
	switch v := a.(type) {
	case wire.SyncResponse:
		st, err := game.CloneState(v.State)
		if err != nil {
			l.c.log.Warn().Err(err).Msg("local snapshot clone failed")
		} else {
			v.State = st
		}
		l.c.receive(v)
	case wire.StateUpdate:
		st, err := game.CloneState(v.State)
		if err != nil {
			l.c.log.Warn().Err(err).Msg("local snapshot clone failed")
		} else {
			v.State = st
		}
		l.c.receive(v)
	default:
		l.c.receive(a)
	}
}

// ---------- remote mode ----------

func (c *Client) run(ctx context.Context, gen int) {
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error().Err(err).Msg("giving up on connecting")
			c.reportError(err)
			return
		}
		if !c.adoptConn(gen, conn) {
			_ = conn.Close()
			return
		}
		c.setConnected(gen, true)

		// A fresh connection knows nothing: ask for authoritative state
		// before trusting anything local.
		if err := c.writeConn(conn, wire.Sync{}); err != nil {
			c.log.Debug().Err(err).Msg("initial sync request failed")
		}

		c.readLoop(ctx, conn)

		c.dropConn(conn)
		c.setConnected(gen, false)
		if ctx.Err() != nil || c.stale(gen) {
			return
		}
		c.log.Info().Msg("connection lost, reconnecting")
		select {
		case <-time.After(c.opts.RetryDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) dial(ctx context.Context) (Conn, error) {
	addr := c.addr()
	var lastErr error
	for attempt := 1; attempt <= c.opts.Retries; attempt++ {
		dctx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
		conn, err := c.opts.Dialer.Dial(dctx, addr)
		cancel()
		if err == nil {
			return conn, nil
		}
		lastErr = err
		c.log.Debug().Err(err).Int("attempt", attempt).Msg("dial failed")
		select {
		case <-time.After(c.opts.RetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("transport: dial %s: %d attempts exhausted: %w", addr, c.opts.Retries, lastErr)
}

func (c *Client) addr() string {
	c.mu.Lock()
	opts := c.opts
	c.mu.Unlock()

	v := url.Values{}
	if opts.PlayerID != "" {
		v.Set("playerID", string(opts.PlayerID))
	}
	if opts.Identity != nil {
		md, err := opts.Identity.Metadata()
		if err != nil {
			c.log.Error().Err(err).Msg("identity proof failed")
		} else {
			v.Set("credential", md.Credential)
			v.Set("proof", md.Proof)
		}
	}
	u := opts.BaseURL + "/" + RendezvousKey(opts.GameName, opts.MatchID)
	if enc := v.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

func (c *Client) readLoop(ctx context.Context, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		a, err := wire.Decode(data)
		if err != nil {
			c.log.Debug().Err(err).Msg("dropping undecodable frame")
			continue
		}
		c.receive(a)
	}
}

func (c *Client) adoptConn(gen int, conn Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen || c.closed {
		return false
	}
	c.conn = conn
	return true
}

func (c *Client) dropConn(conn Conn) {
	_ = conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
}

func (c *Client) stale(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation != gen || c.closed
}

// ---------- inbound ----------

func (c *Client) receive(a wire.Action) {
	switch v := a.(type) {
	case wire.SyncResponse:
		c.mu.Lock()
		c.state = v.State
		c.mlog = v.Log
		c.synced = true
		subs := append(([]func(game.MatchState))(nil), c.stateSubs...)
		st := c.state
		c.mu.Unlock()
		for _, f := range subs {
			f(st)
		}
	case wire.StateUpdate:
		c.mu.Lock()
		c.state = v.State
		c.synced = true
		subs := append(([]func(game.MatchState))(nil), c.stateSubs...)
		st := c.state
		c.mu.Unlock()
		for _, f := range subs {
			f(st)
		}
	case wire.Chat:
		c.mu.Lock()
		cb := c.opts.OnChat
		c.mu.Unlock()
		if cb != nil {
			cb(v.Message)
		}
	default:
		c.log.Debug().Msg("ignoring unexpected inbound action")
	}
}

// ---------- outbound ----------

// SendAction routes one action: synchronously into the local host when
// this peer is the host, onto the data channel otherwise.
func (c *Client) SendAction(a wire.Action) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("transport: client closed")
	}
	h := c.opts.Host
	id := c.localID
	conn := c.conn
	c.mu.Unlock()

	if h != nil {
		if id == "" {
			return errors.New("transport: not connected")
		}
		h.Submit(id, a)
		return nil
	}
	if conn == nil {
		return errors.New("transport: not connected")
	}
	return c.writeConn(conn, a)
}

func (c *Client) writeConn(conn Conn, a wire.Action) error {
	b, err := wire.Encode(a)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteTimeout)
	defer cancel()
	return conn.Write(ctx, b)
}

// SendMove submits a named move as this peer's player. The latest known
// snapshot rides along in the update's prior-state slot; the host ignores
// it.
func (c *Client) SendMove(moveType string, args ...any) error {
	c.mu.Lock()
	prior := c.state
	matchID := c.opts.MatchID
	pid := c.opts.PlayerID
	c.mu.Unlock()

	return c.SendAction(wire.Update{
		MatchID:  matchID,
		Prior:    &prior,
		Move:     game.Move{Type: moveType, Args: args},
		PlayerID: pid,
	})
}

// SendChat relays an arbitrary payload to everyone in the match.
func (c *Client) SendChat(payload any) error {
	c.mu.Lock()
	matchID := c.opts.MatchID
	pid := c.opts.PlayerID
	cred := ""
	if c.opts.Identity != nil {
		cred = c.opts.Identity.Credential
	}
	c.mu.Unlock()

	return c.SendAction(wire.Chat{
		MatchID:    matchID,
		Message:    wire.ChatMessage{ID: uuid.NewString(), Sender: pid, Payload: payload},
		Credential: cred,
	})
}

// RequestSync asks the host to resend authoritative state.
func (c *Client) RequestSync() error {
	return c.SendAction(wire.Sync{})
}

// ---------- observation ----------

// Subscribe registers a state observer. If a snapshot has already
// arrived, the observer sees it immediately.
func (c *Client) Subscribe(fn func(game.MatchState)) {
	c.mu.Lock()
	c.stateSubs = append(c.stateSubs, fn)
	st := c.state
	synced := c.synced
	c.mu.Unlock()
	if synced {
		fn(st)
	}
}

// OnConnectionChange registers a connectivity observer.
func (c *Client) OnConnectionChange(fn func(bool)) {
	c.mu.Lock()
	c.connSubs = append(c.connSubs, fn)
	connected := c.connected
	c.mu.Unlock()
	fn(connected)
}

// Connected reports whether the peer currently has a live channel (or a
// live host registration in local mode).
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// State returns the latest known snapshot.
func (c *Client) State() game.MatchState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Log returns the move log from the last sync response.
func (c *Client) Log() []wire.LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wire.LogEntry(nil), c.mlog...)
}

// PlayerID returns the slot this client currently plays.
func (c *Client) PlayerID() game.PlayerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.PlayerID
}

func (c *Client) setConnected(gen int, v bool) {
	c.mu.Lock()
	if c.generation != gen || c.closed || c.connected == v {
		c.mu.Unlock()
		return
	}
	c.connected = v
	subs := append(([]func(bool))(nil), c.connSubs...)
	c.mu.Unlock()
	for _, f := range subs {
		f(v)
	}
}

func (c *Client) reportError(err error) {
	c.mu.Lock()
	cb := c.opts.OnError
	c.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}
