package transport

import (
	crand "crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/auth"
	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/game"
	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/host"
	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/wire"
)

const (
	pingInterval = 15 * time.Second
	sendBuffer   = 64
)

// Server owns the host peer's listening side: it maps rendezvous keys to
// hosts and bridges each accepted websocket into host registration plus
// action submission.
type Server struct {
	allowOrigins map[string]bool
	log          zerolog.Logger

	mu    sync.RWMutex
	hosts map[string]*host.Host
}

// NewServer builds a server allowing the given websocket origins. An
// empty list allows every origin.
func NewServer(allow []string, logger zerolog.Logger) *Server {
	m := map[string]bool{}
	for _, a := range allow {
		if a != "" {
			m[a] = true
		}
	}
	return &Server{
		allowOrigins: m,
		log:          logger,
		hosts:        map[string]*host.Host{},
	}
}

// Attach claims a rendezvous key for a host. The previous claim, if any,
// is replaced.
func (s *Server) Attach(key string, h *host.Host) {
	s.mu.Lock()
	s.hosts[key] = h
	s.mu.Unlock()
	s.log.Info().Str("key", key).Str("matchID", h.MatchID()).Msg("host attached")
}

// Detach releases a rendezvous key.
func (s *Server) Detach(key string) {
	s.mu.Lock()
	delete(s.hosts, key)
	s.mu.Unlock()
}

// Lookup resolves a rendezvous key to its host, or nil.
func (s *Server) Lookup(key string) *host.Host {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hosts[key]
}

// ---------- websockets ----------

// ServeWS upgrades one remote peer. Expected route: GET /ws/{key} with
// playerID, credential and proof as query parameters.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin != "" && len(s.allowOrigins) > 0 && !s.allowOrigins[origin] {
		http.Error(w, "forbidden origin", http.StatusForbidden)
		return
	}

	key := chi.URLParam(r, "key")
	h := s.Lookup(key)
	if h == nil {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	md := auth.ClientMetadata{
		PlayerID:   game.PlayerID(q.Get("playerID")),
		Credential: q.Get("credential"),
		Proof:      q.Get("proof"),
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}

	client := &remoteClient{
		id:   randID(),
		pid:  md.PlayerID,
		send: make(chan []byte, sendBuffer),
	}
	client.log = s.log.With().Str("client", client.id).Str("matchID", h.MatchID()).Logger()

	if err := h.RegisterClient(client, md); err != nil {
		// Fail closed: the peer sees only a closed socket, never a reason.
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	client.log.Info().Str("player", string(md.PlayerID)).Msg("client connected")

	// writer
	go func() {
		ping := time.NewTicker(pingInterval)
		defer func() { ping.Stop(); _ = conn.Close(websocket.StatusNormalClosure, "bye") }()
		for {
			select {
			case msg, ok := <-client.send:
				if !ok {
					return
				}
				_ = conn.Write(r.Context(), websocket.MessageText, msg)
			case <-ping.C:
				_ = conn.Ping(r.Context())
			}
		}
	}()

	// reader
	for {
		data, err := (wsConn{c: conn}).Read(r.Context())
		if err != nil {
			break
		}
		a, err := wire.Decode(data)
		if err != nil {
			client.log.Debug().Err(err).Msg("dropping undecodable frame")
			continue
		}
		h.Submit(client.id, a)
	}

	h.Unregister(client.id)
	close(client.send)
	client.log.Info().Msg("client disconnected")
}

// remoteClient adapts one websocket peer into the host's client
// interface. Deliver never blocks; a peer too slow to drain its queue
// loses frames and recovers through its next sync.
type remoteClient struct {
	id   string
	pid  game.PlayerID
	send chan []byte
	log  zerolog.Logger
}

func (c *remoteClient) ID() string              { return c.id }
func (c *remoteClient) PlayerID() game.PlayerID { return c.pid }

func (c *remoteClient) Deliver(a wire.Action) {
	b, err := wire.Encode(a)
	if err != nil {
		c.log.Error().Err(err).Msg("encode failed")
		return
	}
	select {
	case c.send <- b:
	default:
		c.log.Warn().Msg("send queue full, dropping frame")
	}
}

func randID() string {
	var b [8]byte
	_, _ = crand.Read(b[:])
	return hex.EncodeToString(b[:])
}
