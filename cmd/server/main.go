package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/bot"
	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/game"
	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/games/tictactoe"
	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/host"
	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/script"
	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/session"
	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/transport"
)

func main() {
	_ = godotenv.Load()

	demo := flag.Bool("demo", false, "play one bot-vs-bot match in process and exit")
	difficulty := flag.String("difficulty", "medium", "bot difficulty for -demo")
	flag.Parse()

	logger := newLogger()

	games := map[string]*game.Game{}
	register := func(def *game.Game) {
		games[def.Name] = def
		logger.Info().Str("game", def.Name).Msg("game registered")
	}
	register(tictactoe.Game())
	if dir := os.Getenv("GAMES_DIR"); dir != "" {
		defs, err := script.LoadDir(dir, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("dir", dir).Msg("loading game scripts")
		}
		for _, def := range defs {
			register(def)
		}
	}

	if *demo {
		if err := runDemo(logger, games["tictactoe"], *difficulty); err != nil {
			logger.Fatal().Err(err).Msg("demo failed")
		}
		return
	}

	port := getenv("PORT", "8080")
	allow := splitNonEmpty(getenv("ORIGIN_ALLOWLIST", "http://localhost:"+port+",http://127.0.0.1:"+port))

	store, err := session.OpenSQLite(getenv("DB_PATH", "data/turnwire.db"))
	if err != nil {
		logger.Fatal().Err(err).Msg("opening session store")
	}

	a := &app{
		log:       logger,
		games:     games,
		store:     store,
		ws:        transport.NewServer(allow, logger),
		publicURL: strings.TrimRight(getenv("PUBLIC_URL", "http://localhost:"+port), "/"),
		matches:   map[string]*match{},
	}

	r := chi.NewRouter()
	r.Use(cors(allow))
	r.Get("/health", health)
	r.Get("/games", a.listGames)
	r.Post("/matches", a.createMatch)
	r.Get("/matches/{matchID}", a.matchStatus)
	r.Get("/matches/{matchID}/qr", a.matchQR)
	r.Get("/join/{matchID}", a.joinInfo)
	r.Get("/ws/{key}", a.ws.ServeWS)

	srv := &http.Server{Addr: ":" + port, Handler: r}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("port", port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info().Msg("bye")
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(getenv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)
}

// ---------- match management ----------

type app struct {
	log       zerolog.Logger
	games     map[string]*game.Game
	store     session.Store
	ws        *transport.Server
	publicURL string

	mu      sync.Mutex
	matches map[string]*match
}

type match struct {
	host *host.Host
	game string
	key  string
}

type matchInfo struct {
	MatchID    string `json:"matchID"`
	Game       string `json:"game"`
	NumPlayers int    `json:"numPlayers"`
	Key        string `json:"key"`
	WSPath     string `json:"wsPath"`
	JoinURL    string `json:"joinURL"`
}

func (a *app) info(matchID string, m *match) matchInfo {
	return matchInfo{
		MatchID:    matchID,
		Game:       m.game,
		NumPlayers: m.host.NumPlayers(),
		Key:        m.key,
		WSPath:     "/ws/" + m.key,
		JoinURL:    a.publicURL + "/join/" + matchID,
	}
}

func (a *app) lookup(matchID string) *match {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.matches[matchID]
}

func (a *app) createMatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Game       string `json:"game"`
		MatchID    string `json:"matchID,omitempty"`
		NumPlayers int    `json:"numPlayers,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	def, ok := a.games[req.Game]
	if !ok {
		httpError(w, http.StatusNotFound, fmt.Sprintf("unknown game %q", req.Game))
		return
	}
	if req.MatchID == "" {
		req.MatchID = uuid.NewString()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if existing, ok := a.matches[req.MatchID]; ok {
		if existing.game != def.Name {
			httpError(w, http.StatusConflict,
				fmt.Sprintf("match %q already hosts %q", req.MatchID, existing.game))
			return
		}
		writeJSON(w, http.StatusOK, a.info(req.MatchID, existing))
		return
	}

	h, err := host.New(host.Options{
		Game:       def,
		MatchID:    req.MatchID,
		NumPlayers: req.NumPlayers,
		Store:      a.store,
		Logger:     a.log,
	})
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	key := transport.RendezvousKey(def.Name, req.MatchID)
	a.ws.Attach(key, h)
	m := &match{host: h, game: def.Name, key: key}
	a.matches[req.MatchID] = m

	a.log.Info().Str("matchID", req.MatchID).Str("game", def.Name).Msg("match created")
	writeJSON(w, http.StatusCreated, a.info(req.MatchID, m))
}

func (a *app) matchStatus(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	m := a.lookup(matchID)
	if m == nil {
		httpError(w, http.StatusNotFound, "unknown match")
		return
	}
	st, err := m.host.State()
	if err != nil {
		httpError(w, http.StatusInternalServerError, "state unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"matchID":       matchID,
		"game":          m.game,
		"version":       st.Version,
		"turn":          st.Ctx.Turn,
		"currentPlayer": st.Ctx.CurrentPlayer,
		"over":          st.Ctx.Gameover != nil,
	})
}

func (a *app) joinInfo(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	m := a.lookup(matchID)
	if m == nil {
		httpError(w, http.StatusNotFound, "unknown match")
		return
	}
	writeJSON(w, http.StatusOK, a.info(matchID, m))
}

func (a *app) matchQR(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	m := a.lookup(matchID)
	if m == nil {
		httpError(w, http.StatusNotFound, "unknown match")
		return
	}
	png, err := qrcode.Encode(a.publicURL+"/join/"+matchID, qrcode.Medium, 256)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "qr encoding failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func (a *app) listGames(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(a.games))
	for name := range a.games {
		names = append(names, name)
	}
	slices.Sort(names)
	writeJSON(w, http.StatusOK, map[string]any{"games": names})
}

func health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ---------- demo mode ----------

// runDemo plays one bot-vs-bot match in process: two local clients on the
// same host, each driving one slot, no network involved.
func runDemo(logger zerolog.Logger, def *game.Game, difficulty string) error {
	matchID := "demo-" + uuid.NewString()[:8]
	h, err := host.New(host.Options{Game: def, MatchID: matchID, NumPlayers: 2, Logger: logger})
	if err != nil {
		return err
	}

	ptr := func(d time.Duration) *time.Duration { return &d }
	done := make(chan game.MatchState, 1)

	for _, slot := range []game.PlayerID{"0", "1"} {
		client, err := transport.NewClient(transport.Options{
			GameName: def.Name,
			MatchID:  matchID,
			PlayerID: slot,
			Host:     h,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		defer client.Close()

		mgr, err := bot.NewManager(bot.Options{
			Game: def,
			Config: bot.Config{
				Difficulty: difficulty,
				Delay:      ptr(300 * time.Millisecond),
				MinDelay:   ptr(100 * time.Millisecond),
			},
			Logger: logger,
		})
		if err != nil {
			return err
		}
		defer mgr.Dispose()

		client.Subscribe(func(st game.MatchState) {
			if slot == "0" && st.Version > 0 {
				logger.Info().
					Int64("version", st.Version).
					Str("currentPlayer", string(st.Ctx.CurrentPlayer)).
					Msg("state committed")
			}
			if st.Ctx.Gameover != nil {
				select {
				case done <- st:
				default:
				}
			}
			mgr.MaybePlayBot(st, []game.PlayerID{slot}, func(mv game.Move) error {
				return client.SendMove(mv.Type, mv.Args...)
			})
		})
		client.Connect()
	}

	select {
	case st := <-done:
		if winner, ok := st.Ctx.Winner(); ok {
			logger.Info().Str("winner", string(winner)).Int64("version", st.Version).Msg("demo finished")
		} else {
			logger.Info().Int64("version", st.Version).Msg("demo finished in a draw")
		}
		return nil
	case <-time.After(2 * time.Minute):
		return errors.New("demo timed out")
	}
}

// ---------- helpers ----------

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func cors(allow []string) func(http.Handler) http.Handler {
	allowSet := map[string]struct{}{}
	for _, a := range allow {
		allowSet[a] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if _, ok := allowSet[origin]; ok {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
				}
			}
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
