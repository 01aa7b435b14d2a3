// Package script loads game definitions from Lua. A script defines the
// same contract native games implement in Go: a setup function, a moves
// table, and optional enumerate / current_actor hooks.
//
//	name = "bump"
//
//	function setup(ctx)
//	  return { score = 0 }
//	end
//
//	moves = {
//	  bump = function(g, ctx, player, amount)
//	    if player ~= ctx.currentPlayer then
//	      return "not your turn"
//	    end
//	    g.score = g.score + (amount or 1)
//	  end,
//	}
//
// Move functions mutate g and ctx in place and return a string to reject
// the move. Scripted state is a plain table and crosses the boundary as
// map[string]any, so it replicates and persists exactly like native
// state. One Lua state backs each loaded definition and is serialized
// behind a mutex.
package script

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"

	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/game"
)

// Load reads one game definition from a .lua file. The file name is the
// fallback when the script sets no name global.
func Load(path string) (*game.Game, error) {
	base := strings.TrimSuffix(filepath.Base(path), ".lua")
	return load(base, func(L *lua.LState) error { return L.DoFile(path) })
}

// LoadString parses a definition from Lua source.
func LoadString(src string) (*game.Game, error) {
	return load("", func(L *lua.LState) error { return L.DoString(src) })
}

// LoadDir loads every *.lua file in dir. Definitions that fail to load
// are skipped with a warning so one broken script cannot take down the
// whole registry.
func LoadDir(dir string, log zerolog.Logger) ([]*game.Game, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("script: %w", err)
	}
	var defs []*game.Game
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lua") {
			continue
		}
		def, err := Load(filepath.Join(dir, e.Name()))
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name()).Msg("skipping game script")
			continue
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// luaGame owns the interpreter state behind one definition. lua.LState is
// not safe for concurrent use; every entry point takes mu.
type luaGame struct {
	mu    sync.Mutex
	L     *lua.LState
	setup *lua.LFunction
}

func load(fallbackName string, run func(*lua.LState) error) (*game.Game, error) {
	L := lua.NewState()
	if err := run(L); err != nil {
		L.Close()
		return nil, fmt.Errorf("script: %w", err)
	}

	name := fallbackName
	if v, ok := L.GetGlobal("name").(lua.LString); ok && v != "" {
		name = string(v)
	}
	if name == "" {
		L.Close()
		return nil, errors.New("script: missing name")
	}

	s := &luaGame{L: L}
	var ok bool
	if s.setup, ok = L.GetGlobal("setup").(*lua.LFunction); !ok {
		L.Close()
		return nil, fmt.Errorf("script: %s: missing setup function", name)
	}
	movesTable, ok := L.GetGlobal("moves").(*lua.LTable)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("script: %s: missing moves table", name)
	}

	moves := map[string]game.MoveFunc{}
	var badEntry error
	movesTable.ForEach(func(k, v lua.LValue) {
		mvName, kOK := k.(lua.LString)
		fn, vOK := v.(*lua.LFunction)
		if !kOK || !vOK {
			badEntry = fmt.Errorf("script: %s: moves must map names to functions", name)
			return
		}
		moves[string(mvName)] = s.moveFunc(fn)
	})
	if badEntry != nil {
		L.Close()
		return nil, badEntry
	}
	if len(moves) == 0 {
		L.Close()
		return nil, fmt.Errorf("script: %s: no moves defined", name)
	}

	def := &game.Game{
		Name:  name,
		Setup: s.setupFunc(),
		Moves: moves,
	}
	if fn, ok := L.GetGlobal("enumerate").(*lua.LFunction); ok {
		def.Enumerate = s.enumerateFunc(fn)
	}
	if fn, ok := L.GetGlobal("current_actor").(*lua.LFunction); ok {
		def.CurrentActor = s.actorFunc(fn)
	}
	if t, ok := L.GetGlobal("difficulty").(*lua.LTable); ok {
		def.Difficulty = difficultyFromLua(t)
	}

	// Run setup once so scripts that blow up on first use fail at load
	// time, not mid-match.
	trial := game.NewContext(2)
	if _, err := s.runSetup(&trial); err != nil {
		L.Close()
		return nil, fmt.Errorf("script: %s: %w", name, err)
	}
	return def, nil
}

// ---------- contract closures ----------

func (s *luaGame) setupFunc() func(ctx *game.Context) any {
	return func(ctx *game.Context) any {
		g, err := s.runSetup(ctx)
		if err != nil {
			// Load already proved setup works once; a later failure
			// yields an empty position rather than a panic.
			return map[string]any{}
		}
		return g
	}
}

func (s *luaGame) runSetup(ctx *game.Context) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ct := ctxToLua(s.L, ctx)
	if err := s.L.CallByParam(lua.P{Fn: s.setup, NRet: 1, Protect: true}, ct); err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}
	ret := s.L.Get(-1)
	s.L.Pop(1)

	t, ok := ret.(*lua.LTable)
	if !ok {
		return nil, errors.New("setup must return a table")
	}
	m, ok := tableToGo(t).(map[string]any)
	if !ok {
		return nil, errors.New("setup must return a map-like table")
	}
	ctxFromLua(ct, ctx)
	return m, nil
}

func (s *luaGame) moveFunc(fn *lua.LFunction) game.MoveFunc {
	return func(g any, ctx *game.Context, player game.PlayerID, args ...any) error {
		gm, ok := g.(map[string]any)
		if !ok {
			return fmt.Errorf("script: state is %T, want a table", g)
		}
		s.mu.Lock()
		defer s.mu.Unlock()

		gt := toLua(s.L, gm).(*lua.LTable)
		ct := ctxToLua(s.L, ctx)
		callArgs := make([]lua.LValue, 0, 3+len(args))
		callArgs = append(callArgs, gt, ct, lua.LString(player))
		for _, a := range args {
			callArgs = append(callArgs, toLua(s.L, a))
		}
		if err := s.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, callArgs...); err != nil {
			return fmt.Errorf("script: %w", err)
		}
		ret := s.L.Get(-1)
		s.L.Pop(1)
		if msg, ok := ret.(lua.LString); ok && msg != "" {
			return errors.New(string(msg))
		}

		next, ok := tableToGo(gt).(map[string]any)
		if !ok {
			return errors.New("script: move left the state non-table")
		}
		clear(gm)
		maps.Copy(gm, next)
		ctxFromLua(ct, ctx)
		return nil
	}
}

func (s *luaGame) enumerateFunc(fn *lua.LFunction) func(g any, ctx *game.Context) []game.Move {
	return func(g any, ctx *game.Context) []game.Move {
		gm, ok := g.(map[string]any)
		if !ok {
			return nil
		}
		s.mu.Lock()
		defer s.mu.Unlock()

		gt := toLua(s.L, gm)
		ct := ctxToLua(s.L, ctx)
		if err := s.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, gt, ct); err != nil {
			return nil
		}
		ret := s.L.Get(-1)
		s.L.Pop(1)

		t, ok := ret.(*lua.LTable)
		if !ok {
			return nil
		}
		var moves []game.Move
		for i := 1; i <= t.MaxN(); i++ {
			entry, ok := t.RawGetInt(i).(*lua.LTable)
			if !ok {
				continue
			}
			mvType, ok := entry.RawGetString("type").(lua.LString)
			if !ok {
				continue
			}
			mv := game.Move{Type: string(mvType)}
			if argsT, ok := entry.RawGetString("args").(*lua.LTable); ok {
				for j := 1; j <= argsT.MaxN(); j++ {
					mv.Args = append(mv.Args, toGo(argsT.RawGetInt(j)))
				}
			}
			moves = append(moves, mv)
		}
		return moves
	}
}

func (s *luaGame) actorFunc(fn *lua.LFunction) func(g any, ctx *game.Context) game.PlayerID {
	return func(g any, ctx *game.Context) game.PlayerID {
		gm, ok := g.(map[string]any)
		if !ok {
			return ctx.CurrentPlayer
		}
		s.mu.Lock()
		defer s.mu.Unlock()

		gt := toLua(s.L, gm)
		ct := ctxToLua(s.L, ctx)
		if err := s.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, gt, ct); err != nil {
			return ctx.CurrentPlayer
		}
		ret := s.L.Get(-1)
		s.L.Pop(1)
		if p, ok := ret.(lua.LString); ok {
			return game.PlayerID(p)
		}
		return ctx.CurrentPlayer
	}
}

// ---------- value conversion ----------

// toLua maps the JSON value domain onto Lua. Anything outside it becomes
// nil rather than leaking Go values into the script.
func toLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case int:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	case string:
		return lua.LString(x)
	case game.PlayerID:
		return lua.LString(x)
	case []any:
		t := L.NewTable()
		for _, e := range x {
			t.Append(toLua(L, e))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, e := range x {
			t.RawSetString(k, toLua(L, e))
		}
		return t
	default:
		return lua.LNil
	}
}

func toGo(v lua.LValue) any {
	switch x := v.(type) {
	case lua.LBool:
		return bool(x)
	case lua.LNumber:
		return float64(x)
	case lua.LString:
		return string(x)
	case *lua.LTable:
		return tableToGo(x)
	default:
		return nil
	}
}

// tableToGo converts a table with positional entries to a slice and
// anything else, the empty table included, to a map.
func tableToGo(t *lua.LTable) any {
	if n := t.MaxN(); n > 0 {
		arr := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			arr = append(arr, toGo(t.RawGetInt(i)))
		}
		return arr
	}
	m := map[string]any{}
	t.ForEach(func(k, v lua.LValue) {
		m[lua.LVAsString(k)] = toGo(v)
	})
	return m
}

// ---------- context bridging ----------

// ctxToLua mirrors the context under the same field names the wire format
// uses, so scripted and native games read the same shape.
func ctxToLua(L *lua.LState, ctx *game.Context) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("currentPlayer", lua.LString(ctx.CurrentPlayer))
	t.RawSetString("turn", lua.LNumber(ctx.Turn))
	t.RawSetString("phase", lua.LString(ctx.Phase))
	t.RawSetString("playOrder", playersToLua(L, ctx.PlayOrder))
	t.RawSetString("activePlayers", playersToLua(L, ctx.ActivePlayers))
	t.RawSetString("gameover", toLua(L, ctx.Gameover))
	return t
}

func ctxFromLua(t *lua.LTable, ctx *game.Context) {
	if v, ok := t.RawGetString("currentPlayer").(lua.LString); ok {
		ctx.CurrentPlayer = game.PlayerID(v)
	}
	if v, ok := t.RawGetString("turn").(lua.LNumber); ok {
		ctx.Turn = int(v)
	}
	if v, ok := t.RawGetString("phase").(lua.LString); ok {
		ctx.Phase = string(v)
	}
	if order, ok := playersFromLua(t.RawGetString("playOrder")); ok {
		ctx.PlayOrder = order
	}
	if active, ok := playersFromLua(t.RawGetString("activePlayers")); ok {
		ctx.ActivePlayers = active
	}
	ctx.Gameover = toGo(t.RawGetString("gameover"))
}

func playersToLua(L *lua.LState, players []game.PlayerID) *lua.LTable {
	t := L.NewTable()
	for _, p := range players {
		t.Append(lua.LString(p))
	}
	return t
}

func playersFromLua(v lua.LValue) ([]game.PlayerID, bool) {
	t, ok := v.(*lua.LTable)
	if !ok {
		return nil, false
	}
	players := make([]game.PlayerID, 0, t.MaxN())
	for i := 1; i <= t.MaxN(); i++ {
		s, ok := t.RawGetInt(i).(lua.LString)
		if !ok {
			return nil, false
		}
		players = append(players, game.PlayerID(s))
	}
	return players, true
}

// ---------- difficulty table ----------

func difficultyFromLua(t *lua.LTable) map[string]game.BotTuning {
	out := map[string]game.BotTuning{}
	t.ForEach(func(k, v lua.LValue) {
		level, ok := k.(lua.LString)
		if !ok {
			return
		}
		entry, ok := v.(*lua.LTable)
		if !ok {
			return
		}
		tuning := game.BotTuning{}
		if s, ok := entry.RawGetString("strategy").(lua.LString); ok {
			tuning.Strategy = string(s)
		}
		if n, ok := entry.RawGetString("delay_ms").(lua.LNumber); ok {
			tuning.Delay = time.Duration(n) * time.Millisecond
		}
		if n, ok := entry.RawGetString("min_delay_ms").(lua.LNumber); ok {
			tuning.MinDelay = time.Duration(n) * time.Millisecond
		}
		if n, ok := entry.RawGetString("search_budget").(lua.LNumber); ok {
			tuning.SearchBudget = int(n)
		}
		if n, ok := entry.RawGetString("mistake_rate").(lua.LNumber); ok {
			tuning.MistakeRate = float64(n)
		}
		out[string(level)] = tuning
	})
	return out
}
