package game

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Cloner lets a game supply a cheaper deep copy than the JSON round trip.
type Cloner interface {
	CloneG() any
}

// CloneValue deep-copies a game-defined value. The default path serializes
// through JSON and rebuilds the same dynamic type, so pointer Gs come back
// as pointers of the original type, not as generic maps.
func CloneValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if c, ok := v.(Cloner); ok {
		return c.CloneG(), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("clone: marshal: %w", err)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		out := reflect.New(rv.Type().Elem())
		if err := json.Unmarshal(b, out.Interface()); err != nil {
			return nil, fmt.Errorf("clone: unmarshal: %w", err)
		}
		return out.Interface(), nil
	}
	out := reflect.New(rv.Type())
	if err := json.Unmarshal(b, out.Interface()); err != nil {
		return nil, fmt.Errorf("clone: unmarshal: %w", err)
	}
	return out.Elem().Interface(), nil
}

// Rehydrate rebuilds a value of prototype's dynamic type from data, which
// typically arrived as generic maps out of a JSON store. Hosts use it to
// hand move functions the concrete G type their setup produced rather than
// a map[string]any.
func Rehydrate(prototype, data any) (any, error) {
	if prototype == nil || data == nil {
		return data, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("rehydrate: marshal: %w", err)
	}
	rv := reflect.ValueOf(prototype)
	if rv.Kind() == reflect.Pointer {
		out := reflect.New(rv.Type().Elem())
		if err := json.Unmarshal(b, out.Interface()); err != nil {
			return nil, fmt.Errorf("rehydrate: unmarshal: %w", err)
		}
		return out.Interface(), nil
	}
	out := reflect.New(rv.Type())
	if err := json.Unmarshal(b, out.Interface()); err != nil {
		return nil, fmt.Errorf("rehydrate: unmarshal: %w", err)
	}
	return out.Elem().Interface(), nil
}

// CloneState deep-copies a full snapshot. Mutating the clone can never leak
// into the original; the host relies on that to keep committed state intact
// when a move function fails midway.
func CloneState(st MatchState) (MatchState, error) {
	g, err := CloneValue(st.G)
	if err != nil {
		return MatchState{}, err
	}
	ctxBytes, err := json.Marshal(st.Ctx)
	if err != nil {
		return MatchState{}, fmt.Errorf("clone: marshal ctx: %w", err)
	}
	var ctx Context
	if err := json.Unmarshal(ctxBytes, &ctx); err != nil {
		return MatchState{}, fmt.Errorf("clone: unmarshal ctx: %w", err)
	}
	return MatchState{G: g, Ctx: ctx, Version: st.Version}, nil
}
