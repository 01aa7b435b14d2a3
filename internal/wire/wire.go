// Package wire defines the peer message envelope and the typed actions it
// carries. Every frame is a JSON object {"type": ..., "args": [...]}; the
// args layout depends on the type and on direction:
//
//	sync   (client->host)  []
//	sync   (host->client)  [matchID, {state, log}]
//	update (client->host)  [matchID, priorState, {type, args, playerID}]
//	update (host->client)  [matchID, state]
//	chat   (both ways)     [matchID, message, credential]
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/game"
)

const (
	TypeSync   = "sync"
	TypeUpdate = "update"
	TypeChat   = "chat"
)

// ErrUnknownType marks an envelope whose type has no decoder.
var ErrUnknownType = errors.New("wire: unknown message type")

// ErrMalformed marks an envelope whose args do not fit its type.
var ErrMalformed = errors.New("wire: malformed message")

// Action is one decoded peer message. The concrete types below are the
// only implementations; consumers dispatch with a type switch.
type Action interface{ isAction() }

// Sync asks the host to resend authoritative state. No payload.
type Sync struct{}

// SyncResponse carries the full authoritative snapshot plus the move log.
type SyncResponse struct {
	MatchID string
	State   game.MatchState
	Log     []LogEntry
}

// Update submits one move. Prior is the sender's last known state; the
// host derives nothing from it and it may be nil.
type Update struct {
	MatchID  string
	Prior    *game.MatchState
	Move     game.Move
	PlayerID game.PlayerID
}

// StateUpdate is the host's broadcast of a newly committed state.
type StateUpdate struct {
	MatchID string
	State   game.MatchState
}

// Chat relays an arbitrary message to everyone in the match, verbatim.
type Chat struct {
	MatchID    string
	Message    ChatMessage
	Credential string
}

func (Sync) isAction()         {}
func (SyncResponse) isAction() {}
func (Update) isAction()       {}
func (StateUpdate) isAction()  {}
func (Chat) isAction()         {}

// ChatMessage is the structured chat payload.
type ChatMessage struct {
	ID      string        `json:"id,omitempty"`
	Sender  game.PlayerID `json:"sender,omitempty"`
	Payload any           `json:"payload"`
}

// LogEntry records one accepted move and the version it produced.
type LogEntry struct {
	Move     game.Move     `json:"move"`
	PlayerID game.PlayerID `json:"playerID"`
	Version  int64         `json:"version"`
}

type envelope struct {
	Type string            `json:"type"`
	Args []json.RawMessage `json:"args"`
}

type movePayload struct {
	Type     string        `json:"type"`
	Args     []any         `json:"args,omitempty"`
	PlayerID game.PlayerID `json:"playerID"`
}

type syncBody struct {
	State game.MatchState `json:"state"`
	Log   []LogEntry      `json:"log"`
}

// Encode serializes an action into its envelope frame.
func Encode(a Action) ([]byte, error) {
	var env envelope
	var err error
	switch v := a.(type) {
	case Sync:
		env = envelope{Type: TypeSync, Args: []json.RawMessage{}}
	case SyncResponse:
		env.Type = TypeSync
		env.Args, err = marshalArgs(v.MatchID, syncBody{State: v.State, Log: v.Log})
	case Update:
		env.Type = TypeUpdate
		env.Args, err = marshalArgs(v.MatchID, v.Prior, movePayload{Type: v.Move.Type, Args: v.Move.Args, PlayerID: v.PlayerID})
	case StateUpdate:
		env.Type = TypeUpdate
		env.Args, err = marshalArgs(v.MatchID, v.State)
	case Chat:
		env.Type = TypeChat
		env.Args, err = marshalArgs(v.MatchID, v.Message, v.Credential)
	default:
		return nil, fmt.Errorf("wire: encode: unsupported action %T", a)
	}
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s: %w", env.Type, err)
	}
	return json.Marshal(env)
}

// Decode parses an envelope frame into its action. The prior-state slot of
// an inbound update is discarded unread; the host never trusts it.
func Decode(data []byte) (Action, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("wire: decode: %w", err)
	}
	switch env.Type {
	case TypeSync:
		if len(env.Args) < 2 {
			return Sync{}, nil
		}
		var r SyncResponse
		var body syncBody
		if err := unmarshalArgs(env.Args[:2], &r.MatchID, &body); err != nil {
			return nil, fmt.Errorf("%w: sync: %v", ErrMalformed, err)
		}
		r.State, r.Log = body.State, body.Log
		return r, nil

	case TypeUpdate:
		switch {
		case len(env.Args) >= 3:
			var u Update
			var mp movePayload
			if err := json.Unmarshal(env.Args[0], &u.MatchID); err != nil {
				return nil, fmt.Errorf("%w: update matchID: %v", ErrMalformed, err)
			}
			if err := json.Unmarshal(env.Args[2], &mp); err != nil {
				return nil, fmt.Errorf("%w: update move: %v", ErrMalformed, err)
			}
			u.Move = game.Move{Type: mp.Type, Args: mp.Args}
			u.PlayerID = mp.PlayerID
			return u, nil
		case len(env.Args) == 2:
			var s StateUpdate
			if err := unmarshalArgs(env.Args, &s.MatchID, &s.State); err != nil {
				return nil, fmt.Errorf("%w: state update: %v", ErrMalformed, err)
			}
			return s, nil
		default:
			return nil, fmt.Errorf("%w: update needs 2 or 3 args, got %d", ErrMalformed, len(env.Args))
		}

	case TypeChat:
		if len(env.Args) < 3 {
			return nil, fmt.Errorf("%w: chat needs 3 args, got %d", ErrMalformed, len(env.Args))
		}
		var c Chat
		if err := unmarshalArgs(env.Args[:3], &c.MatchID, &c.Message, &c.Credential); err != nil {
			return nil, fmt.Errorf("%w: chat: %v", ErrMalformed, err)
		}
		return c, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func marshalArgs(vals ...any) ([]json.RawMessage, error) {
	args := make([]json.RawMessage, 0, len(vals))
	for _, v := range vals {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		args = append(args, b)
	}
	return args, nil
}

func unmarshalArgs(args []json.RawMessage, dsts ...any) error {
	for i, dst := range dsts {
		if err := json.Unmarshal(args[i], dst); err != nil {
			return err
		}
	}
	return nil
}
