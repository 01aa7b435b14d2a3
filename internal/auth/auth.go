// Package auth binds per-player credentials to match slots and verifies
// them on later contacts. A credential is the base64 of an Ed25519 public
// key; the proof is a JWT signed by the matching private key with the
// player ID as subject. This is an integrity check against accidental
// credential mix-ups between casual peers, not a defense against an
// adversary who can observe the channel.
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/game"
)

// ErrRejected is the root of every admission failure. Hosts log it and
// drop the peer without sending a denial.
var ErrRejected = errors.New("auth: rejected")

// ClientMetadata is what a connecting peer presents about itself.
// An empty PlayerID marks a spectator.
type ClientMetadata struct {
	PlayerID   game.PlayerID
	Credential string
	Proof      string
}

// ---------- identities ----------

// Identity is the client-side key pair behind one credential.
type Identity struct {
	PlayerID   game.PlayerID
	Credential string

	priv ed25519.PrivateKey
}

// NewIdentity generates a fresh key pair for a player slot.
func NewIdentity(playerID game.PlayerID) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("auth: generate key: %w", err)
	}
	return &Identity{
		PlayerID:   playerID,
		Credential: base64.StdEncoding.EncodeToString(pub),
		priv:       priv,
	}, nil
}

// Proof signs a fresh possession proof for this identity.
func (id *Identity) Proof() (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.RegisteredClaims{
		Subject: string(id.PlayerID),
	})
	s, err := tok.SignedString(id.priv)
	if err != nil {
		return "", fmt.Errorf("auth: sign proof: %w", err)
	}
	return s, nil
}

// Metadata bundles the identity into connection metadata.
func (id *Identity) Metadata() (ClientMetadata, error) {
	proof, err := id.Proof()
	if err != nil {
		return ClientMetadata{}, err
	}
	return ClientMetadata{PlayerID: id.PlayerID, Credential: id.Credential, Proof: proof}, nil
}

// VerifyProof checks that proof was signed by the private key behind
// credential and names playerID as its subject.
func VerifyProof(credential, proof string, playerID game.PlayerID) error {
	tok, err := jwt.Parse(proof, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		raw, err := base64.StdEncoding.DecodeString(credential)
		if err != nil {
			return nil, fmt.Errorf("credential is not base64: %w", err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("credential is not an ed25519 key (%d bytes)", len(raw))
		}
		return ed25519.PublicKey(raw), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}))
	if err != nil {
		return fmt.Errorf("%w: proof: %v", ErrRejected, err)
	}
	sub, err := tok.Claims.GetSubject()
	if err != nil || sub != string(playerID) {
		return fmt.Errorf("%w: proof subject %q does not name player %q", ErrRejected, sub, playerID)
	}
	return nil
}

// ---------- slot gate ----------

// Gate tracks credential bindings for one match. Each slot starts unbound;
// the first contact that offers a verifiable credential binds it for the
// rest of the match.
type Gate struct {
	mu    sync.Mutex
	slots map[game.PlayerID]struct{}
	bound map[game.PlayerID]string
}

// NewGate builds a gate for slots "0".."numPlayers-1".
func NewGate(numPlayers int) *Gate {
	g := &Gate{
		slots: make(map[game.PlayerID]struct{}, numPlayers),
		bound: make(map[game.PlayerID]string),
	}
	for _, p := range game.PlayOrder(numPlayers) {
		g.slots[p] = struct{}{}
	}
	return g
}

// Restore seeds bindings from a persisted session.
func (g *Gate) Restore(bindings map[game.PlayerID]string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for p, cred := range bindings {
		if cred != "" {
			g.bound[p] = cred
		}
	}
}

// Bindings snapshots the current credential map for persistence.
func (g *Gate) Bindings() map[game.PlayerID]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[game.PlayerID]string, len(g.bound))
	for p, cred := range g.bound {
		out[p] = cred
	}
	return out
}

// Admit decides whether a peer may join. Spectators and IDs outside the
// slot set always pass. An unbound slot admits bare contacts untouched and
// binds the credential of the first contact that proves possession. A
// bound slot admits only the exact bound credential with a fresh proof.
func (g *Gate) Admit(md ClientMetadata) error {
	if md.PlayerID == "" {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.slots[md.PlayerID]; !ok {
		return nil
	}

	bound, isBound := g.bound[md.PlayerID]
	if !isBound {
		if md.Credential == "" && md.Proof == "" {
			return nil
		}
		if md.Credential == "" {
			return fmt.Errorf("%w: proof offered without credential for slot %s", ErrRejected, md.PlayerID)
		}
		if err := VerifyProof(md.Credential, md.Proof, md.PlayerID); err != nil {
			return err
		}
		g.bound[md.PlayerID] = md.Credential
		return nil
	}

	if md.Credential != bound {
		return fmt.Errorf("%w: credential mismatch for slot %s", ErrRejected, md.PlayerID)
	}
	return VerifyProof(md.Credential, md.Proof, md.PlayerID)
}
