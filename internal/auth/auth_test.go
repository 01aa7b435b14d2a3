package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/game"
)

func metadata(t *testing.T, playerID game.PlayerID) (ClientMetadata, *Identity) {
	t.Helper()
	id, err := NewIdentity(playerID)
	require.NoError(t, err)
	md, err := id.Metadata()
	require.NoError(t, err)
	return md, id
}

func TestFirstContactBindsCredential(t *testing.T) {
	gate := NewGate(2)
	md, _ := metadata(t, "0")

	require.NoError(t, gate.Admit(md))
	assert.Equal(t, md.Credential, gate.Bindings()["0"])
}

func TestBoundSlotRejectsOtherCredential(t *testing.T) {
	gate := NewGate(2)
	md, _ := metadata(t, "0")
	require.NoError(t, gate.Admit(md))

	other, _ := metadata(t, "0")
	err := gate.Admit(other)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)

	// The original identity reconnects fine with a fresh proof.
	require.NoError(t, gate.Admit(md))
}

func TestBoundSlotRejectsBareContact(t *testing.T) {
	gate := NewGate(2)
	md, _ := metadata(t, "0")
	require.NoError(t, gate.Admit(md))

	err := gate.Admit(ClientMetadata{PlayerID: "0"})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestUnboundBareContactPassesWithoutBinding(t *testing.T) {
	gate := NewGate(2)

	require.NoError(t, gate.Admit(ClientMetadata{PlayerID: "1"}))
	assert.Empty(t, gate.Bindings())

	// The slot is still open for a later credential.
	md, _ := metadata(t, "1")
	require.NoError(t, gate.Admit(md))
	assert.Equal(t, md.Credential, gate.Bindings()["1"])
}

func TestSpectatorsAlwaysPass(t *testing.T) {
	gate := NewGate(2)

	assert.NoError(t, gate.Admit(ClientMetadata{}))
	assert.NoError(t, gate.Admit(ClientMetadata{Credential: "junk", Proof: "junk"}))
	// An ID outside the slot set is a spectator too.
	assert.NoError(t, gate.Admit(ClientMetadata{PlayerID: "7", Credential: "junk", Proof: "junk"}))
}

func TestProofMustNamePlayer(t *testing.T) {
	gate := NewGate(2)
	id, err := NewIdentity("0")
	require.NoError(t, err)
	proof, err := id.Proof()
	require.NoError(t, err)

	// Valid signature, wrong slot.
	err = gate.Admit(ClientMetadata{PlayerID: "1", Credential: id.Credential, Proof: proof})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestProofMustMatchCredential(t *testing.T) {
	gate := NewGate(2)
	a, err := NewIdentity("0")
	require.NoError(t, err)
	b, err := NewIdentity("0")
	require.NoError(t, err)
	proofB, err := b.Proof()
	require.NoError(t, err)

	// a's key did not sign b's proof.
	err = gate.Admit(ClientMetadata{PlayerID: "0", Credential: a.Credential, Proof: proofB})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestCredentialWithoutProofRejected(t *testing.T) {
	gate := NewGate(2)
	id, err := NewIdentity("0")
	require.NoError(t, err)

	err = gate.Admit(ClientMetadata{PlayerID: "0", Credential: id.Credential})
	assert.ErrorIs(t, err, ErrRejected)
	assert.Empty(t, gate.Bindings(), "a failed contact must not bind")
}

func TestRestoreSeedsBindings(t *testing.T) {
	gate := NewGate(2)
	md, _ := metadata(t, "0")
	require.NoError(t, gate.Admit(md))

	restored := NewGate(2)
	restored.Restore(gate.Bindings())

	other, _ := metadata(t, "0")
	assert.ErrorIs(t, restored.Admit(other), ErrRejected)
	assert.NoError(t, restored.Admit(md))
}
