package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeAwareness(t *testing.T) {
	env, err := Decode([]byte(`{"type":"awareness","clientId":"alice","state":{"cursor":5}}`), 1024)
	require.NoError(t, err)
	require.Equal(t, TypeAwareness, env.Type)
	require.Equal(t, "alice", env.ClientID)
	require.JSONEq(t, `{"cursor":5}`, string(env.State))
	require.False(t, env.IsRemoval())
}

func TestDecodeControlFrames(t *testing.T) {
	for _, raw := range []string{
		`{"type":"sync-request"}`,
		`{"type":"ping"}`,
		`{"type":"pong"}`,
	} {
		_, err := Decode([]byte(raw), 1024)
		require.NoError(t, err, raw)
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"teleport"}`), 1024)
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{"type":`), 1024)
	require.Error(t, err)

	_, err = Decode(nil, 1024)
	require.ErrorIs(t, err, ErrEmptyFrame)
}

func TestDecodeEnforcesAwarenessSizeBound(t *testing.T) {
	big := make([]byte, 64)
	for i := range big {
		big[i] = 'x'
	}
	raw, err := json.Marshal(Envelope{Type: TypeAwareness, ClientID: "a", State: json.RawMessage(`"` + string(big) + `"`)})
	require.NoError(t, err)

	_, err = Decode(raw, 16)
	require.ErrorIs(t, err, ErrTooLarge)

	_, err = Decode(raw, 1024)
	require.NoError(t, err)
}

func TestAwarenessRemovalFrame(t *testing.T) {
	env, err := Decode(AwarenessRemoval("alice"), 1024)
	require.NoError(t, err)
	require.Equal(t, TypeAwareness, env.Type)
	require.Equal(t, "alice", env.ClientID)
	require.True(t, env.IsRemoval())
}

func TestSyncRequestStateVectorField(t *testing.T) {
	env, err := Decode([]byte(`{"type":"sync-request","sv":"AAAAAAAAAAE="}`), 1024)
	require.NoError(t, err)
	require.Equal(t, "AAAAAAAAAAE=", env.SV)
}

func TestValidateDelta(t *testing.T) {
	require.ErrorIs(t, ValidateDelta(nil), ErrEmptyFrame)
	require.NoError(t, ValidateDelta([]byte{0x00}))
}
