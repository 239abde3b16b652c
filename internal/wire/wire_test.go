package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello")))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestFrameEmptyIsAcknowledgement(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, nil))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFrameOversizeRejected(t *testing.T) {
	var buf bytes.Buffer
	var header [8]byte
	header[7] = 0xFF // absurdly large length
	buf.Write(header[:])
	_, err := ReadFrame(&buf)
	assert.Error(t, err)
}

func TestMessageTypeMetadata(t *testing.T) {
	assert.False(t, RequiresVerification(TypeConnect))
	assert.True(t, RequiresVerification(TypeSeed))
	assert.True(t, RequiresVerification(TypeHiddenData))
	assert.False(t, RequiresVerification(TypeCycleContext))
	assert.True(t, Replies(TypeGetBill))
	assert.False(t, Replies(TypeConnect))
}

func TestMessageTypeValidateUnknownFails(t *testing.T) {
	err := MessageType("not_a_real_type").Validate()
	assert.Error(t, err)
}

type payload struct {
	Value int `json:"value"`
}

func TestEnvelopeRoundTrip(t *testing.T) {
	addr := Address{Host: "127.0.0.1", Port: 9000}
	raw, err := EncodeEnvelope(TypeGetBill, addr, payload{Value: 42})
	require.NoError(t, err)

	env, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeGetBill, env.Type)
	assert.Equal(t, addr, env.ReplyAddress)

	var got payload
	require.NoError(t, env.DecodePayload(&got))
	assert.Equal(t, 42, got.Value)
}

func TestSignAndVerify(t *testing.T) {
	signer, err := NewSigner()
	require.NoError(t, err)

	msg := []byte("attempt billing for cycle 7")
	sm, err := signer.SignMessage(msg)
	require.NoError(t, err)

	require.NoError(t, VerifyMessage(sm, signer.PublicKeyBytes()))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	signer, err := NewSigner()
	require.NoError(t, err)

	sm, err := signer.SignMessage([]byte("original"))
	require.NoError(t, err)
	sm.Bytes = []byte("tampered")

	err = VerifyMessage(sm, signer.PublicKeyBytes())
	assert.Error(t, err)
}

func TestVerifyRejectsUnknownOrigin(t *testing.T) {
	signer, err := NewSigner()
	require.NoError(t, err)
	sm, err := signer.SignMessage([]byte("hello"))
	require.NoError(t, err)

	err = VerifyMessage(sm, nil)
	var invalid InvalidSignatureError
	require.ErrorAs(t, err, &invalid)
}

func TestDeriveNodeIDDeterministic(t *testing.T) {
	signer, err := NewSigner()
	require.NoError(t, err)
	pk := signer.PublicKeyBytes()

	a := DeriveNodeID(pk)
	b := DeriveNodeID(pk)
	assert.Equal(t, a, b)
}
