package wallet

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockBroadcaster struct {
	sig     solana.Signature
	err     error
	sent    *solana.Transaction
	calls   int
}

func (m *mockBroadcaster) SendTransactionWithOpts(_ context.Context, tx *solana.Transaction, _ rpc.TransactionOpts) (solana.Signature, error) {
	m.calls++
	m.sent = tx
	return m.sig, m.err
}

func newTestWallet(t *testing.T, b *mockBroadcaster) (*Wallet, solana.PrivateKey) {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	w, err := New(base58.Encode(key), b, zaptest.NewLogger(t))
	require.NoError(t, err)
	return w, key
}

func unsignedPayload(t *testing.T, payer solana.PublicKey) string {
	t.Helper()
	// Built directly because solana.NewTransaction rejects an empty
	// instruction list, and the payload only needs a signable message
	// with the payer as required signer.
	tx := &solana.Transaction{
		Message: solana.Message{
			Header:          solana.MessageHeader{NumRequiredSignatures: 1},
			AccountKeys:     []solana.PublicKey{payer},
			RecentBlockhash: solana.Hash{},
		},
	}

	payload, err := tx.ToBase64()
	require.NoError(t, err)
	return payload
}

func TestNewRejectsBadKeys(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := New("not-base58!!!", nil, logger)
	assert.Error(t, err)

	_, err = New(base58.Encode([]byte{1, 2, 3}), nil, logger)
	assert.ErrorContains(t, err, "invalid private key length")
}

func TestAddressMatchesKeypair(t *testing.T) {
	w, key := newTestWallet(t, &mockBroadcaster{})
	assert.Equal(t, key.PublicKey().String(), w.Address())
}

func TestSignAndSend(t *testing.T) {
	wantSig := solana.Signature{1, 2, 3}
	broadcaster := &mockBroadcaster{sig: wantSig}
	w, key := newTestWallet(t, broadcaster)

	sig, err := w.SignAndSend(context.Background(), unsignedPayload(t, key.PublicKey()))
	require.NoError(t, err)

	assert.Equal(t, wantSig, sig)
	require.NotNil(t, broadcaster.sent)
	require.NotEmpty(t, broadcaster.sent.Signatures)
	assert.NotEqual(t, solana.Signature{}, broadcaster.sent.Signatures[0])
}

func TestSignAndSendWhenDisconnected(t *testing.T) {
	broadcaster := &mockBroadcaster{}
	w, key := newTestWallet(t, broadcaster)
	w.SetConnected(false)

	_, err := w.SignAndSend(context.Background(), unsignedPayload(t, key.PublicKey()))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 0, broadcaster.calls)

	w.SetConnected(true)
	assert.True(t, w.Available())
}

func TestSignAndSendRejectsGarbagePayload(t *testing.T) {
	w, _ := newTestWallet(t, &mockBroadcaster{})

	_, err := w.SignAndSend(context.Background(), "definitely-not-base64-tx")
	assert.ErrorContains(t, err, "failed to decode transaction payload")
}
