package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"
)

var (
	// ErrUnavailable is returned when no signing authority is connected.
	ErrUnavailable = errors.New("signer unavailable")
	// ErrRejected is returned when the holder of signing authority declined
	// to authorize the transaction.
	ErrRejected = errors.New("signer rejected the transaction")
)

// Signer presents an unsigned transaction payload to a holder of signing
// authority and broadcasts the signed result.
type Signer interface {
	// Available reports whether signing authority is currently reachable.
	Available() bool

	// Address returns the signer's public key, base58-encoded.
	Address() string

	// SignAndSend signs the base64-encoded unsigned transaction and
	// broadcasts it, returning the transaction signature.
	SignAndSend(ctx context.Context, payload string) (solana.Signature, error)
}

// Broadcaster is the subset of the RPC client the signer needs to submit a
// signed transaction.
type Broadcaster interface {
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
}

// Wallet is a local keypair-backed signer.
type Wallet struct {
	privateKey  solana.PrivateKey
	publicKey   solana.PublicKey
	broadcaster Broadcaster
	logger      *zap.Logger

	mu        sync.RWMutex
	connected bool
}

// New creates a wallet from a base58-encoded private key.
func New(privateKeyBase58 string, broadcaster Broadcaster, logger *zap.Logger) (*Wallet, error) {
	privateKeyBytes, err := base58.Decode(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	if len(privateKeyBytes) != 64 {
		return nil, fmt.Errorf("invalid private key length: expected 64 bytes, got %d", len(privateKeyBytes))
	}

	privateKey := solana.PrivateKey(privateKeyBytes)
	return &Wallet{
		privateKey:  privateKey,
		publicKey:   privateKey.PublicKey(),
		broadcaster: broadcaster,
		logger:      logger.Named("wallet"),
		connected:   true,
	}, nil
}

// Available reports whether the wallet can currently sign.
func (w *Wallet) Available() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// SetConnected toggles the wallet's availability. The host flips this when
// the user connects or disconnects their wallet session.
func (w *Wallet) SetConnected(connected bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = connected
}

// Address returns the wallet's public key.
func (w *Wallet) Address() string {
	return w.publicKey.String()
}

// SignAndSend decodes the unsigned payload, signs it with the wallet key and
// broadcasts it.
func (w *Wallet) SignAndSend(ctx context.Context, payload string) (solana.Signature, error) {
	if !w.Available() {
		return solana.Signature{}, ErrUnavailable
	}

	tx, err := solana.TransactionFromBase64(payload)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to decode transaction payload: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(w.publicKey) {
			return &w.privateKey
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := w.broadcaster.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		w.logger.Error("Transaction broadcast failed", zap.Error(err))
		return solana.Signature{}, fmt.Errorf("failed to broadcast transaction: %w", err)
	}

	w.logger.Info("Transaction broadcast",
		zap.String("signature", sig.String()))
	return sig, nil
}
