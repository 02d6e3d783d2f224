package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// ErrConfirmationTimeout is returned when a broadcast transaction did not
// reach the required confirmation level within the service's window. The
// transaction may still settle later.
var ErrConfirmationTimeout = errors.New("confirmation timed out")

// Confirmer verifies settlement of a broadcast transaction.
type Confirmer interface {
	Confirm(ctx context.Context, signature solana.Signature) (bool, error)
}

// StatusClient is the subset of the RPC client needed for confirmation checks.
type StatusClient interface {
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// Config tunes the confirmation polling loop.
type Config struct {
	PollInterval     time.Duration
	Timeout          time.Duration
	MinConfirmations uint64
}

// DefaultConfig returns the polling defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:     500 * time.Millisecond,
		Timeout:          30 * time.Second,
		MinConfirmations: 1,
	}
}

// Service polls signature statuses until the transaction confirms, fails
// on-chain, or the window elapses.
type Service struct {
	client StatusClient
	logger *zap.Logger
	config Config
}

// NewService creates a confirmation service.
func NewService(client StatusClient, logger *zap.Logger, config Config) *Service {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.MinConfirmations == 0 {
		config.MinConfirmations = 1
	}
	return &Service{
		client: client,
		logger: logger.Named("confirm"),
		config: config,
	}
}

// Confirm blocks until the signature confirms or the window elapses.
// Returns (false, ErrConfirmationTimeout) on timeout and (false, err) when
// the transaction failed on-chain.
func (s *Service) Confirm(ctx context.Context, signature solana.Signature) (bool, error) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	deadline := time.After(s.config.Timeout)

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline:
			s.logger.Warn("Confirmation window elapsed",
				zap.String("signature", signature.String()),
				zap.Duration("timeout", s.config.Timeout))
			return false, ErrConfirmationTimeout
		case <-ticker.C:
			confirmed, err := s.checkOnce(ctx, signature)
			if err != nil {
				var txErr *transactionFailedError
				if errors.As(err, &txErr) {
					return false, err
				}
				// Transient RPC trouble: keep polling until the deadline.
				s.logger.Warn("Confirmation check failed",
					zap.String("signature", signature.String()),
					zap.Error(err))
				continue
			}
			if confirmed {
				s.logger.Info("Transaction confirmed",
					zap.String("signature", signature.String()))
				return true, nil
			}
		}
	}
}

type transactionFailedError struct {
	signature solana.Signature
	chainErr  interface{}
}

func (e *transactionFailedError) Error() string {
	return fmt.Sprintf("transaction %s failed on-chain: %v", e.signature, e.chainErr)
}

func (s *Service) checkOnce(ctx context.Context, signature solana.Signature) (bool, error) {
	response, err := s.client.GetSignatureStatuses(ctx, false, signature)
	if err != nil {
		return false, fmt.Errorf("failed to get signature status: %w", err)
	}
	if response == nil || len(response.Value) == 0 || response.Value[0] == nil {
		return false, nil
	}

	status := response.Value[0]
	if status.Err != nil {
		return false, &transactionFailedError{signature: signature, chainErr: status.Err}
	}
	if status.Confirmations != nil && *status.Confirmations >= s.config.MinConfirmations {
		return true, nil
	}
	return status.ConfirmationStatus == rpc.ConfirmationStatusFinalized ||
		status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed, nil
}
