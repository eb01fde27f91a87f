// SPDX-License-Identifier: Apache-2.0

package chain

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/adiadia/vault-flow/internal/domain"
)

var (
	ErrRelayerUnavailable = errors.New("relayer unavailable")
	ErrReceiptReverted    = errors.New("transaction reverted")
)

// Writer submits contract calls on behalf of the connected account.
type Writer interface {
	Write(ctx context.Context, call domain.ContractCall) (string, error)
	Simulate(ctx context.Context, call domain.ContractCall) (json.RawMessage, error)
	WaitForReceipt(ctx context.Context, chainID int64, txHash string) (domain.Receipt, error)
}

// Reader answers the read-only calls step builders need.
type Reader interface {
	Read(ctx context.Context, call domain.ContractCall) (json.RawMessage, error)
}

// Client is the full relayer surface.
type Client interface {
	Writer
	Reader
}
