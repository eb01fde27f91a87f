// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"time"
)

type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxExecuting TxStatus = "executing"
	TxCompleted TxStatus = "completed"
	TxFailed    TxStatus = "failed"
	TxCancelled TxStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s TxStatus) Terminal() bool {
	return s == TxCompleted || s == TxFailed || s == TxCancelled
}

type TxType string

const (
	TxDeposit  TxType = "deposit"
	TxWithdraw TxType = "withdraw"
	TxRedeem   TxType = "redeem"
	TxApprove  TxType = "approve"
	TxMint     TxType = "mint"
	TxClaim    TxType = "claim"
)

// TxDescriptor is everything needed to dispatch one contract call later.
type TxDescriptor struct {
	Title           string          `json:"title" validate:"required"`
	Subtitle        string          `json:"subtitle,omitempty"`
	ChainID         int64           `json:"chain_id" validate:"gt=0"`
	Type            TxType          `json:"type" validate:"required,oneof=deposit withdraw redeem approve mint claim"`
	ContractAddress string          `json:"contract_address" validate:"required,eth_addr"`
	FunctionName    string          `json:"function_name" validate:"required"`
	ABI             json.RawMessage `json:"abi,omitempty"`
	Args            []any           `json:"args,omitempty"`
	TokenAmount     string          `json:"token_amount,omitempty"`
	TokenSymbol     string          `json:"token_symbol,omitempty"`
}

type QueueTransaction struct {
	ID string `json:"id"`
	TxDescriptor
	Status    TxStatus  `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Call returns the contract call described by the transaction.
func (t QueueTransaction) Call() ContractCall {
	return ContractCall{
		ChainID:         t.ChainID,
		ContractAddress: t.ContractAddress,
		FunctionName:    t.FunctionName,
		ABI:             t.ABI,
		Args:            t.Args,
	}
}

type ContractCall struct {
	ChainID         int64           `json:"chain_id"`
	ContractAddress string          `json:"contract_address"`
	FunctionName    string          `json:"function_name"`
	ABI             json.RawMessage `json:"abi,omitempty"`
	Args            []any           `json:"args,omitempty"`
}

type SimulationResult struct {
	Success    bool            `json:"success"`
	Simulation json.RawMessage `json:"simulation,omitempty"`
	Error      string          `json:"error,omitempty"`
}

type Receipt struct {
	TxHash      string `json:"tx_hash"`
	Status      string `json:"status"`
	BlockNumber uint64 `json:"block_number"`
}

// Succeeded reports whether the receipt marks a successful inclusion.
func (r Receipt) Succeeded() bool {
	return r.Status == "success" || r.Status == "0x1"
}
