// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adiadia/vault-flow/internal/chain"
	"github.com/adiadia/vault-flow/internal/domain"
	"github.com/adiadia/vault-flow/internal/flow"
)

const (
	StepApprove  = "approve"
	StepDeposit  = "deposit"
	StepWithdraw = "withdraw"
	StepRedeem   = "redeem"
	StepConfirm  = "confirm"
)

var (
	ErrNonPositiveAmount   = errors.New("amount must be greater than zero")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNothingSubmitted    = errors.New("no transaction submitted to confirm")
)

// Deps are the chain collaborators the steps call into. Reader is optional;
// without it the approve step is never skipped at run time.
type Deps struct {
	Writer chain.Writer
	Reader chain.Reader
}

// submission carries the hash from the submitting step to the confirm step.
// Steps of one flow never run concurrently.
type submission struct {
	txHash string
}

// BuildDepositSteps lays out approve (only when the allowance does not cover
// the amount), deposit and confirm.
func BuildDepositSteps(p Position, d Deps) ([]flow.StepDefinition, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	if d.Writer == nil {
		return nil, fmt.Errorf("%w: writer is required", domain.ErrInvalidFlow)
	}

	sub := &submission{}
	amount := BaseUnits(p.Amount, p.Decimals)
	var steps []flow.StepDefinition

	if p.Allowance.LessThan(p.Amount) {
		steps = append(steps, flow.StepDefinition{
			ID:            StepApprove,
			Title:         fmt.Sprintf("Approve %s", p.Symbol),
			Description:   fmt.Sprintf("Allow the vault to spend %s %s", p.Amount.String(), p.Symbol),
			EstimatedTime: 30 * time.Second,
			Validation:    hasFunds(p),
			SkipCondition: allowanceCovers(p, d.Reader),
			Execution: func(ctx context.Context) (domain.StepResult, error) {
				hash, err := d.Writer.Write(ctx, domain.ContractCall{
					ChainID:         p.ChainID,
					ContractAddress: p.Asset,
					FunctionName:    "approve",
					ABI:             approveABI,
					Args:            []any{p.Vault, amount},
				})
				if err != nil {
					return domain.StepResult{}, err
				}
				// The deposit reverts until the approval is mined.
				if _, err := d.Writer.WaitForReceipt(ctx, p.ChainID, hash); err != nil {
					return domain.StepResult{Success: false, TxHash: hash, Error: err.Error()}, nil
				}
				return domain.StepResult{Success: true, TxHash: hash}, nil
			},
		})
	}

	steps = append(steps,
		flow.StepDefinition{
			ID:            StepDeposit,
			Title:         fmt.Sprintf("Deposit %s", p.Symbol),
			Description:   fmt.Sprintf("Deposit %s %s into %s", p.Amount.String(), p.Symbol, vaultName(p)),
			EstimatedTime: 30 * time.Second,
			Validation:    hasFunds(p),
			Execution:     submit(d.Writer, sub, depositCall(p)),
		},
		confirmStep(p, d.Writer, sub),
	)
	return steps, nil
}

func BuildWithdrawSteps(p Position, d Deps) ([]flow.StepDefinition, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	if d.Writer == nil {
		return nil, fmt.Errorf("%w: writer is required", domain.ErrInvalidFlow)
	}

	sub := &submission{}
	return []flow.StepDefinition{
		{
			ID:            StepWithdraw,
			Title:         fmt.Sprintf("Withdraw %s", p.Symbol),
			Description:   fmt.Sprintf("Withdraw %s %s from %s", p.Amount.String(), p.Symbol, vaultName(p)),
			EstimatedTime: 30 * time.Second,
			Validation:    hasFunds(p),
			Execution:     submit(d.Writer, sub, withdrawCall(p)),
		},
		confirmStep(p, d.Writer, sub),
	}, nil
}

func BuildRedeemSteps(p Position, d Deps) ([]flow.StepDefinition, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	if d.Writer == nil {
		return nil, fmt.Errorf("%w: writer is required", domain.ErrInvalidFlow)
	}

	sub := &submission{}
	return []flow.StepDefinition{
		{
			ID:            StepRedeem,
			Title:         "Redeem shares",
			Description:   fmt.Sprintf("Redeem %s shares of %s", p.Amount.String(), vaultName(p)),
			EstimatedTime: 30 * time.Second,
			Validation:    hasFunds(p),
			Execution:     submit(d.Writer, sub, redeemCall(p)),
		},
		confirmStep(p, d.Writer, sub),
	}, nil
}

// BuildSteps dispatches on action.
func BuildSteps(action Action, p Position, d Deps) ([]flow.StepDefinition, error) {
	switch action {
	case ActionDeposit:
		return BuildDepositSteps(p, d)
	case ActionWithdraw:
		return BuildWithdrawSteps(p, d)
	case ActionRedeem:
		return BuildRedeemSteps(p, d)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
}

func confirmStep(p Position, w chain.Writer, sub *submission) flow.StepDefinition {
	return flow.StepDefinition{
		ID:            StepConfirm,
		Title:         "Confirm",
		Description:   "Wait for the transaction to be included",
		EstimatedTime: 15 * time.Second,
		Execution: func(ctx context.Context) (domain.StepResult, error) {
			if sub.txHash == "" {
				return domain.StepResult{}, ErrNothingSubmitted
			}
			receipt, err := w.WaitForReceipt(ctx, p.ChainID, sub.txHash)
			if err != nil {
				return domain.StepResult{Success: false, TxHash: sub.txHash, Error: err.Error()}, nil
			}
			return domain.StepResult{
				Success: true,
				TxHash:  receipt.TxHash,
				Data:    map[string]any{"block_number": receipt.BlockNumber},
			}, nil
		},
	}
}

func submit(w chain.Writer, sub *submission, call domain.ContractCall) flow.ExecutionFunc {
	return func(ctx context.Context) (domain.StepResult, error) {
		hash, err := w.Write(ctx, call)
		if err != nil {
			return domain.StepResult{}, err
		}
		sub.txHash = hash
		return domain.StepResult{Success: true, TxHash: hash}, nil
	}
}

func hasFunds(p Position) flow.Predicate {
	return func(context.Context) (bool, error) {
		if !p.Amount.IsPositive() {
			return false, ErrNonPositiveAmount
		}
		if p.Balance.LessThan(p.Amount) {
			return false, ErrInsufficientBalance
		}
		return true, nil
	}
}

// allowanceCovers re-reads the allowance so an approval granted elsewhere
// since the flow was built is not repeated.
func allowanceCovers(p Position, r chain.Reader) flow.Predicate {
	if r == nil {
		return nil
	}
	return func(ctx context.Context) (bool, error) {
		raw, err := readUint(ctx, r, p.ChainID, p.Asset, "allowance", allowanceABI, p.Owner, p.Vault)
		if err != nil {
			return false, fmt.Errorf("read allowance: %w", err)
		}
		return !FromBaseUnits(raw, p.Decimals).LessThan(p.Amount), nil
	}
}

func vaultName(p Position) string {
	if p.Name != "" {
		return p.Name
	}
	return "the vault"
}

func depositCall(p Position) domain.ContractCall {
	return domain.ContractCall{
		ChainID:         p.ChainID,
		ContractAddress: p.Vault,
		FunctionName:    "deposit",
		ABI:             depositABI,
		Args:            []any{BaseUnits(p.Amount, p.Decimals), p.Owner},
	}
}

func withdrawCall(p Position) domain.ContractCall {
	return domain.ContractCall{
		ChainID:         p.ChainID,
		ContractAddress: p.Vault,
		FunctionName:    "withdraw",
		ABI:             withdrawABI,
		Args:            []any{BaseUnits(p.Amount, p.Decimals), p.Owner, p.Owner},
	}
}

func redeemCall(p Position) domain.ContractCall {
	return domain.ContractCall{
		ChainID:         p.ChainID,
		ContractAddress: p.Vault,
		FunctionName:    "redeem",
		ABI:             redeemABI,
		Args:            []any{BaseUnits(p.Amount, p.Decimals), p.Owner, p.Owner},
	}
}
