// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"fmt"

	"github.com/adiadia/vault-flow/internal/domain"
)

// Descriptor describes the action's main contract call for deferred
// execution through the queue. Approvals are not included; queue an approve
// descriptor first when the allowance is short.
func Descriptor(action Action, p Position) (domain.TxDescriptor, error) {
	if err := p.check(); err != nil {
		return domain.TxDescriptor{}, err
	}

	var (
		call   domain.ContractCall
		txType domain.TxType
		title  string
	)
	switch action {
	case ActionDeposit:
		call, txType = depositCall(p), domain.TxDeposit
		title = fmt.Sprintf("Deposit %s %s", p.Amount.String(), p.Symbol)
	case ActionWithdraw:
		call, txType = withdrawCall(p), domain.TxWithdraw
		title = fmt.Sprintf("Withdraw %s %s", p.Amount.String(), p.Symbol)
	case ActionRedeem:
		call, txType = redeemCall(p), domain.TxRedeem
		title = fmt.Sprintf("Redeem %s shares", p.Amount.String())
	default:
		return domain.TxDescriptor{}, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	return domain.TxDescriptor{
		Title:           title,
		Subtitle:        vaultName(p),
		ChainID:         call.ChainID,
		Type:            txType,
		ContractAddress: call.ContractAddress,
		FunctionName:    call.FunctionName,
		ABI:             call.ABI,
		Args:            call.Args,
		TokenAmount:     p.Amount.String(),
		TokenSymbol:     p.Symbol,
	}, nil
}

// ApproveDescriptor describes the allowance top-up a queued deposit needs.
func ApproveDescriptor(p Position) (domain.TxDescriptor, error) {
	if err := p.check(); err != nil {
		return domain.TxDescriptor{}, err
	}
	return domain.TxDescriptor{
		Title:           fmt.Sprintf("Approve %s", p.Symbol),
		Subtitle:        vaultName(p),
		ChainID:         p.ChainID,
		Type:            domain.TxApprove,
		ContractAddress: p.Asset,
		FunctionName:    "approve",
		ABI:             approveABI,
		Args:            []any{p.Vault, BaseUnits(p.Amount, p.Decimals)},
		TokenAmount:     p.Amount.String(),
		TokenSymbol:     p.Symbol,
	}, nil
}
