// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/adiadia/vault-flow/internal/chain"
	"github.com/adiadia/vault-flow/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type Action string

const (
	ActionDeposit  Action = "deposit"
	ActionWithdraw Action = "withdraw"
	ActionRedeem   Action = "redeem"
)

var ErrUnknownAction = errors.New("unknown vault action")

// Position is everything a builder needs to lay out the steps of one
// operation. Amount, Allowance and Balance are in token units, not base
// units. For redeem, Amount and Balance count vault shares.
type Position struct {
	ChainID  int64  `json:"chain_id" validate:"gt=0"`
	Vault    string `json:"vault" validate:"required,eth_addr"`
	Asset    string `json:"asset" validate:"required,eth_addr"`
	Owner    string `json:"owner" validate:"required,eth_addr"`
	Decimals int32  `json:"decimals" validate:"gte=0,lte=36"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`

	Amount    decimal.Decimal `json:"amount"`
	Allowance decimal.Decimal `json:"allowance"`
	Balance   decimal.Decimal `json:"balance"`
}

var structValidator = validator.New()

func (p Position) check() error {
	if err := structValidator.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidFlow, err)
	}
	return nil
}

// BaseUnits converts a token amount to the integer string a contract expects.
// Digits below the token precision are truncated.
func BaseUnits(amount decimal.Decimal, decimals int32) string {
	return amount.Shift(decimals).Truncate(0).BigInt().String()
}

// FromBaseUnits is the inverse of BaseUnits.
func FromBaseUnits(raw *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(raw, -decimals)
}

// LoadPosition fills Allowance and Balance from chain state for the action.
func LoadPosition(ctx context.Context, r chain.Reader, action Action, p *Position) error {
	switch action {
	case ActionDeposit:
		allowance, err := readUint(ctx, r, p.ChainID, p.Asset, "allowance", allowanceABI, p.Owner, p.Vault)
		if err != nil {
			return fmt.Errorf("read allowance: %w", err)
		}
		balance, err := readUint(ctx, r, p.ChainID, p.Asset, "balanceOf", balanceOfABI, p.Owner)
		if err != nil {
			return fmt.Errorf("read balance: %w", err)
		}
		p.Allowance = FromBaseUnits(allowance, p.Decimals)
		p.Balance = FromBaseUnits(balance, p.Decimals)
	case ActionWithdraw:
		available, err := readUint(ctx, r, p.ChainID, p.Vault, "maxWithdraw", maxWithdrawABI, p.Owner)
		if err != nil {
			return fmt.Errorf("read max withdraw: %w", err)
		}
		p.Balance = FromBaseUnits(available, p.Decimals)
	case ActionRedeem:
		shares, err := readUint(ctx, r, p.ChainID, p.Vault, "balanceOf", balanceOfABI, p.Owner)
		if err != nil {
			return fmt.Errorf("read share balance: %w", err)
		}
		p.Balance = FromBaseUnits(shares, p.Decimals)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	return nil
}

func readUint(ctx context.Context, r chain.Reader, chainID int64, contract, fn string, abi json.RawMessage, args ...any) (*big.Int, error) {
	raw, err := r.Read(ctx, domain.ContractCall{
		ChainID:         chainID,
		ContractAddress: contract,
		FunctionName:    fn,
		ABI:             abi,
		Args:            args,
	})
	if err != nil {
		return nil, err
	}
	return ParseUint256(raw)
}

// ParseUint256 accepts a JSON number, a decimal string or a 0x-prefixed hex
// string.
func ParseUint256(raw json.RawMessage) (*big.Int, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("unexpected uint256 value %s", raw)
		}
		s = n.String()
	}

	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("unexpected uint256 value %s", raw)
	}
	return v, nil
}
