// SPDX-License-Identifier: Apache-2.0

package plan

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/shopspring/decimal"
)

// Expressions see vars, chain_id and steps. steps.<id> holds tx_hash and
// block_number once that step has run.
var exprFunctions = []expr.Option{
	expr.Function("units", func(params ...any) (any, error) {
		amount, err := toDecimal(params[0])
		if err != nil {
			return nil, err
		}
		decimals, err := toDecimal(params[1])
		if err != nil {
			return nil, err
		}
		return amount.Shift(int32(decimals.IntPart())).Truncate(0).String(), nil
	}),
	expr.Function("from_units", func(params ...any) (any, error) {
		raw, err := toDecimal(params[0])
		if err != nil {
			return nil, err
		}
		decimals, err := toDecimal(params[1])
		if err != nil {
			return nil, err
		}
		return raw.Shift(-int32(decimals.IntPart())).String(), nil
	}),
	expr.Function("dec_lt", func(params ...any) (any, error) {
		a, b, err := decimalPair(params)
		if err != nil {
			return nil, err
		}
		return a.LessThan(b), nil
	}),
	expr.Function("dec_gte", func(params ...any) (any, error) {
		a, b, err := decimalPair(params)
		if err != nil {
			return nil, err
		}
		return a.GreaterThanOrEqual(b), nil
	}),
}

func baseEnv(p *Plan) map[string]any {
	return map[string]any{
		"vars":     p.Vars,
		"chain_id": p.ChainID,
		"steps":    map[string]any{},
	}
}

func compilePredicate(src string, env map[string]any) (*vm.Program, error) {
	opts := []expr.Option{
		expr.Env(env),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	}
	opts = append(opts, exprFunctions...)
	return expr.Compile(src, opts...)
}

func compileValue(src string, env map[string]any) (*vm.Program, error) {
	opts := []expr.Option{
		expr.Env(env),
		expr.AllowUndefinedVariables(),
	}
	opts = append(opts, exprFunctions...)
	return expr.Compile(src, opts...)
}

// templateExpr returns the expression inside "${ ... }".
func templateExpr(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return "", false
	}
	return strings.TrimSpace(s[2 : len(s)-1]), true
}

func decimalPair(params []any) (decimal.Decimal, decimal.Decimal, error) {
	a, err := toDecimal(params[0])
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	b, err := toDecimal(params[1])
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	return a, b, nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case string:
		s := strings.TrimSpace(n)
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			b, ok := new(big.Int).SetString(s[2:], 16)
			if !ok {
				return decimal.Decimal{}, fmt.Errorf("invalid hex number %q", n)
			}
			return decimal.NewFromBigInt(b, 0), nil
		}
		return decimal.NewFromString(s)
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(n), 0), nil
	case float64:
		return decimal.NewFromFloat(n), nil
	case nil:
		return decimal.Decimal{}, errors.New("number is undefined")
	default:
		return decimal.Decimal{}, fmt.Errorf("unsupported number type %T", v)
	}
}
