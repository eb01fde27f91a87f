// SPDX-License-Identifier: Apache-2.0

package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/adiadia/vault-flow/internal/chain"
	"github.com/adiadia/vault-flow/internal/domain"
	"github.com/adiadia/vault-flow/internal/flow"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

type compiledArg struct {
	literal any
	program *vm.Program
}

// runState is shared by the steps of one built plan.
type runState struct {
	plan *Plan

	mu    sync.Mutex
	steps map[string]any
}

func (r *runState) env() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	steps := make(map[string]any, len(r.steps))
	for k, v := range r.steps {
		steps[k] = v
	}
	return map[string]any{
		"vars":     r.plan.Vars,
		"chain_id": r.plan.ChainID,
		"steps":    steps,
	}
}

func (r *runState) record(id string, out map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps[id] = out
}

// Build compiles every expression up front and returns the step definitions.
// w may be nil only when no step calls a contract.
func Build(p *Plan, w chain.Writer) ([]flow.StepDefinition, error) {
	env := baseEnv(p)
	state := &runState{plan: p, steps: map[string]any{}}

	defs := make([]flow.StepDefinition, 0, len(p.Steps))
	for _, ps := range p.Steps {
		def := flow.StepDefinition{
			ID:            ps.ID,
			Title:         ps.Title,
			Description:   ps.Description,
			EstimatedTime: ps.Estimate,
			CanSkip:       ps.CanSkip,
		}
		if def.Title == "" {
			def.Title = ps.ID
		}

		if ps.Require != "" {
			prog, err := compilePredicate(ps.Require, env)
			if err != nil {
				return nil, fmt.Errorf("%w: step %s require: %v", ErrInvalidPlan, ps.ID, err)
			}
			def.Validation = predicate(state, prog)
		}
		if ps.SkipIf != "" {
			prog, err := compilePredicate(ps.SkipIf, env)
			if err != nil {
				return nil, fmt.Errorf("%w: step %s skip_if: %v", ErrInvalidPlan, ps.ID, err)
			}
			def.SkipCondition = predicate(state, prog)
		}

		if ps.Function != "" {
			if w == nil {
				return nil, fmt.Errorf("%w: step %s calls a contract but no writer is configured", ErrInvalidPlan, ps.ID)
			}
			exec, err := execution(state, ps, env, w)
			if err != nil {
				return nil, err
			}
			def.Execution = exec
		} else {
			id := ps.ID
			def.Execution = func(context.Context) (domain.StepResult, error) {
				state.record(id, map[string]any{})
				return domain.StepResult{Success: true}, nil
			}
		}

		defs = append(defs, def)
	}
	return defs, nil
}

func predicate(state *runState, prog *vm.Program) flow.Predicate {
	return func(context.Context) (bool, error) {
		out, err := expr.Run(prog, state.env())
		if err != nil {
			return false, err
		}
		b, _ := out.(bool)
		return b, nil
	}
}

func execution(state *runState, ps StepSpec, env map[string]any, w chain.Writer) (flow.ExecutionFunc, error) {
	contract, err := compileArg(ps.Contract, env)
	if err != nil {
		return nil, fmt.Errorf("%w: step %s contract: %v", ErrInvalidPlan, ps.ID, err)
	}
	if contract.program == nil {
		if err := structValidator.Var(ps.Contract, "eth_addr"); err != nil {
			return nil, fmt.Errorf("%w: step %s contract %q is not an address", ErrInvalidPlan, ps.ID, ps.Contract)
		}
	}

	args := make([]compiledArg, len(ps.Args))
	for i, a := range ps.Args {
		c, err := compileArg(a, env)
		if err != nil {
			return nil, fmt.Errorf("%w: step %s arg %d: %v", ErrInvalidPlan, ps.ID, i, err)
		}
		args[i] = c
	}

	var abi json.RawMessage
	if ps.ABI != "" {
		if !json.Valid([]byte(ps.ABI)) {
			return nil, fmt.Errorf("%w: step %s abi is not valid json", ErrInvalidPlan, ps.ID)
		}
		abi = json.RawMessage(ps.ABI)
	}

	chainID := state.plan.ChainID
	return func(ctx context.Context) (domain.StepResult, error) {
		env := state.env()

		addr, err := contract.eval(env)
		if err != nil {
			return domain.StepResult{}, fmt.Errorf("evaluate contract: %w", err)
		}
		address, ok := addr.(string)
		if !ok || structValidator.Var(address, "eth_addr") != nil {
			return domain.StepResult{}, fmt.Errorf("contract %v is not an address", addr)
		}

		callArgs := make([]any, len(args))
		for i, a := range args {
			v, err := a.eval(env)
			if err != nil {
				return domain.StepResult{}, fmt.Errorf("evaluate arg %d: %w", i, err)
			}
			callArgs[i] = v
		}

		call := domain.ContractCall{
			ChainID:         chainID,
			ContractAddress: address,
			FunctionName:    ps.Function,
			ABI:             abi,
			Args:            callArgs,
		}
		hash, err := w.Write(ctx, call)
		if err != nil {
			return domain.StepResult{}, err
		}

		out := map[string]any{"tx_hash": hash}
		if ps.Wait {
			receipt, err := w.WaitForReceipt(ctx, chainID, hash)
			if err != nil {
				state.record(ps.ID, out)
				return domain.StepResult{Success: false, TxHash: hash, Error: err.Error()}, nil
			}
			out["block_number"] = receipt.BlockNumber
		}
		state.record(ps.ID, out)
		return domain.StepResult{Success: true, TxHash: hash, Data: out}, nil
	}, nil
}

func compileArg(v any, env map[string]any) (compiledArg, error) {
	src, ok := templateExpr(v)
	if !ok {
		return compiledArg{literal: v}, nil
	}
	prog, err := compileValue(src, env)
	if err != nil {
		return compiledArg{}, err
	}
	return compiledArg{program: prog}, nil
}

func (c compiledArg) eval(env map[string]any) (any, error) {
	if c.program == nil {
		return c.literal, nil
	}
	return expr.Run(c.program, env)
}
