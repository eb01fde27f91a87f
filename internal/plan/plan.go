// SPDX-License-Identifier: Apache-2.0

// Package plan loads declarative step lists from YAML. Each step may gate on
// a require expression, skip on a skip_if expression and dispatch one
// contract call through a chain.Writer.
package plan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var ErrInvalidPlan = errors.New("invalid plan")

type Plan struct {
	Name    string         `yaml:"name" validate:"required"`
	ChainID int64          `yaml:"chain_id" validate:"gt=0"`
	Vars    map[string]any `yaml:"vars"`
	Steps   []StepSpec     `yaml:"steps" validate:"required,min=1,dive"`
}

type StepSpec struct {
	ID          string        `yaml:"id" validate:"required"`
	Title       string        `yaml:"title"`
	Description string        `yaml:"description"`
	Estimate    time.Duration `yaml:"estimate"`
	CanSkip     bool          `yaml:"can_skip"`

	// Require must evaluate to true for the step to run.
	Require string `yaml:"require"`
	// SkipIf evaluating to true skips the step.
	SkipIf string `yaml:"skip_if"`

	// Contract and Function are both set or both empty; a step without a
	// call only evaluates its expressions.
	Contract string `yaml:"contract" validate:"required_with=Function"`
	Function string `yaml:"function" validate:"required_with=Contract"`
	ABI      string `yaml:"abi"`
	Args     []any  `yaml:"args"`
	Wait     bool   `yaml:"wait"`
}

var structValidator = validator.New()

func LoadFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	return Load(bytes.NewReader(data))
}

// Load decodes and validates a plan. Unknown keys are rejected.
func Load(r io.Reader) (*Plan, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var p Plan
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidPlan, err)
	}
	if err := structValidator.Struct(p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}

	seen := make(map[string]struct{}, len(p.Steps))
	for _, s := range p.Steps {
		if _, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate step id %q", ErrInvalidPlan, s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	if p.Vars == nil {
		p.Vars = map[string]any{}
	}
	return &p, nil
}
