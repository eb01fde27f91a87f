// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/adiadia/vault-flow/internal/domain"
	"github.com/adiadia/vault-flow/internal/flow"
	"github.com/spf13/cobra"
)

// commandRunner runs name with args and returns its stdout. Stderr goes to
// the terminal.
type commandRunner func(ctx context.Context, name string, args ...string) (string, error)

type validateOptions struct {
	Root           string
	NoIntegration  bool
	LookupEnv      func(string) string
	ContinueOnFail bool
}

func validateCmd(logger *slog.Logger) *cobra.Command {
	opts := validateOptions{Root: ".", LookupEnv: os.Getenv}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run gofmt, go vet and the test suites as a step flow",
		Long: "Runs the repository checks in order. Integration suites are skipped\n" +
			"unless DATABASE_URL (postgres) or NATS_URL (nats) is set.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), cmd.OutOrStdout(), execRunner(logger), opts, logger)
		},
	}
	cmd.Flags().BoolVar(&opts.NoIntegration, "no-integration", false, "skip integration suites even when their env is set")
	cmd.Flags().BoolVar(&opts.ContinueOnFail, "keep-going", false, "run remaining checks after a failure")
	return cmd
}

func runValidate(ctx context.Context, out io.Writer, run commandRunner, opts validateOptions, logger *slog.Logger) error {
	started := time.Now()

	e, err := flow.New(validationSteps(run, opts), flow.Options{ID: "validate", Logger: logger})
	if err != nil {
		return err
	}

	runErr := driveChecks(ctx, e, opts.ContinueOnFail)

	if err := writeSteps(out, e.State()); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	if e.State().HasError {
		return fmt.Errorf("%w: validation did not pass", domain.ErrStepFailed)
	}

	_, _ = fmt.Fprintln(out, success(fmt.Sprintf("validation passed in %s", time.Since(started).Round(time.Millisecond))))
	return nil
}

// driveChecks executes the active step until none is left. With keepGoing
// a failed check moves the pointer past itself instead of halting the flow.
func driveChecks(ctx context.Context, e *flow.Executor, keepGoing bool) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		st := e.State()
		idx := st.CurrentStepIndex
		if st.Steps[idx].Status != domain.StepActive {
			return nil
		}
		if err := e.ExecuteStep(ctx, st.Steps[idx].ID); err != nil {
			return err
		}

		if e.State().Steps[idx].Status == domain.StepError {
			if !keepGoing || idx+1 >= len(st.Steps) {
				return nil
			}
			e.GoToStep(idx + 1)
		}
	}
}

func validationSteps(run commandRunner, opts validateOptions) []flow.StepDefinition {
	integrationOff := func(envKey string) flow.Predicate {
		return func(context.Context) (bool, error) {
			return opts.NoIntegration || strings.TrimSpace(opts.LookupEnv(envKey)) == "", nil
		}
	}

	return []flow.StepDefinition{
		{
			ID:    "gofmt",
			Title: "gofmt check",
			Execution: func(ctx context.Context) (domain.StepResult, error) {
				files, err := listGoFiles(opts.Root)
				if err != nil {
					return domain.StepResult{}, fmt.Errorf("list go files: %w", err)
				}
				if len(files) == 0 {
					return domain.StepResult{Success: true}, nil
				}
				out, err := run(ctx, "gofmt", append([]string{"-l"}, files...)...)
				if err != nil {
					return domain.StepResult{}, err
				}
				if unformatted := strings.TrimSpace(out); unformatted != "" {
					return domain.StepResult{Error: "gofmt would change: " + strings.ReplaceAll(unformatted, "\n", ", ")}, nil
				}
				return domain.StepResult{Success: true, Data: map[string]any{"files": len(files)}}, nil
			},
		},
		commandStep("vet", "go vet", run, "go", "vet", "./..."),
		commandStep("unit", "unit tests", run, "go", "test", "./..."),
		withSkip(
			commandStep("postgres", "postgres integration tests", run,
				"go", "test", "-count=1", "-tags=integration", "./internal/persistence/postgres"),
			integrationOff("DATABASE_URL"),
		),
		withSkip(
			commandStep("nats", "nats integration tests", run,
				"go", "test", "-count=1", "-tags=integration", "./internal/persistence/natskv"),
			integrationOff("NATS_URL"),
		),
	}
}

func commandStep(id, title string, run commandRunner, name string, args ...string) flow.StepDefinition {
	return flow.StepDefinition{
		ID:          id,
		Title:       title,
		Description: strings.Join(append([]string{name}, args...), " "),
		Execution: func(ctx context.Context) (domain.StepResult, error) {
			if _, err := run(ctx, name, args...); err != nil {
				return domain.StepResult{}, err
			}
			return domain.StepResult{Success: true}, nil
		},
	}
}

func withSkip(def flow.StepDefinition, skip flow.Predicate) flow.StepDefinition {
	def.SkipCondition = skip
	def.CanSkip = true
	return def
}

func execRunner(logger *slog.Logger) commandRunner {
	return func(ctx context.Context, name string, args ...string) (string, error) {
		started := time.Now()

		var stdout bytes.Buffer
		cmd := exec.CommandContext(ctx, name, args...)
		cmd.Stdout = io.MultiWriter(os.Stdout, &stdout)
		cmd.Stderr = os.Stderr
		cmd.Env = os.Environ()

		if err := cmd.Run(); err != nil {
			exitCode := -1
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitCode()
			}
			logger.Error("command failed", "command", name, "exit_code", exitCode, "duration_ms", time.Since(started).Milliseconds())
			return stdout.String(), fmt.Errorf("%s exited with %d", name, exitCode)
		}

		logger.Debug("command finished", "command", name, "duration_ms", time.Since(started).Milliseconds())
		return stdout.String(), nil
	}
}

func listGoFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			switch d.Name() {
			case ".git", ".cache", "vendor", "testdata":
				return filepath.SkipDir
			}
			if path != root && strings.HasPrefix(d.Name(), "_") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) == ".go" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}
