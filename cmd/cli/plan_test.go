// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/adiadia/vault-flow/internal/domain"
	"github.com/adiadia/vault-flow/internal/plan"
)

type recordingClient struct {
	simulated []string
	written   []string
	simErr    error
}

func (r *recordingClient) Write(ctx context.Context, call domain.ContractCall) (string, error) {
	r.written = append(r.written, call.FunctionName)
	return "0x" + call.FunctionName, nil
}

func (r *recordingClient) Simulate(ctx context.Context, call domain.ContractCall) (json.RawMessage, error) {
	if r.simErr != nil {
		return nil, r.simErr
	}
	r.simulated = append(r.simulated, call.FunctionName)
	return json.RawMessage(`{}`), nil
}

func (r *recordingClient) WaitForReceipt(ctx context.Context, chainID int64, txHash string) (domain.Receipt, error) {
	return domain.Receipt{TxHash: txHash, Status: "success"}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadTestPlan(t *testing.T) *plan.Plan {
	t.Helper()
	p, err := plan.LoadFile("../../internal/plan/testdata/deposit.yaml")
	if err != nil {
		t.Fatalf("load plan: %v", err)
	}
	return p
}

func TestRunPlanDryRunSimulatesEveryCall(t *testing.T) {
	client := &recordingClient{}
	var out bytes.Buffer

	if err := runPlan(context.Background(), &out, loadTestPlan(t), simulatingWriter{client: client}, discardLogger()); err != nil {
		t.Fatalf("run plan: %v", err)
	}

	if len(client.written) != 0 {
		t.Fatalf("expected no writes got %v", client.written)
	}
	if strings.Join(client.simulated, ",") != "approve,deposit" {
		t.Fatalf("expected approve,deposit simulated got %v", client.simulated)
	}
	if !strings.Contains(out.String(), "completed") {
		t.Fatalf("expected completion line got %q", out.String())
	}
}

func TestRunPlanReportsFailedStep(t *testing.T) {
	client := &recordingClient{simErr: errors.New("execution reverted")}
	var out bytes.Buffer

	err := runPlan(context.Background(), &out, loadTestPlan(t), simulatingWriter{client: client}, discardLogger())
	if !errors.Is(err, domain.ErrStepFailed) {
		t.Fatalf("expected ErrStepFailed got %v", err)
	}
	if !strings.Contains(out.String(), "execution reverted") {
		t.Fatalf("expected failure in table got %q", out.String())
	}
}

func TestTxRowsFormatsMissingError(t *testing.T) {
	rows := txRows([]domain.QueueTransaction{{
		ID:           "tx-1",
		TxDescriptor: domain.TxDescriptor{Title: "Deposit", ChainID: 8453, Type: domain.TxDeposit},
		Status:       domain.TxPending,
	}})
	if len(rows) != 1 {
		t.Fatalf("expected one row got %d", len(rows))
	}
	if rows[0][0] != "1" || rows[0][4] != "8453" || rows[0][7] != "-" {
		t.Fatalf("unexpected row %v", rows[0])
	}
}
