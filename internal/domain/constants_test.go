// SPDX-License-Identifier: Apache-2.0

package domain

import "testing"

func TestStepStatusConstants(t *testing.T) {
	if StepPending != "pending" {
		t.Fatalf("unexpected StepPending value: %s", StepPending)
	}
	if StepActive != "active" {
		t.Fatalf("unexpected StepActive value: %s", StepActive)
	}
	if StepCompleted != "completed" {
		t.Fatalf("unexpected StepCompleted value: %s", StepCompleted)
	}
	if StepError != "error" {
		t.Fatalf("unexpected StepError value: %s", StepError)
	}
	if StepSkipped != "skipped" {
		t.Fatalf("unexpected StepSkipped value: %s", StepSkipped)
	}
}

func TestStepStatusDone(t *testing.T) {
	for _, s := range []StepStatus{StepCompleted, StepSkipped} {
		if !s.Done() {
			t.Fatalf("expected %s to be done", s)
		}
	}
	for _, s := range []StepStatus{StepPending, StepActive, StepError} {
		if s.Done() {
			t.Fatalf("expected %s not to be done", s)
		}
	}
}

func TestTxStatusTerminal(t *testing.T) {
	cases := map[TxStatus]bool{
		TxPending:   false,
		TxExecuting: false,
		TxCompleted: true,
		TxFailed:    true,
		TxCancelled: true,
	}
	for status, want := range cases {
		if got := status.Terminal(); got != want {
			t.Fatalf("Terminal(%s): expected %v got %v", status, want, got)
		}
	}
}

func TestFailedResultCarriesPhase(t *testing.T) {
	res := FailedResult(PhaseValidation, "not enough balance")
	if res.Success {
		t.Fatal("expected failed result")
	}
	if res.Error != "not enough balance" {
		t.Fatalf("unexpected error: %s", res.Error)
	}
	if res.Data["phase"] != "validation" {
		t.Fatalf("expected phase validation got %v", res.Data["phase"])
	}
	if res.TxHash != "" {
		t.Fatal("validation failures never carry a tx hash")
	}
}

func TestReceiptSucceeded(t *testing.T) {
	if !(Receipt{Status: "success"}).Succeeded() {
		t.Fatal("expected success receipt")
	}
	if !(Receipt{Status: "0x1"}).Succeeded() {
		t.Fatal("expected 0x1 receipt to succeed")
	}
	if (Receipt{Status: "reverted"}).Succeeded() {
		t.Fatal("expected reverted receipt to fail")
	}
}
