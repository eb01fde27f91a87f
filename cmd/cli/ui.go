// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/adiadia/vault-flow/internal/domain"
	"github.com/adiadia/vault-flow/internal/flow"
	"github.com/fatih/color"
)

var (
	muted   = color.New(color.FgHiBlack).SprintFunc()
	success = color.New(color.FgGreen).SprintFunc()
	failure = color.New(color.FgRed, color.Bold).SprintFunc()
	warning = color.New(color.FgYellow).SprintFunc()
	active  = color.New(color.FgCyan, color.Bold).SprintFunc()
)

func txStatus(s domain.TxStatus) string {
	switch s {
	case domain.TxCompleted:
		return success(string(s))
	case domain.TxFailed:
		return failure(string(s))
	case domain.TxExecuting:
		return active(string(s))
	case domain.TxCancelled:
		return muted(string(s))
	default:
		return warning(string(s))
	}
}

func stepStatus(s domain.StepStatus) string {
	switch s {
	case domain.StepCompleted:
		return success(string(s))
	case domain.StepError:
		return failure(string(s))
	case domain.StepActive:
		return active(string(s))
	case domain.StepSkipped:
		return muted(string(s))
	default:
		return warning(string(s))
	}
}

func writeTable(w io.Writer, header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, strings.Join(header, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(tw, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// writeSteps prints one row per flow step in execution order.
func writeSteps(w io.Writer, st flow.State) error {
	rows := make([][]string, len(st.Steps))
	for i, s := range st.Steps {
		rows[i] = []string{
			strconv.Itoa(i + 1),
			s.ID,
			s.Title,
			stepStatus(s.Status),
			dash(s.TxHash),
			dash(s.Error),
		}
	}
	return writeTable(w, []string{"#", "STEP", "TITLE", "STATUS", "TX", "ERROR"}, rows)
}

func printError(w io.Writer, err error) {
	_, _ = fmt.Fprintln(w, failure("error:"), err)
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
