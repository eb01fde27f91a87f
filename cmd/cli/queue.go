// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/adiadia/vault-flow/internal/app"
	"github.com/adiadia/vault-flow/internal/chain"
	"github.com/adiadia/vault-flow/internal/config"
	"github.com/adiadia/vault-flow/internal/domain"
	"github.com/adiadia/vault-flow/internal/queue"
	"github.com/spf13/cobra"
)

func queueCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and operate the persisted transaction queue",
		Long: `Operate the transaction queue stored in the configured backend.

The queue has a single owner. Stop the api and worker before running
commands that change it.`,
	}
	cmd.AddCommand(
		queueListCmd(logger),
		queueExecuteAllCmd(logger),
		queueCleanupCmd(logger),
		queueClearCmd(logger),
	)
	return cmd
}

func queueListCmd(logger *slog.Logger) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List queued transactions in execution order",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, closeFn, err := openQueue(cmd.Context(), logger, false)
			if err != nil {
				return err
			}
			defer closeFn()

			txs := q.List()
			if status != "" {
				txs = q.ByStatus(domain.TxStatus(status))
			}
			out := cmd.OutOrStdout()
			if len(txs) == 0 {
				_, _ = fmt.Fprintln(out, muted("queue is empty"))
				return nil
			}
			return writeTable(out, []string{"#", "ID", "TYPE", "TITLE", "CHAIN", "STATUS", "UPDATED", "ERROR"}, txRows(txs))
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only show entries with this status")
	return cmd
}

func queueExecuteAllCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "execute-all",
		Short: "Execute every pending transaction in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, closeFn, err := openQueue(cmd.Context(), logger, true)
			if err != nil {
				return err
			}
			defer closeFn()

			results := q.ExecuteAll(cmd.Context())
			out := cmd.OutOrStdout()
			if len(results) == 0 {
				_, _ = fmt.Fprintln(out, muted("nothing pending"))
				return nil
			}
			if err := writeTable(out, []string{"#", "ID", "TYPE", "TITLE", "CHAIN", "STATUS", "UPDATED", "ERROR"}, txRows(results)); err != nil {
				return err
			}

			failed := 0
			for _, tx := range results {
				if tx.Status == domain.TxFailed {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d transactions failed", failed, len(results))
			}
			return nil
		},
	}
}

func queueCleanupCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Purge finished transactions older than 24 hours",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, closeFn, err := openQueue(cmd.Context(), logger, false)
			if err != nil {
				return err
			}
			defer closeFn()

			purged := q.Cleanup(cmd.Context())
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "purged %s transactions\n", success(strconv.Itoa(purged)))
			return nil
		},
	}
}

func queueClearCmd(logger *slog.Logger) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every transaction from the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear the queue without --yes")
			}
			q, closeFn, err := openQueue(cmd.Context(), logger, false)
			if err != nil {
				return err
			}
			defer closeFn()

			n := len(q.List())
			q.ClearAll(cmd.Context())
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cleared %s transactions\n", warning(strconv.Itoa(n)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm clearing the queue")
	return cmd
}

func openQueue(ctx context.Context, logger *slog.Logger, withWriter bool) (*queue.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	backend, err := app.OpenStorage(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, nil, err
	}

	var writer chain.Writer
	if withWriter {
		relayer, err := app.NewRelayer(cfg.Relayer, logger)
		if err != nil {
			backend.Close()
			return nil, nil, err
		}
		if relayer == nil {
			backend.Close()
			return nil, nil, errors.New("RELAYER_URL is required to execute transactions")
		}
		writer = relayer
	}

	return app.NewQueue(ctx, cfg, backend.Storage, writer, logger), backend.Close, nil
}

func txRows(txs []domain.QueueTransaction) [][]string {
	rows := make([][]string, len(txs))
	for i, tx := range txs {
		rows[i] = []string{
			strconv.Itoa(i + 1),
			tx.ID,
			string(tx.Type),
			tx.Title,
			strconv.FormatInt(tx.ChainID, 10),
			txStatus(tx.Status),
			tx.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
			dash(tx.Error),
		}
	}
	return rows
}
