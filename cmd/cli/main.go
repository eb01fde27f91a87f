// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/adiadia/vault-flow/internal/logging"
	"github.com/spf13/cobra"
)

func main() {
	logger := logging.New(logging.Options{
		Env:     "prod",
		Level:   os.Getenv("LOG_LEVEL"),
		Service: "vaultflow-cli",
		Output:  os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "vaultflow",
		Short:         "Operate the vault-flow transaction queue and step plans",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		validateCmd(logger),
		queueCmd(logger),
		planCmd(logger),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}
