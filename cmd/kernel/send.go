package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"slug/internal/capdata"
	"slug/internal/executor"
	"slug/internal/id"
	"slug/internal/kernelsvc"
)

func newSendCmd(opts *globalOpts) *cobra.Command {
	var to, body string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Deliver one message to a kernel object or promise and drain the engine.",
		Long: `send boots an ephemeral engine over the chosen store, enqueues a single
external message targeting an already-known ko<n>/kp<n> ref (as reported by
"kernel ps" or a prior "kernel run"), drains the run queue to quiescence, and
exits. It does not relaunch any subcluster's vats, so a delivery to a
vat-owned object with no handle attached in this process is dropped rather
than reaching live vat code. The message carries no result promise, so no
rejection is recorded; "delivered" is printed either way.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return sendMessage(opts, to, body)
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target ko<n> or kp<n> kernel ref (required)")
	cmd.Flags().StringVar(&body, "body", "", "method-call body, e.g. \"ping:hello\"")
	return cmd
}

func sendMessage(opts *globalOpts, to, body string) error {
	if to == "" {
		return fmt.Errorf("kernel send: --to is required")
	}
	target, err := id.ParseKRef(to)
	if err != nil {
		return fmt.Errorf("kernel send: %w", err)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	s, err := openStore(opts)
	if err != nil {
		return fmt.Errorf("kernel send: opening store: %w", err)
	}

	engine := executor.New(s, kernelsvc.New(), log)
	engine.EnqueueExternal(target, capdata.Message{MethArgs: capdata.CapData{Body: body}})

	if err := engine.Run(context.Background(), nil); err != nil {
		return fmt.Errorf("kernel send: engine halted: %w", err)
	}

	fmt.Println("delivered")
	return nil
}
