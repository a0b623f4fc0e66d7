package main

import (
	"github.com/spf13/cobra"
)

// globalOpts are the persistent flags every subcommand shares: which
// Backend to open and where. They are plain flags: no config-file or
// environment layer applies to them.
type globalOpts struct {
	backend string
	dsn     string
}

// newRootCmd builds the kernel CLI, the spec §6 operator surface over a
// running (or persisted) kernel store: run boots a subcluster and drives
// the executor until interrupted, send round-trips a single
// message through an ephemeral in-process engine, ps reports persisted
// endpoint/queue state. The kernel core itself has no network control
// plane (spec §1 places wire transport out of scope) — every subcommand
// here is a one-shot process that opens the store, does its work, and
// exits.
func newRootCmd() *cobra.Command {
	opts := &globalOpts{}

	root := &cobra.Command{
		Use:           "kernel",
		Short:         "Operate a capability-secure message-routing kernel.",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&opts.backend, "backend", "memory", "storage backend: memory, sqlite, mysql, postgres")
	root.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "backend path/DSN (sqlite file path; mysql/postgres connection string); unused for memory")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newSendCmd(opts))
	root.AddCommand(newPsCmd(opts))
	return root
}
