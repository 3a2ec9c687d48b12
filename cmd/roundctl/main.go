// roundctl is the operator CLI for the experiment round engine: it installs
// experiment configurations, creates and drives experiments, and inspects
// state against the configured storage backend.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"roundcore/internal/core"

	// Archive drivers register themselves with the blob factory.
	_ "roundcore/internal/blob/fs"
	_ "roundcore/internal/blob/memory"
	_ "roundcore/internal/blob/s3"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "roundctl",
		Short: "Operate behavioral experiment rounds",
		Long: `roundctl drives the experiment round engine: install experiment
configurations from YAML, register participants, and step experiments through
their configured round sequence.

Storage backend selection:
  ROUNDCORE_STORAGE_DRIVER=memory|sqlite|postgres (default sqlite)`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(setupCmd())
	rootCmd.AddCommand(createCmd())
	rootCmd.AddCommand(joinCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(invokeCmd())
	rootCmd.AddCommand(archivesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newService opens the configured store and wires the default rules and
// archive sink.
func newService() (*core.Service, error) {
	store, err := core.OpenPersistentStore(core.DefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	opts := []core.Option{core.WithLogger(core.NewZapLogger(nil))}
	if sink, err := openArchiveSink(); err == nil && sink != nil {
		opts = append(opts, core.WithArchiveSink(sink))
	}
	return core.NewService(store, opts...), nil
}
