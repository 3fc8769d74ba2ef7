// Package main provides the askr CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/askrdb/askr/pkg/config"
	"github.com/askrdb/askr/pkg/log"
	"github.com/askrdb/askr/pkg/schemafile"
	"github.com/askrdb/askr/pkg/snapshot"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg := config.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log.SetLevel(log.ParseLevel(cfg.LogLevel))

	rootCmd := &cobra.Command{
		Use:   "askr",
		Short: "AskrDB - strongly-typed transactional graph container",
		Long: `AskrDB is an in-memory, strongly-typed, transactional graph container.

Nodes belong to declared variants, reference each other through single,
ordered, and set shaped link fields, and change only through atomically
committed transactions that enforce link liveness, bidirectional symmetry,
and permitted target variants.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("askr v%s (%s)\n", version, commit)
		},
	})

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Work with graph type declarations",
	}
	validateCmd := &cobra.Command{
		Use:   "validate [dir]",
		Short: "Compile every *.graph.hcl declaration under a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := cfg.SchemaDir
			if len(args) == 1 {
				dir = args[0]
			}
			reg, err := schemafile.LoadDir(dir)
			if err != nil {
				return err
			}
			for _, tag := range reg.Variants() {
				spec, _ := reg.Variant(tag)
				fmt.Printf("%s (%d data, %d link fields)\n", tag, len(spec.Data), len(spec.Links))
			}
			return nil
		},
	}
	schemaCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(schemaCmd)

	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect stored snapshots",
	}
	var storeDir string
	snapshotCmd.PersistentFlags().StringVar(&storeDir, "store", "", "snapshot store directory (default: ASKR_SNAPSHOT_DIR)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots in the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cfg, storeDir)
			if err != nil {
				return err
			}
			defer store.Close()
			names, err := store.List()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect <name>",
		Short: "Print a snapshot's manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cfg, storeDir)
			if err != nil {
				return err
			}
			defer store.Close()
			snap, err := store.Load(args[0])
			if err != nil {
				return err
			}
			m := snap.Manifest
			fmt.Printf("format:      v%d\n", m.FormatVersion)
			fmt.Printf("created:     %s\n", m.CreatedAt)
			fmt.Printf("nodes:       %d\n", m.Nodes)
			fmt.Printf("context tag: %d\n", m.ContextTag)
			fmt.Printf("context seq: %d\n", m.ContextSeq)
			fmt.Printf("checksum:    %s\n", m.Checksum)
			return nil
		},
	}

	verifyCmd := &cobra.Command{
		Use:   "verify <name>",
		Short: "Verify a snapshot's payload checksum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cfg, storeDir)
			if err != nil {
				return err
			}
			defer store.Close()
			if _, err := store.Load(args[0]); err != nil {
				return err
			}
			fmt.Printf("%s: ok\n", args[0])
			return nil
		},
	}

	snapshotCmd.AddCommand(listCmd, inspectCmd, verifyCmd)
	rootCmd.AddCommand(snapshotCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore(cfg *config.Config, override string) (*snapshot.Store, error) {
	dir := cfg.SnapshotDir
	if override != "" {
		dir = override
	}
	return snapshot.OpenStore(snapshot.StoreOptions{Dir: dir})
}
