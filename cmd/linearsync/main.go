// Package main provides the CLI entrypoint for linearsync.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"linearsync/internal/config"
	"linearsync/internal/linear"
	"linearsync/internal/logger"
	"linearsync/internal/store"
	"linearsync/internal/sync"
	"linearsync/internal/vault"
)

func main() {
	logger.ConfigureFromEnv()
	defer logger.Close()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var configPath string
var pullCreate bool

var rootCmd = &cobra.Command{
	Use:   "linearsync",
	Short: "Sync a local artifact vault with Linear issues",
	Long: `linearsync keeps a directory of local artifacts (notes, images, files)
in sync with Linear issues: push creates or updates one issue per
artifact, pull refreshes artifacts from their issues and preserves
conflicting local edits as conflict copies.`,
}

var pushCmd = &cobra.Command{
	Use:   "push <vault-dir>",
	Short: "Push local artifacts to Linear",
	Long: `Push every non-conflict artifact in the vault to Linear, creating,
updating, or reusing issues as needed. Artifact-to-issue associations
are recorded in <vault-dir>/.linearsync/mapping.json.`,
	Args: cobra.ExactArgs(1),
	RunE: runPush,
}

var pullCmd = &cobra.Command{
	Use:   "pull <vault-dir>",
	Short: "Pull remote issue state into the vault",
	Long: `Refresh every mapped artifact from its Linear issue. Local edits made
since the last sync are preserved as conflict copies before the
overwrite. With --create, remote issues carrying the configured import
label are imported as new artifacts.`,
	Args: cobra.ExactArgs(1),
	RunE: runPull,
}

var archiveCmd = &cobra.Command{
	Use:   "archive <vault-dir> <artifact-id>",
	Short: "Archive the issue mapped to an artifact",
	Long: `Archive the Linear issue mapped to the given artifact and remove the
mapping entry. The local artifact is left untouched.`,
	Args: cobra.ExactArgs(2),
	RunE: runArchive,
}

var statusCmd = &cobra.Command{
	Use:   "status <vault-dir>",
	Short: "Show mapping and conflict state",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/linearsync/config.yml)")
	pullCmd.Flags().BoolVar(&pullCreate, "create", false, "import labeled remote issues as new artifacts")
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(statusCmd)
}

// setup opens the vault, loads the mapping store and configuration, and
// wires the engine. The caller closes the vault. The returned config is the
// one the engine reads, so flag overrides can be applied to it before a run.
func setup(vaultDir string) (*sync.Engine, *vault.Dir, *config.Config, error) {
	path := configPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return nil, nil, nil, err
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}

	d, err := vault.Open(vaultDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open vault %q: %w", vaultDir, err)
	}

	st := store.Load(filepath.Join(d.Root(), ".linearsync", "mapping.json"))

	var gw linear.Gateway
	if cfg.BearerToken != "" {
		gw = linear.NewWithBearer(cfg.BearerToken)
	} else {
		gw = linear.New(cfg.APIKey)
	}

	return sync.New(st, gw, d, cfg), d, cfg, nil
}

func runPush(cmd *cobra.Command, args []string) error {
	engine, d, _, err := setup(args[0])
	if err != nil {
		return err
	}
	defer d.Close()

	result, err := engine.Push(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("push: %d created, %d updated, %d reused, %d conflict artifacts skipped\n",
		result.Created, result.Updated, result.Reused, result.SkippedConflict)
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	return reportErrors(result.Failed, result.Errors)
}

func runPull(cmd *cobra.Command, args []string) error {
	engine, d, cfg, err := setup(args[0])
	if err != nil {
		return err
	}
	defer d.Close()

	if pullCreate {
		cfg.PullCreate = true
	}

	result, err := engine.Pull(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("pull: %d updated, %d reconciled, %d imported, %d skipped (existing title), %d conflicts\n",
		result.Updated, result.Reconciled, result.Imported, result.SkippedExistingTitle, result.Conflicts)
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	return reportErrors(result.Failed, result.Errors)
}

func runArchive(cmd *cobra.Command, args []string) error {
	engine, d, _, err := setup(args[0])
	if err != nil {
		return err
	}
	defer d.Close()

	if err := engine.Archive(cmd.Context(), args[1]); err != nil {
		return err
	}
	fmt.Printf("archived issue for artifact %s\n", args[1])
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	d, err := vault.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open vault %q: %w", args[0], err)
	}
	defer d.Close()

	st := store.Load(filepath.Join(d.Root(), ".linearsync", "mapping.json"))

	artifacts, err := d.ListArtifacts()
	if err != nil {
		return err
	}

	mapped := 0
	for _, a := range artifacts {
		entry, ok := st.Get(a.ID)
		if !ok {
			continue
		}
		mapped++
		fmt.Printf("%s  %s  pushed=%s pulled=%s\n",
			entry.Identifier, a.Name, orNever(entry.LastPushedAt), orNever(entry.LastPulledAt))
	}

	fmt.Printf("%d artifacts, %d mapped, %d unmapped, %d conflict records\n",
		len(artifacts), mapped, len(artifacts)-mapped, len(st.Conflicts()))
	for _, c := range st.Conflicts() {
		fmt.Printf("conflict: artifact %s preserved as %s (%s)\n", c.ArtifactID, c.CopyID, c.CreatedAt)
	}
	return nil
}

func orNever(ts string) string {
	if ts == "" {
		return "never"
	}
	return ts
}

// reportErrors prints per-item failures to stderr. The run itself still
// succeeded, so the exit status stays zero; only configuration and IO
// failures abort a command.
func reportErrors(failed int, errs []string) error {
	for _, e := range errs {
		fmt.Fprintf(os.Stderr, "error: %s\n", e)
	}
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d items failed\n", failed)
	}
	return nil
}
