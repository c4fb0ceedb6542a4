package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wizzat/s3repo/pkg/config"
	"github.com/wizzat/s3repo/pkg/log"
	"github.com/wizzat/s3repo/pkg/repo"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "s3repo",
	Short: "s3repo - durable content repository over S3 and PostgreSQL",
	Long: `s3repo keeps a durable record of immutable file artifacts whose bytes
live in an S3-compatible object store and whose metadata lives in a shared
PostgreSQL schema. Hosts add files, publish them as the current version at a
logical path, tag and search them, and let the maintenance loops reclaim
stale local copies and retired rows.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"s3repo version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Config file path (overrides $S3_REPO_CFG)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(expireCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(tagCmd)
	rootCmd.AddCommand(untagCmd)
	rootCmd.AddCommand(maintainCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(hostCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// openRepo loads configuration and opens the repository.
func openRepo(ctx context.Context) (*repo.Repository, error) {
	var (
		cfg *config.Config
		err error
	)
	if path, _ := rootCmd.PersistentFlags().GetString("config"); path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	return repo.New(ctx, cfg, repo.Options{})
}

// withRepo runs fn inside a repository session, committing on success and
// rolling back on failure.
func withRepo(fn func(ctx context.Context, r *repo.Repository) error) error {
	ctx := context.Background()

	r, err := openRepo(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := fn(ctx, r); err != nil {
		if rbErr := r.Rollback(ctx); rbErr != nil {
			log.Errorf("rollback failed", rbErr)
		}
		return err
	}
	return r.Commit(ctx)
}
