package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wizzat/s3repo/pkg/repo"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the repository schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ignoreExisting, _ := cmd.Flags().GetBool("ignore-existing")

		return withRepo(func(ctx context.Context, r *repo.Repository) error {
			if err := r.CreateRepository(ctx, !ignoreExisting); err != nil {
				return err
			}
			fmt.Println("Repository schema created")
			return nil
		})
	},
}

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Drop the repository schema",
	Long: `Drop the repository schema, every table, and every view. Object-store
bytes are untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flushOnly, _ := cmd.Flags().GetBool("flush")

		return withRepo(func(ctx context.Context, r *repo.Repository) error {
			if flushOnly {
				if err := r.FlushRepository(ctx); err != nil {
					return err
				}
				fmt.Println("Repository emptied")
				return nil
			}
			if err := r.DestroyRepository(ctx); err != nil {
				return err
			}
			fmt.Println("Repository schema dropped")
			return nil
		})
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Dump the metadata schema and publish it to the backup bucket",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepo(func(ctx context.Context, r *repo.Repository) error {
			f, err := r.BackupDB(ctx)
			if err != nil {
				return err
			}
			s3Path, err := f.S3Path(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Backup published at %s\n", s3Path)
			return nil
		})
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore the metadata schema from the most recent backup",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepo(func(ctx context.Context, r *repo.Repository) error {
			f, err := r.RestoreDB(ctx)
			if err != nil {
				return err
			}
			if f != nil {
				fmt.Printf("Restored from %s\n", f.ObjectKey)
			}
			return nil
		})
	},
}

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Manage this host's repository membership",
}

var hostCacheCmd = &cobra.Command{
	Use:   "set-cache <bytes>",
	Short: "Set this host's cache budget in bytes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var maxBytes int64
		if _, err := fmt.Sscanf(args[0], "%d", &maxBytes); err != nil {
			return fmt.Errorf("invalid byte count %q: %w", args[0], err)
		}
		return withRepo(func(ctx context.Context, r *repo.Repository) error {
			return r.SetMaxCacheBytes(ctx, maxBytes)
		})
	},
}

var hostDecommissionCmd = &cobra.Command{
	Use:   "decommission",
	Short: "Remove this host and its download records from the repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepo(func(ctx context.Context, r *repo.Repository) error {
			if err := r.Decommission(ctx); err != nil {
				return err
			}
			fmt.Println("Host decommissioned")
			return nil
		})
	},
}

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run the maintenance loops",
}

var maintainHostCmd = &cobra.Command{
	Use:   "host",
	Short: "Prune this host's blob cache once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepo(func(ctx context.Context, r *repo.Repository) error {
			return r.MaintainCurrentHost(ctx)
		})
	},
}

var maintainDBCmd = &cobra.Command{
	Use:   "db",
	Short: "Run the cluster-wide expire-and-purge sweep once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepo(func(ctx context.Context, r *repo.Repository) error {
			return r.MaintainDatabase(ctx)
		})
	},
}

var maintainRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run both maintenance loops on a ticker until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		ctx := context.Background()
		r, err := openRepo(ctx)
		if err != nil {
			return err
		}
		defer r.Close()

		m := repo.NewMaintainer(r, interval)
		if metricsAddr != "" {
			m.ServeMetrics(metricsAddr)
		}
		m.Start(ctx)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		m.Stop()
		return nil
	},
}

func init() {
	initCmd.Flags().Bool("ignore-existing", false, "Succeed quietly when the schema already exists")
	destroyCmd.Flags().Bool("flush", false, "Empty every table but keep the schema")

	maintainRunCmd.Flags().Duration("interval", 15*time.Minute, "Maintenance interval")
	maintainRunCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	maintainCmd.AddCommand(maintainHostCmd)
	maintainCmd.AddCommand(maintainDBCmd)
	maintainCmd.AddCommand(maintainRunCmd)

	hostCmd.AddCommand(hostCacheCmd)
	hostCmd.AddCommand(hostDecommissionCmd)
}
