package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wizzat/s3repo/pkg/repo"
)

var addCmd = &cobra.Command{
	Use:   "add <path> [local-file]",
	Short: "Register a new file version at a logical path",
	Long: `Register a new file version at a logical path. With a local file
argument, the file's bytes are imported into the cache layout; otherwise an
empty local file is touched for out-of-band production.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		bucket, _ := cmd.Flags().GetString("bucket")
		key, _ := cmd.Flags().GetString("key")
		move, _ := cmd.Flags().GetBool("move")
		publish, _ := cmd.Flags().GetBool("publish")

		return withRepo(func(ctx context.Context, r *repo.Repository) error {
			opts := repo.AddFileOptions{Bucket: bucket, ObjectKey: key}

			var (
				f   *repo.File
				err error
			)
			if len(args) == 2 {
				f, err = r.AddLocalFile(ctx, args[0], args[1], move, opts)
			} else {
				f, err = r.AddFile(ctx, args[0], opts)
				if err == nil {
					err = f.Touch(ctx, "")
				}
			}
			if err != nil {
				return err
			}

			if publish {
				if err := f.Publish(ctx); err != nil {
					return err
				}
			}

			s3Path, err := f.S3Path(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Added file %d at %s\n", f.FileID, s3Path)
			return nil
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Fetch the current version at a logical path into the local cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepo(func(ctx context.Context, r *repo.Repository) error {
			f, err := r.GetFile(ctx, args[0])
			if err != nil {
				return err
			}
			if f == nil {
				return fmt.Errorf("no current version at %q", args[0])
			}
			if err := f.Download(ctx); err != nil {
				return err
			}
			localPath, err := f.LocalPath(ctx)
			if err != nil {
				return err
			}
			fmt.Println(localPath)
			return nil
		})
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish <path>",
	Short: "Publish the newest version at a logical path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepo(func(ctx context.Context, r *repo.Repository) error {
			f, err := newestAt(ctx, r, args[0])
			if err != nil {
				return err
			}
			if err := f.Publish(ctx); err != nil {
				return err
			}
			fmt.Printf("Published file %d\n", f.FileID)
			return nil
		})
	},
}

var expireCmd = &cobra.Command{
	Use:   "expire <path>",
	Short: "Expire the current version at a logical path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepo(func(ctx context.Context, r *repo.Repository) error {
			f, err := r.GetFile(ctx, args[0])
			if err != nil {
				return err
			}
			if f == nil {
				return fmt.Errorf("no current version at %q", args[0])
			}
			if err := f.Expire(ctx); err != nil {
				return err
			}
			fmt.Printf("Expired file %d\n", f.FileID)
			return nil
		})
	},
}

var findCmd = &cobra.Command{
	Use:   "find",
	Short: "Search files by tag predicate",
	RunE: func(cmd *cobra.Command, args []string) error {
		anyTags, _ := cmd.Flags().GetStringSlice("any")
		allTags, _ := cmd.Flags().GetStringSlice("all")
		exclude, _ := cmd.Flags().GetStringSlice("exclude")
		unpublished, _ := cmd.Flags().GetBool("unpublished")

		return withRepo(func(ctx context.Context, r *repo.Repository) error {
			files, err := r.FindTagged(ctx, repo.TagQuery{
				Any:                anyTags,
				All:                allTags,
				Exclude:            exclude,
				IncludeUnpublished: unpublished,
			})
			if err != nil {
				return err
			}
			for _, f := range files {
				s3Path, err := f.S3Path(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("%d\t%s\n", f.FileID, s3Path)
			}
			return nil
		})
	},
}

var tagCmd = &cobra.Command{
	Use:   "tag <path> <tag>...",
	Short: "Tag the current version at a logical path",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		onPath, _ := cmd.Flags().GetBool("path")
		dateTag, _ := cmd.Flags().GetString("date")

		return withRepo(func(ctx context.Context, r *repo.Repository) error {
			f, err := r.GetFile(ctx, args[0])
			if err != nil {
				return err
			}
			if f == nil {
				return fmt.Errorf("no current version at %q", args[0])
			}

			if dateTag != "" {
				period, err := time.Parse("2006-01-02 15:04:05", args[1])
				if err != nil {
					return fmt.Errorf("invalid timestamp %q: %w", args[1], err)
				}
				return f.TagDate(ctx, period, dateTag)
			}

			if onPath {
				return f.TagPath(ctx, args[1:]...)
			}
			return f.Tag(ctx, args[1:]...)
		})
	},
}

var untagCmd = &cobra.Command{
	Use:   "untag <path> <tag>...",
	Short: "Remove tags from the current version at a logical path",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		onPath, _ := cmd.Flags().GetBool("path")

		return withRepo(func(ctx context.Context, r *repo.Repository) error {
			f, err := r.GetFile(ctx, args[0])
			if err != nil {
				return err
			}
			if f == nil {
				return fmt.Errorf("no current version at %q", args[0])
			}
			if onPath {
				return f.UntagPath(ctx, args[1:]...)
			}
			return f.Untag(ctx, args[1:]...)
		})
	},
}

// newestAt returns the newest version at a logical path, current or not.
func newestAt(ctx context.Context, r *repo.Repository, path string) (*repo.File, error) {
	files, err := r.FindAtPath(ctx, path)
	if err != nil {
		return nil, err
	}
	var newest *repo.File
	for _, f := range files {
		if newest == nil || f.DateCreated.After(newest.DateCreated) {
			newest = f
		}
	}
	if newest == nil {
		return nil, fmt.Errorf("no file at %q", path)
	}
	return newest, nil
}

func init() {
	addCmd.Flags().String("bucket", "", "Override the default bucket")
	addCmd.Flags().String("key", "", "Override the default object key")
	addCmd.Flags().Bool("move", true, "Move (rather than copy) the local file into the cache")
	addCmd.Flags().Bool("publish", false, "Publish immediately after adding")

	findCmd.Flags().StringSlice("any", nil, "Match files with at least one of these tags")
	findCmd.Flags().StringSlice("all", nil, "Match files with every one of these tags")
	findCmd.Flags().StringSlice("exclude", nil, "Reject files with any of these tags")
	findCmd.Flags().Bool("unpublished", false, "Search all versions, not just current files")

	tagCmd.Flags().Bool("path", false, "Tag the path (every version) instead of the file")
	tagCmd.Flags().String("date", "", "Treat the argument as a timestamp and fan out date tags at this granularity")

	untagCmd.Flags().Bool("path", false, "Untag the path instead of the file")
}
