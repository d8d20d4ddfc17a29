package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/weibackapp/weiback/internal/config"
	"github.com/weibackapp/weiback"
)

func loginStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login-state",
		Short: "Report whether a usable session exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := engine.LoginState(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(map[string]bool{"logged_in": ok})
		},
	}
}

func smsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sms <phone>",
		Short: "Request a login SMS code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return engine.GetSMSCode(cmd.Context(), args[0])
		},
	}
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <phone> <code>",
		Short: "Exchange a phone/code pair for a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return engine.Login(cmd.Context(), args[0], args[1])
		},
	}
}

func backupUserCmd() *cobra.Command {
	var numPages int
	var filter string
	cmd := &cobra.Command{
		Use:   "backup-user <uid>",
		Short: "Back up a user's timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid uid %q: %w", args[0], err)
			}
			taskID, err := engine.BackupUser(cmd.Context(), uid, numPages, weiback.TimelineFilter(filter))
			if err != nil {
				return err
			}
			status, err := waitForJob(cmd.Context(), taskID, 500*time.Millisecond)
			if err != nil {
				return err
			}
			return out.OutputTaskStatus(status)
		},
	}
	cmd.Flags().IntVarP(&numPages, "pages", "n", 1, "maximum number of pages to fetch")
	cmd.Flags().StringVarP(&filter, "filter", "t", string(weiback.TimelineNormal), "timeline filter: normal, original, picture, video, article")
	return cmd
}

func backupFavoritesCmd() *cobra.Command {
	var numPages int
	cmd := &cobra.Command{
		Use:   "backup-favorites",
		Short: "Back up the logged-in user's favorites",
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := engine.BackupFavorites(cmd.Context(), numPages)
			if err != nil {
				return err
			}
			status, err := waitForJob(cmd.Context(), taskID, 500*time.Millisecond)
			if err != nil {
				return err
			}
			return out.OutputTaskStatus(status)
		},
	}
	cmd.Flags().IntVarP(&numPages, "pages", "n", 1, "maximum number of pages to fetch")
	return cmd
}

func rebackupPostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebackup-post <id>",
		Short: "Re-fetch a single post by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid post id %q: %w", args[0], err)
			}
			taskID, err := engine.RebackupPost(cmd.Context(), id)
			if err != nil {
				return err
			}
			status, err := waitForJob(cmd.Context(), taskID, 500*time.Millisecond)
			if err != nil {
				return err
			}
			return out.OutputTaskStatus(status)
		},
	}
}

func unfavoriteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unfavorite",
		Short: "Unfavorite every locally pending favorite upstream",
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := engine.UnfavoritePosts(cmd.Context())
			if err != nil {
				return err
			}
			status, err := waitForJob(cmd.Context(), taskID, 500*time.Millisecond)
			if err != nil {
				return err
			}
			return out.OutputTaskStatus(status)
		},
	}
}

func queryCmd() *cobra.Command {
	var uid int64
	var favoritedOnly bool
	var search string
	var reverse bool
	var page, perPage int
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query locally stored posts",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := weiback.Query{
				IsFavorited:  favoritedOnly,
				SearchTerm:   search,
				ReverseOrder: reverse,
				Page:         page,
				PostsPerPage: perPage,
			}
			if uid != 0 {
				q.UserID = &uid
			}
			result, err := engine.QueryLocalPosts(cmd.Context(), q)
			if err != nil {
				return err
			}
			return out.OutputQueryResult(result)
		},
	}
	cmd.Flags().Int64VarP(&uid, "uid", "u", 0, "restrict to this owner id")
	cmd.Flags().BoolVar(&favoritedOnly, "favorited", false, "only currently-favorited posts")
	cmd.Flags().StringVarP(&search, "search", "s", "", "full-text search term")
	cmd.Flags().BoolVar(&reverse, "reverse", false, "oldest first instead of newest first")
	cmd.Flags().IntVar(&page, "page", 1, "1-indexed page number")
	cmd.Flags().IntVar(&perPage, "per-page", 50, "posts per page")
	return cmd
}

func deletePostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-post <id>",
		Short: "Delete a post and its media",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid post id %q: %w", args[0], err)
			}
			return engine.DeletePost(cmd.Context(), id)
		},
	}
}

func exportCmd() *cobra.Command {
	var uid int64
	var favoritedOnly bool
	var search string
	var taskName, exportDir string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Render matching posts to a self-contained HTML bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := weiback.Query{IsFavorited: favoritedOnly, SearchTerm: search}
			if uid != 0 {
				q.UserID = &uid
			}
			result, err := engine.ExportPosts(cmd.Context(), q, weiback.ExportOptions{
				TaskName:  taskName,
				ExportDir: exportDir,
			})
			if err != nil {
				return err
			}
			return out.OutputExportResult(result)
		},
	}
	cmd.Flags().Int64VarP(&uid, "uid", "u", 0, "restrict to this owner id")
	cmd.Flags().BoolVar(&favoritedOnly, "favorited", false, "only currently-favorited posts")
	cmd.Flags().StringVarP(&search, "search", "s", "", "full-text search term")
	cmd.Flags().StringVar(&taskName, "name", "export", "name of this export, used as its subdirectory")
	cmd.Flags().StringVar(&exportDir, "out", "./export", "directory the export subdirectory is created under")
	return cmd
}

func cleanupPicturesCmd() *cobra.Command {
	var policy string
	cmd := &cobra.Command{
		Use:   "cleanup-pictures",
		Short: "Drop duplicate resolution variants of stored pictures",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := weiback.CleanupKeepHighest
			if policy == "lowest" {
				p = weiback.CleanupKeepLowest
			}
			result, err := engine.CleanupPictures(cmd.Context(), p)
			if err != nil {
				return err
			}
			return out.OutputCleanupResult(result)
		},
	}
	cmd.Flags().StringVar(&policy, "keep", "highest", "which resolution variant to keep: highest or lowest")
	return cmd
}

func cleanupAvatarsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup-avatars",
		Short: "Drop superseded avatar snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := engine.CleanupInvalidAvatars(cmd.Context())
			if err != nil {
				return err
			}
			return out.OutputCleanupResult(result)
		},
	}
}

func usernameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "username <uid>",
		Short: "Look up a user's locally stored screen name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid uid %q: %w", args[0], err)
			}
			name, err := engine.GetUsernameByID(cmd.Context(), uid)
			if err != nil {
				return err
			}
			return printJSON(map[string]string{"screen_name": name})
		},
	}
}

func searchUsersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search-users <prefix>",
		Short: "Find locally known users whose screen name starts with prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := engine.SearchIDByUsernamePrefix(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(users)
		},
	}
}

func pictureCmd() *cobra.Command {
	var dest string
	cmd := &cobra.Command{
		Use:   "picture <picture-id>",
		Short: "Write a stored picture's bytes to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := engine.GetPictureBlob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if dest == "" {
				dest = args[0]
			}
			if err := os.WriteFile(dest, blob, 0o644); err != nil {
				return err
			}
			return out.OutputBlobSummary(args[0], len(blob))
		},
	}
	cmd.Flags().StringVar(&dest, "out", "", "destination file (default: the picture id)")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "task-status",
		Short: "Show the current (or most recently finished) job",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := engine.GetCurrentTaskStatus()
			if err != nil {
				return err
			}
			if err := out.OutputTaskStatus(status); err != nil {
				return err
			}
			errs := engine.GetAndClearSubTaskErrors()
			if len(errs) > 0 {
				return printJSON(errs)
			}
			return nil
		},
	}
}

func cancelTaskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel-task",
		Short: "Cancel the active job, if any",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine.CancelCurrentTask()
			return nil
		},
	}
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or replace the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(engine.GetConfig())
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "save",
		Short: "Persist the effective configuration to --config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := engine.GetConfig()
			return config.Save(configPath, &c)
		},
	})
	return cmd
}
