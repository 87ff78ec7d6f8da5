package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bough/archive"
	"bough/version"
)

var (
	commitMessage   string
	commitAuthor    string
	commitPublishAt string
	sweepSinceDays  int
	sweepDryRun     bool
	exportOutput    string
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Track, commit and restore whole trees",
}

var versionNewCmd = &cobra.Command{
	Use:   "new <kind>",
	Short: "Create a tracker with a fresh working copy",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		attrs, err := parseAttrs(attrsFlag)
		if err != nil {
			return err
		}
		tr, err := a.version.NewTracker(ctx, args[0], attrs)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "tracker %s\nworking %s\n", tr.ID, tr.WorkingRoot)
		return nil
	}),
}

var versionCommitCmd = &cobra.Command{
	Use:   "commit <tracker-id>",
	Short: "Freeze the working copy into a new commit",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		opts, err := commitOptions(a)
		if err != nil {
			return err
		}
		c, err := a.version.Commit(ctx, args[0], opts)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), c.ID)
		return nil
	}),
}

var versionRevertCmd = &cobra.Command{
	Use:   "revert <tracker-id> <commit-id>",
	Short: "Restore a commit as the working copy and record it as the new head",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		opts, err := commitOptions(a)
		if err != nil {
			return err
		}
		c, err := a.version.RevertTo(ctx, args[0], args[1], opts)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), c.ID)
		return nil
	}),
}

var versionResetCmd = &cobra.Command{
	Use:   "reset <tracker-id>",
	Short: "Discard uncommitted changes",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		return a.version.Reset(ctx, args[0])
	}),
}

var versionStatusCmd = &cobra.Command{
	Use:   "status <tracker-id>",
	Short: "Report whether the working copy differs from the head commit",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		changed, err := a.version.HasChanges(ctx, args[0])
		if err != nil {
			return err
		}
		if changed {
			fmt.Fprintln(cmd.OutOrStdout(), "modified")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "clean")
		}
		return nil
	}),
}

var versionLogCmd = &cobra.Command{
	Use:   "log <tracker-id>",
	Short: "Show commit history, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		history, err := a.version.HistoryList(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonFlag {
			return printJSON(cmd, history)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "COMMIT\tPARENT\tAUTHOR\tCREATED\tPUBLISH\tMESSAGE")
		for _, c := range history {
			publish := "-"
			if c.PublishAt != nil {
				publish = time.UnixMilli(*c.PublishAt).Format(time.RFC3339)
			}
			parent := "-"
			if c.ParentID != "" {
				parent = shortID(c.ParentID)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", c.ID, parent, c.Author,
				time.UnixMilli(c.CreatedAt).Format(time.RFC3339), publish, c.Message)
		}
		return w.Flush()
	}),
}

var versionVerifyCmd = &cobra.Command{
	Use:   "verify <commit-id>",
	Short: "Recompute a commit's fingerprint",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		if err := a.version.VerifyCommit(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	}),
}

var versionRmCmd = &cobra.Command{
	Use:   "rm <tracker-id>",
	Short: "Delete a tracker, its commits and the trees no one else uses",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		return a.version.Delete(ctx, args[0])
	}),
}

var versionCloneCmd = &cobra.Command{
	Use:   "clone <tracker-id>",
	Short: "Copy a tracker, sharing its history",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		tr, err := a.version.Clone(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "tracker %s\nworking %s\n", tr.ID, tr.WorkingRoot)
		return nil
	}),
}

var versionOrphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List trackers no content owns",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		orphans, err := a.version.Orphans(ctx)
		if err != nil {
			return err
		}
		for _, tr := range orphans {
			fmt.Fprintln(cmd.OutOrStdout(), tr.ID)
		}
		return nil
	}),
}

var versionSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete orphaned trackers",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		plan, err := a.version.SweepOrphans(ctx, version.SweepOptions{
			SinceDays: sweepSinceDays,
			DryRun:    sweepDryRun,
		})
		if err != nil {
			return err
		}
		verb := "Deleted"
		if sweepDryRun {
			verb = "Would delete"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %d trackers (%d commits)\n", verb, len(plan.Trackers), plan.CommitCount)
		for _, tr := range plan.Trackers {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", tr.ID)
		}
		return nil
	}),
}

var versionExportCmd = &cobra.Command{
	Use:   "export <commit-id>",
	Short: "Write a commit's tree to a compressed archive",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		root, err := a.version.Snapshot(ctx, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if exportOutput != "" {
			f, err := os.Create(exportOutput)
			if err != nil {
				return fmt.Errorf("creating archive: %w", err)
			}
			defer f.Close()
			out = f
		}
		header, err := archive.Write(out, root)
		if err != nil {
			return err
		}
		a.log.Info("exported commit",
			zap.String("commit", args[0]),
			zap.Int("nodes", header.Nodes),
			zap.String("fingerprint", header.Fingerprint))
		return nil
	}),
}

var versionImportCmd = &cobra.Command{
	Use:   "import <archive>",
	Short: "Create a tracker from an archive",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening archive: %w", err)
		}
		defer f.Close()

		root, header, err := archive.Read(f, a.engine.Kinds())
		if err != nil {
			return err
		}
		opts, err := commitOptions(a)
		if err != nil {
			return err
		}
		if opts.Message == "" {
			opts.Message = "Import " + header.Fingerprint
		}
		tr, err := a.version.Import(ctx, root, opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "tracker %s\nworking %s\n", tr.ID, tr.WorkingRoot)
		return nil
	}),
}

func commitOptions(a *app) (version.CommitOptions, error) {
	opts := version.CommitOptions{Author: commitAuthor, Message: commitMessage}
	if opts.Author == "" {
		opts.Author = a.cfg.Author
	}
	if commitPublishAt != "" {
		at, err := time.Parse(time.RFC3339, commitPublishAt)
		if err != nil {
			return opts, fmt.Errorf("parsing --publish-at: %w", err)
		}
		opts.PublishAt = &at
	}
	return opts, nil
}

func init() {
	versionNewCmd.Flags().StringVar(&attrsFlag, "attrs", "", "Root content attributes as a JSON object")
	for _, c := range []*cobra.Command{versionCommitCmd, versionRevertCmd, versionImportCmd} {
		c.Flags().StringVarP(&commitMessage, "message", "m", "", "Commit message")
		c.Flags().StringVar(&commitAuthor, "author", "", "Commit author (default $BOUGH_AUTHOR)")
		c.Flags().StringVar(&commitPublishAt, "publish-at", "", "Publish time (RFC 3339)")
	}
	versionLogCmd.Flags().BoolVar(&jsonFlag, "json", false, "Output as JSON")
	versionSweepCmd.Flags().IntVar(&sweepSinceDays, "since-days", 0, "Only sweep trackers older than N days")
	versionSweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "Show what would be deleted")
	versionExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Archive file (default stdout)")

	versionCmd.AddCommand(versionNewCmd, versionCommitCmd, versionRevertCmd, versionResetCmd,
		versionStatusCmd, versionLogCmd, versionVerifyCmd, versionRmCmd, versionCloneCmd,
		versionOrphansCmd, versionSweepCmd, versionExportCmd, versionImportCmd)
}
