package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"verhist/internal/app"
	"verhist/internal/config"
	"verhist/internal/history"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file from the default location.
func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates an App. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "PushDirectory").
func newApp(cmd *cobra.Command, operation string) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	var opts []app.Option
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		opts = append(opts, app.WithConsole(os.Stderr))
	}

	a, err := app.NewApp(cfg, operation, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// closeApp closes a and reports a close error unless the command already failed.
func closeApp(a *app.App, err *error) {
	if cerr := a.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}

func parseVersionFlag(cmd *cobra.Command) (history.VersionID, error) {
	raw, _ := cmd.Flags().GetString("version")
	if raw == "" {
		return 0, nil
	}
	return history.ParseVersion(raw)
}

func pushOptions(cmd *cobra.Command) app.PushOptions {
	author, _ := cmd.Flags().GetString("author")
	if author == "" {
		author = os.Getenv("USER")
	}
	device, _ := cmd.Flags().GetString("device")
	if device == "" {
		device, _ = os.Hostname()
	}
	return app.PushOptions{Author: author, Device: device}
}

var rootCmd = &cobra.Command{
	Use:   "verhist",
	Short: "Version history for project directories",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		serviceID := uuid.New().String()
		cfg := config.NewConfig(serviceID, defaults.BaseDir)

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		status, err := app.Migrate(cfg)
		if err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Service ID: %s\n", serviceID)
		fmt.Printf("Base Dir:   %s\n", defaults.BaseDir)
		fmt.Printf("Schema:     %d\n", status.Current)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Service ID:  %s\n", cfg.ServiceID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Storage:     %s\n", describeStorage(cfg.Storage))
		fmt.Printf("Database:    %s\n", cfg.Database.Type)
		fmt.Printf("Staging:     %s (max %d bytes)\n", cfg.Staging.Type, cfg.Staging.MaxSize)
		fmt.Printf("Versioned:   %s\n", strings.Join(cfg.History.VersionedExtensions, " "))
		fmt.Printf("Ignore:      %s\n", strings.Join(cfg.Filesystem.Ignore, " "))
		return nil
	},
}

func describeStorage(s config.StorageConfig) string {
	var desc string
	switch s.Type {
	case "filesystem":
		desc = "filesystem " + s.FSRoot
	case "s3":
		desc = "s3 " + s.S3Bucket + "/" + s.S3Prefix
	default:
		desc = s.Type
	}
	if s.Compression != "" {
		desc += " (" + s.Compression + ")"
	}
	return desc
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if check, _ := cmd.Flags().GetBool("check"); check {
			st, err := app.MigrationStatus(cfg)
			if err != nil {
				return err
			}
			fmt.Printf("Schema version %d of %d, %d pending\n", st.Current, st.Latest, st.Pending())
			return nil
		}
		st, err := app.Migrate(cfg)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		fmt.Printf("Schema at version %d\n", st.Current)
		return nil
	},
}

// project command
var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create an empty project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		workspace, _ := cmd.Flags().GetString("workspace")
		creator, _ := cmd.Flags().GetString("author")
		if creator == "" {
			creator = os.Getenv("USER")
		}

		a, err := newApp(cmd, "CreateProject")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		p, err := a.CreateProject(cmd.Context(), workspace, args[0], creator)
		if err != nil {
			return err
		}
		fmt.Printf("Created project %s/%s (%s)\n", p.Workspace, p.Name, p.ID)
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "ListProjects")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		projects, err := a.ListProjects(cmd.Context())
		if err != nil {
			return err
		}
		if len(projects) == 0 {
			fmt.Println("No projects.")
			return nil
		}
		for _, p := range projects {
			tags := ""
			if len(p.Tags) > 0 {
				tags = "  [" + strings.Join(p.Tags, ",") + "]"
			}
			fmt.Printf("%s  %-30s  %-5s  %3d files  %10d bytes%s\n",
				p.ID,
				p.Workspace+"/"+p.Name,
				p.LatestVersion,
				len(p.Files),
				p.DiskUsage,
				tags,
			)
		}
		return nil
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete PROJECT",
	Short: "Delete a project and all of its versions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "DeleteProject")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		if err := a.DeleteProject(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted project %s\n", args[0])
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status PROJECT [DIR]",
	Short: "Compare a directory with the latest version",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		dir, err := dirArg(args)
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "Status")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		st, err := a.Status(cmd.Context(), args[0], dir)
		if err != nil {
			return err
		}
		printStatus(st)
		return nil
	},
}

func printStatus(st *app.DirectoryStatus) {
	if st.Clean() {
		fmt.Printf("Up to date with %s (%d files)\n", st.Project.LatestVersion, st.Unchanged)
		return
	}
	for _, f := range st.Added {
		fmt.Printf("A  %s\n", f.Path)
	}
	for _, f := range st.Modified {
		fmt.Printf("M  %s\n", f.Path)
	}
	for _, f := range st.Removed {
		fmt.Printf("D  %s\n", f.Path)
	}
}

func dirArg(args []string) (string, error) {
	target := "."
	if len(args) > 1 {
		target = args[1]
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	return abs, nil
}

// push command
var pushCmd = &cobra.Command{
	Use:   "push PROJECT [DIR]",
	Short: "Record a directory as the next version",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		dir, err := dirArg(args)
		if err != nil {
			return err
		}
		opts := pushOptions(cmd)
		opts.ForceReplace, _ = cmd.Flags().GetBool("replace")

		a, err := newApp(cmd, "PushDirectory")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		opts.FallbackToReplace = a.Config().History.FallbackToReplace
		if cmd.Flags().Changed("fallback") {
			opts.FallbackToReplace, _ = cmd.Flags().GetBool("fallback")
		}

		res, err := a.PushDirectory(cmd.Context(), args[0], dir, opts)
		if err != nil {
			if app.IsFileChanged(err) {
				return fmt.Errorf("%w (retry once the file is no longer being written)", err)
			}
			return err
		}
		if res.Version == nil {
			fmt.Println("Nothing to push.")
			return nil
		}
		printStatus(res.Status)
		fmt.Printf("Committed %s: %d files, %d bytes, %d patched\n",
			res.Version.Version, len(res.Version.Files), res.Version.Size, res.Patched)
		return nil
	},
}

// checkpoint command
var checkpointCmd = &cobra.Command{
	Use:   "checkpoint PROJECT",
	Short: "Record a version identical to the latest one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		opts := pushOptions(cmd)

		a, err := newApp(cmd, "Checkpoint")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		pv, err := a.Checkpoint(cmd.Context(), args[0], opts)
		if err != nil {
			return err
		}
		fmt.Printf("Committed %s\n", pv.Version)
		return nil
	},
}

// log command
var logCmd = &cobra.Command{
	Use:   "log PROJECT",
	Short: "List project versions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "ListVersions")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		versions, err := a.ListVersions(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			fmt.Println("No versions.")
			return nil
		}
		for i := len(versions) - 1; i >= 0; i-- {
			v := versions[i]
			fmt.Printf("%-5s  %s  %-12s  +%d ~%d -%d  %10d bytes  %s\n",
				v.Version,
				v.CreatedAt.Format("2006-01-02 15:04:05"),
				v.Author,
				len(v.Changes.Added),
				len(v.Changes.Updated),
				len(v.Changes.Removed),
				v.Size,
				v.Fingerprint[:12],
			)
		}
		return nil
	},
}

// show command
var showCmd = &cobra.Command{
	Use:   "show PROJECT",
	Short: "Show the files of a version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		version, err := parseVersionFlag(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "GetVersion")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		v, err := a.GetVersion(cmd.Context(), args[0], version)
		if err != nil {
			return err
		}
		fmt.Printf("Version:     %s\n", v.Version)
		fmt.Printf("Author:      %s\n", v.Author)
		fmt.Printf("Device:      %s\n", v.Device)
		fmt.Printf("Created:     %s\n", v.CreatedAt.Format(time.RFC3339))
		fmt.Printf("Fingerprint: %s\n", v.Fingerprint)
		fmt.Printf("Size:        %d\n\n", v.Size)
		for _, f := range v.Files {
			kind := "full"
			if f.Diff != nil {
				kind = "diff"
			}
			fmt.Printf("%s  %-4s  %-5s  %10d  %s\n", f.Checksum[:12], kind, f.Version, f.Size, f.Path)
		}
		return nil
	},
}

// cat command
var catCmd = &cobra.Command{
	Use:   "cat PROJECT PATH",
	Short: "Write a file's content at a version to stdout",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		version, err := parseVersionFlag(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "ReadFile")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		data, err := a.ReadFile(cmd.Context(), args[0], version, args[1])
		if err != nil {
			return err
		}
		if term.IsTerminal(int(os.Stdout.Fd())) && bytes.IndexByte(data, 0) >= 0 {
			return fmt.Errorf("%s is binary; redirect stdout to a file", args[1])
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

// file-log command
var fileLogCmd = &cobra.Command{
	Use:   "file-log PROJECT PATH",
	Short: "List the versions that changed a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "FileHistory")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		entries, err := a.FileHistory(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		for _, e := range entries {
			checksum := "-"
			if e.Checksum != "" {
				checksum = e.Checksum[:12]
			}
			fmt.Printf("%-5s  %-8s  %s  %s  %10d  %s\n",
				e.Version,
				e.Change,
				checksum,
				e.CreatedAt.Format("2006-01-02 15:04:05"),
				e.Size,
				e.Author,
			)
		}
		return nil
	},
}

// verify command
var verifyCmd = &cobra.Command{
	Use:   "verify PROJECT [PATH]",
	Short: "Check the diff chains of a version",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		version, err := parseVersionFlag(cmd)
		if err != nil {
			return err
		}
		path := ""
		if len(args) > 1 {
			path = args[1]
		}

		a, err := newApp(cmd, "Verify")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		reports, err := a.Verify(cmd.Context(), args[0], version, path)
		if err != nil {
			return err
		}
		failed := 0
		for _, r := range reports {
			status := "ok"
			if !r.OK {
				status = "DAMAGED"
				failed++
			}
			fmt.Printf("%-7s  %s  anchor %s, %d steps\n", status, r.Path, r.Anchor, len(r.Steps))
			for _, w := range r.Warnings {
				fmt.Printf("         %s\n", w)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d chains damaged", failed, len(reports))
		}
		return nil
	},
}

// checkout command
var checkoutCmd = &cobra.Command{
	Use:   "checkout PROJECT DEST",
	Short: "Write every file of a version into a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		version, err := parseVersionFlag(cmd)
		if err != nil {
			return err
		}
		dest, err := filepath.Abs(args[1])
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}

		a, err := newApp(cmd, "Checkout")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		written, err := a.Checkout(cmd.Context(), args[0], version, dest)
		if err != nil {
			return err
		}
		fmt.Printf("Wrote %d file(s) to %s\n", len(written), dest)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View recorded operations",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "GetHistory")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		ops, err := a.GetHistory(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}
		for _, op := range ops {
			duration := ""
			if op.FinishedAt.Valid {
				d := op.FinishedAt.Time.Sub(op.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-15s  %s  %-10s  %-10s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Parameters,
			)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Mirror log output to stderr")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// project subcommands
	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectDeleteCmd)
	projectCreateCmd.Flags().StringP("workspace", "w", app.DefaultWorkspace, "Workspace of the new project")
	projectCreateCmd.Flags().String("author", "", "Creator name (default $USER)")

	for _, c := range []*cobra.Command{pushCmd, checkpointCmd} {
		c.Flags().String("author", "", "Author name (default $USER)")
		c.Flags().String("device", "", "Originating device (default hostname)")
	}
	pushCmd.Flags().Bool("replace", false, "Upload modified files whole instead of as changesets")
	pushCmd.Flags().Bool("fallback", false, "Stage full content so failed changesets become replacements")

	for _, c := range []*cobra.Command{showCmd, catCmd, verifyCmd, checkoutCmd} {
		c.Flags().String("version", "", "Version to read, e.g. v3 (default latest)")
	}

	migrateCmd.Flags().Bool("check", false, "Report the schema version without migrating")
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(fileLogCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(checkoutCmd)
	rootCmd.AddCommand(historyCmd)
}
