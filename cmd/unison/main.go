package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/imthebreezy247/unison-sub001/internal/api"
	"github.com/imthebreezy247/unison-sub001/internal/app"
	"github.com/imthebreezy247/unison-sub001/internal/config"
	"github.com/imthebreezy247/unison-sub001/internal/model"
	"github.com/imthebreezy247/unison-sub001/internal/watch"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Sync", "Cleanup").
func newApp(operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "unison",
	Short: "Device backup message and contact sync",
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

		cfg := config.NewConfig(defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
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

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Backup Root: %s\n", cfg.Backup.Root)
		fmt.Printf("Store:       %s\n", cfg.Store.Type)
		fmt.Printf("Server Addr: %s\n", cfg.Server.Addr)
		return nil
	},
}

// inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show backup container metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		backupRoot, _ := cmd.Flags().GetString("backup")

		a, err := newApp("Inspect")
		if err != nil {
			return err
		}
		defer a.Close()

		m, err := a.Inspect(backupRoot)
		if err != nil {
			return err
		}

		fmt.Printf("Device:          %s\n", m.DeviceName)
		fmt.Printf("Device ID:       %s\n", m.UniqueIdentifier)
		fmt.Printf("Product Version: %s\n", m.ProductVersion)
		fmt.Printf("Backup Date:     %s\n", m.Date.Format("2006-01-02 15:04:05"))
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync [CATEGORY]",
	Short: "Sync contacts, messages and calls from a backup",
	Long: `Sync imports one category (contacts, messages, calls) from a device
backup container, or all categories when none is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backupRoot, _ := cmd.Flags().GetString("backup")
		dbPath, _ := cmd.Flags().GetString("db")

		a, err := newApp("Sync")
		if err != nil {
			return err
		}
		defer a.Close()

		if len(args) == 0 {
			if dbPath != "" {
				return fmt.Errorf("--db requires an explicit category")
			}
			results, err := a.SyncAll(cmd.Context(), backupRoot)
			for _, category := range model.Categories() {
				if res, ok := results[category]; ok {
					fmt.Printf("%-10s imported %d, skipped %d, errors %d\n",
						category, res.Imported, res.Skipped, res.Errors)
				}
			}
			return err
		}

		category := model.Category(args[0])
		if !category.Valid() {
			return fmt.Errorf("unknown category %q (want contacts, messages or calls)", args[0])
		}

		res, err := a.Sync(cmd.Context(), category, backupRoot, dbPath)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d, skipped %d, errors %d\n", res.Imported, res.Skipped, res.Errors)
		return nil
	},
}

// threads command
var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List conversation threads",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		a, err := newApp("Threads")
		if err != nil {
			return err
		}
		defer a.Close()

		threads, total, err := a.Threads(cmd.Context(), limit, offset)
		if err != nil {
			return err
		}

		if len(threads) == 0 {
			fmt.Println("No threads.")
			return nil
		}

		for _, th := range threads {
			unread := ""
			if th.UnreadCount > 0 {
				unread = fmt.Sprintf("  [%d unread]", th.UnreadCount)
			}
			fmt.Printf("%-20s  %s%s\n",
				th.Key,
				th.LastActivityAt.Local().Format("2006-01-02 15:04:05"),
				unread,
			)
		}
		fmt.Printf("\n%d of %d thread(s)\n", len(threads), total)
		return nil
	},
}

// messages command
var messagesCmd = &cobra.Command{
	Use:   "messages THREAD",
	Short: "Show a thread's messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		a, err := newApp("Messages")
		if err != nil {
			return err
		}
		defer a.Close()

		messages, total, err := a.Messages(cmd.Context(), args[0], limit, offset)
		if err != nil {
			return err
		}

		if len(messages) == 0 {
			fmt.Println("No messages.")
			return nil
		}

		for _, m := range messages {
			arrow := "<-"
			if m.Direction == model.DirectionOutbound {
				arrow = "->"
			}
			fmt.Printf("%s %s [%s] %s\n",
				m.SentAt.Local().Format("2006-01-02 15:04:05"),
				arrow,
				m.Channel,
				m.Body,
			)
		}
		fmt.Printf("\n%d of %d message(s)\n", len(messages), total)
		return nil
	},
}

// read command
var readCmd = &cobra.Command{
	Use:   "read THREAD",
	Short: "Mark a thread's messages as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("MarkRead")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.MarkRead(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Marked %s as read\n", args[0])
		return nil
	},
}

// export command
var exportCmd = &cobra.Command{
	Use:   "export THREAD",
	Short: "Export a thread's transcript as tab-separated text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outPath, _ := cmd.Flags().GetString("output")

		a, err := newApp("Export")
		if err != nil {
			return err
		}
		defer a.Close()

		out := os.Stdout
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			out = f
		}

		return a.Export(cmd.Context(), args[0], out)
	},
}

// cleanup command
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove duplicate messages and repair thread aggregates",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Cleanup")
		if err != nil {
			return err
		}
		defer a.Close()

		removed, err := a.Cleanup(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d duplicate message(s)\n", removed)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View sync run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("History")
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No sync runs recorded.")
			return nil
		}

		for _, run := range runs {
			duration := ""
			if run.FinishedAt != nil {
				d := run.FinishedAt.Sub(run.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-36s  %-10s  %s  %-8s  +%d ~%d !%d  %s\n",
				run.ID,
				run.OpID,
				run.Category,
				run.StartedAt.Local().Format("2006-01-02 15:04:05"),
				run.Status,
				run.Imported,
				run.Skipped,
				run.Errors,
				duration,
			)
		}
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP query API",
	Long: `Serve exposes the thread and message query API over HTTP. With
--watch, the configured backup root is watched and a full sync runs whenever
the backup's manifest index is rewritten.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		watchBackups, _ := cmd.Flags().GetBool("watch")

		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("getting defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
		if addr == "" {
			addr = cfg.Server.Addr
		}
		if watchBackups && cfg.Backup.Root == "" {
			return fmt.Errorf("--watch requires backup.root in the config")
		}

		a, err := app.NewApp(cfg, "Serve")
		if err != nil {
			return fmt.Errorf("initializing app: %w", err)
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := &http.Server{
			Addr:    addr,
			Handler: api.NewRouter(a.Store()),
		}

		g, ctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			a.Logger().Info("http server listening", "addr", addr, "store", a.StorePath())
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		if watchBackups {
			g.Go(func() error {
				return watch.Watch(ctx, cfg.Backup.Root, a.Logger(), func(ctx context.Context) error {
					_, err := a.SyncAll(ctx, "")
					return err
				})
			})
		}

		return g.Wait()
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// root commands
	rootCmd.AddCommand(configCmd)

	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().String("backup", "", "Backup container root (overrides config)")

	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().String("backup", "", "Backup container root (overrides config)")
	syncCmd.Flags().String("db", "", "Bare source database file instead of a backup container")

	rootCmd.AddCommand(threadsCmd)
	threadsCmd.Flags().IntP("limit", "n", 50, "Maximum number of threads to show")
	threadsCmd.Flags().Int("offset", 0, "Number of threads to skip")

	rootCmd.AddCommand(messagesCmd)
	messagesCmd.Flags().IntP("limit", "n", 100, "Maximum number of messages to show")
	messagesCmd.Flags().Int("offset", 0, "Number of messages to skip")

	rootCmd.AddCommand(readCmd)

	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringP("output", "o", "", "Write transcript to a file instead of stdout")

	rootCmd.AddCommand(cleanupCmd)

	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (overrides config)")
	serveCmd.Flags().Bool("watch", false, "Watch the backup root and sync on changes")
}
