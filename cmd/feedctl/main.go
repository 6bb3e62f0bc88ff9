package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"listing_feed/internal/config"
	"listing_feed/internal/dashboard"
	"listing_feed/internal/domain"
	"listing_feed/internal/eventlog"
	"listing_feed/internal/scheduler"
	"listing_feed/internal/tui"
)

var (
	configPath   string
	organization string
	logFile      string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "feedctl",
	Short: "Terminal dashboard for fresh buy listings",
	Long:  "feedctl shows fresh buy listings as they are scraped and lets you move them through the acquisition pipeline.",
	RunE:  runWatch,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&organization, "org", "", "organization id (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "feedctl.log", "log destination while the dashboard is open")

	emitCmd.Flags().String("listing-id", "", "listing id (random when empty)")
	emitCmd.Flags().String("type", domain.TransactionBuy, "transaction type")
	emitCmd.Flags().String("operation", domain.OperationInsert, "operation")
	emitCmd.Flags().String("location", "Luxembourg", "location")
	emitCmd.Flags().Float64("price", 650000, "sale price")
	emitCmd.Flags().Int("bedrooms", 2, "bedrooms")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(emitCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if organization != "" {
		cfg.Client.Organization = organization
	}
	if cfg.Client.Organization == "" {
		cfg.Client.Organization = cfg.DefaultOrganization
	}
	return cfg, nil
}

func newClient(cfg *config.Config, logger *slog.Logger) *dashboard.Client {
	return dashboard.NewClient(dashboard.ClientConfig{
		BaseURL:        cfg.Client.BaseURL,
		Organization:   cfg.Client.Organization,
		Timeout:        cfg.Client.Timeout,
		MaxAttempts:    cfg.Client.Retry.MaxAttempts,
		InitialBackoff: cfg.Client.Retry.InitialBackoff,
		MaxBackoff:     cfg.Client.Retry.MaxBackoff,
	}, logger)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// --- Watch: TUI ---

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open the live dashboard",
	RunE:  runWatch,
}

func runWatch(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer out.Close()
	logger := setupLogger(out, cfg.LogLevel)

	client := newClient(cfg, logger)
	conn := dashboard.NewLiveConn(client.OpenStream, dashboard.LiveConnConfig{
		InitialBackoff: cfg.Client.Retry.InitialBackoff,
		MaxBackoff:     cfg.Client.Retry.MaxBackoff,
	}, logger)
	store := dashboard.NewStore()
	rec := dashboard.NewReconciler(store, client, client, conn, dashboard.ReconcilerConfig{
		MaxHours: cfg.Client.MaxHours,
	}, logger)

	changes, unsubscribe := store.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rec.Run(ctx)
	}()
	go func() {
		_ = scheduler.NewScheduler(rec, cfg.Client.RefreshInterval, logger).Start(ctx)
	}()

	_, err = tea.NewProgram(tui.New(rec, changes), tea.WithAltScreen()).Run()

	cancel()
	<-done
	rec.Wait()
	return err
}

// --- Tail ---

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print streamed listing events",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := setupLogger(os.Stderr, cfg.LogLevel)

		ctx, cancel := signalContext()
		defer cancel()

		client := newClient(cfg, logger)
		conn := dashboard.NewLiveConn(client.OpenStream, dashboard.LiveConnConfig{
			InitialBackoff: cfg.Client.Retry.InitialBackoff,
			MaxBackoff:     cfg.Client.Retry.MaxBackoff,
		}, logger)
		conn.OnStateChange(func(s dashboard.ConnState, err error) {
			if err != nil {
				fmt.Fprintf(os.Stderr, "[%s] %v\n", s, err)
				return
			}
			fmt.Fprintf(os.Stderr, "[%s]\n", s)
		})

		return conn.Run(ctx, func(ev dashboard.Event) {
			fmt.Printf("%s %s\n", ev.ID, ev.Data)
		})
	},
}

// --- Status ---

var statusCmd = &cobra.Command{
	Use:   "status <listing-id> <status>",
	Short: "Set the pipeline status of a listing",
	Long:  "Set the pipeline status of a listing. Valid statuses: " + statusNames() + ".",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		st, err := domain.ParseStatus(args[1])
		if err != nil {
			return fmt.Errorf("%w %q, expected one of %s", err, args[1], statusNames())
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Client.Timeout)
		defer cancel()

		if err := newClient(cfg, setupLogger(os.Stderr, cfg.LogLevel)).SetStatus(ctx, args[0], st); err != nil {
			return err
		}
		fmt.Printf("%s → %s ✓\n", args[0], st)
		return nil
	},
}

func statusNames() string {
	names := make([]string, 0, len(domain.Statuses))
	for _, st := range domain.Statuses {
		names = append(names, st.Stored())
	}
	return strings.Join(names, ", ")
}

// --- Emit ---

var emitCmd = &cobra.Command{
	Use:   "emit",
	Short: "Append a listing event to the event log",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := setupLogger(os.Stderr, cfg.LogLevel)

		listingID, _ := cmd.Flags().GetString("listing-id")
		if listingID == "" {
			listingID = "manual-" + uuid.NewString()[:8]
		}
		txType, _ := cmd.Flags().GetString("type")
		operation, _ := cmd.Flags().GetString("operation")
		location, _ := cmd.Flags().GetString("location")
		price, _ := cmd.Flags().GetFloat64("price")
		bedrooms, _ := cmd.Flags().GetInt("bedrooms")

		log := eventlog.NewRedisLog(eventlog.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Stream:   cfg.Stream.Name,
		}, logger)
		defer log.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		id, err := log.Append(ctx, map[string]any{
			"operation":        operation,
			"transaction_type": txType,
			"listing_id":       listingID,
			"location":         location,
			"sale_price":       price,
			"bedrooms":         bedrooms,
			"source":           "feedctl",
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", id, listingID)
		return nil
	},
}

func setupLogger(w io.Writer, level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	return slog.New(slog.NewJSONHandler(w, opts))
}
