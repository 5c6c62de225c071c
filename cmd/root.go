package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/steady/internal/config"
	"github.com/andresmejia3/steady/internal/store"
	"github.com/spf13/cobra"
)

var (
	// DB is the cache connection, opened only by commands that use it
	DB *store.Store
	// dbURL is the connection string
	dbURL string
	// configPath is the YAML run configuration
	configPath string
)

// Version is the application version.
const Version = "0.1.0"

const defaultDBURL = "postgres://localhost:5432/steady"

var rootCmd = &cobra.Command{
	Use:     "steady",
	Short:   "Face-landmark video stabilization",
	Version: Version, // This enables the --version flag
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
			DB = nil
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "steady.yaml", "YAML run configuration (defaults are used when the file is absent)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for the landmark cache (default: $STEADY_DB, $POSTGRES_*, or "+defaultDBURL+")")
}

// resolveDBURL picks the flag, then STEADY_DB, then the POSTGRES_* variables.
func resolveDBURL() string {
	if dbURL != "" {
		return dbURL
	}
	if url := os.Getenv("STEADY_DB"); url != "" {
		return url
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	return defaultDBURL
}

// openDB connects the shared cache once per process.
func openDB(ctx context.Context) (*store.Store, error) {
	if DB != nil {
		return DB, nil
	}
	s, err := store.New(ctx, resolveDBURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	DB = s
	return DB, nil
}

// loadConfig reads the --config file.
func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}
