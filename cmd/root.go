// Package cmd holds the books command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"api_books/internal/books"
	"api_books/internal/config"
	"api_books/internal/infra/sqlite"
	"api_books/internal/logger"
)

var (
	configPath string

	cfg config.Config
	log *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "books",
	Short: "Bookkeeping service for a small trading business",
	Long: `books keeps cash and bank accounts, customer and supplier balances and
inventory in step. Every sale, purchase, receipt and payment is posted
atomically to an append-only log from which all ledgers are rebuilt.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		log, err = logger.New(cfg.Log)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file (default $BOOKS_CONFIG)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openStorage returns the configured storage backend.
func openStorage() (books.Storage, error) {
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.Storage.Path, cfg.Storage.LockTimeoutDuration())
		if err != nil {
			return nil, err
		}
		log.Info("opened sqlite storage", zap.String("path", db.Path()))
		return sqlite.NewStorage(db), nil
	default:
		log.Info("using in-memory storage")
		return books.NewLocalStorage(books.WithLockTimeout(cfg.Storage.LockTimeoutDuration())), nil
	}
}
