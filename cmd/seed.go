package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"api_books/internal/books"
	"api_books/internal/config"
	"api_books/internal/seed"
)

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().StringP("file", "f", "", "YAML fixture with accounts, parties, inventory and transactions")
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create opening books from a YAML fixture",
	RunE:  runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	if file == "" {
		return errors.New("fixture file required: books seed -f <file>")
	}
	if cfg.Storage.Driver == config.DriverMemory {
		return errors.New("seeding the in-memory storage has no lasting effect; set BOOKS_STORAGE_DRIVER=sqlite")
	}

	fx, err := seed.Load(file)
	if err != nil {
		return err
	}
	storage, err := openStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	res, err := seed.Apply(cmd.Context(), books.NewService(storage, log), fx)
	log.Info("seed applied",
		zap.Int("accounts", res.Accounts),
		zap.Int("parties", res.Parties),
		zap.Int("items", res.Items),
		zap.Int("transactions", res.Transactions),
	)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %d accounts, %d parties, %d items, posted %d transactions\n",
		res.Accounts, res.Parties, res.Items, res.Transactions)
	return nil
}
