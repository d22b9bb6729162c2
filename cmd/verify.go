package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"api_books/internal/books"
)

func init() {
	rootCmd.AddCommand(verifyCmd)
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Replay the transaction log and compare it with cached balances",
	Long: `verify rebuilds every account balance, party balance and stock quantity
from the transaction log and reports any row whose cached value differs.
Nothing is corrected. The command exits non-zero when a discrepancy is found.`,
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	svc, closeFn, err := openService()
	if err != nil {
		return err
	}
	defer closeFn()

	found, err := svc.Reconcile(cmd.Context())
	if err != nil {
		return err
	}
	if err := printDiscrepancies(cmd.OutOrStdout(), found); err != nil {
		return err
	}
	if len(found) > 0 {
		return fmt.Errorf("%d discrepancies found", len(found))
	}
	return nil
}

func printDiscrepancies(w io.Writer, found []books.Discrepancy) error {
	if len(found) == 0 {
		_, err := fmt.Fprintln(w, "books are consistent")
		return err
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ENTITY\tID\tNAME\tCACHED\tREPLAYED\t")
	for _, d := range found {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n", d.Entity, d.ID, d.Name, amt(d.Cached), amt(d.Replayed))
	}
	return tw.Flush()
}
