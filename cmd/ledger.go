package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"api_books/internal/books"
)

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerAccountCmd, ledgerPartyCmd, ledgerStockCmd)
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Print an account, party or stock ledger",
}

var ledgerAccountCmd = &cobra.Command{
	Use:   "account <id>",
	Short: "Print the ledger of a cash or bank account",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerAccount,
}

var ledgerPartyCmd = &cobra.Command{
	Use:   "party <id>",
	Short: "Print the ledger of a customer or supplier",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerParty,
}

var ledgerStockCmd = &cobra.Command{
	Use:   "stock <id>",
	Short: "Print the stock ledger of an inventory item",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerStock,
}

func runLedgerAccount(cmd *cobra.Command, args []string) error {
	svc, closeFn, err := openService()
	if err != nil {
		return err
	}
	defer closeFn()

	l, err := svc.GetAccountLedger(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printAccountLedger(cmd.OutOrStdout(), l)
}

func runLedgerParty(cmd *cobra.Command, args []string) error {
	svc, closeFn, err := openService()
	if err != nil {
		return err
	}
	defer closeFn()

	l, err := svc.GetPartyLedger(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printPartyLedger(cmd.OutOrStdout(), l)
}

func runLedgerStock(cmd *cobra.Command, args []string) error {
	svc, closeFn, err := openService()
	if err != nil {
		return err
	}
	defer closeFn()

	l, err := svc.GetStockLedger(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printStockLedger(cmd.OutOrStdout(), l)
}

// openService wires the configured storage into a Service.
func openService() (*books.Service, func() error, error) {
	storage, err := openStorage()
	if err != nil {
		return nil, nil, err
	}
	return books.NewService(storage, log), storage.Close, nil
}

// ─── Rendering ───────────────────────────────────────────

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
}

func day(t time.Time) string { return t.UTC().Format(time.DateOnly) }

func amt(d decimal.Decimal) string { return d.StringFixed(2) }

func nullAmt(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return amt(d.Decimal)
}

func printAccountLedger(w io.Writer, l *books.AccountLedger) error {
	fmt.Fprintf(w, "%s (%s)  opening %s\n\n", l.Account.Name, l.Account.Kind, amt(l.Account.OpeningBalance))
	tw := newTable(w)
	fmt.Fprintln(tw, "DATE\tTYPE\tPARTY\tDEBIT\tCREDIT\tBALANCE\t")
	for _, r := range l.Rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			day(r.Date), r.Type, r.Party, amt(r.Debit), amt(r.Credit), amt(r.Balance))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nclosing %s\n", amt(l.ClosingBalance))
	return err
}

func printPartyLedger(w io.Writer, l *books.PartyLedger) error {
	fmt.Fprintf(w, "%s (%s)  opening %s\n\n", l.Party.Name, l.Party.Kind, amt(l.Party.OpeningBalance))
	tw := newTable(w)
	fmt.Fprintln(tw, "DATE\tTYPE\tMODE\tPRODUCT\tQTY\tRATE\tAMOUNT\tBALANCE\t")
	for _, r := range l.Rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			day(r.Date), r.Type, r.Mode, r.Product, nullAmt(r.Quantity), nullAmt(r.Rate), amt(r.Amount), amt(r.Balance))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nclosing %s\n", amt(l.ClosingBalance))
	return err
}

func printStockLedger(w io.Writer, l *books.StockLedger) error {
	fmt.Fprintf(w, "%s (%s)  opening %s\n\n", l.Item.Name, l.Item.Unit, amt(l.OpeningQuantity))
	tw := newTable(w)
	fmt.Fprintln(tw, "DATE\tTYPE\tPARTY\tMODE\tIN\tOUT\tRATE\tBEFORE\tAFTER\t")
	for _, r := range l.Rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			day(r.Date), r.Type, r.Party, r.Mode, amt(r.QtyIn), amt(r.QtyOut), amt(r.Rate), amt(r.StockBefore), amt(r.StockAfter))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nin stock %s\n", amt(l.Item.Quantity))
	return err
}
