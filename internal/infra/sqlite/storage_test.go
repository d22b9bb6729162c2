package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"api_books/internal/books"
	"api_books/internal/books/bookstest"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "books.db"), 0)
	require.NoError(t, err)
	return db
}

func TestStorage_Contract(t *testing.T) {
	bookstest.RunStorageContract(t, func(t *testing.T) books.Storage {
		return NewStorage(newTestDB(t))
	})
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("", 0)
	assert.Error(t, err)
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "books.db")
	db, err := Open(path, 0)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path, 0)
	require.NoError(t, err)
	assert.Equal(t, path, db.Path())
	require.NoError(t, db.Close())
}

func TestStorage_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "books.db")

	db, err := Open(path, 0)
	require.NoError(t, err)
	svc := books.NewService(NewStorage(db), zaptest.NewLogger(t))
	acc, err := svc.CreateAccount(ctx, books.AccountInput{Name: "Bank", Kind: books.AccountBank, OpeningBalance: decimal.RequireFromString("10.10")})
	require.NoError(t, err)
	cust, err := svc.CreateParty(ctx, books.PartyInput{Name: "CustomerX", Kind: books.PartyCustomer})
	require.NoError(t, err)
	_, err = svc.CreateTransaction(ctx, books.KindReceive, books.TransactionRequest{PartyID: cust.ID, AccountID: acc.ID, Amount: decimal.RequireFromString("0.20")})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path, 0)
	require.NoError(t, err)
	defer db.Close()
	svc = books.NewService(NewStorage(db), zaptest.NewLogger(t))

	got, err := svc.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "10.3", got.Balance.String())

	ledger, err := svc.GetAccountLedger(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, ledger.Rows, 1)
	assert.Equal(t, "CustomerX", ledger.Rows[0].Party)

	out, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestStorage_LogIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	defer db.Close()
	svc := books.NewService(NewStorage(db), zaptest.NewLogger(t))

	acc, err := svc.CreateAccount(ctx, books.AccountInput{Name: "Till", Kind: books.AccountCash})
	require.NoError(t, err)
	supp, err := svc.CreateParty(ctx, books.PartyInput{Name: "SupplierY", Kind: books.PartySupplier})
	require.NoError(t, err)
	pay, err := svc.CreateTransaction(ctx, books.KindPay, books.TransactionRequest{PartyID: supp.ID, AccountID: acc.ID, Amount: decimal.NewFromInt(3)})
	require.NoError(t, err)

	_, err = db.db.ExecContext(ctx, `UPDATE cash_movements SET amount = '1' WHERE id = ?`, pay.TxID())
	assert.ErrorContains(t, err, "immutable")
	_, err = db.db.ExecContext(ctx, `DELETE FROM cash_movements WHERE id = ?`, pay.TxID())
	assert.ErrorContains(t, err, "immutable")
}

func TestStorage_WriterTimeoutIsConflict(t *testing.T) {
	ctx := context.Background()
	db, err := Open(filepath.Join(t.TempDir(), "books.db"), 50*time.Millisecond)
	require.NoError(t, err)
	defer db.Close()
	s := NewStorage(db)

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.Update(ctx, func(tx books.Tx) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	err = s.Update(ctx, func(tx books.Tx) error { return nil })
	close(done)
	assert.ErrorIs(t, err, books.ErrConcurrencyConflict)
}

func TestTimeEncodingSortsChronologically(t *testing.T) {
	a := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := a.Add(500 * time.Millisecond)
	assert.Less(t, formatTime(a), formatTime(b))

	back, err := parseTime(formatTime(b))
	require.NoError(t, err)
	assert.True(t, b.Equal(back))
}
