package books_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"api_books/internal/books"
	"api_books/internal/books/bookstest"
)

func TestLocalStorage_Contract(t *testing.T) {
	bookstest.RunStorageContract(t, func(t *testing.T) books.Storage {
		return books.NewLocalStorage()
	})
}

func TestLocalStorage_LockTimeoutIsConflict(t *testing.T) {
	s := books.NewLocalStorage(books.WithLockTimeout(20 * time.Millisecond))
	ctx := context.Background()
	key := books.EntityKey{Type: books.EntityAccount, ID: "acc-1"}

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.Update(ctx, func(tx books.Tx) error {
			if err := tx.Lock(key); err != nil {
				return err
			}
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	err := s.Update(ctx, func(tx books.Tx) error { return tx.Lock(key) })
	close(done)
	assert.ErrorIs(t, err, books.ErrConcurrencyConflict)
}

func TestLocalStorage_CancelledContextIsConflict(t *testing.T) {
	s := books.NewLocalStorage()
	key := books.EntityKey{Type: books.EntityParty, ID: "p-1"}

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.Update(context.Background(), func(tx books.Tx) error {
			if err := tx.Lock(key); err != nil {
				return err
			}
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := s.Update(ctx, func(tx books.Tx) error { return tx.Lock(key) })
	close(done)
	assert.ErrorIs(t, err, books.ErrConcurrencyConflict)
}

func TestLocalStorage_LocksReleasedAfterUnitOfWork(t *testing.T) {
	s := books.NewLocalStorage(books.WithLockTimeout(50 * time.Millisecond))
	ctx := context.Background()
	key := books.EntityKey{Type: books.EntityInventory, ID: "i-1"}

	for range 3 {
		require.NoError(t, s.Update(ctx, func(tx books.Tx) error { return tx.Lock(key) }))
	}
}

func TestLocalStorage_LockTwiceFails(t *testing.T) {
	s := books.NewLocalStorage()
	err := s.Update(context.Background(), func(tx books.Tx) error {
		if err := tx.Lock(books.EntityKey{Type: books.EntityAccount, ID: "a"}); err != nil {
			return err
		}
		return tx.Lock(books.EntityKey{Type: books.EntityParty, ID: "p"})
	})
	assert.Error(t, err)
}

func TestLockOrder(t *testing.T) {
	keys := []books.EntityKey{
		{Type: books.EntityInventory, ID: "i-1"},
		{Type: books.EntityParty, ID: "p-2"},
		{Type: books.EntityAccount, ID: "a-1"},
		{Type: books.EntityParty, ID: "p-1"},
		{Type: books.EntityParty, ID: "p-2"},
	}
	got := books.LockOrder(keys)
	assert.Equal(t, []books.EntityKey{
		{Type: books.EntityAccount, ID: "a-1"},
		{Type: books.EntityParty, ID: "p-1"},
		{Type: books.EntityParty, ID: "p-2"},
		{Type: books.EntityInventory, ID: "i-1"},
	}, got)
	assert.Len(t, keys, 5, "input is not modified")
}
