package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"api_books/internal/books"
)

// booksHandler holds the books service and implements the HTTP handlers.
type booksHandler struct {
	service *books.Service
	logger  *zap.Logger
}

// NewBooksHandler creates a new books handler.
func NewBooksHandler(service *books.Service, logger *zap.Logger) *booksHandler {
	return &booksHandler{
		service: service,
		logger:  logger,
	}
}

// fail writes err as JSON with the status its kind maps to.
func (h *booksHandler) fail(ctx *gin.Context, err error) {
	var ve *books.ValidationError
	switch {
	case errors.As(err, &ve):
		status := http.StatusBadRequest
		if ve.Rule == books.RuleAlreadyPosted {
			status = http.StatusForbidden
		}
		ctx.JSON(status, gin.H{"error": ve.Message, "rule": ve.Rule})
	case errors.Is(err, books.ErrNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, books.ErrConcurrencyConflict),
		errors.Is(err, books.ErrDuplicateName),
		errors.Is(err, books.ErrReferenced):
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *booksHandler) bind(ctx *gin.Context, v any) bool {
	if err := ctx.ShouldBindJSON(v); err != nil {
		h.logger.Warn("failed to bind JSON request", zap.String("path", ctx.FullPath()), zap.Error(err))
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return false
	}
	return true
}

// ─── Accounts ───────────────────────────────────────────────────────────────

func (h *booksHandler) handleCreateAccount(ctx *gin.Context) {
	var req books.AccountInput
	if !h.bind(ctx, &req) {
		return
	}
	account, err := h.service.CreateAccount(ctx, req)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, account)
}

func (h *booksHandler) handleListAccounts(ctx *gin.Context) {
	accounts, err := h.service.ListAccounts(ctx)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"results": accounts})
}

func (h *booksHandler) handleGetAccount(ctx *gin.Context) {
	account, err := h.service.GetAccount(ctx, ctx.Param("id"))
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, account)
}

func (h *booksHandler) handlePatchAccount(ctx *gin.Context) {
	var req books.AccountUpdate
	if !h.bind(ctx, &req) {
		return
	}
	account, err := h.service.UpdateAccount(ctx, ctx.Param("id"), req)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, account)
}

func (h *booksHandler) handleDeleteAccount(ctx *gin.Context) {
	if err := h.service.DeleteAccount(ctx, ctx.Param("id")); err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *booksHandler) handleAccountLedger(ctx *gin.Context) {
	ledger, err := h.service.GetAccountLedger(ctx, ctx.Param("id"))
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, ledger)
}

// ─── Parties ────────────────────────────────────────────────────────────────

func (h *booksHandler) handleCreateParty(ctx *gin.Context) {
	var req books.PartyInput
	if !h.bind(ctx, &req) {
		return
	}
	party, err := h.service.CreateParty(ctx, req)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, party)
}

func (h *booksHandler) handleListParties(ctx *gin.Context) {
	parties, err := h.service.ListParties(ctx)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"results": parties})
}

func (h *booksHandler) handleGetParty(ctx *gin.Context) {
	party, err := h.service.GetParty(ctx, ctx.Param("id"))
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, party)
}

func (h *booksHandler) handlePatchParty(ctx *gin.Context) {
	var req books.PartyUpdate
	if !h.bind(ctx, &req) {
		return
	}
	party, err := h.service.UpdateParty(ctx, ctx.Param("id"), req)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, party)
}

func (h *booksHandler) handleDeleteParty(ctx *gin.Context) {
	if err := h.service.DeleteParty(ctx, ctx.Param("id")); err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *booksHandler) handlePartyLedger(ctx *gin.Context) {
	ledger, err := h.service.GetPartyLedger(ctx, ctx.Param("id"))
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, ledger)
}

// ─── Inventory ──────────────────────────────────────────────────────────────

func (h *booksHandler) handleCreateItem(ctx *gin.Context) {
	var req books.InventoryInput
	if !h.bind(ctx, &req) {
		return
	}
	item, err := h.service.CreateInventoryItem(ctx, req)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, item)
}

func (h *booksHandler) handleListItems(ctx *gin.Context) {
	items, err := h.service.ListInventoryItems(ctx)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"results": items})
}

func (h *booksHandler) handleGetItem(ctx *gin.Context) {
	item, err := h.service.GetInventoryItem(ctx, ctx.Param("id"))
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, item)
}

func (h *booksHandler) handlePatchItem(ctx *gin.Context) {
	var req books.InventoryUpdate
	if !h.bind(ctx, &req) {
		return
	}
	item, err := h.service.UpdateInventoryItem(ctx, ctx.Param("id"), req)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, item)
}

func (h *booksHandler) handleDeleteItem(ctx *gin.Context) {
	if err := h.service.DeleteInventoryItem(ctx, ctx.Param("id")); err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *booksHandler) handleStockLedger(ctx *gin.Context) {
	ledger, err := h.service.GetStockLedger(ctx, ctx.Param("id"))
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, ledger)
}

// ─── Transactions ───────────────────────────────────────────────────────────

// createTransaction posts a transaction of the view's kind. The body cannot
// choose the kind.
func (h *booksHandler) createTransaction(kind books.Kind) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req books.TransactionRequest
		if !h.bind(ctx, &req) {
			return
		}
		posted, err := h.service.CreateTransaction(ctx, kind, req)
		if err != nil {
			h.fail(ctx, err)
			return
		}
		ctx.JSON(http.StatusCreated, posted)
	}
}

func (h *booksHandler) listTransactions(kind books.Kind) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		filter := books.TxFilter{
			AccountID:   ctx.Query("account_id"),
			PartyID:     ctx.Query("party_id"),
			InventoryID: ctx.Query("inventory_id"),
			PaymentMode: books.PaymentMode(ctx.Query("payment_mode")),
		}
		results, err := h.service.ListTransactions(ctx, kind, filter)
		if err != nil {
			h.fail(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"results": results})
	}
}

func (h *booksHandler) getTransaction(kind books.Kind) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.Param("id")
		t, err := h.service.GetTransaction(ctx, id)
		if err == nil && t.Kind() != kind {
			err = h.notInView(kind, id)
		}
		if err != nil {
			h.fail(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, t)
	}
}

// refuseChange answers PUT, PATCH and DELETE on a posted transaction.
func (h *booksHandler) refuseChange(kind books.Kind, change func(ctx context.Context, id string) error) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.Param("id")
		t, err := h.service.GetTransaction(ctx, id)
		if err == nil && t.Kind() != kind {
			err = h.notInView(kind, id)
		}
		if err == nil {
			err = change(ctx, id)
		}
		h.fail(ctx, err)
	}
}

func (h *booksHandler) notInView(kind books.Kind, id string) error {
	return &notInViewError{kind: kind, id: id}
}

type notInViewError struct {
	kind books.Kind
	id   string
}

func (e *notInViewError) Error() string {
	return "transaction " + e.id + " is not a " + string(e.kind)
}

func (e *notInViewError) Unwrap() error { return books.ErrNotFound }

// ─── Reconciliation ─────────────────────────────────────────────────────────

func (h *booksHandler) handleReconcile(ctx *gin.Context) {
	discrepancies, err := h.service.Reconcile(ctx)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	if discrepancies == nil {
		discrepancies = []books.Discrepancy{}
	}
	ctx.JSON(http.StatusOK, gin.H{"ok": len(discrepancies) == 0, "discrepancies": discrepancies})
}
