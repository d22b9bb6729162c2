package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"api_books/internal/books"
)

// transactionViews maps each URL collection to the kind it posts and lists.
var transactionViews = []struct {
	path string
	kind books.Kind
}{
	{"/sales", books.KindSale},
	{"/purchases", books.KindPurchase},
	{"/receipts", books.KindReceive},
	{"/payments", books.KindPay},
}

// InitRoutes registers all books endpoints on the given Gin engine.
func InitRoutes(e *gin.Engine, service *books.Service, logger *zap.Logger, metricsEnabled bool) {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := NewBooksHandler(service, logger)

	e.Use(requestLogger(logger), gin.Recovery())

	accounts := e.Group("/accounts")
	accounts.POST("", h.handleCreateAccount)
	accounts.GET("", h.handleListAccounts)
	accounts.GET("/:id", h.handleGetAccount)
	accounts.PATCH("/:id", h.handlePatchAccount)
	accounts.DELETE("/:id", h.handleDeleteAccount)
	accounts.GET("/:id/ledger", h.handleAccountLedger)

	parties := e.Group("/parties")
	parties.POST("", h.handleCreateParty)
	parties.GET("", h.handleListParties)
	parties.GET("/:id", h.handleGetParty)
	parties.PATCH("/:id", h.handlePatchParty)
	parties.DELETE("/:id", h.handleDeleteParty)
	parties.GET("/:id/ledger", h.handlePartyLedger)

	inventory := e.Group("/inventory")
	inventory.POST("", h.handleCreateItem)
	inventory.GET("", h.handleListItems)
	inventory.GET("/:id", h.handleGetItem)
	inventory.PATCH("/:id", h.handlePatchItem)
	inventory.DELETE("/:id", h.handleDeleteItem)
	inventory.GET("/:id/stock-ledger", h.handleStockLedger)

	for _, v := range transactionViews {
		g := e.Group(v.path)
		g.POST("", h.createTransaction(v.kind))
		g.GET("", h.listTransactions(v.kind))
		g.GET("/:id", h.getTransaction(v.kind))
		g.PUT("/:id", h.refuseChange(v.kind, service.UpdateTransaction))
		g.PATCH("/:id", h.refuseChange(v.kind, service.UpdateTransaction))
		g.DELETE("/:id", h.refuseChange(v.kind, service.DeleteTransaction))
	}

	e.GET("/reconcile", h.handleReconcile)

	if metricsEnabled {
		e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	e.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
}

// requestLogger logs one line per request through zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("request", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}
