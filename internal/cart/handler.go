package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"savecart/internal/auth"
	"savecart/internal/domain/cart"
)

// Store is the persistence contract the handlers depend on.
type Store interface {
	Save(ctx context.Context, id cart.Identity, items []cart.SavedItem) (cart.SavedCart, error)
	Import(ctx context.Context, customerID, shop string) (cart.SavedCart, error)
}

type Handler struct {
	store Store
	log   *slog.Logger
}

func NewHandler(store Store, log *slog.Logger) *Handler {
	return &Handler{store: store, log: log}
}

type SaveCartReq struct {
	Items     *[]cart.SavedItem `json:"items"`
	Timestamp string            `json:"timestamp"`
	// customer_id and shop may appear in the body; they are ignored in
	// favor of the verified identity from the session middleware.
}

func (h *Handler) SaveCart(c *gin.Context) {
	var req SaveCartReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Items == nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Items must be an array"})
		return
	}

	id := auth.IdentityFrom(c)
	if id.CustomerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Customer ID is required"})
		return
	}

	saved, err := h.store.Save(c.Request.Context(), id, *req.Items)
	if err != nil {
		h.log.Error("save cart failed", "customer_id", id.CustomerID, "shop", id.Shop, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to save cart"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("Saved %d items to cart", len(saved.Items)),
		"cart":    saved,
	})
}

func (h *Handler) ImportCart(c *gin.Context) {
	// The proxy middleware puts the signed customer id and shop into the
	// context; the raw query is never consulted here.
	id := auth.IdentityFrom(c)
	if id.CustomerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Customer ID is required"})
		return
	}

	saved, err := h.store.Import(c.Request.Context(), id.CustomerID, id.Shop)
	if errors.Is(err, cart.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "No saved cart found"})
		return
	}
	if err != nil {
		h.log.Error("import cart failed", "customer_id", id.CustomerID, "shop", id.Shop, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to retrieve saved cart"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"cart":    saved,
	})
}
