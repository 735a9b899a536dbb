package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"savecart/internal/domain/cart"
)

const CtxCustomerIDKey = "customer_id"
const CtxShopKey = "shop"

// All rejections are 401 on the wire; the distinct values exist so logs and
// response messages can tell a forged token from a stale one.
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrTokenExpired     = errors.New("session token expired")
	ErrTokenNotYetValid = errors.New("session token not active yet")
)

// Verifier authenticates a single request and yields the identity it vouches
// for. ProxyVerifier and SessionVerifier are the two strategies; routes pick
// one via Middleware instead of branching inside handlers.
type Verifier interface {
	Verify(c *gin.Context) (cart.Identity, error)
}

func Middleware(v Verifier, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := v.Verify(c)
		if err != nil {
			status, msg := rejectResponse(err)
			log.Warn("request rejected",
				"path", c.Request.URL.Path,
				"reason", err.Error(),
			)
			c.AbortWithStatusJSON(status, gin.H{"message": msg})
			return
		}
		c.Set(CtxCustomerIDKey, id.CustomerID)
		c.Set(CtxShopKey, id.Shop)
		c.Next()
	}
}

// IdentityFrom returns the identity attached by Middleware. Handlers must use
// this and never a body- or query-supplied identity.
func IdentityFrom(c *gin.Context) cart.Identity {
	customerID, _ := c.Get(CtxCustomerIDKey)
	shop, _ := c.Get(CtxShopKey)
	id := cart.Identity{}
	if s, ok := customerID.(string); ok {
		id.CustomerID = s
	}
	if s, ok := shop.(string); ok {
		id.Shop = s
	}
	return id
}

func rejectResponse(err error) (int, string) {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return http.StatusUnauthorized, "Session token expired"
	case errors.Is(err, ErrTokenNotYetValid):
		return http.StatusUnauthorized, "Session token not active yet"
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	default:
		// Verification blew up on malformed input. Keep the response
		// generic so internals cannot aid forgery attempts.
		return http.StatusInternalServerError, "Internal server error"
	}
}
