package auth

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"savecart/internal/domain/cart"
)

// customerSub matches the subject claim of a customer session token, a
// resource path ending in "Customer/<numeric id>".
var customerSub = regexp.MustCompile(`Customer/(\d+)`)

// SessionClaims is the payload of a checkout session token. The dest claim
// carries the shop domain the token was minted for.
type SessionClaims struct {
	Dest string `json:"dest"`
	jwt.RegisteredClaims
}

// SessionVerifier authenticates customer-session requests by their bearer
// token. The leeway absorbs clock drift between the token issuer and this
// service when validating the exp and nbf claims.
type SessionVerifier struct {
	secret []byte
	leeway time.Duration
}

func NewSessionVerifier(secret string, leeway time.Duration) *SessionVerifier {
	return &SessionVerifier{secret: []byte(secret), leeway: leeway}
}

func (v *SessionVerifier) Verify(c *gin.Context) (cart.Identity, error) {
	h := c.GetHeader("Authorization")
	if h == "" || !strings.HasPrefix(h, "Bearer ") {
		return cart.Identity{}, ErrUnauthorized
	}
	return v.VerifyToken(strings.TrimPrefix(h, "Bearer "))
}

// VerifyToken validates the token signature and time window, then derives the
// identity from the sub and dest claims. The caller must discard any identity
// supplied in the request body in favor of the returned one.
func (v *SessionVerifier) VerifyToken(tokenStr string) (cart.Identity, error) {
	if tokenStr == "" || len(v.secret) == 0 {
		return cart.Identity{}, ErrUnauthorized
	}

	tok, err := jwt.ParseWithClaims(tokenStr, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, jwt.WithLeeway(v.leeway))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return cart.Identity{}, ErrUnauthorized
		case errors.Is(err, jwt.ErrTokenExpired):
			return cart.Identity{}, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return cart.Identity{}, ErrTokenNotYetValid
		default:
			return cart.Identity{}, ErrUnauthorized
		}
	}

	claims, ok := tok.Claims.(*SessionClaims)
	if !ok || !tok.Valid {
		return cart.Identity{}, ErrUnauthorized
	}

	m := customerSub.FindStringSubmatch(claims.Subject)
	if m == nil {
		return cart.Identity{}, ErrUnauthorized
	}

	return cart.Identity{CustomerID: m[1], Shop: claims.Dest}, nil
}
