package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"savecart/internal/domain/cart"
)

// ProxyVerifier authenticates storefront app-proxy requests. The proxy signs
// every forwarded request by HMAC-SHA256 over the canonicalized query string,
// so a valid signature proves the request came through the proxy and that the
// logged_in_customer_id parameter is trustworthy.
type ProxyVerifier struct {
	secret string
}

func NewProxyVerifier(secret string) *ProxyVerifier {
	return &ProxyVerifier{secret: secret}
}

func (v *ProxyVerifier) Verify(c *gin.Context) (cart.Identity, error) {
	q := c.Request.URL.Query()
	if err := v.VerifySignature(q); err != nil {
		return cart.Identity{}, err
	}
	return cart.Identity{
		CustomerID: q.Get("logged_in_customer_id"),
		Shop:       q.Get("shop"),
	}, nil
}

// VerifySignature checks the signature parameter against all other query
// parameters. Rejections are indistinguishable on the wire regardless of
// whether the signature is absent, malformed, or simply wrong.
func (v *ProxyVerifier) VerifySignature(params url.Values) error {
	supplied := params.Get("signature")
	if supplied == "" || v.secret == "" {
		return ErrUnauthorized
	}

	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write([]byte(canonicalMessage(params)))
	want := mac.Sum(nil)

	got, err := hex.DecodeString(supplied)
	if err != nil || !hmac.Equal(got, want) {
		return ErrUnauthorized
	}
	return nil
}

// canonicalMessage concatenates key=value pairs, sorted by key, with no
// separator. The signature parameter itself is excluded; multi-valued
// parameters join their values with commas.
func canonicalMessage(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k != "signature" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strings.Join(params[k], ","))
	}
	return b.String()
}

// SignParams computes the signature the proxy would attach to params. Used by
// tests and local tooling; the production signer lives at the storefront.
func SignParams(params url.Values, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonicalMessage(params)))
	return hex.EncodeToString(mac.Sum(nil))
}
