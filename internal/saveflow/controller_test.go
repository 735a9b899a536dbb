package saveflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) Token(context.Context) (string, error) { return s.token, s.err }

type memStore struct {
	mu     sync.Mutex
	values map[string]string
	writes int
}

func newMemStore() *memStore { return &memStore{values: make(map[string]string)} }

func (m *memStore) Write(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	m.writes++
	return nil
}

func (m *memStore) get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func twoLineCart() []CartLine {
	return []CartLine{
		{MerchandiseID: "gid://shopify/ProductVariant/987", Title: "Shirt", Quantity: 1},
		{MerchandiseID: "gid://shopify/ProductVariant/654", Title: "Mug", Quantity: 3},
	}
}

func TestSave_SuccessfulSync(t *testing.T) {
	var gotAuth, gotContentType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"message":"Saved 1 items to cart"}`))
	}))
	defer srv.Close()

	local := newMemStore()
	c := NewController(staticTokens{token: "tok-123"}, local, srv.Client(), srv.URL, quietLogger())
	c.SetLines(twoLineCart())
	c.Toggle("gid://shopify/ProductVariant/987")

	res := c.Save(context.Background())

	if !res.Performed || res.Fatal != nil || res.SoftErr != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !res.Synced || res.Saved != 1 {
		t.Fatalf("synced=%v saved=%d, want synced 1 item", res.Synced, res.Saved)
	}
	if gotAuth != "Bearer tok-123" {
		t.Fatalf("authorization header = %q", gotAuth)
	}
	if !strings.HasPrefix(gotContentType, "application/json") {
		t.Fatalf("content type = %q", gotContentType)
	}

	var sent struct {
		Items     []Item `json:"items"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(gotBody, &sent); err != nil {
		t.Fatalf("decode request body: %v", err)
	}
	if len(sent.Items) != 1 || sent.Items[0] != (Item{ID: 987, Quantity: 1}) {
		t.Fatalf("sent items = %+v", sent.Items)
	}
	if sent.Timestamp == "" {
		t.Fatal("timestamp missing from sync request")
	}

	if st := c.Status(); st == nil || st.Kind != StatusSuccess || st.Content != "Saved 1 items for later" {
		t.Fatalf("status = %+v", st)
	}
	if c.SelectedCount() != 0 {
		t.Fatal("selection not cleared after save")
	}
	if v, ok := local.get(StorageKey); !ok || v != `{"items":[{"id":987,"quantity":1}]}` {
		t.Fatalf("local record = %q", v)
	}
	if c.Saving() {
		t.Fatal("saving flag not reset")
	}
}

func TestSave_UnauthorizedSyncStillSavesLocally(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Unauthorized"}`))
	}))
	defer srv.Close()

	local := newMemStore()
	c := NewController(staticTokens{token: "tok-123"}, local, srv.Client(), srv.URL, quietLogger())
	c.SetLines(twoLineCart())
	c.Toggle("gid://shopify/ProductVariant/987")

	res := c.Save(context.Background())

	if res.Fatal != nil {
		t.Fatalf("unauthorized sync must not be fatal: %v", res.Fatal)
	}
	if res.Synced || res.SoftErr == nil {
		t.Fatalf("expected soft failure, got %+v", res)
	}
	if st := c.Status(); st == nil || st.Kind != StatusCritical || st.Content != "Unauthorized. Please log in to save items." {
		t.Fatalf("status = %+v", st)
	}
	if c.SelectedCount() != 0 {
		t.Fatal("selection must be cleared even when sync is unauthorized")
	}
	if _, ok := local.get(StorageKey); !ok {
		t.Fatal("local record missing; local write must precede sync")
	}
}

func TestSave_ServerErrorIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"Failed to save cart"}`))
	}))
	defer srv.Close()

	local := newMemStore()
	c := NewController(staticTokens{token: "tok-123"}, local, srv.Client(), srv.URL, quietLogger())
	c.SetLines(twoLineCart())
	c.Toggle("gid://shopify/ProductVariant/654")

	res := c.Save(context.Background())

	if res.Fatal != nil || res.Synced {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.SoftErr == nil || res.SoftErr.Error() != "Failed to save cart" {
		t.Fatalf("soft error = %v, want message parsed from response body", res.SoftErr)
	}
	// Only auth failures surface to the user.
	if st := c.Status(); st != nil {
		t.Fatalf("status = %+v, want none", st)
	}
	if _, ok := local.get(StorageKey); !ok {
		t.Fatal("local record missing")
	}
	if c.SelectedCount() != 0 {
		t.Fatal("selection not cleared")
	}
}

func TestSave_NetworkFailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	local := newMemStore()
	c := NewController(staticTokens{token: "tok-123"}, local, &http.Client{Timeout: time.Second}, srv.URL, quietLogger())
	c.SetLines(twoLineCart())
	c.Toggle("gid://shopify/ProductVariant/987")

	res := c.Save(context.Background())

	if res.Fatal != nil || res.Synced || res.SoftErr == nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, ok := local.get(StorageKey); !ok {
		t.Fatal("local save must survive network failure")
	}
	if c.SelectedCount() != 0 {
		t.Fatal("selection not cleared")
	}
}

func TestSave_TokenFailureStopsBeforeAnyWrite(t *testing.T) {
	var hit atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit.Add(1)
	}))
	defer srv.Close()

	local := newMemStore()
	c := NewController(staticTokens{err: errors.New("session expired")}, local, srv.Client(), srv.URL, quietLogger())
	c.SetLines(twoLineCart())
	c.Toggle("gid://shopify/ProductVariant/987")

	res := c.Save(context.Background())

	if !errors.Is(res.Fatal, ErrAuthentication) {
		t.Fatalf("fatal = %v, want ErrAuthentication", res.Fatal)
	}
	if local.writes != 0 {
		t.Fatal("no local write may happen without a credential")
	}
	if hit.Load() != 0 {
		t.Fatal("no network call may happen without a credential")
	}
	if st := c.Status(); st == nil || st.Kind != StatusCritical || st.Content != "Authentication failed" {
		t.Fatalf("status = %+v", st)
	}
	if c.SelectedCount() != 1 {
		t.Fatal("selection should survive an aborted save")
	}
	if c.Saving() {
		t.Fatal("saving flag not reset")
	}
}

func TestSave_EmptySelectionIsNoOp(t *testing.T) {
	var hit atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit.Add(1)
	}))
	defer srv.Close()

	local := newMemStore()
	c := NewController(staticTokens{token: "tok-123"}, local, srv.Client(), srv.URL, quietLogger())
	c.SetLines(twoLineCart())

	res := c.Save(context.Background())

	if res.Performed {
		t.Fatal("empty selection must not perform a save")
	}
	if local.writes != 0 || hit.Load() != 0 {
		t.Fatal("empty selection must not write or call out")
	}
}

func TestSave_NonNumericMerchandiseIDIsDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	local := newMemStore()
	c := NewController(staticTokens{token: "tok-123"}, local, srv.Client(), srv.URL, quietLogger())
	c.SetLines([]CartLine{
		{MerchandiseID: "gid://shopify/ProductVariant/987", Quantity: 1},
		{MerchandiseID: "gid://shopify/ProductVariant/opaque", Quantity: 2},
	})
	c.Toggle("gid://shopify/ProductVariant/987")
	c.Toggle("gid://shopify/ProductVariant/opaque")

	res := c.Save(context.Background())

	if res.Fatal != nil || res.Saved != 1 {
		t.Fatalf("result = %+v, want the malformed selection dropped", res)
	}
	if v, _ := local.get(StorageKey); v != `{"items":[{"id":987,"quantity":1}]}` {
		t.Fatalf("local record = %q", v)
	}
}

func TestSave_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	var hit atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit.Add(1)
		<-release
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	local := newMemStore()
	c := NewController(staticTokens{token: "tok-123"}, local, srv.Client(), srv.URL, quietLogger())
	c.SetLines(twoLineCart())
	c.Toggle("gid://shopify/ProductVariant/987")

	done := make(chan Result, 1)
	go func() { done <- c.Save(context.Background()) }()

	// Wait until the first save is inside the remote call.
	for hit.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	if second := c.Save(context.Background()); second.Performed {
		t.Fatal("a save started while another is in flight must be a no-op")
	}
	close(release)

	first := <-done
	if !first.Performed || !first.Synced {
		t.Fatalf("first save result = %+v", first)
	}
	if hit.Load() != 1 {
		t.Fatalf("backend hit %d times, want 1", hit.Load())
	}
}
