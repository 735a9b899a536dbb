// Package saveflow implements the client side of the save-for-later
// protocol: the user's selection is committed to device-local storage first,
// then synced to the backend on a best-effort basis. Local durability is the
// guarantee; a failed sync never fails the save.
package saveflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/ajzo90/go-requests"
)

// StorageKey is the device-local key holding the saved selection.
const StorageKey = "savedCart"

// ErrAuthentication aborts a save before any write when no session
// credential could be obtained.
var ErrAuthentication = errors.New("authentication failed")

// trailingNumericID extracts the numeric id from the last path segment of a
// merchandise identifier, e.g. "gid://shopify/ProductVariant/987".
var trailingNumericID = regexp.MustCompile(`/(\d+)$`)

// TokenSource yields a fresh session credential from the host environment.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// LocalStore is device-scoped storage. Writes are treated as should-not-fail;
// an error is logged, never surfaced.
type LocalStore interface {
	Write(key, value string) error
}

// CartLine is one live cart line as presented by the checkout.
type CartLine struct {
	MerchandiseID string
	Title         string
	Quantity      int
}

type Item struct {
	ID       int64 `json:"id"`
	Quantity int   `json:"quantity"`
}

type StatusKind string

const (
	StatusSuccess  StatusKind = "success"
	StatusCritical StatusKind = "critical"
)

// Status is the user-facing banner after a save attempt.
type Status struct {
	Kind    StatusKind
	Content string
}

// Result reports one save attempt. Fatal is set only when the save aborted
// before the local write; SoftErr records a remote-sync failure that did not
// fail the save.
type Result struct {
	Performed bool
	Saved     int
	Synced    bool
	Fatal     error
	SoftErr   error
}

// Controller owns the selection state and runs the save protocol. A save is
// single-flight: a second Save while one is running is a no-op.
type Controller struct {
	tokens   TokenSource
	local    LocalStore
	client   *http.Client
	endpoint string
	log      *slog.Logger

	mu       sync.Mutex
	lines    []CartLine
	selected map[string]bool
	saving   bool
	status   *Status
}

func NewController(tokens TokenSource, local LocalStore, client *http.Client, endpoint string, log *slog.Logger) *Controller {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		tokens:   tokens,
		local:    local,
		client:   client,
		endpoint: endpoint,
		log:      log,
		selected: make(map[string]bool),
	}
}

// SetLines replaces the live cart lines and drops selections that no longer
// correspond to a line.
func (c *Controller) SetLines(lines []CartLine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = lines
	present := make(map[string]bool, len(lines))
	for _, l := range lines {
		present[l.MerchandiseID] = true
	}
	for id := range c.selected {
		if !present[id] {
			delete(c.selected, id)
		}
	}
}

// Toggle flips the selection state of one line.
func (c *Controller) Toggle(merchandiseID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected[merchandiseID] {
		delete(c.selected, merchandiseID)
	} else {
		c.selected[merchandiseID] = true
	}
}

func (c *Controller) SelectedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.selected)
}

func (c *Controller) Saving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saving
}

// Status returns the banner from the last save attempt, nil when there is
// nothing to show.
func (c *Controller) Status() *Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Save runs one save attempt: local write first, then best-effort remote
// sync. An empty selection or an in-flight save is a no-op.
func (c *Controller) Save(ctx context.Context) Result {
	c.mu.Lock()
	if c.saving || len(c.selected) == 0 {
		c.mu.Unlock()
		return Result{}
	}
	c.saving = true
	c.status = nil
	items := c.resolveSelectionLocked()
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.saving = false
		c.mu.Unlock()
	}()

	token, err := c.tokens.Token(ctx)
	if err != nil || token == "" {
		c.setStatus(StatusCritical, "Authentication failed")
		return Result{Performed: true, Fatal: ErrAuthentication}
	}

	payload, _ := json.Marshal(struct {
		Items []Item `json:"items"`
	}{Items: items})
	if err := c.local.Write(StorageKey, string(payload)); err != nil {
		c.log.Error("local cart write failed", "err", err)
	}

	res := Result{Performed: true, Saved: len(items)}
	res.Synced, res.SoftErr = c.sync(ctx, token, items)

	c.mu.Lock()
	c.selected = make(map[string]bool)
	c.mu.Unlock()

	return res
}

// resolveSelectionLocked maps selected lines to outgoing items. A selection
// whose merchandise id has no trailing numeric segment is dropped rather
// than failing the save.
func (c *Controller) resolveSelectionLocked() []Item {
	items := make([]Item, 0, len(c.selected))
	for _, line := range c.lines {
		if !c.selected[line.MerchandiseID] {
			continue
		}
		m := trailingNumericID.FindStringSubmatch(line.MerchandiseID)
		if m == nil {
			c.log.Warn("dropping selection with non-numeric merchandise id", "merchandise_id", line.MerchandiseID)
			continue
		}
		id, _ := strconv.ParseInt(m[1], 10, 64)
		items = append(items, Item{ID: id, Quantity: line.Quantity})
	}
	return items
}

type syncPayload struct {
	Items     []Item `json:"items"`
	Timestamp string `json:"timestamp"`
}

// syncDoer executes the request and records the response status and any
// diagnostic message from a rejection body before the response is consumed.
type syncDoer struct {
	client  *http.Client
	status  int
	message string
}

func (d *syncDoer) Do(req *http.Request) (*http.Response, error) {
	resp, err := d.client.Do(req)
	if err != nil || resp == nil {
		return resp, err
	}
	d.status = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		var parsed struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(body, &parsed); err == nil {
			d.message = parsed.Message
		}
		resp.Body = io.NopCloser(bytes.NewReader(body))
	}
	return resp, nil
}

func (c *Controller) sync(ctx context.Context, token string, items []Item) (bool, error) {
	doer := &syncDoer{client: c.client}
	req := requests.NewPost(c.endpoint).
		Header("Content-Type", "application/json").
		Header("Authorization", "Bearer "+token).
		JSONBody(syncPayload{
			Items:     items,
			Timestamp: strconv.FormatInt(time.Now().Unix(), 10),
		}).
		Extended().Doer(doer).Clone()

	_, err := req.ExecJSON(ctx)
	if doer.status == 0 {
		// The request never reached the backend.
		c.log.Error("cart sync failed", "err", err)
		return false, err
	}

	if doer.status < 200 || doer.status >= 300 {
		if doer.status == http.StatusUnauthorized {
			c.setStatus(StatusCritical, "Unauthorized. Please log in to save items.")
		}
		msg := doer.message
		if msg == "" {
			msg = "Failed to save to backend"
		}
		c.log.Error("cart sync rejected", "status", doer.status, "message", msg)
		return false, errors.New(msg)
	}

	c.setStatus(StatusSuccess, fmt.Sprintf("Saved %d items for later", len(items)))
	return true, nil
}

func (c *Controller) setStatus(kind StatusKind, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = &Status{Kind: kind, Content: content}
}
