// Package share publishes workspace snapshots to the share service and
// resolves them back.
package share

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"pkt.systems/pslog"

	"github.com/michaelbrown/playground/internal/logx"
	"github.com/michaelbrown/playground/internal/protocol"
	"github.com/michaelbrown/playground/internal/workspace"
)

var (
	// ErrShareUnavailable is returned when a snapshot could not be published.
	ErrShareUnavailable = errors.New("share service unavailable")

	// ErrShareNotFound is returned when an id could not be resolved, either
	// because it is unknown or because the service could not be reached.
	ErrShareNotFound = errors.New("shared workspace not found")
)

// Client talks to the share endpoints of the playground backend.
type Client struct {
	baseURL  string
	linkBase string
	http     *http.Client
	log      pslog.Logger
}

// NewClient creates a Client for the backend at baseURL. linkBase is the
// page that share links point at; an empty linkBase uses baseURL. A nil
// httpClient uses http.DefaultClient and a nil logger discards.
func NewClient(baseURL, linkBase string, httpClient *http.Client, logger pslog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if linkBase == "" {
		linkBase = baseURL
	}
	return &Client{
		baseURL:  baseURL,
		linkBase: linkBase,
		http:     httpClient,
		log:      logx.Or(logger),
	}
}

// Publish stores an immutable copy of s and returns its id.
func (c *Client) Publish(ctx context.Context, s workspace.Snapshot) (string, error) {
	body, err := json.Marshal(protocol.ShareRequest{Files: s.Files, EntryFile: s.EntryFile})
	if err != nil {
		return "", fmt.Errorf("marshaling share request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/share", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrShareUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("share publish failed", "err", err)
		return "", fmt.Errorf("%w: %v", ErrShareUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s", ErrShareUnavailable, errorMessage(resp))
	}

	var out protocol.ShareResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decoding response: %v", ErrShareUnavailable, err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("%w: empty share id", ErrShareUnavailable)
	}
	c.log.Info("workspace shared", "id", out.ID, "files", len(s.Files))
	return out.ID, nil
}

// Resolve fetches the snapshot published under id.
func (c *Client) Resolve(ctx context.Context, id string) (workspace.Snapshot, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return workspace.Snapshot{}, fmt.Errorf("%w: empty id", ErrShareNotFound)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/share/"+url.PathEscape(id), nil)
	if err != nil {
		return workspace.Snapshot{}, fmt.Errorf("%w: %v", ErrShareNotFound, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("share resolve failed", "id", id, "err", err)
		return workspace.Snapshot{}, fmt.Errorf("%w: %v", ErrShareNotFound, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return workspace.Snapshot{}, fmt.Errorf("%w: %s: %s", ErrShareNotFound, id, errorMessage(resp))
	}

	var out protocol.SharedWorkspace
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return workspace.Snapshot{}, fmt.Errorf("%w: decoding response: %v", ErrShareNotFound, err)
	}
	c.log.Debug("workspace resolved", "id", id, "files", len(out.Files))
	return workspace.Normalize(workspace.Snapshot{Files: out.Files, EntryFile: out.EntryFile}), nil
}

// URL returns the link that opens the shared workspace id.
func (c *Client) URL(id string) string {
	return c.linkBase + "?id=" + url.QueryEscape(id)
}

// ParseLink extracts a share id from either a bare id or a share link.
func ParseLink(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "?") {
		return s
	}
	u, err := url.Parse(s)
	if err != nil {
		return s
	}
	if id := u.Query().Get("id"); id != "" {
		return id
	}
	return s
}

func errorMessage(resp *http.Response) string {
	var e protocol.ErrorResponse
	json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
	if e.Error != "" {
		return fmt.Sprintf("%d %s", resp.StatusCode, e.Error)
	}
	return resp.Status
}
