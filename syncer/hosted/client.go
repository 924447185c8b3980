// Package hosted syncs a data root with a database on a hosted document
// server speaking the CouchDB HTTP API.
package hosted

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
	"time"
)

// ErrNotFound is returned for missing databases and documents.
var ErrNotFound = errors.New("not found")

// StatusError is an unexpected HTTP response.
type StatusError struct {
	Code   int
	Reason string
}

func (e *StatusError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Client talks to one database with basic auth. The password may be an
// access token.
type Client struct {
	baseURL    string
	database   string
	username   string
	password   string
	httpClient *http.Client
}

// NewClient creates a client. timeout bounds each request.
func NewClient(endpoint, database, username, password string, timeout time.Duration) *Client {
	return &Client{
		baseURL:  strings.TrimRight(endpoint, "/"),
		database: database,
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Session is the authenticated user.
type Session struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

// DatabaseInfo describes the database.
type DatabaseInfo struct {
	DBName   string `json:"db_name"`
	DocCount int64  `json:"doc_count"`
	Sizes    struct {
		File     int64 `json:"file"`
		External int64 `json:"external"`
		Active   int64 `json:"active"`
	} `json:"sizes"`
}

// Doc is one synced file. JSON files carry Content, anything else Data
// (base64) and ContentType.
type Doc struct {
	ID          string          `json:"_id"`
	Rev         string          `json:"_rev,omitempty"`
	Deleted     bool            `json:"_deleted,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
	Data        string          `json:"data,omitempty"`
	ContentType string          `json:"contentType,omitempty"`
}

// BulkResult is the outcome of one document of a bulk update.
type BulkResult struct {
	ID     string `json:"id"`
	Rev    string `json:"rev,omitempty"`
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Session returns the user the credentials belong to.
func (c *Client) Session(ctx context.Context) (Session, error) {
	var result struct {
		UserCtx Session `json:"userCtx"`
	}
	if err := c.do(ctx, http.MethodGet, "/_session", nil, &result, http.StatusOK); err != nil {
		return Session{}, err
	}
	return result.UserCtx, nil
}

// Database returns the database info, or ErrNotFound if it does not exist yet.
func (c *Client) Database(ctx context.Context) (DatabaseInfo, error) {
	var info DatabaseInfo
	err := c.do(ctx, http.MethodGet, c.dbPath(""), nil, &info, http.StatusOK)
	return info, err
}

// CreateDatabase creates the database. An existing database is fine.
func (c *Client) CreateDatabase(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, c.dbPath(""), nil, nil, http.StatusCreated, http.StatusAccepted, http.StatusPreconditionFailed)
}

// AllDocs returns every document with its body.
func (c *Client) AllDocs(ctx context.Context) ([]Doc, error) {
	var result struct {
		Rows []struct {
			ID  string `json:"id"`
			Doc *Doc   `json:"doc"`
		} `json:"rows"`
	}
	if err := c.do(ctx, http.MethodGet, c.dbPath("/_all_docs?include_docs=true"), nil, &result, http.StatusOK); err != nil {
		return nil, err
	}

	docs := make([]Doc, 0, len(result.Rows))
	for _, row := range result.Rows {
		if row.Doc != nil {
			docs = append(docs, *row.Doc)
		}
	}
	return docs, nil
}

// BulkDocs writes docs in one request.
func (c *Client) BulkDocs(ctx context.Context, docs []Doc) ([]BulkResult, error) {
	body := struct {
		Docs []Doc `json:"docs"`
	}{Docs: docs}

	var results []BulkResult
	if err := c.do(ctx, http.MethodPost, c.dbPath("/_bulk_docs"), body, &results, http.StatusCreated, http.StatusAccepted); err != nil {
		return nil, err
	}
	return results, nil
}

// GetLocal reads a non-replicated local document into out.
func (c *Client) GetLocal(ctx context.Context, id string, out interface{}) error {
	return c.do(ctx, http.MethodGet, c.dbPath("/_local/"+url.PathEscape(id)), nil, out, http.StatusOK)
}

// PutLocal writes a non-replicated local document.
func (c *Client) PutLocal(ctx context.Context, id string, doc interface{}) error {
	return c.do(ctx, http.MethodPut, c.dbPath("/_local/"+url.PathEscape(id)), doc, nil, http.StatusCreated, http.StatusOK)
}

func (c *Client) dbPath(suffix string) string {
	return "/" + url.PathEscape(c.database) + suffix
}

// do sends a request and decodes the response into out when it is non-nil.
// A 404 becomes ErrNotFound; any status not in ok a *StatusError.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}, ok ...int) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if !expected(resp.StatusCode, ok) {
		if resp.StatusCode == http.StatusNotFound {
			return ErrNotFound
		}
		var couchErr struct {
			Error  string `json:"error"`
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal(respBody, &couchErr)
		return &StatusError{Code: resp.StatusCode, Reason: couchErr.Reason}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func expected(code int, ok []int) bool {
	for _, c := range ok {
		if c == code {
			return true
		}
	}
	return false
}
