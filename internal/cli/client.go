// Package cli provides the HTTP client and output formatting used by the pdfquery command.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/pdfquery/internal/exchange"
	"github.com/hyperjump/pdfquery/internal/models"
	"github.com/hyperjump/pdfquery/internal/server"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client talks to a running pdfquery server. Without a token it keeps the
// anonymous owner cookie in OwnerFile so consecutive commands share a session.
type Client struct {
	BaseURL    string
	Token      string
	CookieName string
	OwnerFile  string
	HTTP       *http.Client
}

// NewClient returns a Client for baseURL with a generous timeout for answers.
func NewClient(baseURL, token, cookieName, ownerFile string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		CookieName: cookieName,
		OwnerFile:  ownerFile,
		HTTP:       &http.Client{Timeout: 3 * time.Minute},
	}
}

// DefaultOwnerFile returns the per-user file holding the anonymous owner cookie.
func DefaultOwnerFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "pdfquery", "owner")
}

// Upload sends the PDF at path.
func (c *Client) Upload(ctx context.Context, path string) (*models.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(path)))
	h.Set("Content-Type", contentTypeFor(path))
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	var doc models.Document
	if err := c.do(ctx, http.MethodPost, "/api/v1/documents", mw.FormDataContentType(), &body, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func contentTypeFor(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return "application/pdf"
	}
	return "application/octet-stream"
}

// List returns the caller's documents and active selection.
func (c *Client) List(ctx context.Context) (*server.DocumentList, error) {
	var list server.DocumentList
	if err := c.do(ctx, http.MethodGet, "/api/v1/documents", "", nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Document returns one document with its transcript.
func (c *Client) Document(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	if err := c.do(ctx, http.MethodGet, "/api/v1/documents/"+url.PathEscape(id), "", nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Select makes id the active document.
func (c *Client) Select(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	if err := c.doJSON(ctx, http.MethodPut, "/api/v1/active", map[string]string{"id": id}, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Ask asks a question about the active document.
func (c *Client) Ask(ctx context.Context, question string) (*exchange.Result, error) {
	var res exchange.Result
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/chat", map[string]string{"question": question}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Clear removes every document of the caller.
func (c *Client) Clear(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/documents", "", nil, nil)
}

// Status returns the server's status map.
func (c *Client) Status(ctx context.Context) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.do(ctx, method, path, "application/json", bytes.NewReader(b), out)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	} else if v := c.loadOwner(); v != "" {
		req.AddCookie(&http.Cookie{Name: c.CookieName, Value: v})
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	c.saveOwner(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(b))
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) loadOwner() string {
	if c.OwnerFile == "" {
		return ""
	}
	b, err := os.ReadFile(c.OwnerFile)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func (c *Client) saveOwner(resp *http.Response) {
	if c.OwnerFile == "" || c.Token != "" {
		return
	}
	for _, ck := range resp.Cookies() {
		if ck.Name != c.CookieName || ck.Value == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(c.OwnerFile), 0700); err != nil {
			return
		}
		_ = os.WriteFile(c.OwnerFile, []byte(ck.Value+"\n"), 0600)
		return
	}
}
