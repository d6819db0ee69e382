// Package client is a typed HTTP client for the phonebook REST API.
package client

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
	"strconv"
	"strings"
	"time"

	"github.com/HerbHall/phonebook/internal/version"
	"github.com/HerbHall/phonebook/pkg/models"
	"github.com/pkg/errors"
)

// DefaultTimeout bounds each request made with the default HTTP client.
const DefaultTimeout = 15 * time.Second

// APIError is a failure envelope returned by the server.
type APIError struct {
	Status  int
	Message string
	Errors  []string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("phonebook api: %d %s", e.Status, e.Message)
	if len(e.Errors) > 0 {
		msg += " (" + strings.Join(e.Errors, "; ") + ")"
	}
	return msg
}

// StatusCode returns the HTTP status of an *APIError anywhere in err's
// cause chain, or 0.
func StatusCode(err error) int {
	if apiErr, ok := errors.Cause(err).(*APIError); ok {
		return apiErr.Status
	}
	return 0
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// Client talks to one phonebook server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New returns a Client for the server at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/") + "/api/v1",
		httpClient: &http.Client{Timeout: DefaultTimeout},
		userAgent:  version.UserAgent(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope mirrors the server's response body.
type envelope struct {
	Success    bool               `json:"success"`
	Message    string             `json:"message"`
	Data       json.RawMessage    `json:"data"`
	Pagination *models.Pagination `json:"pagination"`
	Errors     []string           `json:"errors"`
}

// List fetches one page of contacts.
func (c *Client) List(ctx context.Context, q models.PageQuery) (*models.Page[models.Contact], error) {
	v := url.Values{}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Keyword != "" {
		v.Set("keyword", q.Keyword)
	}
	if q.SortBy != "" {
		v.Set("sortBy", q.SortBy)
	}
	if q.SortMode != "" {
		v.Set("sortMode", string(q.SortMode))
	}

	env, err := c.do(ctx, http.MethodGet, "/contacts?"+v.Encode(), nil, "")
	if err != nil {
		return nil, errors.Wrap(err, "list contacts")
	}
	page := &models.Page[models.Contact]{Items: []models.Contact{}}
	if err := decode(env, &page.Items); err != nil {
		return nil, errors.Wrap(err, "list contacts")
	}
	if env.Pagination != nil {
		page.Pagination = *env.Pagination
	}
	return page, nil
}

// Create stores a new contact.
func (c *Client) Create(ctx context.Context, in models.ContactInput) (*models.Contact, error) {
	var out models.Contact
	if err := c.doJSON(ctx, http.MethodPost, "/contacts", in, &out); err != nil {
		return nil, errors.Wrap(err, "create contact")
	}
	return &out, nil
}

// Get fetches one contact.
func (c *Client) Get(ctx context.Context, id string) (*models.Contact, error) {
	var out models.Contact
	if err := c.doJSON(ctx, http.MethodGet, "/contacts/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, errors.Wrapf(err, "get contact %s", id)
	}
	return &out, nil
}

// Update applies patch and returns the merged record.
func (c *Client) Update(ctx context.Context, id string, patch models.ContactPatch) (*models.Contact, error) {
	var out models.Contact
	if err := c.doJSON(ctx, http.MethodPut, "/contacts/"+url.PathEscape(id), patch, &out); err != nil {
		return nil, errors.Wrapf(err, "update contact %s", id)
	}
	return &out, nil
}

// Delete removes a contact.
func (c *Client) Delete(ctx context.Context, id string) error {
	if _, err := c.do(ctx, http.MethodDelete, "/contacts/"+url.PathEscape(id), nil, ""); err != nil {
		return errors.Wrapf(err, "delete contact %s", id)
	}
	return nil
}

// UploadAvatar sends an image for contact id and returns its reference.
func (c *Client) UploadAvatar(ctx context.Context, id, filename, contentType string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("id", id); err != nil {
		return "", errors.Wrap(err, "build upload")
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="avatar"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", errors.Wrap(err, "build upload")
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", errors.Wrap(err, "read avatar")
	}
	if err := mw.Close(); err != nil {
		return "", errors.Wrap(err, "build upload")
	}

	env, err := c.do(ctx, http.MethodPost, "/contacts/avatar", &buf, mw.FormDataContentType())
	if err != nil {
		return "", errors.Wrapf(err, "upload avatar for %s", id)
	}
	var out struct {
		Avatar string `json:"avatar"`
	}
	if err := decode(env, &out); err != nil {
		return "", errors.Wrapf(err, "upload avatar for %s", id)
	}
	return out.Avatar, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}
	env, err := c.do(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	return decode(env, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*envelope, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 400 {
			return nil, &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, errors.Wrap(err, "decode response")
	}
	if resp.StatusCode >= 400 || !env.Success {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg, Errors: env.Errors}
	}
	return &env, nil
}

func decode(env *envelope, out any) error {
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(env.Data, out), "decode data")
}
