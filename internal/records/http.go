package records

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	cs "callvox/internal/callstate"
)

// HTTPStore talks JSON to the scheduling API:
//
//	GET  /employees?phone=...            -> Employee
//	GET  /employees?pin=...              -> Employee
//	GET  /employees/{id}/occurrences?provider=... -> []Occurrence
//	POST /changes                        <- Change
type HTTPStore struct {
	base   *url.URL
	token  string
	client *http.Client
}

func NewHTTPStore(baseURL, token string, client *http.Client) (*HTTPStore, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse records url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("records url %q is not absolute", baseURL)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPStore{base: u, token: token, client: client}, nil
}

func (h *HTTPStore) EmployeeByPhone(ctx context.Context, phone string) (Employee, error) {
	var e Employee
	err := h.do(ctx, http.MethodGet, "/employees", url.Values{"phone": {phone}}, nil, &e)
	return e, err
}

func (h *HTTPStore) EmployeeByPIN(ctx context.Context, pin string) (Employee, error) {
	var e Employee
	err := h.do(ctx, http.MethodGet, "/employees", url.Values{"pin": {pin}}, nil, &e)
	return e, err
}

func (h *HTTPStore) Occurrences(ctx context.Context, employeeID, providerID string) ([]cs.Occurrence, error) {
	var out []cs.Occurrence
	path := "/employees/" + url.PathEscape(employeeID) + "/occurrences"
	err := h.do(ctx, http.MethodGet, path, url.Values{"provider": {providerID}}, nil, &out)
	return out, err
}

func (h *HTTPStore) SubmitChange(ctx context.Context, c cs.Change) error {
	return h.do(ctx, http.MethodPost, "/changes", nil, c, nil)
}

func (h *HTTPStore) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := *h.base
	u.Path += path
	u.RawQuery = query.Encode()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
