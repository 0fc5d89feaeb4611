package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/anstrom/netsentry/internal/api/handlers"
	"github.com/anstrom/netsentry/internal/config"
	"github.com/anstrom/netsentry/internal/db"
	"github.com/anstrom/netsentry/internal/scans"
)

const defaultClientTimeout = 30 * time.Second

// APIClient talks to the netsentry API server on behalf of client commands.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	ScanID     string
	RequestID  string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
	if e.RequestID != "" {
		msg = fmt.Sprintf("API error (status %d, request %s): %s", e.StatusCode, e.RequestID, e.Message)
	}
	if e.ScanID != "" {
		msg += fmt.Sprintf(" (scan %s)", e.ScanID)
	}
	return msg
}

// NewAPIClient creates a client for baseURL, which must include the
// /api/v1 prefix.
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultClientTimeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		userAgent: "netsentry-cli/" + version,
	}
}

// newAPIClientFromConfig resolves the base URL from --api-url,
// NETSENTRY_API_URL or the api section of the config.
func newAPIClientFromConfig() (*APIClient, error) {
	if u := viper.GetString("api_url"); u != "" {
		return NewAPIClient(u), nil
	}
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	applyEnvOverrides(cfg)
	return NewAPIClient(baseURLFor(cfg)), nil
}

// baseURLFor builds the API base URL of a local server.
func baseURLFor(cfg *config.Config) string {
	host := cfg.API.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.API.Port)) + "/api/v1"
}

// StartScan submits a scan. When the server accepted the scan but could not
// start it, the returned *APIError carries the scan id.
func (c *APIClient) StartScan(ctx context.Context, req scans.Request) (*scans.StartResult, error) {
	var res scans.StartResult
	if err := c.do(ctx, http.MethodPost, "/scans", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ScanStatus fetches the polling view of a scan.
func (c *APIClient) ScanStatus(ctx context.Context, id uuid.UUID) (*scans.Status, error) {
	var st scans.Status
	if err := c.do(ctx, http.MethodGet, "/scans/"+id.String()+"/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ScanDetail fetches a scan with its hosts and findings.
func (c *APIClient) ScanDetail(ctx context.Context, id uuid.UUID) (*db.ScanDetail, error) {
	var detail db.ScanDetail
	if err := c.do(ctx, http.MethodGet, "/scans/"+id.String(), nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// CancelScan flags a scan as cancelled.
func (c *APIClient) CancelScan(ctx context.Context, id uuid.UUID) (*scans.Status, error) {
	var st scans.Status
	if err := c.do(ctx, http.MethodPost, "/scans/"+id.String()+"/cancel", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ListScans fetches one page of recent scans.
func (c *APIClient) ListScans(ctx context.Context, page, pageSize int) (*handlers.ScanListResponse, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))

	var list handlers.ScanListResponse
	if err := c.do(ctx, http.MethodGet, "/scans?"+q.Encode(), nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Health checks that the server is reachable.
func (c *APIClient) Health(ctx context.Context) (*handlers.HealthResponse, error) {
	var out handlers.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do performs one request and decodes a 2xx body into out.
func (c *APIClient) do(ctx context.Context, method, endpoint string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeAPIError(status int, data []byte) error {
	apiErr := &APIError{StatusCode: status}

	var body handlers.ErrorResponse
	if err := json.Unmarshal(data, &body); err == nil {
		apiErr.Message = body.Message
		apiErr.Code = body.Code
		apiErr.ScanID = body.ScanID
		apiErr.RequestID = body.RequestID
		if apiErr.Message == "" {
			apiErr.Message = body.Error
		}
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
