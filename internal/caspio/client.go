// Package caspio talks to the Caspio REST datastore that owns all booking
// tables. Authentication is OAuth2 client-credentials; the token source is
// cached and refreshed by the oauth2 transport.
package caspio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/harborpoint/bookingbridge/pkg/booking"
)

const (
	maxResponseBytes  = 4 << 20
	maxErrorBodyBytes = 300

	defaultTableTransactions = "Transactions"
	defaultTableRollups      = "Reservation_Totals"
	defaultTableAvailability = "Availability"
	defaultTableListings     = "Listings"
)

// Record is one row returned by the datastore, keyed by column name.
type Record map[string]any

// TableNames holds the externally owned table names, overridable per account.
type TableNames struct {
	Transactions string
	Rollups      string
	Availability string
	Listings     string
}

func (names *TableNames) applyDefaults() {
	if names.Transactions == "" {
		names.Transactions = defaultTableTransactions
	}
	if names.Rollups == "" {
		names.Rollups = defaultTableRollups
	}
	if names.Availability == "" {
		names.Availability = defaultTableAvailability
	}
	if names.Listings == "" {
		names.Listings = defaultTableListings
	}
}

// Config aggregates connection settings for the datastore.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Tables       TableNames
}

// Client issues authenticated record operations against Caspio tables.
type Client struct {
	baseURL    string
	tables     TableNames
	httpClient *http.Client
}

// New wires a Client with an OAuth2 client-credentials transport.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("%w: caspio client credentials are required", booking.ErrInvalidServiceConfig)
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, fmt.Errorf("%w: caspio token url is required", booking.ErrInvalidServiceConfig)
	}
	oauthConfig := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}
	return NewWithHTTPClient(cfg, oauthConfig.Client(context.Background()))
}

// NewWithHTTPClient wires a Client over a caller-supplied HTTP client.
func NewWithHTTPClient(cfg Config, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("%w: caspio base url is required", booking.ErrInvalidServiceConfig)
	}
	if httpClient == nil {
		return nil, fmt.Errorf("%w: http client dependency is nil", booking.ErrInvalidServiceConfig)
	}
	cfg.Tables.applyDefaults()
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		tables:     cfg.Tables,
		httpClient: httpClient,
	}, nil
}

// Tables returns the configured table names.
func (client *Client) Tables() TableNames {
	return client.tables
}

// QueryRecords fetches rows from a table matching the filter expression.
// An empty where selects all rows up to the limit.
func (client *Client) QueryRecords(ctx context.Context, table string, where string, limit int) ([]Record, error) {
	query := url.Values{}
	if where != "" {
		query.Set("q.where", where)
	}
	if limit > 0 {
		query.Set("q.limit", strconv.Itoa(limit))
	}
	var decoded struct {
		Result []Record `json:"Result"`
	}
	if err := client.do(ctx, http.MethodGet, table, query, nil, &decoded); err != nil {
		return nil, err
	}
	return decoded.Result, nil
}

// InsertRecord creates one row in a table.
func (client *Client) InsertRecord(ctx context.Context, table string, record Record) error {
	return client.do(ctx, http.MethodPost, table, nil, record, nil)
}

// UpdateRecords updates all rows matching the filter expression.
func (client *Client) UpdateRecords(ctx context.Context, table string, where string, record Record) error {
	query := url.Values{}
	query.Set("q.where", where)
	return client.do(ctx, http.MethodPut, table, query, record, nil)
}

// DeleteRecords removes all rows matching the filter expression.
func (client *Client) DeleteRecords(ctx context.Context, table string, where string) error {
	query := url.Values{}
	query.Set("q.where", where)
	return client.do(ctx, http.MethodDelete, table, query, nil, nil)
}

func (client *Client) do(ctx context.Context, method string, table string, query url.Values, body any, out any) error {
	endpoint := fmt.Sprintf("%s/tables/%s/records", client.baseURL, url.PathEscape(table))
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var requestBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode %s body: %v", booking.ErrDependency, table, err)
		}
		requestBody = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, endpoint, requestBody)
	if err != nil {
		return fmt.Errorf("%w: build %s request: %v", booking.ErrDependency, table, err)
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	response, err := client.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", booking.ErrDependency, method, table, err)
	}
	defer response.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read %s response: %v", booking.ErrDependency, table, err)
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: %s %s returned %d: %s", booking.ErrDependency, method, table, response.StatusCode, truncateBody(payload))
	}
	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("%w: decode %s response: %v", booking.ErrDependency, table, err)
		}
	}
	return nil
}

// truncateBody bounds dependency error messages so oversized upstream
// payloads never leak into surfaced errors.
func truncateBody(payload []byte) string {
	text := strings.TrimSpace(string(payload))
	if len(text) > maxErrorBodyBytes {
		return text[:maxErrorBodyBytes]
	}
	return text
}
