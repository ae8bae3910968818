// Package hyperliquid integrates the Hyperliquid venue: the signed action
// client, the public info endpoint, the streaming adapter and the
// normalization layer that turns venue frames into canonical records.
package hyperliquid

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/foggle/foggle/errs"
)

const (
	// VenueName labels records and errors produced by this integration.
	VenueName = "hyperliquid"
	// ExchangeCode is the canonical exchange field stored on contracts.
	ExchangeCode = "HYPERLIQUID"
	// MainnetAPIURL is the production REST endpoint.
	MainnetAPIURL = "https://api.hyperliquid.xyz"
	// TestnetAPIURL is the testnet REST endpoint.
	TestnetAPIURL = "https://api.hyperliquid-testnet.xyz"
)

// Client posts queries and signed actions to the venue REST endpoint and
// classifies responses per status band.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a REST client for the given base URL, defaulting to
// mainnet. No client-level deadline is enforced; callers bound requests via
// context.
func NewClient(baseURL string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = MainnetAPIURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
}

// BaseURL returns the configured REST endpoint.
func (c *Client) BaseURL() string { return c.baseURL }

// IsMainnet reports whether the client targets the production venue.
func (c *Client) IsMainnet() bool { return c.baseURL == MainnetAPIURL }

// Close releases any idle transport connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// Post sends payload to path and returns the raw JSON response body.
// Status < 400 with an unparseable body yields a decode error rather than a
// panic or silent corruption; 4xx yields a venue client error carrying the
// venue's code/message/data when present; 5xx yields a venue server error.
func (c *Client) Post(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.New(VenueName, errs.CodeInvalid,
			errs.WithMessage("marshal request payload"), errs.WithCause(err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, errs.New(VenueName, errs.CodeInvalid,
			errs.WithMessage("build request"), errs.WithCause(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.New(VenueName, errs.CodeNetwork,
			errs.WithMessage("post "+path), errs.WithCause(err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New(VenueName, errs.CodeNetwork,
			errs.WithMessage("read response body"), errs.WithCause(err))
	}

	if resp.StatusCode >= 400 {
		return nil, classifyError(resp.StatusCode, raw, resp.Header)
	}
	if !json.Valid(raw) {
		return nil, errs.New(VenueName, errs.CodeDecode,
			errs.WithMessage("could not parse JSON response"),
			errs.WithHTTP(resp.StatusCode),
			errs.WithRawMessage(string(raw)))
	}
	return json.RawMessage(raw), nil
}

type venueErrorBody struct {
	Code json.RawMessage `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func classifyError(status int, body []byte, header http.Header) error {
	if status >= 500 {
		return errs.New(VenueName, errs.CodeVenueServer,
			errs.WithHTTP(status),
			errs.WithRawMessage(string(body)))
	}

	opts := []errs.Option{errs.WithHTTP(status)}
	for k, vs := range header {
		opts = append(opts, errs.WithField("header."+strings.ToLower(k), strings.Join(vs, ",")))
	}

	var parsed venueErrorBody
	if err := json.Unmarshal(body, &parsed); err != nil || (parsed.Code == nil && parsed.Msg == "") {
		opts = append(opts, errs.WithRawMessage(string(body)))
		return errs.New(VenueName, errs.CodeVenueClient, opts...)
	}
	opts = append(opts,
		errs.WithRawCode(rawScalar(parsed.Code)),
		errs.WithRawMessage(parsed.Msg))
	if len(parsed.Data) > 0 && string(parsed.Data) != "null" {
		opts = append(opts, errs.WithField("data", string(parsed.Data)))
	}
	return errs.New(VenueName, errs.CodeVenueClient, opts...)
}

// rawScalar renders a JSON scalar (string or number) without quotes.
func rawScalar(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	return strings.Trim(s, `"`)
}
