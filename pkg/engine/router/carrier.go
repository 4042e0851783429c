package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	twilioBaseURL        = "https://api.twilio.com"
	defaultLookupTimeout = 3 * time.Second
)

// CallDetail is the carrier's record of one call.
type CallDetail struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Status string `json:"status"`
}

// CarrierClient looks call details up against the carrier's REST API. The
// lookup sits on the call-setup path, so it carries its own bounded
// timeout and callers treat every failure as "number unknown".
type CarrierClient struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewCarrierClient creates a client for the carrier's call-detail API.
func NewCarrierClient(accountSID, authToken string) *CarrierClient {
	return &CarrierClient{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    twilioBaseURL,
		httpClient: http.DefaultClient,
		timeout:    defaultLookupTimeout,
	}
}

// WithBaseURL points the client at a different API host.
func (c *CarrierClient) WithBaseURL(base string) *CarrierClient {
	c.baseURL = base
	return c
}

// WithHTTPClient swaps the underlying HTTP client.
func (c *CarrierClient) WithHTTPClient(hc *http.Client) *CarrierClient {
	c.httpClient = hc
	return c
}

// WithTimeout overrides the lookup timeout.
func (c *CarrierClient) WithTimeout(d time.Duration) *CarrierClient {
	c.timeout = d
	return c
}

// CallDetail fetches the call record for callID.
func (c *CarrierClient) CallDetail(ctx context.Context, callID string) (*CallDetail, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, callID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build call detail request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call detail request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("call detail lookup: status %d", resp.StatusCode)
	}

	var detail CallDetail
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return nil, fmt.Errorf("decode call detail: %w", err)
	}
	return &detail, nil
}
