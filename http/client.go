// Package http implements the backend receipt-post client over HTTP.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	purchasekit "github.com/purchasekit/purchasekit-go"
)

// DefaultTimeout applies when Config.Timeout is unset.
const DefaultTimeout = 30 * time.Second

const receiptsPath = "/v1/receipts"

// Config configures the backend client.
type Config struct {
	// URL is the base URL of the subscription backend.
	URL string

	// APIKey authenticates this app configuration.
	APIKey string

	// HTTPClient is the HTTP client to use (optional).
	HTTPClient *http.Client

	// Timeout for requests (optional, defaults to DefaultTimeout).
	Timeout time.Duration

	// Logger for request classification events (optional).
	Logger *zap.Logger
}

// Client posts receipts to the subscription backend.
// Implements purchasekit.Backend.
type Client struct {
	rc  *resty.Client
	log *zap.Logger
}

// NewClient creates a backend client.
func NewClient(config *Config) *Client {
	if config == nil {
		config = &Config{}
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	var rc *resty.Client
	if config.HTTPClient != nil {
		rc = resty.NewWithClient(config.HTTPClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(config.URL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+config.APIKey)

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{rc: rc, log: logger}
}

type receiptResponse struct {
	CustomerInfo *purchasekit.CustomerInfo `json:"customerInfo"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PostReceipt posts a receipt for entitlement computation. Failures come back
// as *purchasekit.BackendError carrying the finishable and successfully-synced
// classifications.
func (c *Client) PostReceipt(
	ctx context.Context,
	request *purchasekit.ReceiptRequest,
) (*purchasekit.CustomerInfo, error) {
	var success receiptResponse
	var failure errorResponse

	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&success).
		SetError(&failure).
		Post(receiptsPath)
	if err != nil {
		// Transport failure: retryable, nothing was durably recorded.
		return nil, &purchasekit.BackendError{
			Code:    purchasekit.ErrCodeNetworkError,
			Message: fmt.Sprintf("receipt post failed: %s", err.Error()),
		}
	}

	if resp.IsError() {
		backendErr := classifyStatus(resp.StatusCode(), failure)
		c.log.Debug("backend rejected receipt post",
			zap.Int("status", resp.StatusCode()),
			zap.String("code", backendErr.Code),
			zap.Bool("finishable", backendErr.Finishable))
		return nil, backendErr
	}

	if success.CustomerInfo == nil {
		return nil, &purchasekit.BackendError{
			Code:    purchasekit.ErrCodeBackendError,
			Message: fmt.Sprintf("receipt post returned %d without customer info", resp.StatusCode()),
		}
	}
	return success.CustomerInfo, nil
}

// classifyStatus maps an HTTP status to the two error axes.
//
// A 4xx response is a definitive answer: the receipt will never be accepted
// (finishable) and the attribute data it carried was durably recorded or
// definitively rejected (successfully synced) — except 404, where the backend
// never saw the post at all. 5xx and transport errors are transient.
func classifyStatus(status int, body errorResponse) *purchasekit.BackendError {
	code := body.Code
	if code == "" {
		code = purchasekit.ErrCodeBackendError
	}
	message := body.Message
	if message == "" {
		message = fmt.Sprintf("backend returned %d", status)
	}

	clientError := status >= 400 && status < 500
	return &purchasekit.BackendError{
		Code:               code,
		Message:            message,
		StatusCode:         status,
		Finishable:         clientError,
		SuccessfullySynced: clientError && status != http.StatusNotFound,
	}
}

var _ purchasekit.Backend = (*Client)(nil)
