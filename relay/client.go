package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/blndgs/ch4nn337"
)

// ErrEmpty is returned by TryReceive when no payload is waiting.
var ErrEmpty = errors.New("mailbox empty")

const defaultPollInterval = 2 * time.Second

// Client is a Transport backed by a relay Server. It sends to the
// counterparty's mailbox and receives from its own.
type Client struct {
	baseURL      string
	self         common.Address
	peer         common.Address
	pollInterval time.Duration
	http         *retryablehttp.Client
}

var _ ch4nn337.Transport = (*Client)(nil)

// leveledLogger adapts zap to retryablehttp's logger interface.
type leveledLogger struct {
	l *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.l.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.l.Infow(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.l.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.l.Warnw(msg, kv...) }

// NewClient returns a relay transport for the party with signing address
// self talking to peer.
func NewClient(baseURL string, self, peer common.Address, logger *zap.Logger) *Client {
	hc := retryablehttp.NewClient()
	hc.RetryMax = 3
	hc.RetryWaitMin = 100 * time.Millisecond
	hc.RetryWaitMax = time.Second
	hc.Logger = leveledLogger{l: logger.Sugar()}
	hc.CheckRetry = retryPolicy
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		self:         self,
		peer:         peer,
		pollInterval: defaultPollInterval,
		http:         hc,
	}
}

// retryPolicy retries like retryablehttp's default except on a full
// mailbox, which only the recipient can drain.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// WithPollInterval sets how often Receive polls an empty mailbox.
func (c *Client) WithPollInterval(d time.Duration) *Client {
	c.pollInterval = d
	return c
}

func (c *Client) mailbox(addr common.Address) string {
	return fmt.Sprintf("%s/v1/mailbox/%s", c.baseURL, addr.Hex())
}

func errorFromResponse(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		return fmt.Errorf("relay: unexpected status %s", resp.Status)
	}
	return fmt.Errorf("relay: %s: %s", resp.Status, body.Error)
}

// Send posts payload to the counterparty's mailbox.
func (c *Client) Send(ctx context.Context, payload []byte) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.mailbox(c.peer), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return errorFromResponse(resp)
	}
	return nil
}

// TryReceive pops the oldest payload from our mailbox, or returns ErrEmpty.
func (c *Client) TryReceive(ctx context.Context) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.mailbox(c.self), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(resp.Body)
	case http.StatusNotFound:
		return nil, ErrEmpty
	default:
		return nil, errorFromResponse(resp)
	}
}

// Receive polls our mailbox until a payload arrives or ctx is done.
func (c *Client) Receive(ctx context.Context) ([]byte, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		payload, err := c.TryReceive(ctx)
		if !errors.Is(err, ErrEmpty) {
			return payload, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
