// Package blockchain talks to the sawtooth validator: the REST API for
// blocks, state and batch submission, and the validator's ZMQ endpoint for
// the events of past blocks.
package blockchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"credential-registry/internal/model"

	"github.com/patrickmn/go-cache"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	blocksAPI              string = "blocks"
	batchSubmitAPI         string = "batches"
	batchStatusAPI         string = "batch_statuses"
	stateAPI               string = "state"
	contentTypeOctetStream string = "application/octet-stream"
)

type Client struct {
	logger *zap.Logger
	url    string
	http   *http.Client

	// block number -> header signature, only for blocks at least finality
	// blocks below the last head seen
	blockIDs *cache.Cache
	finality uint64
	head     atomic.Uint64
	events   blockEventFetcher
}

const defaultFinality = 3

type ClientOption func(*Client)

// WithFinality sets how far below the head a block has to be before its id
// is cached. Blocks closer to the head may still be replaced by a fork.
func WithFinality(blocks uint64) ClientOption {
	return func(c *Client) {
		c.finality = blocks
	}
}

// NewClient creates a client of the validator REST API at validatorRestAPIUrl
// and the validator component endpoint at validatorUrl (host:port).
func NewClient(logger *zap.Logger, validatorRestAPIUrl, validatorUrl string, timeout time.Duration, opts ...ClientOption) *Client {
	if !strings.HasPrefix(validatorRestAPIUrl, "http://") && !strings.HasPrefix(validatorRestAPIUrl, "https://") {
		validatorRestAPIUrl = "http://" + validatorRestAPIUrl
	}
	c := &Client{
		logger:   logger,
		url:      strings.TrimSuffix(validatorRestAPIUrl, "/"),
		http:     &http.Client{Timeout: timeout},
		blockIDs: cache.New(30*time.Minute, time.Hour),
		finality: defaultFinality,
		events:   newZmqEventFetcher(logger, validatorUrl),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Close() error {
	if closer, ok := c.events.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// statusError is a non 2xx answer of the REST API.
type statusError struct {
	code   int
	status string
}

func (e statusError) Error() string {
	return fmt.Sprintf("rest api responded with %s", e.status)
}

// classify maps transport failures and status codes onto the model errors.
// Anything that may succeed on retry wraps model.ErrLedgerUnavailable.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return err
	}

	var se statusError
	if errors.As(err, &se) {
		switch {
		case se.code == http.StatusNotFound:
			return fmt.Errorf("%w: %v", model.ErrNotFound, err)
		case se.code == http.StatusTooManyRequests || se.code >= 500:
			return fmt.Errorf("%w: %v", model.ErrLedgerUnavailable, err)
		default:
			return err
		}
	}

	// timeouts, refused connections and truncated bodies
	return fmt.Errorf("%w: %v", model.ErrLedgerUnavailable, err)
}

func (c *Client) sendRequest(ctx context.Context, apiSuffix string, data []byte, contentType string) (string, error) {
	url := fmt.Sprintf("%s/%s", c.url, apiSuffix)

	method := http.MethodGet
	var body io.Reader
	if len(data) > 0 {
		method = http.MethodPost
		body = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return "", err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	response, err := c.http.Do(req)
	if err != nil {
		return "", classify(ctx, fmt.Errorf("failed to connect to REST API: %w", err))
	}
	defer response.Body.Close()

	if response.StatusCode >= 400 {
		c.logger.Debug("rest api error", zap.String("url", url), zap.Int("status", response.StatusCode))
		return "", classify(ctx, statusError{code: response.StatusCode, status: response.Status})
	}

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return "", classify(ctx, fmt.Errorf("error reading response: %w", err))
	}
	return string(responseBody), nil
}
