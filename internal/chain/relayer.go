// SPDX-License-Identifier: Apache-2.0

package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adiadia/vault-flow/internal/domain"
	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultPollInterval = 2 * time.Second
	defaultRetryWait    = 200 * time.Millisecond
)

type RelayerConfig struct {
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	PollInterval time.Duration
	Logger       *slog.Logger

	// ConsecutiveFailures trips the breaker; zero means 5.
	ConsecutiveFailures uint32

	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

// RelayerClient talks to a transaction relayer over HTTP. The relayer owns the
// signing key and the RPC connections; this client only describes calls.
type RelayerClient struct {
	http         *resty.Client
	breaker      *gobreaker.CircuitBreaker
	pollInterval time.Duration
	logger       *slog.Logger
}

var _ Client = (*RelayerClient)(nil)

type retryableKey struct{}

// retryable marks a request as safe to resend. Transaction submission is
// never marked: a timed out write may already be broadcast.
func retryable(ctx context.Context) context.Context {
	return context.WithValue(ctx, retryableKey{}, true)
}

func isRetryable(ctx context.Context) bool {
	ok, _ := ctx.Value(retryableKey{}).(bool)
	return ok
}

type writeResponse struct {
	TxHash string `json:"tx_hash"`
}

type simulateResponse struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type readResponse struct {
	Result json.RawMessage `json:"result"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// relayerError is a 4xx answer from the relayer. It does not count against
// the breaker.
type relayerError struct {
	status  int
	message string
}

func (e *relayerError) Error() string {
	if e.message == "" {
		return fmt.Sprintf("relayer rejected request: status %d", e.status)
	}
	return e.message
}

func NewRelayerClient(cfg RelayerConfig) (*RelayerClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("relayer base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	trip := cfg.ConsecutiveFailures
	if trip == 0 {
		trip = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(defaultRetryWait).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil || r.Request == nil || !isRetryable(r.Request.Context()) {
				return false
			}
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "relayer",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
		IsSuccessful: func(err error) bool {
			var rejected *relayerError
			return err == nil || errors.As(err, &rejected)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("relayer circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &RelayerClient{
		http:         client,
		breaker:      breaker,
		pollInterval: poll,
		logger:       logger,
	}, nil
}

func (c *RelayerClient) Write(ctx context.Context, call domain.ContractCall) (string, error) {
	var out writeResponse
	if err := c.post(ctx, "/v1/transactions", call, &out); err != nil {
		return "", err
	}
	if out.TxHash == "" {
		return "", errors.New("relayer returned empty transaction hash")
	}
	c.logger.Info("transaction submitted",
		"chain_id", call.ChainID,
		"contract", call.ContractAddress,
		"function", call.FunctionName,
		"tx_hash", out.TxHash,
	)
	return out.TxHash, nil
}

// Simulate dry-runs the call. A revert is returned as an error carrying the
// relayer's reason.
func (c *RelayerClient) Simulate(ctx context.Context, call domain.ContractCall) (json.RawMessage, error) {
	var out simulateResponse
	if err := c.post(retryable(ctx), "/v1/simulations", call, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "simulation reverted"
		}
		return out.Result, errors.New(msg)
	}
	return out.Result, nil
}

func (c *RelayerClient) Read(ctx context.Context, call domain.ContractCall) (json.RawMessage, error) {
	var out readResponse
	if err := c.post(retryable(ctx), "/v1/reads", call, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

// WaitForReceipt polls until the relayer reports the transaction mined or ctx
// ends. A reverted receipt is returned together with ErrReceiptReverted.
func (c *RelayerClient) WaitForReceipt(ctx context.Context, chainID int64, txHash string) (domain.Receipt, error) {
	path := "/v1/chains/" + strconv.FormatInt(chainID, 10) + "/receipts/" + txHash

	for {
		receipt, found, err := c.fetchReceipt(ctx, path)
		if err != nil {
			return domain.Receipt{}, err
		}
		if found {
			if !receipt.Succeeded() {
				return receipt, fmt.Errorf("%w: %s", ErrReceiptReverted, txHash)
			}
			return receipt, nil
		}

		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.Receipt{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *RelayerClient) fetchReceipt(ctx context.Context, path string) (domain.Receipt, bool, error) {
	var receipt domain.Receipt
	found := false

	_, err := c.breaker.Execute(func() (interface{}, error) {
		var apiErr errorResponse
		resp, err := c.http.R().
			SetContext(retryable(ctx)).
			SetResult(&receipt).
			SetError(&apiErr).
			Get(path)
		if err != nil {
			return nil, err
		}
		switch {
		case resp.StatusCode() == http.StatusNotFound:
			return nil, nil
		case resp.IsError():
			return nil, responseError(resp, apiErr)
		}
		found = true
		return nil, nil
	})
	if err != nil {
		return domain.Receipt{}, false, c.wrap(err)
	}
	return receipt, found, nil
}

func (c *RelayerClient) post(ctx context.Context, path string, body any, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		var apiErr errorResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(out).
			SetError(&apiErr).
			Post(path)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, responseError(resp, apiErr)
		}
		return nil, nil
	})
	return c.wrap(err)
}

func (c *RelayerClient) wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrRelayerUnavailable, err)
	}
	return err
}

func responseError(resp *resty.Response, apiErr errorResponse) error {
	if resp.StatusCode() < http.StatusInternalServerError {
		return &relayerError{status: resp.StatusCode(), message: apiErr.Error}
	}
	if apiErr.Error != "" {
		return fmt.Errorf("relayer error (status %d): %s", resp.StatusCode(), apiErr.Error)
	}
	return fmt.Errorf("relayer error: status %d", resp.StatusCode())
}
