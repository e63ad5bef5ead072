package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// RemoteConfig holds configuration for an HTTP task executor.
type RemoteConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// RemoteExecutor invokes an external processing service over HTTP. The
// payload is POSTed as JSON and the response body becomes the stage output.
type RemoteExecutor struct {
	client   *resty.Client
	endpoint string
}

// NewRemoteExecutor creates an HTTP executor for one service endpoint.
func NewRemoteExecutor(cfg *RemoteConfig) *RemoteExecutor {
	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	client.SetTimeout(timeout)

	return &RemoteExecutor{
		client:   client,
		endpoint: cfg.Endpoint,
	}
}

type remoteErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Invoke POSTs the input payload and decodes the JSON response.
// Transport failures and 5xx responses come back retryable; 4xx responses are
// permanent since replaying the same payload cannot succeed.
func (e *RemoteExecutor) Invoke(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	var output map[string]interface{}
	var errBody remoteErrorBody

	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(input).
		SetResult(&output).
		SetError(&errBody).
		Post(e.endpoint)

	if err != nil {
		return nil, NewError("TRANSPORT", "executor request failed", err.Error())
	}

	status := resp.StatusCode()
	switch {
	case status >= 500:
		return nil, NewError(
			fmt.Sprintf("HTTP_%d", status),
			"executor returned server error",
			errorDetail(&errBody, resp.String()),
		)
	case status >= 400:
		return nil, NewPermanentError(
			fmt.Sprintf("HTTP_%d", status),
			"executor rejected request",
			errorDetail(&errBody, resp.String()),
		)
	}

	if output == nil {
		return nil, NewError("EMPTY_RESPONSE", "executor returned no payload", "")
	}
	return output, nil
}

func errorDetail(body *remoteErrorBody, raw string) string {
	if body.Error.Message != "" {
		return body.Error.Message
	}
	if len(raw) > 512 {
		raw = raw[:512]
	}
	return raw
}
