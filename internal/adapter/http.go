package adapter

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"

	"github.com/wallet-analyzer/internal/errors"
)

// doGet performs a GET against an upstream source. A 429 is surfaced as
// a rate-limit error immediately so callers can stop hammering the
// source; timeouts map to source timeouts. No retries happen here.
func doGet(ctx context.Context, client *http.Client, url, source string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.NewSourceError(source, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	return do(client, req, source)
}

// doPost performs a JSON POST against an upstream source
func doPost(ctx context.Context, client *http.Client, url, source string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewSourceError(source, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	return do(client, req, source)
}

func do(client *http.Client, req *http.Request, source string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(req.Context().Err(), context.DeadlineExceeded) {
			return nil, errors.NewSourceTimeoutError(source)
		}
		return nil, errors.NewSourceError(source, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewSourceError(source, fmt.Errorf("failed to read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.NewSourceRateLimitError(source)
	case resp.StatusCode != http.StatusOK:
		return nil, errors.NewSourceError(source, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	return body, nil
}

// truncate shortens a string for log/error output
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
