package dart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"

	"marketdata/internal/provider"
)

const maxResponseBytes = 8 << 20

// ErrInvalidRequest covers OpenDART status 100/101: a field the caller got wrong.
var ErrInvalidRequest = errors.New("dart: invalid request")

// envelope is the status header every OpenDART JSON response carries.
type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// statusError maps an OpenDART status code to a provider error.
// https://opendart.fss.or.kr/guide/detail.do?apiGrpCd=DS001&apiId=2019001
func statusError(status, message string) error {
	switch status {
	case "000":
		return nil
	case "013":
		return fmt.Errorf("%w: %s", provider.ErrNotFound, message)
	case "020":
		return fmt.Errorf("%w: %s", provider.ErrRateLimited, message)
	case "100", "101":
		return fmt.Errorf("%w: %s", ErrInvalidRequest, message)
	case "010", "011", "012", "800", "900", "901":
		return fmt.Errorf("%w: status %s: %s", provider.ErrProviderUnavailable, status, message)
	}
	return fmt.Errorf("%w: unexpected status %q: %s", provider.ErrProviderUnavailable, status, message)
}

// fetch returns the body of a successful call, served from the response
// cache when possible. Concurrent identical calls share one request.
func (c *DartAPIClient) fetch(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	key := endpoint + "?" + params.Encode()
	if c.responses != nil {
		if b, ok := c.responses.Get(key); ok {
			return b, nil
		}
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		b, err := c.do(ctx, endpoint, params)
		if err != nil {
			return nil, err
		}
		if c.responses != nil {
			c.responses.Set(key, b, 0)
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *DartAPIClient) do(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	query := maps.Clone(c.query)
	for k, values := range params {
		for _, v := range values {
			query.Add(k, v)
		}
	}

	url := fmt.Sprintf("%s/%s.json?%s", c.baseURL, endpoint, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.header.Clone()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, provider.FromContext(err)
		}
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, provider.FromContext(ctx.Err())
		}
		return nil, fmt.Errorf("%w: performing request: %w", provider.ErrProviderUnavailable, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusOK:
		break

	case res.StatusCode == http.StatusTooManyRequests:
		return nil, provider.ErrRateLimited

	case res.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: status code %d", provider.ErrProviderUnavailable, res.StatusCode)

	default:
		return nil, fmt.Errorf("%w: unexpected status code: %d", provider.ErrProviderUnavailable, res.StatusCode)
	}

	b, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, provider.FromContext(ctx.Err())
		}
		return nil, fmt.Errorf("%w: reading response: %w", provider.ErrProviderUnavailable, err)
	}

	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: decoding %s response: %w", provider.ErrUpstreamMalformed, endpoint, err)
	}
	if err := statusError(env.Status, env.Message); err != nil {
		return nil, err
	}
	return b, nil
}

func decode[T any](endpoint string, b []byte) (*T, error) {
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: decoding %s response: %w", provider.ErrUpstreamMalformed, endpoint, err)
	}
	return &out, nil
}
