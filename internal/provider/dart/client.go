package dart

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/sync/singleflight"
	"marketdata/internal/cache"
)

const (
	baseURL = "https://opendart.fss.or.kr/api"

	viewerURL = "https://dart.fss.or.kr/dsaf001/main.do?rcpNo="
)

// ErrMissingAPIKey is returned when no usable OpenDART key is configured.
var ErrMissingAPIKey = errors.New("dart: api key is not configured")

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=dart_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Limiter paces outgoing requests.
type Limiter interface {
	Wait(ctx context.Context) error
}

// DartAPIClient is a client for the OpenDART API.
type DartAPIClient struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient is the HTTP httpClient.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
	// query contains additional query parameters to be sent with each request.
	query url.Values
	// responses caches successful response bodies keyed by endpoint and query.
	responses *cache.Cache[[]byte]
	group     singleflight.Group
	// limiter, when set, is waited on before every upstream request.
	limiter Limiter
}

// DartAPIClientOption is a configuration option for the OpenDART API client.
type DartAPIClientOption func(*DartAPIClient)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) DartAPIClientOption {
	return func(c *DartAPIClient) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) DartAPIClientOption {
	return func(c *DartAPIClient) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) DartAPIClientOption {
	return func(c *DartAPIClient) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// WithResponseCache keeps successful responses in c until they expire.
func WithResponseCache(c *cache.Cache[[]byte]) DartAPIClientOption {
	return func(client *DartAPIClient) {
		client.responses = c
	}
}

// WithLimiter paces upstream requests. Cache hits are not paced.
func WithLimiter(l Limiter) DartAPIClientOption {
	return func(c *DartAPIClient) {
		c.limiter = l
	}
}

// NewDartAPIClient creates a new OpenDART API client. Keys left at a
// "your-..." placeholder count as missing.
func NewDartAPIClient(key string, options ...DartAPIClientOption) (*DartAPIClient, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.HasPrefix(key, "your-") {
		return nil, ErrMissingAPIKey
	}
	var dartAPIClient = &DartAPIClient{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		query:      url.Values{},
	}
	// OpenDART authenticates with a query parameter.
	// https://opendart.fss.or.kr/guide/main.do
	dartAPIClient.query.Add("crtfc_key", key)
	for _, option := range options {
		option(dartAPIClient)
	}
	return dartAPIClient, nil
}

// DocumentViewerURL links to the filing viewer for a receipt number.
func DocumentViewerURL(receiptNo string) string {
	return viewerURL + url.QueryEscape(receiptNo)
}
