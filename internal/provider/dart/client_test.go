package dart_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"marketdata/internal/provider/dart"
)

func jsonResponse(t *testing.T, status int, v any) *http.Response {
	t.Helper()

	buffer := &bytes.Buffer{}
	require.NoError(t, json.NewEncoder(buffer).Encode(v))
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(buffer),
	}
}

var okCompany = map[string]any{"status": "000", "message": "정상", "corp_code": "00126380", "corp_name": "삼성전자(주)"}

func TestNewDartAPIClient(t *testing.T) {
	t.Parallel()

	// Assert: a valid key should return a client.
	client, err := dart.NewDartAPIClient("test")
	require.NoErrorf(t, err, "unexpected error: %v", err)
	require.NotNilf(t, client, "unexpected nil client")

	// Assert: empty and placeholder keys are rejected.
	for _, key := range []string{"", "  ", "your-dart-api-key"} {
		_, err := dart.NewDartAPIClient(key)
		require.ErrorIs(t, err, dart.ErrMissingAPIKey, "key %q", key)
	}
}

func TestWithHTTPClient(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)

	// Arrange: create a mock http client
	httpClient := NewMockHTTPClient(ctrl)

	// Assert: stub the Do method and check the key travels as a query parameter
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "test", req.URL.Query().Get("crtfc_key"))
			return jsonResponse(t, http.StatusOK, okCompany), nil
		}).
		Times(1)

	// Arrange: create a new client with a custom HTTP client.
	client, err := dart.NewDartAPIClient("test", dart.WithHTTPClient(httpClient))
	require.NoError(t, err)

	// Act
	_, err = client.Company(t.Context(), "00126380")
	require.NoError(t, err)
}

func TestWithBaseURL(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)

	// Arrange: create a mock http client
	httpClient := NewMockHTTPClient(ctrl)

	// Arrange: define a base url
	baseURL := "http://localhost:8080/api"

	// Assert: stub the Do method
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Truef(t, strings.HasPrefix(req.URL.String(), baseURL+"/company.json?"), "expected url to start with base url, received: %s", req.URL.String())
			return jsonResponse(t, http.StatusOK, okCompany), nil
		}).
		Times(1)

	// Arrange: a trailing slash is tolerated.
	client, err := dart.NewDartAPIClient("test", dart.WithHTTPClient(httpClient), dart.WithBaseURL(baseURL+"/"))
	require.NoError(t, err)

	// Act
	_, err = client.Company(t.Context(), "00126380")
	require.NoError(t, err)
}

func TestWithHeader(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)

	// Arrange: create a mock http client
	httpClient := NewMockHTTPClient(ctrl)

	// Assert: stub the Do method
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "bar", req.Header.Get("foo"))
			return jsonResponse(t, http.StatusOK, okCompany), nil
		}).
		Times(1)

	// Arrange: create a new client with a custom header.
	client, err := dart.NewDartAPIClient("test", dart.WithHTTPClient(httpClient), dart.WithHeader(http.Header{
		"foo": []string{"bar"},
	}))
	require.NoError(t, err)

	// Act
	_, err = client.Company(t.Context(), "00126380")
	require.NoError(t, err)
}

func TestDocumentViewerURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://dart.fss.or.kr/dsaf001/main.do?rcpNo=20250314000123", dart.DocumentViewerURL("20250314000123"))
}
