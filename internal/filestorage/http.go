package filestorage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

type HTTPConfig struct {
	// URL is the base URL keys are appended to.
	URL string
	// Token is sent as a bearer token if set.
	Token string
	// Headers are added to every request.
	Headers map[string]string
	Timeout time.Duration
	// Retries is the number of retries for failed requests; zero selects the
	// default and a negative value disables retries.
	Retries int
}

// HTTPStorage maps keys to URLs below a base URL: reads are GET, writes PUT
// and existence checks HEAD requests.
type HTTPStorage struct {
	base    string
	token   string
	headers map[string]string
	client  *retryablehttp.Client
}

func NewHTTPStorage(cfg HTTPConfig) (*HTTPStorage, error) {
	base := strings.TrimSpace(cfg.URL)
	if base == "" {
		return nil, fmt.Errorf("http storage url is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid http storage url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid http storage url %q: scheme must be http or https", base)
	}

	client := retryablehttp.NewClient()
	client.Logger = slog.Default()
	switch {
	case cfg.Retries > 0:
		client.RetryMax = cfg.Retries
	case cfg.Retries < 0:
		client.RetryMax = 0
	default:
		client.RetryMax = 3
	}
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	} else {
		client.HTTPClient.Timeout = 60 * time.Second
	}
	// Hand the last response back instead of a generic error, so callers see
	// the status code and body.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	return &HTTPStorage{
		base:    strings.TrimSuffix(base, "/"),
		token:   strings.TrimSpace(cfg.Token),
		headers: headers,
		client:  client,
	}, nil
}

// Location returns the base URL.
func (s *HTTPStorage) Location() string { return s.base }

func (s *HTTPStorage) urlFor(key string) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return url.JoinPath(s.base, strings.Split(key, "/")...)
}

func (s *HTTPStorage) newRequest(ctx context.Context, method, key string, body any) (*retryablehttp.Request, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	u, err := s.urlFor(key)
	if err != nil {
		return nil, err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	return req, nil
}

func responseError(req *retryablehttp.Request, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &HTTPError{
		Method:     req.Method,
		URL:        req.URL.Redacted(),
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}

func isSuccess(code int) bool { return code >= 200 && code < 300 }

func (s *HTTPStorage) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	req, err := s.newRequest(ctx, http.MethodGet, key, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if !isSuccess(resp.StatusCode) {
		defer resp.Body.Close()
		return nil, responseError(req, resp)
	}
	return resp.Body, nil
}

func (s *HTTPStorage) Write(ctx context.Context, key string, r io.Reader) error {
	req, err := s.newRequest(ctx, http.MethodPut, key, r)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	defer resp.Body.Close()
	if !isSuccess(resp.StatusCode) {
		return responseError(req, resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (s *HTTPStorage) Exists(ctx context.Context, key string) (bool, error) {
	req, err := s.newRequest(ctx, http.MethodHead, key, nil)
	if err != nil {
		return false, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	defer resp.Body.Close()
	switch {
	case isSuccess(resp.StatusCode):
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, responseError(req, resp)
	}
}
