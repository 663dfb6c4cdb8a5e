package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"github.com/vidgen/backend/internal/logging"
)

const maxRedirects = 10

// StatusError reports a non-success HTTP response from the asset host.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Client downloads binary assets over HTTP.
type Client struct {
	http *http.Client
}

// Options configures the download client.
type Options struct {
	// ProxyURL routes downloads through an http, https, socks5 or socks5h proxy.
	ProxyURL string
	// Transport overrides the underlying round tripper; mainly for tests.
	Transport http.RoundTripper
}

// NewClient builds a Client following up to ten redirects.
func NewClient(opts Options) (*Client, error) {
	transport := opts.Transport
	if transport == nil {
		t, err := newTransport(opts.ProxyURL)
		if err != nil {
			return nil, err
		}
		transport = t
	}

	return &Client{
		http: &http.Client{
			Transport:     transport,
			CheckRedirect: checkRedirect,
		},
	}, nil
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	return nil
}

func newTransport(proxyURL string) (*http.Transport, error) {
	base := http.DefaultTransport.(*http.Transport).Clone()
	proxyURL = strings.TrimSpace(proxyURL)
	if proxyURL == "" {
		return base, nil
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}

	switch parsed.Scheme {
	case "http", "https":
		base.Proxy = http.ProxyURL(parsed)
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(parsed, &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("create socks proxy dialer: %w", err)
		}
		base.Proxy = nil
		if ctxDialer, ok := dialer.(proxy.ContextDialer); ok {
			base.DialContext = ctxDialer.DialContext
		} else {
			base.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", parsed.Scheme)
	}
	return base, nil
}

// Fetch downloads the full body at rawURL. Any non-2xx response is an error.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if c == nil || c.http == nil {
		return nil, errors.New("fetch: client not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read body: %w", rawURL, err)
	}

	logging.FromContext(ctx).Debug().
		Str("url", rawURL).
		Int("bytes", len(data)).
		Str("content_type", resp.Header.Get("Content-Type")).
		Msg("asset downloaded")

	return data, nil
}
