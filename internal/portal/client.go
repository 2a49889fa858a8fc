// Package portal is the REST client for the campus portal backend. It
// implements the mutation contract consumed by the orchestrator and the
// inventory, request, history and session reads that feed the local view.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// DefaultCookieName is the servlet session cookie the backend issues.
const DefaultCookieName = "JSESSIONID"

// maxMessageLen bounds the backend message kept on a StatusError.
const maxMessageLen = 512

// Observer receives one call per backend round trip. route is the path
// template, status is 0 when no response arrived.
type Observer func(method, route string, status int, elapsed time.Duration)

// BreakerSettings configures the circuit breaker in front of the backend.
type BreakerSettings struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// Options configures a Client.
type Options struct {
	BaseURL       string
	SessionCookie string // cookie value, or "name=value"
	CookieName    string
	Timeout       time.Duration
	RateLimitRPS  float64
	Breaker       BreakerSettings
	Observer      Observer
	HTTPClient    *http.Client // overrides the default client; its Jar is replaced
}

// Client talks to the portal backend.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	observe    Observer
}

// NewClient creates a portal client.
func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse portal base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("portal base url %q must be absolute", opts.BaseURL)
	}

	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RateLimitRPS == 0 {
		opts.RateLimitRPS = 10.0
	}
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	if opts.SessionCookie != "" {
		jar.SetCookies(base, []*http.Cookie{sessionCookie(opts.CookieName, opts.SessionCookie)})
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	httpClient.Jar = jar
	// Unauthenticated calls are redirected to the OAuth login page; surface
	// the redirect instead of following it.
	httpClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	observe := opts.Observer
	if observe == nil {
		observe = func(string, string, int, time.Duration) {}
	}

	burst := int(opts.RateLimitRPS)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		baseURL:    base,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(opts.RateLimitRPS), burst),
		breaker:    newCircuitBreaker("portal-"+base.Host, opts.Breaker),
		observe:    observe,
	}, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// newCircuitBreaker only counts transport failures and 5xx against the
// backend. 4xx answers are business outcomes.
func newCircuitBreaker(name string, s BreakerSettings) *gobreaker.CircuitBreaker {
	if s.MaxRequests == 0 {
		s.MaxRequests = 3
	}
	if s.Interval == 0 {
		s.Interval = 10 * time.Second
	}
	if s.Timeout == 0 {
		s.Timeout = 30 * time.Second
	}
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !(IsTransport(err) || IsServer(err))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
}

func sessionCookie(defaultName, raw string) *http.Cookie {
	name, value := defaultName, raw
	if n, v, ok := strings.Cut(raw, "="); ok && n != "" {
		name, value = n, v
	}
	return &http.Cookie{Name: name, Value: value, Path: "/"}
}

// request describes one backend call. route is a path template whose
// {placeholders} are filled from args in order.
type request struct {
	method     string
	route      string
	args       []any
	query      url.Values
	out        any
	redirectOK bool
}

func (c *Client) do(ctx context.Context, r request) error {
	path := expandRoute(r.route, r.args...)

	if err := c.limiter.Wait(ctx); err != nil {
		return &TransportError{Method: r.method, Path: path, Err: err}
	}

	start := time.Now()
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, r, path)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.observe(r.method, r.route, 0, time.Since(start))
		return &TransportError{Method: r.method, Path: path, Err: err}
	}
	if err != nil {
		return err
	}

	body, _ := result.([]byte)
	if r.out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, r.out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", r.method, path, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, r request, path string) ([]byte, error) {
	target := c.baseURL.String() + path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(r.method, r.route, 0, time.Since(start))
		return nil, &TransportError{Method: r.method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	c.observe(r.method, r.route, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, &TransportError{Method: r.method, Path: path, Err: err}
	}

	log.Debug().
		Str("method", r.method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("Portal call")

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode >= 300 && resp.StatusCode < 400 && r.redirectOK:
		return nil, nil
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		// Redirect to the login page: the session is gone.
		return nil, &AuthError{&StatusError{Method: r.method, Path: path, Status: resp.StatusCode, Message: "redirected to login"}}
	}
	return nil, classify(r.method, path, resp.StatusCode, messageOf(body))
}

// messageOf extracts a human-readable message from an error body. The
// backend answers with plain text or a Spring error document.
func messageOf(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ""
	}
	var doc struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Status  any    `json:"status"`
	}
	if body[0] == '{' && json.Unmarshal(body, &doc) == nil {
		switch {
		case doc.Message != "":
			return truncate(doc.Message)
		case doc.Error != "":
			return truncate(doc.Error)
		}
	}
	return truncate(string(body))
}

// truncate cuts s to at most maxMessageLen bytes on a rune boundary.
func truncate(s string) string {
	if len(s) <= maxMessageLen {
		return s
	}
	cut := maxMessageLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// expandRoute fills {placeholders} in route with args, path-escaped.
func expandRoute(route string, args ...any) string {
	if len(args) == 0 {
		return route
	}
	var b strings.Builder
	i := 0
	for {
		open := strings.IndexByte(route, '{')
		if open < 0 || i >= len(args) {
			b.WriteString(route)
			return b.String()
		}
		end := strings.IndexByte(route[open:], '}')
		if end < 0 {
			b.WriteString(route)
			return b.String()
		}
		b.WriteString(route[:open])
		b.WriteString(url.PathEscape(fmt.Sprint(args[i])))
		route = route[open+end+1:]
		i++
	}
}
