// Package httpengine implements fetchengine.Engine over net/http, grounded
// on internal/fetcher/http.go and internal/fetcher/proxy.go: redirect
// following, gzip/deflate/brotli decompression, user-agent rotation, and
// round-robin/random proxy rotation, wrapped around a goquery parse that
// extracts the title and re-serializes the document as HTML content so
// callers get a usable FetchResponse without needing their own HTML plumbing.
package httpengine

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/brotli"

	"github.com/archenemy/crawlforge/internal/fetchengine"
)

// Config configures a reference HTTP Engine instance.
type Config struct {
	UserAgents      []string
	MaxBodySize     int64
	RequestTimeout  time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
	TLSInsecure     bool
	FollowRedirects bool
	MaxRedirects    int

	ProxyURLs     []string
	ProxyRotation string // "round_robin" (default) or "random"
}

func (c Config) withDefaults() Config {
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = 10 << 20
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 100
	}
	if c.IdleConnTimeout <= 0 {
		c.IdleConnTimeout = 90 * time.Second
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = 10
	}
	if len(c.UserAgents) == 0 {
		c.UserAgents = []string{"crawlforge/1.0"}
	}
	return c
}

// Engine is the net/http-backed reference fetchengine.Engine.
type Engine struct {
	client     *http.Client
	cfg        Config
	proxyMgr   *proxyManager
	logger     *slog.Logger
	uaIndex    atomic.Int64
}

var _ fetchengine.Engine = (*Engine)(nil)

// New constructs an Engine; use as an enginepool.Factory closure.
func New(cfg Config, logger *slog.Logger) (*Engine, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("httpengine: create cookie jar: %w", err)
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns / 2,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: cfg.TLSInsecure},
		DisableCompression:  true, // decompression handled manually below (incl. brotli)
	}

	var pm *proxyManager
	if len(cfg.ProxyURLs) > 0 {
		pm = newProxyManager(cfg.ProxyURLs, cfg.ProxyRotation, logger)
		transport.Proxy = pm.proxyFunc()
	}

	redirectPolicy := func(req *http.Request, via []*http.Request) error {
		if !cfg.FollowRedirects {
			return http.ErrUseLastResponse
		}
		if len(via) >= cfg.MaxRedirects {
			return fmt.Errorf("max redirects (%d) reached", cfg.MaxRedirects)
		}
		return nil
	}

	client := &http.Client{
		Transport:     transport,
		Jar:           jar,
		Timeout:       cfg.RequestTimeout,
		CheckRedirect: redirectPolicy,
	}

	return &Engine{
		client:   client,
		cfg:      cfg,
		proxyMgr: pm,
		logger:   logger.With("component", "httpengine"),
	}, nil
}

// Fetch performs one GET request and produces a FetchResponse, extracting the
// title with goquery and returning the parsed document re-serialized as HTML
// in Content. opts.Parser/Plugins are
// consumed by higher-level contentparser.ContentParser handlers, not here;
// this Engine only guarantees title/content are populated.
func (e *Engine) Fetch(ctx context.Context, url string, opts fetchengine.FetchOptions) (fetchengine.FetchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fetchengine.FetchResponse{Success: false, Error: err.Error(), ErrorCode: fetchengine.ErrorUnexpected}, nil
	}

	req.Header.Set("User-Agent", e.nextUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	req.Header.Set("Connection", "keep-alive")

	start := time.Now()
	resp, err := e.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		if isContextErr(err) {
			return fetchengine.FetchResponse{}, err
		}
		return fetchengine.FetchResponse{
			Success:   false,
			Error:     err.Error(),
			ErrorCode: networkErrorCode(err),
		}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fetchengine.FetchResponse{
			Success:   false,
			Error:     fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			ErrorCode: fetchengine.ErrorBlocked,
			Metadata:  map[string]any{"statusCode": resp.StatusCode, "retryAfter": parseRetryAfter(resp.Header.Get("Retry-After")).String()},
		}, nil
	}

	if resp.StatusCode >= 500 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fetchengine.FetchResponse{
			Success:   false,
			Error:     fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)),
			ErrorCode: fetchengine.ErrorUnexpected,
			Metadata:  map[string]any{"statusCode": resp.StatusCode},
		}, nil
	}

	var reader io.Reader = io.LimitReader(resp.Body, e.cfg.MaxBodySize)
	reader, err = decompressReader(resp, reader)
	if err != nil {
		return fetchengine.FetchResponse{Success: false, Error: err.Error(), ErrorCode: fetchengine.ErrorUnexpected}, nil
	}

	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return fetchengine.FetchResponse{Success: false, Error: err.Error(), ErrorCode: fetchengine.ErrorUnexpected}, nil
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	content, _ := doc.Html()

	e.logger.Debug("fetch complete", "url", url, "status", resp.StatusCode, "duration", duration)

	return fetchengine.FetchResponse{
		Success: true,
		Title:   title,
		Content: content,
		Metadata: map[string]any{
			"statusCode": resp.StatusCode,
			"duration":   duration.String(),
			"method":     http.MethodGet,
		},
	}, nil
}

// Cleanup releases pooled connections. Idempotent.
func (e *Engine) Cleanup() {
	e.client.CloseIdleConnections()
}

func (e *Engine) nextUserAgent() string {
	idx := e.uaIndex.Add(1) % int64(len(e.cfg.UserAgents))
	return e.cfg.UserAgents[idx]
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// networkErrorCode maps a transport-level error to the classifier's network
// bucket via its message, matching the core retry.Classify substring rules
// (timeout/econnreset/econnrefused/enotfound/"socket hang up").
func networkErrorCode(err error) fetchengine.ErrorCode {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fetchengine.ErrorUnexpected
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNRESET) || errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return fetchengine.ErrorUnexpected
		}
	}
	return fetchengine.ErrorUnexpected
}

func decompressReader(resp *http.Response, reader io.Reader) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(reader)
	case "deflate":
		return flate.NewReader(reader), nil
	case "br":
		return brotli.NewReader(reader), nil
	default:
		return reader, nil
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 5 * time.Second
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		if secs > 120 {
			secs = 120
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d < 0 {
			return time.Second
		}
		if d > 2*time.Minute {
			return 2 * time.Minute
		}
		return d
	}
	return 5 * time.Second
}
