// Package pdfproxy streams financing plan and estimate PDFs from the
// public register's document API to the browser, resolving the relative
// paths stored in the catalog.
package pdfproxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"
	"golang.org/x/net/publicsuffix"

	"github.com/TheEntropyCollective/rcasearch/pkg/infrastructure/logging"
)

// ChunkSize is the copy buffer used when streaming documents.
const ChunkSize = 8192

// DefaultFilename is served when the document id cannot be derived.
const DefaultFilename = "document.pdf"

var (
	// ErrEmptyPath is returned when no document path is given.
	ErrEmptyPath = errors.New("empty document path")

	// ErrForeignHost is returned for absolute document URLs outside the
	// document server and the allowed hosts.
	ErrForeignHost = errors.New("document host not allowed")
)

// Config configures the document proxy
type Config struct {
	BaseURL            string
	Timeout            time.Duration
	WarmupTimeout      time.Duration
	InsecureSkipVerify bool
	UserAgent          string
	Referer            string
	// SOCKSProxy routes upstream requests through a SOCKS5 proxy
	// ("host:port"); empty means direct.
	SOCKSProxy string
	// AllowedHosts may be fetched through absolute URLs besides the host
	// of BaseURL.
	AllowedHosts []string
	Breaker      BreakerConfig
}

// UpstreamError reports a non-success answer of the document server.
type UpstreamError struct {
	URL        string
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("document server answered %d for %s", e.StatusCode, e.URL)
}

// Document is an open upstream document. Body must be closed.
type Document struct {
	URL           string
	Filename      string
	ContentLength int64
	Body          io.ReadCloser
}

// Proxy fetches documents through one cookie-keeping session.
type Proxy struct {
	config  Config
	hosts   map[string]bool
	client  *http.Client
	breaker *breaker
	logger  *logging.Logger

	warmOnce sync.Once
}

// New creates a proxy. The session is warmed up lazily on first fetch.
func New(config Config, logger *logging.Logger) (*Proxy, error) {
	base, err := url.Parse(config.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid documents base URL %q", config.BaseURL)
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	hosts := map[string]bool{strings.ToLower(base.Hostname()): true}
	for _, h := range config.AllowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts[h] = true
		}
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	dialer := &net.Dialer{Timeout: config.Timeout}
	transport := &http.Transport{
		Proxy:       http.ProxyFromEnvironment,
		DialContext: dialer.DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.InsecureSkipVerify,
		},
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: config.Timeout,
	}

	if config.SOCKSProxy != "" {
		socks, err := proxy.SOCKS5("tcp", config.SOCKSProxy, nil, dialer)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		contextDialer, ok := socks.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("SOCKS5 dialer does not support contexts")
		}
		transport.Proxy = nil
		transport.DialContext = contextDialer.DialContext
	}

	logger = logging.Component(logger, "pdfproxy")
	if config.InsecureSkipVerify {
		logger.Warn("TLS verification of the document server is disabled")
	}

	b := newBreaker(config.Breaker)
	b.onChange = func(from, to BreakerState) {
		logger.Warn("Document server circuit changed state", map[string]interface{}{
			"from": from.String(),
			"to":   to.String(),
		})
	}

	return &Proxy{
		config:  config,
		hosts:   hosts,
		client:  &http.Client{Transport: transport, Jar: jar},
		breaker: b,
		logger:  logger,
	}, nil
}

// State returns the state of the upstream circuit breaker.
func (p *Proxy) State() BreakerState {
	return p.breaker.State()
}

var (
	idDocumentPattern = regexp.MustCompile(`idDocument=([a-fA-F0-9\-]+)`)
)

// Resolve turns a stored document path into the upstream URL. Absolute
// URLs are kept; other paths are joined to the base URL. Front-office
// links are then rewritten to their API form. The result must be an
// http(s) URL on the document server or an allowed host.
func (p *Proxy) Resolve(path string) (string, error) {
	target, err := ResolveURL(p.config.BaseURL, path)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid document URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || !p.hosts[strings.ToLower(u.Hostname())] {
		return "", fmt.Errorf("%w: %s", ErrForeignHost, u.Host)
	}
	return target, nil
}

// ResolveURL is Resolve against an explicit base URL.
func ResolveURL(baseURL, path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", ErrEmptyPath
	}
	if unescaped, err := url.PathUnescape(path); err == nil {
		path = unescaped
	}

	var target string
	if strings.HasPrefix(path, "http") {
		target = path
	} else {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		target = strings.TrimRight(baseURL, "/") + path
	}

	return rewriteAPI(target), nil
}

// rewriteAPI maps front-office document links onto the document API.
func rewriteAPI(target string) string {
	if strings.Contains(target, "/documentActe/") && !strings.Contains(target, "/api/") {
		target = strings.Replace(target, "/rca.frontoffice", "", 1)
		target = strings.Replace(target, "/documentActe/", "/rca.frontoffice/api/documentActe/", 1)
	}
	if !strings.Contains(target, "api") && strings.Contains(target, "rca.frontoffice") {
		target = strings.Replace(target, "/rca.frontoffice/", "/rca.frontoffice/api/", 1)
	}
	return target
}

// Filename derives the download name from the document id in target.
func Filename(target string) string {
	m := idDocumentPattern.FindStringSubmatch(target)
	if m == nil {
		return DefaultFilename
	}
	id := m[1]
	if len(id) > 8 {
		id = id[:8]
	}
	return "RCA_" + id + ".pdf"
}

// warmUp visits the base URL once so the server sets its session cookies.
// Failures are ignored.
func (p *Proxy) warmUp(ctx context.Context) {
	p.warmOnce.Do(func() {
		if p.config.WarmupTimeout <= 0 {
			return
		}
		ctx, cancel := context.WithTimeout(ctx, p.config.WarmupTimeout)
		defer cancel()

		req, err := p.newRequest(ctx, p.config.BaseURL)
		if err != nil {
			return
		}
		resp, err := p.client.Do(req)
		if err != nil {
			p.logger.Debug("Session warm-up failed", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
	})
}

func (p *Proxy) newRequest(ctx context.Context, target string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if p.config.UserAgent != "" {
		req.Header.Set("User-Agent", p.config.UserAgent)
	}
	if p.config.Referer != "" {
		req.Header.Set("Referer", p.config.Referer)
	}
	return req, nil
}

// Fetch opens the document stored at path.
func (p *Proxy) Fetch(ctx context.Context, path string) (*Document, error) {
	target, err := p.Resolve(path)
	if err != nil {
		return nil, err
	}

	req, err := p.newRequest(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("invalid document URL: %w", err)
	}

	if !p.breaker.allow() {
		return nil, ErrCircuitOpen
	}

	p.warmUp(ctx)

	p.logger.Info("Fetching document", map[string]interface{}{
		"url": target,
	})

	resp, err := p.client.Do(req)
	if err != nil {
		// a client that went away says nothing about the server
		if ctx.Err() == nil {
			p.breaker.record(false)
		} else {
			p.breaker.release()
		}
		return nil, fmt.Errorf("failed to fetch document: %w", err)
	}
	p.breaker.record(resp.StatusCode < 500)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		resp.Body.Close()
		return nil, &UpstreamError{URL: target, StatusCode: resp.StatusCode}
	}

	return &Document{
		URL:           target,
		Filename:      Filename(target),
		ContentLength: resp.ContentLength,
		Body:          resp.Body,
	}, nil
}

// ServeHTTP serves GET ?path=<document path> as an inline PDF.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if strings.TrimSpace(path) == "" {
		http.Error(w, "Erreur chemin", http.StatusBadRequest)
		return
	}

	doc, err := p.Fetch(r.Context(), path)
	if err != nil {
		p.logger.WithField("path", path).Error("Document download failed", map[string]interface{}{
			"error": err.Error(),
		})
		status := http.StatusInternalServerError
		var upstream *UpstreamError
		switch {
		case errors.Is(err, ErrForeignHost):
			status = http.StatusBadRequest
		case errors.Is(err, ErrCircuitOpen):
			status = http.StatusServiceUnavailable
		case errors.As(err, &upstream):
			status = http.StatusBadGateway
		}
		http.Error(w, "Erreur : "+err.Error(), status)
		return
	}
	defer doc.Body.Close()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, doc.Filename))
	w.WriteHeader(http.StatusOK)

	buf := make([]byte, ChunkSize)
	if _, err := io.CopyBuffer(w, doc.Body, buf); err != nil {
		p.logger.Warn("Document stream interrupted", map[string]interface{}{
			"url":   doc.URL,
			"error": err.Error(),
		})
	}
}
