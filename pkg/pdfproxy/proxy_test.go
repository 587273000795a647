package pdfproxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheEntropyCollective/rcasearch/pkg/infrastructure/logging"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(&logging.Config{Level: logging.ErrorLevel, Output: io.Discard})
}

func TestResolveURL(t *testing.T) {
	const base = "https://rca.cnc.fr"

	tests := []struct {
		name string
		path string
		want string
	}{
		{
			name: "front office act link",
			path: "/rca.frontoffice/documentActe/consulter?idDocument=3f2a9c1e-77b0",
			want: "https://rca.cnc.fr/rca.frontoffice/api/documentActe/consulter?idDocument=3f2a9c1e-77b0",
		},
		{
			name: "act link without prefix",
			path: "documentActe/consulter?idDocument=abc",
			want: "https://rca.cnc.fr/rca.frontoffice/api/documentActe/consulter?idDocument=abc",
		},
		{
			name: "front office non act link",
			path: "/rca.frontoffice/plan/x.pdf",
			want: "https://rca.cnc.fr/rca.frontoffice/api/plan/x.pdf",
		},
		{
			name: "already api",
			path: "/rca.frontoffice/api/documentActe/x",
			want: "https://rca.cnc.fr/rca.frontoffice/api/documentActe/x",
		},
		{
			name: "escaped path",
			path: "%2Frca.frontoffice%2Fapi%2FdocumentActe%2Fx",
			want: "https://rca.cnc.fr/rca.frontoffice/api/documentActe/x",
		},
		{
			name: "absolute url kept",
			path: "https://example.org/files/doc.pdf",
			want: "https://example.org/files/doc.pdf",
		},
		{
			name: "other relative path",
			path: "other/doc.pdf",
			want: "https://rca.cnc.fr/other/doc.pdf",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveURL(base+"/", tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ResolveURL(base, "  ")
	assert.ErrorIs(t, err, ErrEmptyPath)
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "RCA_3f2a9c1e.pdf", Filename("https://x/api?idDocument=3f2a9c1e-77b0-4c1d"))
	assert.Equal(t, "RCA_abc.pdf", Filename("https://x/api?idDocument=abc"))
	assert.Equal(t, DefaultFilename, Filename("https://x/plan.pdf"))
}

func TestNewRejectsRelativeBase(t *testing.T) {
	_, err := New(Config{BaseURL: "rca.cnc.fr"}, testLogger())
	assert.Error(t, err)
}

type upstream struct {
	server  *httptest.Server
	warmups atomic.Int32
	fetches atomic.Int32
	headers atomic.Value
}

func newUpstream(t *testing.T, status int) *upstream {
	t.Helper()
	u := &upstream{}
	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			u.warmups.Add(1)
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "warm", Path: "/"})
			return
		}
		u.fetches.Add(1)
		u.headers.Store(r.Header.Clone())
		if status != http.StatusOK {
			http.Error(w, "nope", status)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		io.WriteString(w, "%PDF-1.4 "+r.URL.Path)
	}))
	t.Cleanup(u.server.Close)
	return u
}

func (u *upstream) lastHeaders() http.Header {
	h, _ := u.headers.Load().(http.Header)
	return h
}

func newTestProxy(t *testing.T, baseURL string, breaker BreakerConfig) *Proxy {
	t.Helper()
	p, err := New(Config{
		BaseURL:       baseURL,
		Timeout:       5 * time.Second,
		WarmupTimeout: time.Second,
		UserAgent:     "rcasearch-test",
		Referer:       "https://rca.cnc.fr/recherche/simple",
		Breaker:       breaker,
	}, testLogger())
	require.NoError(t, err)
	return p
}

func get(p *Proxy, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/get_pdf?path="+url.QueryEscape(path), nil)
	p.ServeHTTP(rec, req)
	return rec
}

func TestServeStreamsDocument(t *testing.T) {
	up := newUpstream(t, http.StatusOK)
	p := newTestProxy(t, up.server.URL, BreakerConfig{})

	rec := get(p, "/rca.frontoffice/documentActe/get?idDocument=0123456789ab")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, `inline; filename="RCA_01234567.pdf"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "%PDF-1.4 /rca.frontoffice/api/documentActe/get", rec.Body.String())

	headers := up.lastHeaders()
	require.NotNil(t, headers)
	assert.Equal(t, "rcasearch-test", headers.Get("User-Agent"))
	assert.Equal(t, "https://rca.cnc.fr/recherche/simple", headers.Get("Referer"))
	assert.Contains(t, headers.Get("Cookie"), "session=warm")
}

func TestWarmUpRunsOnce(t *testing.T) {
	up := newUpstream(t, http.StatusOK)
	p := newTestProxy(t, up.server.URL, BreakerConfig{})

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, get(p, "/files/plan.pdf").Code)
	}
	assert.Equal(t, int32(1), up.warmups.Load())
	assert.Equal(t, int32(3), up.fetches.Load())
}

func TestServeMissingPath(t *testing.T) {
	p := newTestProxy(t, "https://rca.cnc.fr", BreakerConfig{})

	rec := get(p, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Erreur chemin")
}

func TestServeUpstreamStatus(t *testing.T) {
	up := newUpstream(t, http.StatusNotFound)
	p := newTestProxy(t, up.server.URL, BreakerConfig{})

	rec := get(p, "/files/missing.pdf")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Erreur : "))
}

func TestServeUnreachableUpstream(t *testing.T) {
	up := newUpstream(t, http.StatusOK)
	base := up.server.URL
	up.server.Close()

	p := newTestProxy(t, base, BreakerConfig{})
	rec := get(p, "/files/plan.pdf")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Erreur : "))
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	up := newUpstream(t, http.StatusServiceUnavailable)
	p := newTestProxy(t, up.server.URL, BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Hour})

	assert.Equal(t, http.StatusBadGateway, get(p, "/a.pdf").Code)
	assert.Equal(t, http.StatusBadGateway, get(p, "/b.pdf").Code)
	assert.Equal(t, StateOpen, p.State())

	rec := get(p, "/c.pdf")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, int32(2), up.fetches.Load(), "open circuit must not reach the server")
}

func TestBreakerIgnoresMissingDocuments(t *testing.T) {
	up := newUpstream(t, http.StatusNotFound)
	p := newTestProxy(t, up.server.URL, BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour})

	get(p, "/a.pdf")
	get(p, "/b.pdf")
	assert.Equal(t, StateClosed, p.State())
	assert.Equal(t, int32(2), up.fetches.Load())
}

func TestBreakerRecovery(t *testing.T) {
	b := newBreaker(BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute})
	now := time.Now()
	b.now = func() time.Time { return now }

	var transitions []string
	b.onChange = func(from, to BreakerState) {
		transitions = append(transitions, from.String()+">"+to.String())
	}

	require.True(t, b.allow())
	b.record(false)
	assert.Equal(t, StateClosed, b.State())
	b.record(false)
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.allow())

	now = now.Add(2 * time.Minute)
	require.True(t, b.allow(), "probe after recovery timeout")
	assert.Equal(t, StateHalfOpen, b.State())
	assert.False(t, b.allow(), "only one probe at a time")

	b.record(false)
	assert.Equal(t, StateOpen, b.State(), "failed probe reopens")

	now = now.Add(2 * time.Minute)
	require.True(t, b.allow())
	b.record(true)
	assert.Equal(t, StateClosed, b.State())

	assert.Equal(t, []string{
		"Closed>Open", "Open>HalfOpen", "HalfOpen>Open", "Open>HalfOpen", "HalfOpen>Closed",
	}, transitions)
}

func TestBreakerRecoversAfterAbandonedProbe(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusInternalServerError)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	p := newTestProxy(t, server.URL, BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	now := time.Now()
	p.breaker.now = func() time.Time { return now }

	_, err := p.Fetch(context.Background(), "/a.pdf")
	require.Error(t, err)
	require.Equal(t, StateOpen, p.State())

	now = now.Add(2 * time.Minute)
	status.Store(http.StatusOK)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Fetch(ctx, "/a.pdf")
	require.ErrorIs(t, err, context.Canceled)

	for i := 0; i < 3; i++ {
		doc, err := p.Fetch(context.Background(), "/a.pdf")
		require.NoError(t, err, "fetch %d", i)
		doc.Body.Close()
	}
	assert.Equal(t, StateClosed, p.State())
}

func TestBreakerRelease(t *testing.T) {
	b := newBreaker(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	now := time.Now()
	b.now = func() time.Time { return now }

	b.record(false)
	now = now.Add(2 * time.Minute)
	require.True(t, b.allow())
	require.False(t, b.allow())

	b.release()
	assert.Equal(t, StateHalfOpen, b.State())
	assert.True(t, b.allow(), "a released probe can be taken again")

	b.release()
	b.record(false)
	b.release()
	assert.Equal(t, StateOpen, b.State(), "release never closes an open circuit")
	assert.False(t, b.allow())
}

func TestResolveRejectsForeignHosts(t *testing.T) {
	p, err := New(Config{
		BaseURL:      "https://rca.cnc.fr",
		AllowedHosts: []string{"Docs.CNC.fr"},
	}, testLogger())
	require.NoError(t, err)

	tests := []struct {
		path    string
		allowed bool
	}{
		{"/rca.frontoffice/documentActe/x?idDocument=ab", true},
		{"https://rca.cnc.fr/files/doc.pdf", true},
		{"https://docs.cnc.fr/files/doc.pdf", true},
		{"https://example.org/files/doc.pdf", false},
		{"http://169.254.169.254/latest/meta-data", false},
		{"https://rca.cnc.fr.example.org/doc.pdf", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, err := p.Resolve(tt.path)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrForeignHost)
			}
		})
	}

	rec := get(p, "https://example.org/files/doc.pdf")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBreakerDisabled(t *testing.T) {
	b := newBreaker(BreakerConfig{})
	for i := 0; i < 10; i++ {
		b.record(false)
	}
	assert.True(t, b.allow())
	assert.Equal(t, StateClosed, b.State())
}
