// Package webui serves the film search site: static pages, the JSON
// search endpoint, the document proxy and a few operator endpoints.
package webui

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"

	"github.com/TheEntropyCollective/rcasearch/pkg/infrastructure/logging"
	"github.com/TheEntropyCollective/rcasearch/pkg/pdfproxy"
	"github.com/TheEntropyCollective/rcasearch/pkg/schema"
	"github.com/TheEntropyCollective/rcasearch/pkg/search"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static
var staticFS embed.FS

// SearchErrorHeader is set when a search failed and an empty list was
// returned in its place.
const SearchErrorHeader = "X-Search-Error"

var (
	errCatalogUnavailable  = errors.New("film catalog unavailable")
	errNoDatabase          = errors.New("no database configured")
	errDatabaseUnavailable = errors.New("unavailable")
)

// Searcher is the part of the search service the site needs.
type Searcher interface {
	Search(ctx context.Context, c search.Criteria) ([]search.FilmRecord, error)
	ColumnMap(ctx context.Context) (*schema.ColumnMap, error)
	Refresh(ctx context.Context) (*schema.ColumnMap, error)
}

// HealthChecker reports database health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Options configures a Server. Search and Health are nil when no
// database is configured.
type Options struct {
	Search    Searcher
	Health    HealthChecker
	Documents *pdfproxy.Proxy

	StaticDir string
	CVPath    string
	RateLimit float64
	RateBurst int
	// TrustedProxies lists proxy addresses or networks whose
	// X-Forwarded-For header identifies the client.
	TrustedProxies []string

	Logger *logging.Logger
}

// APIResponse is the envelope of the operator endpoints
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse is the body of /healthz
type HealthResponse struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	Documents string `json:"documents,omitempty"`
}

type pageData struct {
	Title  string
	Active string
	Year   int
}

var pages = map[string]string{
	"index":        "Recherche",
	"database":     "La base",
	"presentation": "Présentation",
	"about":        "À propos",
}

// Server is the HTTP front of rcasearch
type Server struct {
	opts      Options
	templates map[string]*template.Template
	limiter   *RateLimiter
	logger    *logging.Logger
}

// NewServer parses the page templates and prepares the handlers.
func NewServer(opts Options) (*Server, error) {
	s := &Server{
		opts:      opts,
		templates: make(map[string]*template.Template, len(pages)),
		logger:    logging.Component(opts.Logger, "webui"),
	}

	for name := range pages {
		tmpl, err := template.ParseFS(templatesFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		s.templates[name] = tmpl
	}

	if opts.RateLimit > 0 {
		trusted, err := ParseTrustedProxies(opts.TrustedProxies)
		if err != nil {
			return nil, err
		}
		s.limiter = NewRateLimiter(opts.RateLimit, opts.RateBurst, trusted)
	}

	return s, nil
}

// Close releases background resources.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Close()
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.logRequests)

	router.PathPrefix("/static/").Handler(
		http.StripPrefix("/static/", http.FileServer(s.staticFiles())),
	)

	// Page routes
	router.HandleFunc("/", s.page("index")).Methods("GET")
	router.HandleFunc("/database", s.page("database")).Methods("GET")
	router.HandleFunc("/presentation", s.page("presentation")).Methods("GET")
	router.HandleFunc("/about", s.page("about")).Methods("GET")
	router.HandleFunc("/download_cv", s.handleDownloadCV).Methods("GET")

	router.Handle("/search", s.limited(http.HandlerFunc(s.handleSearch))).Methods("GET")
	router.Handle("/get_pdf", s.limited(http.HandlerFunc(s.handleDocument))).Methods("GET")
	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/columns", s.handleColumns).Methods("GET")
	api.HandleFunc("/columns/refresh", s.handleRefreshColumns).Methods("POST")

	return router
}

func (s *Server) limited(h http.Handler) http.Handler {
	if s.limiter == nil {
		return h
	}
	return s.limiter.Middleware(h)
}

func (s *Server) staticFiles() http.FileSystem {
	if s.opts.StaticDir != "" {
		return http.Dir(s.opts.StaticDir)
	}
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.FS(sub)
}

// Page handlers

func (s *Server) page(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := pageData{Title: pages[name], Active: name, Year: time.Now().Year()}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := s.templates[name].ExecuteTemplate(w, "layout", data); err != nil {
			s.requestLog(r).Error("Failed to render page", map[string]interface{}{
				"page":  name,
				"error": err.Error(),
			})
		}
	}
}

func (s *Server) handleDownloadCV(w http.ResponseWriter, r *http.Request) {
	if s.opts.CVPath == "" {
		http.Error(w, "CV introuvable", http.StatusNotFound)
		return
	}
	info, err := os.Stat(s.opts.CVPath)
	if err != nil || info.IsDir() {
		http.Error(w, "CV introuvable", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filepath.Base(s.opts.CVPath)))
	http.ServeFile(w, r, s.opts.CVPath)
}

// Search handlers

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.opts.Search == nil {
		sendJSON(w, http.StatusOK, []search.FilmRecord{})
		return
	}

	criteria := search.CriteriaFromValues(r.URL.Query())
	results, err := s.opts.Search.Search(r.Context(), criteria)
	if err == nil {
		sendJSON(w, http.StatusOK, results)
		return
	}

	if errors.Is(err, context.Canceled) {
		return
	}

	log := s.requestLog(r)
	var schemaErr *schema.SchemaError
	if errors.As(err, &schemaErr) {
		log.Error("Film catalog unavailable", map[string]interface{}{
			"error": err.Error(),
		})
		sendError(w, errCatalogUnavailable, http.StatusServiceUnavailable)
		return
	}

	log.Error("Search failed", map[string]interface{}{
		"error": err.Error(),
	})
	w.Header().Set(SearchErrorHeader, "query failed")
	sendJSON(w, http.StatusOK, []search.FilmRecord{})
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	if s.opts.Documents == nil {
		http.Error(w, "Erreur : document proxy disabled", http.StatusServiceUnavailable)
		return
	}
	s.opts.Documents.ServeHTTP(w, r)
}

// Operator handlers

func (s *Server) handleColumns(w http.ResponseWriter, r *http.Request) {
	s.serveColumns(w, r, false)
}

func (s *Server) handleRefreshColumns(w http.ResponseWriter, r *http.Request) {
	s.serveColumns(w, r, true)
}

// serveColumns answers with the current or a rebuilt ColumnMap. Catalog
// errors are logged and reported to the client without detail.
func (s *Server) serveColumns(w http.ResponseWriter, r *http.Request, refresh bool) {
	if s.opts.Search == nil {
		sendError(w, errNoDatabase, http.StatusServiceUnavailable)
		return
	}
	log := s.requestLog(r)

	load := s.opts.Search.ColumnMap
	if refresh {
		load = s.opts.Search.Refresh
	}
	columns, err := load(r.Context())
	if err != nil {
		log.Error("Column map unavailable", map[string]interface{}{
			"error": err.Error(),
		})
		sendError(w, errCatalogUnavailable, http.StatusServiceUnavailable)
		return
	}
	if refresh {
		log.WithField("unmapped", len(columns.Unmapped())).Info("Column map refreshed on request")
	}
	sendJSON(w, http.StatusOK, APIResponse{Success: true, Data: columns})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Database: "disabled"}
	status := http.StatusOK

	if s.opts.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.opts.Health.HealthCheck(ctx); err != nil {
			s.requestLog(r).Warn("Health check failed", map[string]interface{}{
				"error": err.Error(),
			})
			resp.Status = "degraded"
			resp.Database = errDatabaseUnavailable.Error()
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
		}
	}
	if s.opts.Documents != nil {
		resp.Documents = s.opts.Documents.State().String()
	}

	sendJSON(w, status, resp)
}

func sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func sendError(w http.ResponseWriter, err error, status int) {
	sendJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}
