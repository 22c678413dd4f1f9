// Package web serves the local HTTP API. The listener is meant for
// loopback only; requests from non-local hosts are refused outright.
package web

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/inkwell-labs/inkwell/internal/anchor"
	"github.com/inkwell-labs/inkwell/internal/apperr"
	"github.com/inkwell-labs/inkwell/internal/config"
	"github.com/inkwell-labs/inkwell/internal/publish"
	"github.com/inkwell-labs/inkwell/internal/query"
	"github.com/inkwell-labs/inkwell/internal/ratelimit"
	"github.com/inkwell-labs/inkwell/internal/workspace"
)

// sessionHeader identifies the caller for rate limiting. Absent header
// means the shared local session.
const sessionHeader = "X-Inkwell-Session"

// Server is the HTTP shell over a workspace.
type Server struct {
	ws      *workspace.Workspace
	limiter *ratelimit.Limiter
	log     *zap.Logger
	version string
}

func NewServer(ws *workspace.Workspace, cfg *config.Config, version string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		ws:      ws,
		limiter: ratelimit.New(cfg.RateLimit),
		log:     log,
		version: version,
	}
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(securityHeaders)
	r.Use(localhostOnly)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/search", s.handleSearch)
	r.Post("/api/anchors/resolve", s.handleResolveAnchor)

	r.Route("/api/notes", func(r chi.Router) {
		r.Get("/", s.handleListNotes)
		r.Post("/", s.handleCreateNote)
		r.Route("/{noteID}", func(r chi.Router) {
			r.Get("/", s.handleGetNote)
			r.Put("/", s.handleUpdateNote)
			r.Delete("/", s.handleDeleteNote)
			r.Get("/draft", s.handleGetDraft)
			r.Put("/draft", s.handleSaveDraft)
			r.Post("/publish", s.handlePublish)
			r.Post("/rollback", s.handleRollback)
			r.Get("/versions", s.handleListVersions)
		})
	})

	r.Get("/api/versions/{versionID}", s.handleGetVersion)
	r.Get("/api/visibility/{versionID}", s.handleVisibility)

	r.Route("/api/collections", func(r chi.Router) {
		r.Get("/", s.handleListCollections)
		r.Post("/", s.handleCreateCollection)
	})

	return r
}

// Serve blocks on the listener.
func (s *Server) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.log.Info("http listening", zap.String("addr", ln.Addr().String()))
	return http.Serve(ln, s.Handler())
}

// --- Middleware ---

func localhostOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if idx := strings.LastIndex(host, ":"); idx >= 0 {
			host = host[:idx]
		}
		host = strings.Trim(host, "[]")

		if host == "localhost" {
			next.ServeHTTP(w, r)
			return
		}
		if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
			next.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Forbidden", http.StatusForbidden)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		next.ServeHTTP(w, r)
	})
}

// allow applies the per-session rate limit for the request's class.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, class ratelimit.Class) bool {
	session := r.Header.Get(sessionHeader)
	if session == "" {
		session = "local"
	}
	if err := s.limiter.Allow(session, class); err != nil {
		s.writeError(w, err)
		return false
	}
	return true
}

// --- Handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.ws.Status()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type noteRequest struct {
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, ratelimit.ClassMutation) {
		return
	}
	var req noteRequest
	if !decode(w, r, &req) {
		return
	}
	note, err := s.ws.CreateNote(req.Title, req.Tags)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := s.ws.ListNotes()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	note, err := s.ws.GetNote(chi.URLParam(r, "noteID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (s *Server) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, ratelimit.ClassMutation) {
		return
	}
	var req noteRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.ws.UpdateNote(chi.URLParam(r, "noteID"), req.Title, req.Tags); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, ratelimit.ClassMutation) {
		return
	}
	if err := s.ws.DeleteNote(chi.URLParam(r, "noteID")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type draftRequest struct {
	BodyMD string   `json:"body_md"`
	Tags   []string `json:"tags"`
}

func (s *Server) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, ratelimit.ClassDraft) {
		return
	}
	var req draftRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := s.ws.SaveDraft(chi.URLParam(r, "noteID"), req.BodyMD, req.Tags)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	d, err := s.ws.GetDraft(chi.URLParam(r, "noteID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type publishRequest struct {
	Collections []string `json:"collections"`
	Label       string   `json:"label"`
	ClientToken string   `json:"client_token"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, ratelimit.ClassMutation) {
		return
	}
	var req publishRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := s.ws.Publish(publish.Request{
		NoteID:      chi.URLParam(r, "noteID"),
		Collections: req.Collections,
		Label:       req.Label,
		ClientToken: req.ClientToken,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

type rollbackRequest struct {
	TargetVersionID string `json:"target_version_id"`
	ClientToken     string `json:"client_token"`
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, ratelimit.ClassMutation) {
		return
	}
	var req rollbackRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := s.ws.Rollback(chi.URLParam(r, "noteID"), req.TargetVersionID, req.ClientToken)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	page := intQuery(r, "page", 0)
	pageSize := intQuery(r, "page_size", 20)
	versions, total, err := s.ws.ListVersions(chi.URLParam(r, "noteID"), page, pageSize)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"versions":    versions,
		"total_count": total,
		"page":        page,
		"page_size":   pageSize,
	})
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	v, err := s.ws.GetVersion(chi.URLParam(r, "versionID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	st, err := s.ws.VisibilityStatus(chi.URLParam(r, "versionID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, ratelimit.ClassQuery) {
		return
	}
	req := query.Request{
		Text:     r.URL.Query().Get("q"),
		Page:     intQuery(r, "page", 0),
		PageSize: intQuery(r, "page_size", 0),
	}
	if cols := r.URL.Query().Get("collections"); cols != "" {
		req.Collections = strings.Split(cols, ",")
	}
	resp, err := s.ws.Search(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type resolveAnchorRequest struct {
	VersionID string        `json:"version_id"`
	Anchor    anchor.Anchor `json:"anchor"`
}

func (s *Server) handleResolveAnchor(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, ratelimit.ClassQuery) {
		return
	}
	var req resolveAnchorRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.ws.ResolveAnchor(req.VersionID, req.Anchor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type collectionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, ratelimit.ClassMutation) {
		return
	}
	var req collectionRequest
	if !decode(w, r, &req) {
		return
	}
	col, err := s.ws.CreateCollection(req.Name, req.Description)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, col)
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	cols, err := s.ws.ListCollections()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cols)
}

// --- Helpers ---

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 2<<20))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body", Kind: string(apperr.KindValidation)})
		return false
	}
	return true
}

func intQuery(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

type errorBody struct {
	Error        string   `json:"error"`
	Kind         string   `json:"kind"`
	Fields       []string `json:"fields,omitempty"`
	RetryAfterMS int64    `json:"retry_after_ms,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	body := errorBody{Error: err.Error(), Kind: string(apperr.KindOf(err))}
	if e, ok := apperr.AsError(err); ok {
		body.Fields = e.Fields
		if e.RetryAfter > 0 {
			body.RetryAfterMS = e.RetryAfter.Milliseconds()
			secs := int(e.RetryAfter.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
