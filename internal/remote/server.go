package remote

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"

	"github.com/todosync/todosync/internal/item"
)

// ServerOptions configures a Server.
type ServerOptions struct {
	Token  string      // Required bearer token; empty disables auth
	Logger *log.Logger // Request log (default: discard)
}

// Server is an in-memory implementation of the list service. It enforces
// the revision protocol exactly like the production backend and can be told
// to fail, which makes it suitable for tests and local development.
type Server struct {
	token  string
	logger *log.Logger
	router *mux.Router

	mu       sync.Mutex
	list     []Element
	revision int64
	offline  bool
	failNext int
	requests int64
}

// NewServer creates an empty server at revision 0.
func NewServer(opts ServerOptions) *Server {
	s := &Server{
		token:  opts.Token,
		logger: opts.Logger,
	}
	if s.logger == nil {
		s.logger = log.New(io.Discard, "", 0)
	}

	r := mux.NewRouter()
	r.Use(s.logRequests, s.injectFailures, s.authenticate)

	r.Methods(http.MethodGet).Path("/list").HandlerFunc(s.getList)
	r.Methods(http.MethodPatch).Path("/list").HandlerFunc(s.patchList)
	r.Methods(http.MethodPost).Path("/list").HandlerFunc(s.postElement)
	r.Methods(http.MethodGet).Path("/list/{id}").HandlerFunc(s.getElement)
	r.Methods(http.MethodPut).Path("/list/{id}").HandlerFunc(s.putElement)
	r.Methods(http.MethodDelete).Path("/list/{id}").HandlerFunc(s.deleteElement)
	s.router = r
	return s
}

// Handler returns the HTTP handler serving the list API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Seed replaces the list and bumps the revision, as if another client had
// pushed items.
func (s *Server) Seed(items []item.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = toElements(items, "seed")
	s.revision++
}

// Snapshot returns the items currently held.
func (s *Server) Snapshot() []item.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fromElements(s.list)
}

// Revision returns the current revision.
func (s *Server) Revision() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// Requests returns the number of requests received, failed ones included.
func (s *Server) Requests() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// SetOffline makes every request fail with 503 until called with false.
func (s *Server) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

// FailNext makes the next n requests fail with 500.
func (s *Server) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		s.logger.Printf("%s %s status=%d duration=%v bytes=%d", r.Method, r.URL.Path, m.Code, m.Duration, m.Written)
	})
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests++
		offline := s.offline
		fail := s.failNext > 0
		if fail {
			s.failNext--
		}
		s.mu.Unlock()

		switch {
		case offline:
			writeError(w, http.StatusServiceUnavailable, "service unavailable")
		case fail:
			writeError(w, http.StatusInternalServerError, "injected failure")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkRevision reports whether the request carries the current revision.
// Callers must hold s.mu.
func (s *Server) checkRevision(w http.ResponseWriter, r *http.Request) bool {
	rev, err := strconv.ParseInt(r.Header.Get(RevisionHeader), 10, 64)
	if err != nil || rev != s.revision {
		writeError(w, http.StatusBadRequest, MsgUnsynchronized)
		return false
	}
	return true
}

func (s *Server) indexOf(id string) int {
	for i, el := range s.list {
		if el.ID == id {
			return i
		}
	}
	return -1
}

func (s *Server) getList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.listResponse())
}

func (s *Server) patchList(w http.ResponseWriter, r *http.Request) {
	var req ListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}
	seen := make(map[string]bool, len(req.List))
	for _, el := range req.List {
		if !validElement(el) || seen[el.ID] {
			writeError(w, http.StatusBadRequest, "invalid element")
			return
		}
		seen[el.ID] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.checkRevision(w, r) {
		return
	}
	s.list = append([]Element(nil), req.List...)
	s.revision++
	writeJSON(w, http.StatusOK, s.listResponse())
}

func (s *Server) postElement(w http.ResponseWriter, r *http.Request) {
	var req ElementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !validElement(req.Element) {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.checkRevision(w, r) {
		return
	}
	if s.indexOf(req.Element.ID) >= 0 {
		writeError(w, http.StatusBadRequest, "duplicate element")
		return
	}
	s.list = append(s.list, req.Element)
	s.revision++
	writeJSON(w, http.StatusOK, ElementResponse{Status: "ok", Element: req.Element, Revision: s.revision})
}

func (s *Server) getElement(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		writeError(w, http.StatusNotFound, "element not found")
		return
	}
	writeJSON(w, http.StatusOK, ElementResponse{Status: "ok", Element: s.list[i], Revision: s.revision})
}

func (s *Server) putElement(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req ElementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !validElement(req.Element) {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}
	req.Element.ID = id

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.checkRevision(w, r) {
		return
	}
	i := s.indexOf(id)
	if i < 0 {
		writeError(w, http.StatusNotFound, "element not found")
		return
	}
	s.list[i] = req.Element
	s.revision++
	writeJSON(w, http.StatusOK, ElementResponse{Status: "ok", Element: req.Element, Revision: s.revision})
}

func (s *Server) deleteElement(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.checkRevision(w, r) {
		return
	}
	i := s.indexOf(id)
	if i < 0 {
		writeError(w, http.StatusNotFound, "element not found")
		return
	}
	deleted := s.list[i]
	s.list = append(s.list[:i], s.list[i+1:]...)
	s.revision++
	writeJSON(w, http.StatusOK, ElementResponse{Status: "ok", Element: deleted, Revision: s.revision})
}

// listResponse copies the list; callers must hold s.mu.
func (s *Server) listResponse() ListResponse {
	list := append([]Element{}, s.list...)
	return ListResponse{Status: "ok", List: list, Revision: s.revision}
}

func validElement(el Element) bool {
	return el.ID != "" && el.Text != ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Status: "error", Message: msg})
}
