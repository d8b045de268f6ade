// Package lockhttp exposes read-only lock state and administration over
// HTTP, documented with an OpenAPI 3 description.
package lockhttp

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/sillsdev/serval-sub001/errors"
	"github.com/sillsdev/serval-sub001/lock"
	"github.com/swaggest/openapi-go/openapi3"
	"gopkg.in/yaml.v3"
)

type lockRequest struct {
	Name string `path:"name" description:"Lock name."`
}

type availabilityRequest struct {
	Name string    `path:"name" description:"Lock name."`
	Mode lock.Mode `query:"mode" enum:"read,write" description:"Access mode, read by default."`
}

// Handler serves the lock API.
type Handler struct {
	router    chi.Router
	reflector *openapi3.Reflector
	store     lock.Store
	service   lock.Service
	now       func() time.Time
}

// New builds the API over store. Deletions go through service so its
// caches stay consistent.
func New(store lock.Store, service lock.Service) (*Handler, error) {
	h := &Handler{
		router:    chi.NewRouter(),
		reflector: openapi3.NewReflector(),
		store:     store,
		service:   service,
		now:       time.Now,
	}
	h.reflector.SpecEns().Info.Title = "Distributed reader/writer locks"
	h.reflector.SpecEns().Info.Version = "1.0.0"

	h.router.Use(middleware.Recoverer)

	ops := []*Operation{
		Handle(http.MethodGet, "/locks/{name}", http.HandlerFunc(h.getLock),
			WithID("getLock"),
			WithSummary("Get lock state"),
			WithDescription("Returns the writer queue, the reader set and the availability of a lock."),
			WithTags("locks"),
			WithRequest(new(lockRequest)),
			WithResponse(http.StatusOK, new(LockView)),
			WithResponse(http.StatusNotFound, new(errors.Status)),
		),
		Handle(http.MethodGet, "/locks/{name}/availability", http.HandlerFunc(h.getAvailability),
			WithID("getAvailability"),
			WithSummary("Check lock availability"),
			WithTags("locks"),
			WithRequest(new(availabilityRequest)),
			WithResponse(http.StatusOK, new(AvailabilityView)),
			WithResponse(http.StatusBadRequest, new(errors.Status)),
			WithResponse(http.StatusNotFound, new(errors.Status)),
		),
		Handle(http.MethodDelete, "/locks/{name}", http.HandlerFunc(h.deleteLock),
			WithID("deleteLock"),
			WithSummary("Delete lock"),
			WithDescription("Removes the lock document. Waiting callers fail."),
			WithTags("locks"),
			WithRequest(new(lockRequest)),
			WithResponse(http.StatusNoContent, nil),
			WithResponse(http.StatusNotFound, new(errors.Status)),
		),
	}

	for _, op := range ops {
		oc, err := op.OperationContext(h.reflector)
		if err != nil {
			return nil, err
		}
		if err := h.reflector.AddOperation(oc); err != nil {
			return nil, err
		}
		h.router.Method(op.Method, op.Pattern, op)
	}

	h.router.Get("/openapi.json", h.openAPIJSON)
	h.router.Get("/openapi.yaml", h.openAPIYAML)
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) getLock(w http.ResponseWriter, r *http.Request) {
	doc, err := h.store.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, NewLockView(doc, h.now()))
}

func (h *Handler) getAvailability(w http.ResponseWriter, r *http.Request) {
	mode := lock.Mode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = lock.ModeRead
	}
	if mode != lock.ModeRead && mode != lock.ModeWrite {
		h.writeError(w, r, errors.InvalidArgument("unknown mode '%s'", mode).Detail(map[string][]lock.Mode{
			"modes": {lock.ModeRead, lock.ModeWrite},
		}))
		return
	}

	doc, err := h.store.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	now := h.now()
	available := doc.IsAvailableForReading(now)
	if mode == lock.ModeWrite {
		available = doc.IsAvailableForWriting(now)
	}
	h.writeJSON(w, r, http.StatusOK, AvailabilityView{
		Name:      doc.Name,
		Mode:      mode,
		Available: available,
	})
}

func (h *Handler) deleteLock(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	deleted, err := h.service.Delete(r.Context(), name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !deleted {
		h.writeError(w, r, errors.NotFound("lock '%s' not found", name))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) openAPIJSON(w http.ResponseWriter, r *http.Request) {
	data, err := json.MarshalIndent(h.reflector.SpecEns(), "", "  ")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (h *Handler) openAPIYAML(w http.ResponseWriter, r *http.Request) {
	data, err := json.Marshal(h.reflector.SpecEns())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	// JSON is valid YAML
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(out)
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logr.FromContextOrDiscard(r.Context()).Error(err, "failed to write response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := logr.FromContextOrDiscard(r.Context())
	if errors.HttpStatus(err) >= http.StatusInternalServerError {
		log.Error(err, "request failed", "method", r.Method, "path", r.URL.Path)
	}
	if err := errors.JSONResponse(w, err); err != nil {
		log.Error(err, "failed to write error response")
	}
}
