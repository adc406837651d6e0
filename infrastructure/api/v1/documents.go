// Package v1 provides the v1 API routes.
package v1

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/helixml/folio/domain/page"
	"github.com/helixml/folio/infrastructure/api/jsonapi"
	"github.com/helixml/folio/infrastructure/api/middleware"
	"github.com/helixml/folio/infrastructure/api/v1/dto"
	"github.com/helixml/folio/infrastructure/library"
	"github.com/helixml/folio/infrastructure/source"
)

// PageCountHeader carries the total page count of a document.
const PageCountHeader = "X-Page-Count"

// Library is the document store behind the documents endpoints.
type Library interface {
	List() ([]string, error)
	Stat(id string) (library.Info, error)
	PageCount(ctx context.Context, id string) (int, error)
	FetchPageRange(ctx context.Context, id string, start, end int) ([]byte, error)
}

// DocumentsRouter handles document API endpoints.
type DocumentsRouter struct {
	library Library
	logger  *slog.Logger
}

// NewDocumentsRouter creates a new DocumentsRouter.
func NewDocumentsRouter(lib Library, logger *slog.Logger) *DocumentsRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentsRouter{
		library: lib,
		logger:  logger,
	}
}

// Routes returns the chi router for document endpoints.
func (r *DocumentsRouter) Routes() chi.Router {
	router := chi.NewRouter()

	router.Get("/", r.List)
	router.Get("/{id}", r.Get)
	router.Get("/{id}/content", r.Content)
	router.Head("/{id}/content", r.Content)

	return router
}

// List handles GET /api/v1/documents.
func (r *DocumentsRouter) List(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	pagination := ParsePagination(req)

	ids, err := r.library.List()
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}

	lo, hi := pagination.Bounds(len(ids))
	data := make([]dto.DocumentData, 0, hi-lo)
	for _, id := range ids[lo:hi] {
		doc, err := r.document(ctx, id)
		if err != nil {
			r.logger.Warn("skipping unreadable document",
				slog.String("document_id", id), slog.Any("error", err))
			continue
		}
		data = append(data, doc)
	}

	middleware.WriteJSON(w, http.StatusOK, dto.DocumentListResponse{
		Data:  data,
		Meta:  PaginationMeta(pagination, len(ids)),
		Links: PaginationLinks(req, pagination, len(ids)),
	})
}

// Get handles GET /api/v1/documents/{id}.
func (r *DocumentsRouter) Get(w http.ResponseWriter, req *http.Request) {
	doc, err := r.document(req.Context(), chi.URLParam(req, "id"))
	if err != nil {
		r.writeError(w, req, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, dto.DocumentResponse{Data: doc})
}

// Content handles GET /api/v1/documents/{id}/content. A "pages=a-b" Range
// header selects a standalone PDF of those pages, answered with 206; without
// one the whole document is returned.
func (r *DocumentsRouter) Content(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	id := chi.URLParam(req, "id")

	total, err := r.library.PageCount(ctx, id)
	if err != nil {
		r.writeError(w, req, err)
		return
	}

	w.Header().Set("Accept-Ranges", source.RangeUnit)
	w.Header().Set(PageCountHeader, strconv.Itoa(total))

	start, end, status := 1, total, http.StatusOK
	if h := req.Header.Get("Range"); h != "" {
		start, end, err = source.ParseRangeHeader(h)
		if err != nil {
			r.writeRangeError(w, req, total, err)
			return
		}
		if _, err := page.NewRange(start, end); err != nil || end > total {
			r.writeRangeError(w, req, total, fmt.Errorf("%w: pages %d-%d of %d", page.ErrInvalidRange, start, end, total))
			return
		}
		status = http.StatusPartialContent
		w.Header().Set("Content-Range", source.ContentRangeHeader(start, end, total))
	}

	if req.Method == http.MethodHead {
		w.Header().Set("Content-Type", "application/pdf")
		w.WriteHeader(status)
		return
	}

	data, err := r.library.FetchPageRange(ctx, id, start, end)
	if err != nil {
		r.writeError(w, req, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		r.logger.Debug("write content", slog.String("document_id", id), slog.Any("error", err))
	}
}

func (r *DocumentsRouter) document(ctx context.Context, id string) (dto.DocumentData, error) {
	info, err := r.library.Stat(id)
	if err != nil {
		return dto.DocumentData{}, err
	}
	pages, err := r.library.PageCount(ctx, id)
	if err != nil {
		return dto.DocumentData{}, err
	}
	return dto.DocumentData{
		Type: dto.DocumentType,
		ID:   id,
		Attributes: dto.DocumentAttributes{
			PageCount: pages,
			Size:      info.Size,
			UpdatedAt: jsonapi.DateTime(info.ModTime),
		},
		Links: &jsonapi.Links{
			Self:    "/api/v1/documents/" + id,
			Related: "/api/v1/documents/" + id + "/content",
		},
	}, nil
}

func (r *DocumentsRouter) writeRangeError(w http.ResponseWriter, req *http.Request, total int, err error) {
	w.Header().Set("Content-Range", fmt.Sprintf("%s */%d", source.RangeUnit, total))
	middleware.WriteError(w, req,
		middleware.NewHeaderError(http.StatusRequestedRangeNotSatisfiable, "Range", "range not satisfiable", err),
		r.logger)
}

func (r *DocumentsRouter) writeError(w http.ResponseWriter, req *http.Request, err error) {
	switch {
	case errors.Is(err, library.ErrNotFound):
		err = middleware.NewAPIError(http.StatusNotFound, "document not found", err)
	case errors.Is(err, library.ErrInvalidID):
		err = middleware.NewAPIError(http.StatusBadRequest, "invalid document id", err)
	case errors.Is(err, page.ErrInvalidRange):
		err = middleware.NewHeaderError(http.StatusRequestedRangeNotSatisfiable, "Range", "range not satisfiable", err)
	}
	middleware.WriteError(w, req, err, r.logger)
}
