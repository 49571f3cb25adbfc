package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/convert"
	"github.com/starford/raido/internal/digest"
	"github.com/starford/raido/internal/library"
	"github.com/starford/raido/internal/query"
)

// Handler holds API route handlers.
type Handler struct {
	svc *library.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *library.Service) *Handler {
	return &Handler{svc: svc}
}

// itemDigest parses the {digest} route parameter.
func itemDigest(r *http.Request) (digest.Digest, error) {
	return digest.Parse(chi.URLParam(r, "digest"))
}

// writeError maps sentinel errors to HTTP statuses.
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrCapacity):
		writeJSON(w, http.StatusTooManyRequests, errorBody("import queue full"))
	case errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrDecode):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// Import handles POST /api/imports.
//
//	@Summary		Queue an import batch
//	@Tags			imports
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ImportRequest	true	"Files to import"
//	@Success		202		{object}	ImportResponse
//	@Failure		400		{object}	errResponse
//	@Failure		429		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/imports [post]
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid json body"))
		return
	}
	if len(req.Paths) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("paths is required"))
		return
	}

	b, err := h.svc.ImportPaths(r.Context(), req.Paths, req.Tags)
	if err != nil {
		writeError(w, "import", err)
		return
	}

	resp := ImportResponse{BatchID: b.ID(), Queued: len(req.Paths)}
	if req.Wait {
		completed, failed, err := b.Wait(r.Context())
		if err != nil {
			writeError(w, "import wait", err)
			return
		}
		resp.Completed = completed
		resp.Failed = failed
		writeJSON(w, http.StatusOK, resp)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// Scan handles POST /api/scan. It queues every image file under the
// library root.
//
//	@Summary		Import everything under the library root
//	@Tags			imports
//	@Produce		json
//	@Success		202	{object}	ImportResponse
//	@Security		BearerAuth
//	@Router			/scan [post]
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.ScanAll(r.Context(), nil)
	if err != nil {
		writeError(w, "scan", err)
		return
	}
	writeJSON(w, http.StatusAccepted, ImportResponse{BatchID: b.ID()})
}

// ListItems handles GET /api/items.
//
//	@Summary		Search items by tags and fuzzy text
//	@Tags			items
//	@Produce		json
//	@Param			tag		query		string	false	"Required tag (repeatable)"
//	@Param			q		query		string	false	"Fuzzy tag query"
//	@Param			offset	query		int		false	"Results to skip"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	ItemListResponse
//	@Security		BearerAuth
//	@Router			/items [get]
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	offset, _ := strconv.Atoi(params.Get("offset"))
	limit, _ := strconv.Atoi(params.Get("limit"))
	q := query.Query{
		Tags:   params["tag"],
		Fuzzy:  params.Get("q"),
		Offset: offset,
		Limit:  limit,
	}

	items := make([]Item, 0)
	for it := range h.svc.Search(q) {
		items = append(items, it)
	}
	writeJSON(w, http.StatusOK, ItemListResponse{Items: items, Total: h.svc.Count(q)})
}

// GetItem handles GET /api/items/{digest}.
//
//	@Summary		Get a single item
//	@Tags			items
//	@Produce		json
//	@Param			digest	path		string	true	"Item digest (64 hex chars)"
//	@Success		200		{object}	Item
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{digest} [get]
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	d, err := itemDigest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid digest"))
		return
	}
	it, err := h.svc.Get(r.Context(), d)
	if err != nil {
		writeError(w, "get item", err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// DeleteItem handles DELETE /api/items/{digest}.
//
//	@Summary		Remove an item and its artifacts
//	@Tags			items
//	@Produce		json
//	@Param			digest	path	string	true	"Item digest"
//	@Success		204
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{digest} [delete]
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	d, err := itemDigest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid digest"))
		return
	}
	if err := h.svc.Remove(r.Context(), d); err != nil {
		writeError(w, "delete item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddTags handles POST /api/items/{digest}/tags.
//
//	@Summary		Attach tags to an item
//	@Tags			items
//	@Accept			json
//	@Produce		json
//	@Param			digest	path		string		true	"Item digest"
//	@Param			body	body		TagsRequest	true	"Tags to attach"
//	@Success		200		{object}	Item
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{digest}/tags [post]
func (h *Handler) AddTags(w http.ResponseWriter, r *http.Request) {
	h.mutateTags(w, r, h.svc.AddTags)
}

// RemoveTags handles DELETE /api/items/{digest}/tags.
//
//	@Summary		Detach tags from an item
//	@Tags			items
//	@Accept			json
//	@Produce		json
//	@Param			digest	path		string		true	"Item digest"
//	@Param			body	body		TagsRequest	true	"Tags to detach"
//	@Success		200		{object}	Item
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{digest}/tags [delete]
func (h *Handler) RemoveTags(w http.ResponseWriter, r *http.Request) {
	h.mutateTags(w, r, h.svc.RemoveTags)
}

func (h *Handler) mutateTags(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, d digest.Digest, tags []string) (Item, error)) {
	d, err := itemDigest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid digest"))
		return
	}
	var req TagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Tags) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("tags is required"))
		return
	}
	it, err := op(r.Context(), d, req.Tags)
	if err != nil {
		writeError(w, "mutate tags", err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// Artifact handles GET /api/items/{digest}/artifact. Conversion
// parameters default to the library configuration and can be overridden
// per request.
//
//	@Summary		Fetch (computing if needed) an item's converted rendition
//	@Tags			items
//	@Produce		image/png
//	@Param			digest	path		string	true	"Item digest"
//	@Param			scale	query		int		false	"Integer upscale factor"
//	@Param			aspect	query		string	false	"Target aspect ratio, e.g. 16:9"
//	@Param			fill	query		string	false	"Padding fill: transparent or #rrggbb"
//	@Param			format	query		string	false	"Output format"	Enums(png, jpeg)
//	@Param			quality	query		int		false	"JPEG quality 1-100"
//	@Success		200
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{digest}/artifact [get]
func (h *Handler) Artifact(w http.ResponseWriter, r *http.Request) {
	d, err := itemDigest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid digest"))
		return
	}
	p, err := artifactParams(r, h.svc.DefaultParams())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	data, err := h.svc.Artifact(r.Context(), d, p)
	if err != nil {
		writeError(w, "artifact", err)
		return
	}
	switch p.Format {
	case convert.FormatJPEG:
		w.Header().Set("Content-Type", "image/jpeg")
	default:
		w.Header().Set("Content-Type", "image/png")
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	_, _ = w.Write(data)
}

// ListTags handles GET /api/tags.
//
//	@Summary		List all tags with item counts
//	@Tags			tags
//	@Produce		json
//	@Success		200	{object}	TagListResponse
//	@Security		BearerAuth
//	@Router			/tags [get]
func (h *Handler) ListTags(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, TagListResponse{Tags: h.svc.Tags()})
}

// Export handles POST /api/export. The response body is a
// zstd-compressed tar archive.
//
//	@Summary		Export matching items as an archive
//	@Tags			export
//	@Accept			json
//	@Produce		application/octet-stream
//	@Param			body	body	ExportRequest	true	"Item selection"
//	@Success		200
//	@Security		BearerAuth
//	@Router			/export [post]
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid json body"))
			return
		}
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="raido-export.tar.zst"`)
	n, err := h.svc.Export(r.Context(), w, query.Query{Tags: req.Tags, Fuzzy: req.Fuzzy})
	if err != nil {
		// Headers are already gone; all we can do is log.
		slog.Error("export failed", slog.Int("written", n), slog.String("error", err.Error()))
	}
}

// Status handles GET /api/status.
//
//	@Summary		Library counters and cache statistics
//	@Tags			status
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// artifactParams overlays query-string overrides on the defaults.
func artifactParams(r *http.Request, p convert.Params) (convert.Params, error) {
	q := r.URL.Query()
	if v := q.Get("scale"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("invalid scale %q", v)
		}
		p.ScaleFactor = n
	}
	if v := q.Get("aspect"); v != "" {
		var aw, ah int
		if _, err := fmt.Sscanf(v, "%d:%d", &aw, &ah); err != nil {
			return p, fmt.Errorf("invalid aspect %q", v)
		}
		p.AspectW, p.AspectH = aw, ah
	}
	if v := q.Get("fill"); v != "" {
		fill, err := convert.ParseFill(v)
		if err != nil {
			return p, err
		}
		p.Fill = fill
	}
	if v := q.Get("format"); v != "" {
		p.Format = convert.Format(v)
	}
	if v := q.Get("quality"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("invalid quality %q", v)
		}
		p.Quality = n
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}
