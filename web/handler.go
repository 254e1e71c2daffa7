package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/nasermirzaei89/talkback/discuss"
	"github.com/nasermirzaei89/talkback/feed"
	"github.com/nasermirzaei89/talkback/logging"
)

const (
	DefaultMaxBodyBytes int64 = 64 << 10

	actionGet    = "get"
	actionFeed   = "feed"
	actionAccept = "accept"

	commentsPathPrefix = "/comments/"
)

type Options struct {
	BaseURL      string
	CronSecret   string
	MaxBodyBytes int64
}

type Handler struct {
	mux          *http.ServeMux
	handler      http.Handler
	discussSvc   *discuss.Service
	feedBuilder  *feed.Builder
	cronSecret   string
	maxBodyBytes int64
}

var _ http.Handler = (*Handler)(nil)

func NewHandler(discussSvc *discuss.Service, opts Options) *Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	h := &Handler{
		discussSvc:   discussSvc,
		feedBuilder:  feed.NewBuilder(opts.BaseURL),
		cronSecret:   opts.CronSecret,
		maxBodyBytes: opts.MaxBodyBytes,
	}

	{
		h.mux = &http.ServeMux{}
		h.handler = h.mux

		h.registerRoutes()
	}

	{
		h.handler = collapseSlashes(h.handler)
		h.handler = logging.RequestLogger(h.handler)
		h.handler = recoverMiddleware(h.handler)
	}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("/", h.HandleNotFound)

	h.mux.Handle("GET /healthz", h.HandleHealth())

	h.mux.Handle("PUT /comments", h.limitBody(h.HandleSubmit()))
	h.mux.Handle("GET /comments/accept/{id}/{token}", h.HandleAccept())
	h.mux.Handle("GET /comments/accept/{id}", h.HandleIncompleteAccept())
	h.mux.Handle("GET /comments/{action}/{target...}", h.HandleRetrieve())

	h.mux.Handle("POST /cron/garbageCollect", h.CronOnly(h.HandleGarbageCollect()))
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func(ctx context.Context) {
			if err := recover(); err != nil {
				slog.ErrorContext(
					ctx,
					"recovered from panic",
					"error",
					err,
					"stack",
					string(debug.Stack()),
				)

				writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "internal error occurred", nil)
			}
		}(r.Context())

		next.ServeHTTP(w, r)
	})
}

// collapseSlashes squeezes repeated slashes under /comments/, so a target
// joined with its leading slash (/comments/get//blog/post-1) reaches the
// retrieve route.
func collapseSlashes(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, commentsPathPrefix) && strings.Contains(r.URL.Path, "//") {
			r.URL.Path = squeezeSlashes(r.URL.Path)

			if r.URL.RawPath != "" {
				r.URL.RawPath = squeezeSlashes(r.URL.RawPath)
			}
		}

		next.ServeHTTP(w, r)
	})
}

func squeezeSlashes(path string) string {
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}

	return path
}

func (h *Handler) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

		next.ServeHTTP(w, r)
	})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	writeProblem(w, http.StatusNotFound, "Not Found", "no route for "+r.Method+" "+r.URL.Path, nil)
}

func (h *Handler) HandleHealth() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := h.discussSvc.Ping(r.Context())
		if err != nil {
			slog.ErrorContext(r.Context(), "health check failed", "error", err)
			writeProblem(w, http.StatusServiceUnavailable, "Service Unavailable", "database is not reachable", nil)

			return
		}

		writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

type submitCommentResponse struct {
	ID     string         `json:"id"`
	Status discuss.Status `json:"status"`
}

func (h *Handler) HandleSubmit() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req submitCommentRequest

		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				h.writeError(w, r, maxBytesErr)

				return
			}

			h.writeError(w, r, &discuss.ValidationError{Reason: discuss.ReasonInvalidJSON})

			return
		}

		if string(req.Additional) == "null" {
			req.Additional = nil
		}

		err = validateSubmission(req)
		if err != nil {
			h.writeError(w, r, err)

			return
		}

		comment, err := h.discussSvc.Submit(r.Context(), discuss.SubmitRequest{
			Target:     req.Target,
			Author:     req.Author,
			Message:    req.Message,
			Additional: req.Additional,
		})
		if err != nil {
			h.writeError(w, r, err)

			return
		}

		writeJSON(r.Context(), w, http.StatusAccepted, submitCommentResponse{
			ID:     comment.ID,
			Status: comment.Status,
		})
	})
}

type acceptCommentResponse struct {
	ID     string         `json:"id"`
	Target string         `json:"target"`
	Status discuss.Status `json:"status"`
}

func (h *Handler) HandleAccept() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		comment, err := h.discussSvc.Accept(r.Context(), r.PathValue("id"), r.PathValue("token"))
		if err != nil {
			h.writeError(w, r, err)

			return
		}

		w.Header().Set("Cache-Control", "no-store")

		writeJSON(r.Context(), w, http.StatusOK, acceptCommentResponse{
			ID:     comment.ID,
			Target: comment.Target,
			Status: comment.Status,
		})
	})
}

func (h *Handler) HandleIncompleteAccept() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeProblem(w, http.StatusNotFound, "Not Found", "accept link is incomplete", nil)
	})
}

type commentItem struct {
	ID         string          `json:"id"`
	Author     string          `json:"author"`
	Message    string          `json:"message"`
	CreatedAt  time.Time       `json:"createdAt"`
	Additional json.RawMessage `json:"additional,omitempty"`
}

func (h *Handler) HandleRetrieve() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		action := r.PathValue("action")

		if action == actionAccept {
			h.HandleIncompleteAccept().ServeHTTP(w, r)

			return
		}

		if action != actionGet && action != actionFeed {
			h.writeError(w, r, &discuss.ValidationError{Reason: discuss.ReasonUnknownAction, Field: "action"})

			return
		}

		format := feed.FormatRSS

		if action == actionFeed {
			var err error

			format, err = feed.ParseFormat(r.URL.Query().Get("format"))
			if err != nil {
				h.writeError(w, r, err)

				return
			}
		}

		target := discuss.NormalizeTarget(r.PathValue("target"))

		comments, err := h.discussSvc.ListAccepted(r.Context(), target)
		if err != nil {
			h.writeError(w, r, err)

			return
		}

		if action == actionGet {
			items := make([]commentItem, 0, len(comments))

			for _, comment := range comments {
				items = append(items, commentItem{
					ID:         comment.ID,
					Author:     comment.Author,
					Message:    comment.Message,
					CreatedAt:  comment.CreatedAt,
					Additional: comment.Additional,
				})
			}

			writeJSON(r.Context(), w, http.StatusOK, items)

			return
		}

		doc, err := h.feedBuilder.Build(target, comments)
		if err != nil {
			h.writeError(w, r, err)

			return
		}

		body, err := feed.Render(doc, format)
		if err != nil {
			h.writeError(w, r, err)

			return
		}

		w.Header().Set("Content-Type", format.ContentType())
		w.WriteHeader(http.StatusOK)

		_, err = w.Write([]byte(body))
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to write feed", "error", err)
		}
	})
}

type garbageCollectResponse struct {
	Removed int64 `json:"removed"`
}

func (h *Handler) HandleGarbageCollect() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		removed, err := h.discussSvc.CollectGarbage(r.Context())
		if err != nil {
			h.writeError(w, r, err)

			return
		}

		writeJSON(r.Context(), w, http.StatusOK, garbageCollectResponse{Removed: removed})
	})
}
