package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nasermirzaei89/talkback/discuss"
)

type Problem struct {
	Type   string         `json:"type,omitempty"`
	Title  string         `json:"title,omitempty"`
	Status int            `json:"status,omitempty"`
	Detail string         `json:"detail,omitempty"`
	Reason discuss.Reason `json:"reason,omitempty"`
	Field  string         `json:"field,omitempty"`
}

func writeProblem(w http.ResponseWriter, status int, title, detail string, extend func(*Problem)) {
	problem := Problem{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	}

	if extend != nil {
		extend(&problem)
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

var errCronUnauthorized = errors.New("missing or invalid cron secret")

// writeError is the one place where errors become responses.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *discuss.ValidationError
		notFoundErr   *discuss.CommentNotFoundError
		mismatchErr   *discuss.TokenMismatchError
		expiredErr    *discuss.TokenExpiredError
		maxBytesErr   *http.MaxBytesError
	)

	switch {
	case errors.As(err, &validationErr):
		writeProblem(w, http.StatusBadRequest, "Bad Request", validationErr.Error(), func(p *Problem) {
			p.Reason = validationErr.Reason
			p.Field = validationErr.Field
		})
	case errors.As(err, &maxBytesErr):
		writeProblem(w, http.StatusRequestEntityTooLarge, "Request Entity Too Large",
			fmt.Sprintf("request body exceeds %d bytes", maxBytesErr.Limit), nil)
	case errors.As(err, &notFoundErr):
		writeProblem(w, http.StatusNotFound, "Not Found", "comment not found", nil)
	case errors.As(err, &mismatchErr):
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "accept token does not match", nil)
	case errors.As(err, &expiredErr):
		writeProblem(w, http.StatusGone, "Gone", "accept link has expired", nil)
	case errors.Is(err, errCronUnauthorized):
		w.Header().Set("WWW-Authenticate", `Bearer realm="cron"`)
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), nil)
	default:
		slog.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "internal error occurred", nil)
	}
}
