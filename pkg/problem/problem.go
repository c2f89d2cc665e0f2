// Package problem writes RFC 7807 problem+json error responses.
package problem

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
)

type Detail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	// Items lists the offending order lines for stock and catalog problems.
	Items any `json:"items,omitempty"`
}

func (d *Detail) Error() string {
	return fmt.Sprintf("%s: %s", d.Title, d.Detail)
}

func New(status int, detail string) *Detail {
	return &Detail{
		Type:   "https://medstore.example/problems/" + strconv.Itoa(status),
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	}
}

func Write(w http.ResponseWriter, r *http.Request, d *Detail) {
	if r != nil && d.Instance == "" {
		d.Instance = r.URL.Path
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(d.Status)
	_ = json.NewEncoder(w).Encode(d)
}

func WriteBadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	Write(w, r, New(http.StatusBadRequest, detail))
}

func WriteUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	if detail == "" {
		detail = "authentication required"
	}
	Write(w, r, New(http.StatusUnauthorized, detail))
}

func WriteForbidden(w http.ResponseWriter, r *http.Request, detail string) {
	if detail == "" {
		detail = "insufficient permissions"
	}
	Write(w, r, New(http.StatusForbidden, detail))
}

func WriteNotFound(w http.ResponseWriter, r *http.Request, detail string) {
	Write(w, r, New(http.StatusNotFound, detail))
}

func WriteTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	Write(w, r, New(http.StatusTooManyRequests, "rate limit exceeded, retry later"))
}

// WriteInternal logs err and answers with a generic 500. err never reaches
// the client.
func WriteInternal(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("internal server error", "error", err)
	Write(w, r, New(http.StatusInternalServerError, "an unexpected error occurred, please try again later"))
}
