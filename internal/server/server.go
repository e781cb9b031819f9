// Package server exposes a built data room index over a read-only HTTP API.
// The pipeline stays CLI-driven; there are no mutation endpoints.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/diligence-ai/dataroom-indexer/internal/observability"
	"github.com/diligence-ai/dataroom-indexer/pkg/dataroom"
)

// Server serves one loaded index.
type Server struct {
	logger *observability.Logger
	room   *dataroom.DataRoom
}

// New creates a server over the given data room.
func New(room *dataroom.DataRoom, logger *observability.Logger) *Server {
	return &Server{logger: logger, room: room}
}

// Router creates the HTTP routes.
func (s *Server) Router(requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(requestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"dataroom-indexer"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/documents", s.handleListDocuments)
		r.Route("/documents/{docID}", func(r chi.Router) {
			r.Get("/", s.handleDocument)
			r.Get("/summary", s.handleSummary)
			r.Get("/pages", s.handlePages)
			r.Get("/pages/{pageNum}/image", s.handlePageImage)
		})
	})

	return r
}

// ListResponseDTO is the /api/documents payload.
type ListResponseDTO struct {
	Metadata  dataroom.Metadata           `json:"metadata"`
	Documents []dataroom.DocumentOverview `json:"documents"`
}

// SummaryResponseDTO is the /summary payload: the document roll-up plus the
// combined page-by-page text.
type SummaryResponseDTO struct {
	DocID         string `json:"doc_id"`
	Summary       string `json:"summary,omitempty"`
	PageSummaries string `json:"page_summaries"`
}

// PagesResponseDTO is the /pages payload.
type PagesResponseDTO struct {
	DocID string                `json:"doc_id"`
	Pages []dataroom.PageResult `json:"pages"`
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	resp := ListResponseDTO{
		Metadata:  s.room.Metadata(),
		Documents: s.room.ListDocuments(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	rec, err := s.room.Document(docID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "document not found", docID)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	rec, err := s.room.Document(docID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "document not found", docID)
		return
	}
	pageText, err := s.room.PageSummaries(docID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "document not found", docID)
		return
	}

	resp := SummaryResponseDTO{DocID: docID, PageSummaries: pageText}
	if rec.Summary != nil {
		resp.Summary = *rec.Summary
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handlePages(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	rec, err := s.room.Document(docID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "document not found", docID)
		return
	}

	nums, err := parsePageNums(r.URL.Query().Get("nums"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid page numbers", err.Error())
		return
	}
	if len(nums) == 0 {
		// No selection means the whole document.
		for _, page := range rec.Pages {
			nums = append(nums, page.PageNum)
		}
	}

	pages, err := s.room.Pages(docID, nums)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "document not found", docID)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(PagesResponseDTO{DocID: docID, Pages: pages})
}

func (s *Server) handlePageImage(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	rec, err := s.room.Document(docID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "document not found", docID)
		return
	}

	pageNum, err := strconv.Atoi(chi.URLParam(r, "pageNum"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid page number", chi.URLParam(r, "pageNum"))
		return
	}

	page := rec.Page(pageNum)
	if page == nil || page.ImagePath == "" {
		s.writeError(w, http.StatusNotFound, "page image not found", "")
		return
	}
	http.ServeFile(w, r, page.ImagePath)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]string{
		"error":   message,
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	json.NewEncoder(w).Encode(resp)
}

func parsePageNums(raw string) ([]int, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	nums := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, errors.New("nums must be a comma separated list of integers")
		}
		nums = append(nums, n)
	}
	return nums, nil
}
