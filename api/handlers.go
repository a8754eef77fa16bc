package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/docutag/lincat"
	"github.com/docutag/lincat/auth"
	"github.com/docutag/lincat/db"
	"github.com/docutag/lincat/logger"
	"github.com/docutag/lincat/models"
	"github.com/docutag/lincat/storage"
)

const maxRequestBytes = 64 << 10

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.deps.Store.Ping(ctx); err != nil {
		s.log.Warn("health check failed", logger.Error(err))
		respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"error":  "database unreachable",
			"time":   s.deps.Now(),
		})
		return
	}

	count, err := s.deps.Store.Count(ctx, "")
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get count")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"links":  count,
		"time":   s.deps.Now(),
	})
}

func (s *Server) handleCategorize(w http.ResponseWriter, r *http.Request) {
	var req models.CategorizeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil || req.Input == nil {
		respondError(w, http.StatusBadRequest, lincat.ErrInvalidInput.Error())
		return
	}

	// Client disconnects do not cancel the pipeline; the timeout still bounds it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.config.CategorizeTimeout)
	defer cancel()

	owner := auth.OwnerFromContext(r.Context())
	link, err := s.deps.Categorizer.Categorize(ctx, owner, *req.Input)
	if err != nil {
		if errors.Is(err, lincat.ErrInvalidInput) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("categorization failed",
			logger.Error(err),
			logger.String("owner", owner),
			logger.String("request_id", middleware.GetReqID(r.Context())),
		)
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Failed to categorize content",
			"details": err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, models.CategorizeResponse{
		Success: true,
		Link:    *link,
	})
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	owner := auth.OwnerFromContext(r.Context())
	categories, err := s.deps.Store.ListCategories(r.Context(), owner)
	if err != nil {
		s.log.Error("failed to list categories", logger.Error(err), logger.String("owner", owner))
		respondError(w, http.StatusInternalServerError, "Failed to fetch categories")
		return
	}
	if categories == nil {
		categories = []models.CategoryWithLinks{}
	}
	respondJSON(w, http.StatusOK, categories)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	owner := auth.OwnerFromContext(r.Context())
	results, err := s.deps.Store.SearchLinks(r.Context(), owner, r.URL.Query().Get("q"))
	if err != nil {
		s.log.Error("search failed", logger.Error(err), logger.String("owner", owner))
		respondError(w, http.StatusInternalServerError, "Failed to search")
		return
	}
	if results == nil {
		results = []models.SearchResult{}
	}
	respondJSON(w, http.StatusOK, results)
}

func (s *Server) handleGetLink(w http.ResponseWriter, r *http.Request) {
	owner := auth.OwnerFromContext(r.Context())
	link, err := s.deps.Store.GetLink(r.Context(), owner, chi.URLParam(r, "id"))
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Link not found")
		return
	}
	if err != nil {
		s.log.Error("failed to get link", logger.Error(err), logger.String("owner", owner))
		respondError(w, http.StatusInternalServerError, "Failed to fetch link")
		return
	}
	respondJSON(w, http.StatusOK, link)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	owner := auth.OwnerFromContext(r.Context())
	id := chi.URLParam(r, "id")

	err := s.deps.Store.DeleteCategory(r.Context(), owner, id)
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Category not found")
		return
	}
	if err != nil {
		s.log.Error("failed to delete category", logger.Error(err), logger.String("category_id", id))
		respondError(w, http.StatusInternalServerError, "Failed to delete category")
		return
	}

	s.log.Info("category deleted", logger.String("category_id", id), logger.String("owner", owner))
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Category and all its links deleted successfully",
	})
}

func (s *Server) handleDeleteLink(w http.ResponseWriter, r *http.Request) {
	owner := auth.OwnerFromContext(r.Context())
	id := chi.URLParam(r, "id")

	err := s.deps.Store.DeleteLink(r.Context(), owner, id)
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Link not found")
		return
	}
	if err != nil {
		s.log.Error("failed to delete link", logger.Error(err), logger.String("link_id", id))
		respondError(w, http.StatusInternalServerError, "Failed to delete link")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Link deleted successfully",
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil {
		respondError(w, http.StatusServiceUnavailable, "exports are not configured")
		return
	}

	owner := auth.OwnerFromContext(r.Context())
	categories, err := s.deps.Store.ListCategories(r.Context(), owner)
	if err != nil {
		s.log.Error("failed to list categories for export", logger.Error(err), logger.String("owner", owner))
		respondError(w, http.StatusInternalServerError, "Failed to export")
		return
	}
	if categories == nil {
		categories = []models.CategoryWithLinks{}
	}

	now := s.deps.Now().UTC()
	data, err := json.MarshalIndent(models.Export{
		Owner:      owner,
		ExportedAt: now,
		Categories: categories,
	}, "", "  ")
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to export")
		return
	}

	key := storage.ExportKey(owner, now)
	if err := s.deps.Archive.Save(r.Context(), key, data, "application/json"); err != nil {
		s.log.Error("failed to save export", logger.Error(err), logger.String("key", key))
		respondError(w, http.StatusInternalServerError, "Failed to export")
		return
	}

	s.log.Info("export saved", logger.String("key", key), logger.Int("categories", len(categories)))
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"key":     key,
	})
}

func (s *Server) handleGetExport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil {
		respondError(w, http.StatusServiceUnavailable, "exports are not configured")
		return
	}

	key, ok := exportKey(r)
	if !ok {
		respondError(w, http.StatusNotFound, "Export not found")
		return
	}

	data, err := s.deps.Archive.Read(r.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Export not found")
		return
	}
	if err != nil {
		s.log.Error("failed to read export", logger.Error(err), logger.String("key", key))
		respondError(w, http.StatusInternalServerError, "Failed to read export")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleDeleteExport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil {
		respondError(w, http.StatusServiceUnavailable, "exports are not configured")
		return
	}

	key, ok := exportKey(r)
	if !ok {
		respondError(w, http.StatusNotFound, "Export not found")
		return
	}

	// Missing keys are detected up front since Delete ignores them.
	if _, err := s.deps.Archive.Read(r.Context(), key); errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Export not found")
		return
	}
	if err := s.deps.Archive.Delete(r.Context(), key); err != nil {
		s.log.Error("failed to delete export", logger.Error(err), logger.String("key", key))
		respondError(w, http.StatusInternalServerError, "Failed to delete export")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Export deleted successfully",
	})
}

// exportKey returns the requested archive key if it belongs to the caller.
// Other owners' exports are reported as missing.
func exportKey(r *http.Request) (string, bool) {
	key, err := storage.CleanKey(chi.URLParam(r, "*"))
	if err != nil || !strings.HasPrefix(key, storage.OwnerPrefix(auth.OwnerFromContext(r.Context()))) {
		return "", false
	}
	return key, true
}

func (s *Server) respondAuthError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Debug("request rejected", logger.Error(err), logger.String("path", r.URL.Path))
	w.Header().Set("WWW-Authenticate", `Bearer realm="lincat"`)
	if errors.Is(err, auth.ErrMissingToken) {
		respondError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	respondError(w, http.StatusUnauthorized, "invalid token")
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
