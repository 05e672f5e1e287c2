package http

import (
	"log/slog"
	"net/http"

	"tally/internal/auth"
	"tally/internal/core"
	applog "tally/internal/log"
)

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listCategories(w, r)
	case http.MethodPost:
		s.createCategory(w, r)
	case http.MethodDelete:
		s.deleteCategory(w, r)
	default:
		methodNotAllowed(w, "GET, POST, DELETE")
	}
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	var filter *core.Type
	if v := r.URL.Query().Get("type"); v != "" {
		t := core.Type(v)
		if !t.Valid() {
			respondError(w, http.StatusBadRequest, "invalid type")
			return
		}
		filter = &t
	}

	categories, err := s.store.ListCategories(r.Context(), userID, filter)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, categories)
}

func (s *Server) createCategory(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	var category core.Category
	if err := decodeJSON(r, &category); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	category.UserID = userID

	if err := category.Validate(); err != nil {
		writeDomainError(w, r, err)
		return
	}
	created, err := s.store.CreateCategory(r.Context(), category)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	slog.InfoContext(r.Context(), "Category created",
		applog.FieldUserID, userID,
		applog.FieldCategory, created.Name,
		applog.FieldTxType, created.Type)

	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) deleteCategory(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	name := r.URL.Query().Get("name")
	catType := core.Type(r.URL.Query().Get("type"))
	if name == "" || !catType.Valid() {
		respondError(w, http.StatusBadRequest, "name and type are required")
		return
	}

	if err := s.store.DeleteCategory(r.Context(), userID, name, catType); err != nil {
		writeDomainError(w, r, err)
		return
	}

	slog.InfoContext(r.Context(), "Category deleted",
		applog.FieldUserID, userID,
		applog.FieldCategory, name)

	w.WriteHeader(http.StatusNoContent)
}
