package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/shelfscout/scraper/internal/catalog"
)

func (s *Server) listNavigations(w http.ResponseWriter, r *http.Request) {
	navs, err := s.repos.Navigations.List(r.Context())
	if err != nil {
		s.logger.Error("list navigations failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list navigations")
		return
	}
	if navs == nil {
		navs = []catalog.Navigation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"navigations": navs})
}

// getNavigation returns one navigation section plus its categories.
func (s *Server) getNavigation(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	nav, err := s.repos.Navigations.FindBySlug(r.Context(), slug)
	if err != nil {
		s.writeDomainError(w, err, "get navigation failed")
		return
	}
	categories, err := s.repos.Categories.ListByNavigation(r.Context(), nav.ID)
	if err != nil {
		s.logger.Error("list navigation categories failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list categories")
		return
	}
	if categories == nil {
		categories = []catalog.Category{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"navigation": nav,
		"categories": categories,
	})
}

func (s *Server) getCategory(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	cat, err := s.repos.Categories.FindBySlug(r.Context(), slug)
	if err != nil {
		s.writeDomainError(w, err, "get category failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"category": cat})
}

// listCategoryProducts returns one page of a category's active products.
func (s *Server) listCategoryProducts(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultProductLimit, maxProductLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseOffset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cat, err := s.repos.Categories.FindBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.writeDomainError(w, err, "get category failed")
		return
	}
	products, total, err := s.repos.Products.ListByCategory(r.Context(), cat.ID, limit, offset)
	if err != nil {
		s.logger.Error("list category products failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list products")
		return
	}
	if products == nil {
		products = []catalog.Product{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"products": products,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// getProduct returns one product with its detail extension and reviews when
// they exist.
func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	product, err := s.repos.Products.FindBySourceID(r.Context(), sourceID)
	if err != nil {
		s.writeDomainError(w, err, "get product failed")
		return
	}

	payload := map[string]any{"product": product}
	if detail, err := s.repos.Details.FindByProductID(r.Context(), product.ID); err == nil {
		payload["detail"] = detail
	}
	reviews, err := s.repos.Reviews.ListByProduct(r.Context(), product.ID)
	if err != nil {
		s.logger.Error("list product reviews failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list reviews")
		return
	}
	if reviews == nil {
		reviews = []catalog.Review{}
	}
	payload["reviews"] = reviews
	writeJSON(w, http.StatusOK, payload)
}
