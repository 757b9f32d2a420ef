package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mthsnx/caffe-diem/internal/menu"
)

type MenuItemResponse struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Category    string  `json:"category"`
	Image       string  `json:"image"`
}

type MenuResponse struct {
	Categories []string           `json:"categories"`
	Items      []MenuItemResponse `json:"items"`
}

type MenuHandler struct {
	catalog *menu.Catalog
}

func NewMenuHandler(catalog *menu.Catalog) *MenuHandler {
	return &MenuHandler{catalog: catalog}
}

func (h *MenuHandler) RegisterRoutes(router chi.Router) {
	router.Get("/menu", h.handleGetMenu)
}

func (h *MenuHandler) handleGetMenu(w http.ResponseWriter, r *http.Request) {
	items := h.catalog.ByCategory(r.URL.Query().Get("category"))

	response := MenuResponse{
		Categories: h.catalog.Categories(),
		Items:      make([]MenuItemResponse, 0, len(items)),
	}
	for _, item := range items {
		response.Items = append(response.Items, MenuItemResponse{
			ID:          item.ID,
			Name:        item.Name,
			Description: item.Description,
			Price:       item.Price.InexactFloat64(),
			Category:    item.Category,
			Image:       item.Image,
		})
	}

	respondWithJSON(w, http.StatusOK, response)
}
