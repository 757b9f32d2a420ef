package http_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	handlerhttp "github.com/mthsnx/caffe-diem/internal/handler/http"
	"github.com/mthsnx/caffe-diem/internal/menu"
)

func TestMenuHandler_GetMenu(t *testing.T) {
	catalog, err := menu.Parse([]byte(`
items:
  - {id: 1, name: Carpe Diem Latte, price: "4.95", category: coffee, image: latte.jpg}
  - {id: 3, name: Americano, price: "3.45", category: coffee}
  - {id: 6, name: Avocado Toast, price: "6.50", category: food}
`))
	require.NoError(t, err)

	router := chi.NewRouter()
	handlerhttp.NewMenuHandler(catalog).RegisterRoutes(router)

	tests := []struct {
		name      string
		query     string
		wantNames []string
	}{
		{name: "all", query: "", wantNames: []string{"Carpe Diem Latte", "Americano", "Avocado Toast"}},
		{name: "coffee", query: "?category=coffee", wantNames: []string{"Carpe Diem Latte", "Americano"}},
		{name: "unknown category", query: "?category=tea", wantNames: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/menu"+tt.query, nil))
			require.Equal(t, http.StatusOK, rr.Code)

			var resp handlerhttp.MenuResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, []string{"coffee", "food"}, resp.Categories)

			names := make([]string, 0, len(resp.Items))
			for _, item := range resp.Items {
				names = append(names, item.Name)
			}
			assert.Equal(t, tt.wantNames, names)
		})
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/menu?category=coffee", nil))
	var resp handlerhttp.MenuResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, handlerhttp.MenuItemResponse{ID: 1, Name: "Carpe Diem Latte", Price: 4.95, Category: "coffee", Image: "latte.jpg"}, resp.Items[0])
}
