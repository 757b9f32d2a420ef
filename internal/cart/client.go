package cart

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type submitItem struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

type submitRequest struct {
	OrderCode string       `json:"orderCode"`
	Items     []submitItem `json:"items"`
	Total     float64      `json:"total"`
}

type submitResponse struct {
	Success   bool   `json:"success"`
	OrderID   int64  `json:"orderId"`
	OrderCode string `json:"orderCode"`
	Message   string `json:"message"`
}

// HTTPSubmitter posts orders to a running order service.
type HTTPSubmitter struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPSubmitter(baseURL string, timeout time.Duration) *HTTPSubmitter {
	return &HTTPSubmitter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (h *HTTPSubmitter) Submit(ctx context.Context, o Order) (*Receipt, error) {
	payload := submitRequest{
		OrderCode: o.Code,
		Items:     make([]submitItem, 0, len(o.Lines)),
		Total:     o.Total.InexactFloat64(),
	}
	for _, l := range o.Lines {
		payload.Items = append(payload.Items, submitItem{Name: l.Name, Price: l.Price.InexactFloat64()})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode order: %v", ErrCheckoutFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/submit-order", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckoutFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckoutFailed, err)
	}
	defer resp.Body.Close()

	var out submitResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)

	switch {
	case resp.StatusCode == http.StatusConflict:
		return nil, fmt.Errorf("%w: %s", ErrCodeCollision, o.Code)
	case resp.StatusCode != http.StatusCreated:
		msg := out.Message
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %s (status %d)", ErrCheckoutFailed, msg, resp.StatusCode)
	case decodeErr != nil:
		return nil, fmt.Errorf("%w: invalid response: %v", ErrCheckoutFailed, decodeErr)
	}

	return &Receipt{OrderID: out.OrderID, OrderCode: out.OrderCode, Total: o.Total}, nil
}
