// Package events announces order status changes to interested consumers such
// as the pickup-counter display.
package events

import (
	"context"
	"time"
)

// StatusChanged is published after every successful status write.
type StatusChanged struct {
	OrderCode  string    `json:"order_code"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Publisher interface {
	PublishStatusChanged(ctx context.Context, evt StatusChanged) error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishStatusChanged(context.Context, StatusChanged) error { return nil }
