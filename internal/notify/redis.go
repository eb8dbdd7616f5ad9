package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tally/api/internal/store"
)

const DefaultChannel = "tally:change_requests"

const (
	EventCreated  = "change_request.created"
	EventResolved = "change_request.resolved"
)

// Event is the JSON payload published for every committed transition.
type Event struct {
	Type              string     `json:"type"`
	ChangeRequestID   string     `json:"change_request_id"`
	GroupID           string     `json:"group_id"`
	ItemID            string     `json:"item_id"`
	Kind              string     `json:"change_kind"`
	Status            string     `json:"status"`
	RequestedBy       string     `json:"requested_by"`
	RequiredApprovals int        `json:"required_approvals"`
	ReceivedApprovals int        `json:"received_approvals"`
	Recipients        []string   `json:"recipients,omitempty"`
	ExpiresAt         time.Time  `json:"expires_at"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	ResolutionReason  string     `json:"resolution_reason,omitempty"`
}

// RedisPublisher publishes events on a Redis pub/sub channel so other
// processes (push gateways, websocket fan-out) can react to them.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Channel() string {
	return p.channel
}

func (p *RedisPublisher) NotifyCreated(ctx context.Context, request store.ChangeRequest, recipients []store.Member) error {
	event := newEvent(EventCreated, request)
	for _, member := range recipients {
		event.Recipients = append(event.Recipients, member.UserID)
	}
	return p.publish(ctx, event)
}

func (p *RedisPublisher) NotifyResolved(ctx context.Context, request store.ChangeRequest) error {
	return p.publish(ctx, newEvent(EventResolved, request))
}

func (p *RedisPublisher) publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

func newEvent(eventType string, request store.ChangeRequest) Event {
	return Event{
		Type:              eventType,
		ChangeRequestID:   request.ID,
		GroupID:           request.GroupID,
		ItemID:            request.ItemID,
		Kind:              string(request.Kind),
		Status:            string(request.Status),
		RequestedBy:       request.RequestedBy,
		RequiredApprovals: request.RequiredApprovals,
		ReceivedApprovals: request.ReceivedApprovals,
		ExpiresAt:         request.ExpiresAt,
		ResolvedAt:        request.ResolvedAt,
		ResolutionReason:  request.ResolutionReason,
	}
}
