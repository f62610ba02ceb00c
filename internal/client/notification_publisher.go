// Package client holds outbound integrations: the NATS notification
// publisher consumed by the notifications platform.
package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NotificationPublisher publishes case routing events to NATS.
//
// Subject convention: <prefix>.<event_type>, default prefix
// notifications.case. Event types: case_created, case_advanced,
// case_resolved, case_rejected, case_returned, case_resubmitted,
// case_verified.
//
// All publish operations are non-fatal. Errors are logged but never
// propagated, so notification failures never interrupt case operations.
type NotificationPublisher struct {
	conn          *nats.Conn
	subjectPrefix string
	log           zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventID      string         `json:"event_id"`
	EventType    string         `json:"event_type"`
	OrgCode      string         `json:"org_code"`
	ActorID      string         `json:"actor_id"`
	Recipients   []string       `json:"recipients"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	IsActionable bool           `json:"is_actionable,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Category     string         `json:"category,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher over an established NATS
// connection. conn may be nil when the bus is not configured; the
// publisher then drops all events.
func NewNotificationPublisher(conn *nats.Conn, subjectPrefix string, log zerolog.Logger) *NotificationPublisher {
	if subjectPrefix == "" {
		subjectPrefix = "notifications.case"
	}
	return &NotificationPublisher{conn: conn, subjectPrefix: subjectPrefix, log: log}
}

// PublishCaseEvent publishes one case routing event.
// Subject: <prefix>.<eventType>
func (p *NotificationPublisher) PublishCaseEvent(ctx context.Context, eventType, caseID, orgCode, actorID string, recipients []string, payload map[string]any) {
	if p.conn == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}

	event := &NotificationEvent{
		EventID:      uuid.NewString(),
		EventType:    eventType,
		OrgCode:      orgCode,
		ActorID:      actorID,
		Recipients:   recipients,
		ResourceType: "case",
		ResourceID:   caseID,
		IsActionable: true,
		Severity:     "info",
		Category:     "case_routing",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("%s.%s", p.subjectPrefix, eventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("case_id", caseID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("case_id", caseID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}
