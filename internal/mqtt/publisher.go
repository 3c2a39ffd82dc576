// publisher.go: event-bus subscriber publishing the live feed over MQTT.
package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/sentinel-vision/sentinel-agent/internal/events"
	"github.com/sentinel-vision/sentinel-agent/internal/logging"
)

// Publisher forwards activity notifications and periodic stats to the MQTT
// broker. Delivery is fire-and-forget; failures are logged and dropped.
type Publisher struct {
	client      Client
	topicPrefix string
	log         *slog.Logger
}

// NewPublisher creates a bus subscriber over the given client.
func NewPublisher(client Client, topicPrefix string) *Publisher {
	return &Publisher{
		client:      client,
		topicPrefix: topicPrefix,
		log:         logging.ForService("mqtt"),
	}
}

// Name implements events.Subscriber.
func (p *Publisher) Name() string { return "mqtt" }

// eventMessage is the live notification payload.
type eventMessage struct {
	Type         string            `json:"type"`
	Timestamp    int64             `json:"timestamp"`
	TrackID      uint64            `json:"track_id"`
	EmployeeID   string            `json:"employee_id,omitempty"`
	LicensePlate string            `json:"license_plate,omitempty"`
	Duration     int64             `json:"duration"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// OnEvent implements events.Subscriber.
func (p *Publisher) OnEvent(event *events.Event) {
	msg := eventMessage{
		Type:         event.Kind.String(),
		Timestamp:    event.Timestamp.Unix(),
		TrackID:      event.TrackID,
		EmployeeID:   event.EmployeeID,
		LicensePlate: event.PlateText,
		Duration:     int64(event.Duration.Seconds()),
		Metadata:     event.Metadata,
	}
	p.publish(p.topicPrefix+"/events", msg)
}

// OnStats implements events.Subscriber.
func (p *Publisher) OnStats(stats *events.Stats) {
	p.publish(p.topicPrefix+"/stats", stats)
}

func (p *Publisher) publish(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Error("marshal failed", "topic", topic, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.client.Publish(ctx, topic, string(data)); err != nil {
		p.log.Debug("publish dropped", "topic", topic, "error", err)
	}
}
