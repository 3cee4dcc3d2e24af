package sink

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// PubSub publishes readings as JSON messages with device and sensor
// attributes.
type PubSub struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSub connects to topic in project. opts are passed to the client,
// typically option.WithCredentialsFile.
func NewPubSub(ctx context.Context, project, topic string, opts ...option.ClientOption) (*PubSub, error) {
	client, err := pubsub.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("sink: Pub/Sub client: %w", err)
	}
	return &PubSub{
		client: client,
		topic:  client.Topic(topic),
	}, nil
}

func (p *PubSub) Write(ctx context.Context, r Reading) error {
	data, err := Encode(r, FormatJSON)
	if err != nil {
		return err
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"device": r.Device,
			"sensor": Slug(r.Sensor),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("sink: Pub/Sub publish: %w", err)
	}
	return nil
}

func (p *PubSub) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
