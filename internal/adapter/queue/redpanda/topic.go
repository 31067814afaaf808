package redpanda

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kmsg"
)

// errTopicAlreadyExists is the Kafka TOPIC_ALREADY_EXISTS error code.
const errTopicAlreadyExists int16 = 36

// requester is the admin surface of *kgo.Client used for topic creation.
type requester interface {
	Request(ctx context.Context, req kmsg.Request) (kmsg.Response, error)
}

// ensureTopics creates the given topics in one request. Topics that already
// exist are not an error.
func ensureTopics(ctx context.Context, client requester, partitions int32, replicationFactor int16, topics ...string) error {
	if partitions <= 0 {
		return fmt.Errorf("partitions must be greater than 0")
	}
	if replicationFactor <= 0 {
		return fmt.Errorf("replication factor must be greater than 0")
	}

	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30000
	for _, topic := range topics {
		if topic == "" {
			continue
		}
		t := kmsg.NewCreateTopicsRequestTopic()
		t.Topic = topic
		t.NumPartitions = partitions
		t.ReplicationFactor = replicationFactor
		req.Topics = append(req.Topics, t)
	}
	if len(req.Topics) == 0 {
		return nil
	}

	resp, err := client.Request(ctx, &req)
	if err != nil {
		return fmt.Errorf("create topics request: %w", err)
	}
	created, ok := resp.(*kmsg.CreateTopicsResponse)
	if !ok {
		return fmt.Errorf("unexpected response type: %T", resp)
	}

	for _, t := range created.Topics {
		switch t.ErrorCode {
		case 0:
			slog.Info("topic created", slog.String("topic", t.Topic), slog.Int("partitions", int(partitions)))
		case errTopicAlreadyExists:
			slog.Debug("topic already exists", slog.String("topic", t.Topic))
		default:
			msg := ""
			if t.ErrorMessage != nil {
				msg = *t.ErrorMessage
			}
			return fmt.Errorf("create topic %s: %s (code %d)", t.Topic, msg, t.ErrorCode)
		}
	}
	return nil
}
