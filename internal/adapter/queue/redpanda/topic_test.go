package redpanda

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kmsg"
)

type fakeRequester struct {
	codes map[string]int16
	err   error
	got   *kmsg.CreateTopicsRequest
}

func (f *fakeRequester) Request(_ context.Context, req kmsg.Request) (kmsg.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	ct := req.(*kmsg.CreateTopicsRequest)
	f.got = ct
	resp := kmsg.NewPtrCreateTopicsResponse()
	for _, t := range ct.Topics {
		rt := kmsg.NewCreateTopicsResponseTopic()
		rt.Topic = t.Topic
		rt.ErrorCode = f.codes[t.Topic]
		resp.Topics = append(resp.Topics, rt)
	}
	return resp, nil
}

func TestEnsureTopics(t *testing.T) {
	ctx := context.Background()

	t.Run("creates and tolerates existing", func(t *testing.T) {
		f := &fakeRequester{codes: map[string]int16{"dlq": errTopicAlreadyExists}}
		require.NoError(t, ensureTopics(ctx, f, 1, 1, "events", "dlq", ""))
		require.Len(t, f.got.Topics, 2)
		assert.Equal(t, "events", f.got.Topics[0].Topic)
	})

	t.Run("broker error code", func(t *testing.T) {
		f := &fakeRequester{codes: map[string]int16{"events": 41}}
		err := ensureTopics(ctx, f, 1, 1, "events")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "code 41")
	})

	t.Run("request error", func(t *testing.T) {
		f := &fakeRequester{err: errors.New("dial")}
		require.Error(t, ensureTopics(ctx, f, 1, 1, "events"))
	})

	t.Run("invalid args", func(t *testing.T) {
		assert.Error(t, ensureTopics(ctx, &fakeRequester{}, 0, 1, "events"))
		assert.Error(t, ensureTopics(ctx, &fakeRequester{}, 1, 0, "events"))
		assert.NoError(t, ensureTopics(ctx, &fakeRequester{}, 1, 1))
	})
}
