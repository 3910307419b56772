package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"winetours/internal/logging"
)

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Send(ctx context.Context, msg Message) (Status, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(Status), args.Error(1)
}

func TestFireSwallowsFailures(t *testing.T) {
	d := new(mockDispatcher)
	msg := Message{To: "guest@example.com", TemplateID: TemplateFinalInvoice}
	d.On("Send", mock.Anything, msg).Return(StatusFailed, errors.New("smtp down")).Once()

	status := Fire(context.Background(), d, logging.Discard(), msg)
	assert.Equal(t, StatusFailed, status)
	d.AssertExpectations(t)

	assert.Equal(t, StatusFailed, Fire(context.Background(), nil, logging.Discard(), msg))
}

func TestLogDispatcher(t *testing.T) {
	d := NewLogDispatcher(logging.Discard())

	status, err := d.Send(context.Background(), Message{To: "guest@example.com", TemplateID: TemplateDepositInvoice})
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, status)

	_, err = d.Send(context.Background(), Message{TemplateID: TemplateDepositInvoice})
	assert.ErrorIs(t, err, ErrNoRecipient)
}

func TestPubSubDispatcherPublishes(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := pubsub.NewClient(ctx, "winetours-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close()

	topic, err := client.CreateTopic(ctx, "notifications")
	require.NoError(t, err)
	defer topic.Stop()

	d := NewPubSubDispatcher(topic)
	status, err := d.Send(ctx, Message{
		To:         "guest@example.com",
		TemplateID: TemplateProposalAccepted,
		Payload:    map[string]any{"proposal_number": "PRO-25-00001"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, status)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, TemplateProposalAccepted, msgs[0].Attributes["template_id"])

	var got Message
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, "guest@example.com", got.To)
	assert.Equal(t, "PRO-25-00001", got.Payload["proposal_number"])
}
