package gamification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
)

type publishedMessage struct {
	exchange   string
	routingKey string
	publishing amqp.Publishing
}

type recordingChannel struct {
	published []publishedMessage
	err       error
}

func (channel *recordingChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if channel.err != nil {
		return channel.err
	}
	channel.published = append(channel.published, publishedMessage{exchange: exchange, routingKey: key, publishing: msg})
	return nil
}

func TestBrokerAwarderPublishesPersistentMessage(t *testing.T) {
	channel := &recordingChannel{}
	occurredAt := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	awarder := newBrokerAwarder(channel, BrokerConfig{
		Clock: func() time.Time { return occurredAt },
	}, nil)

	require.NoError(t, awarder.Award(context.Background(), "user-1", ActionApplyInternship))

	require.Len(t, channel.published, 1)
	message := channel.published[0]
	require.Equal(t, defaultExchange, message.exchange)
	require.Equal(t, defaultRoutingKey, message.routingKey)
	require.Equal(t, amqp.Persistent, message.publishing.DeliveryMode)
	require.Equal(t, contentTypeJSON, message.publishing.ContentType)

	var body AwardMessage
	require.NoError(t, json.Unmarshal(message.publishing.Body, &body))
	require.Equal(t, AwardMessage{
		UserID:     "user-1",
		Action:     "APPLY_INTERNSHIP",
		Points:     50,
		OccurredAt: occurredAt,
	}, body)
}

func TestBrokerAwarderUsesConfiguredTopology(t *testing.T) {
	channel := &recordingChannel{}
	awarder := newBrokerAwarder(channel, BrokerConfig{Exchange: "xp", RoutingKey: "award"}, nil)

	require.NoError(t, awarder.Award(context.Background(), "user-1", ActionApplyInternship))
	require.Equal(t, "xp", channel.published[0].exchange)
	require.Equal(t, "award", channel.published[0].routingKey)
}

func TestBrokerAwarderSurfacesPublishFailure(t *testing.T) {
	channelErr := errors.New("channel closed")
	awarder := newBrokerAwarder(&recordingChannel{err: channelErr}, BrokerConfig{}, nil)

	err := awarder.Award(context.Background(), "user-1", ActionApplyInternship)
	require.ErrorIs(t, err, channelErr)
}

func TestBrokerAwarderValidatesInput(t *testing.T) {
	channel := &recordingChannel{}
	awarder := newBrokerAwarder(channel, BrokerConfig{}, nil)

	require.ErrorIs(t, awarder.Award(context.Background(), "", ActionApplyInternship), ErrMissingUserID)
	require.ErrorIs(t, awarder.Award(context.Background(), "user-1", Action("UNKNOWN")), ErrUnknownAction)
	require.Empty(t, channel.published)
}

func TestDialBrokerAwarderRequiresURL(t *testing.T) {
	_, err := DialBrokerAwarder(BrokerConfig{}, nil)
	require.ErrorIs(t, err, errMissingBrokerURL)
}
