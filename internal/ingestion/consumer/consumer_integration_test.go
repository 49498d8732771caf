//go:build integration

package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"supporterhub/internal/identity"
	"supporterhub/internal/ingestion"
	"supporterhub/internal/storage/memory"
	id "supporterhub/pkg/domain"
	"supporterhub/pkg/testutil/containers"
)

type ConsumerIntegrationSuite struct {
	suite.Suite
	broker string
	store  *memory.Store
	topic  string
	cons   *Consumer
}

func TestConsumerIntegrationSuite(t *testing.T) {
	suite.Run(t, new(ConsumerIntegrationSuite))
}

func (s *ConsumerIntegrationSuite) SetupSuite() {
	s.broker = containers.GetManager().GetRedpanda(s.T()).Broker
}

func (s *ConsumerIntegrationSuite) SetupTest() {
	s.store = memory.New()
	resolver, err := identity.New(s.store)
	s.Require().NoError(err)
	processor, err := ingestion.New(s.store, s.store, resolver)
	s.Require().NoError(err)

	s.topic = "supporterhub.it." + uuid.NewString() + ".shopify"
	router := NewRouter(nil)
	router.Register(s.topic, NewIngestHandler(id.SourceShopify, processor, nil))

	s.cons, err = New(Config{
		Brokers:      []string{s.broker},
		Group:        "it-" + uuid.NewString(),
		MaxAttempts:  2,
		RetryInitial: 10 * time.Millisecond,
		RetryMax:     20 * time.Millisecond,
		Partitions:   1,
	}, router)
	s.Require().NoError(err)
	s.Require().NoError(s.cons.EnsureTopics(context.Background()))
}

func (s *ConsumerIntegrationSuite) TearDownTest() {
	s.cons.Close()
}

func (s *ConsumerIntegrationSuite) produce(values ...string) {
	client, err := kgo.NewClient(kgo.SeedBrokers(s.broker))
	s.Require().NoError(err)
	defer client.Close()

	records := make([]*kgo.Record, 0, len(values))
	for _, v := range values {
		records = append(records, &kgo.Record{Topic: s.topic, Value: []byte(v)})
	}
	s.Require().NoError(client.ProduceSync(context.Background(), records...).FirstErr())
}

func (s *ConsumerIntegrationSuite) TestAppliesAndDeadLetters() {
	order := `{"type":"orders/paid","data":{"id":"9001","email":"kafka@example.com","created_at":"2026-05-30T12:00:00Z","total_price":"12.00"}}`
	s.produce(order, "not json", order)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.cons.Run(ctx) }()

	s.Eventually(func() bool {
		found, err := s.store.FindSupportersByEmail(context.Background(), "kafka@example.com")
		if err != nil || len(found) != 1 {
			return false
		}
		events, err := s.store.ListEventsBySupporter(context.Background(), found[0].ID)
		return err == nil && len(events) == 1
	}, 30*time.Second, 200*time.Millisecond, "duplicate delivery must not create a second event")

	dlq, err := kgo.NewClient(
		kgo.SeedBrokers(s.broker),
		kgo.ConsumeTopics(s.topic+DLQSuffix),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer dlq.Close()

	pollCtx, pollCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer pollCancel()
	var dead []*kgo.Record
	for len(dead) == 0 && pollCtx.Err() == nil {
		dead = append(dead, dlq.PollFetches(pollCtx).Records()...)
	}
	s.Require().Len(dead, 1)
	s.Equal("not json", string(dead[0].Value))
	s.Equal("malformed_message", headerValue(dead[0], "dlq.error_code"))
}
