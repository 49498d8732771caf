package sources

//go:generate mockgen -source=client.go -destination=mocks/mocks.go -package=mocks Client,AudienceClient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"supporterhub/internal/ingestion"
	"supporterhub/internal/sources/mocks"
	id "supporterhub/pkg/domain"
	dErrors "supporterhub/pkg/domain-errors"
)

type ResilientSuite struct {
	suite.Suite
	ctrl  *gomock.Controller
	inner *mocks.MockClient
	ctx   context.Context
	since time.Time
}

func TestResilientSuite(t *testing.T) {
	suite.Run(t, new(ResilientSuite))
}

func (s *ResilientSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.inner = mocks.NewMockClient(s.ctrl)
	s.inner.EXPECT().Source().Return(id.SourceShopify).AnyTimes()
	s.ctx = context.Background()
	s.since = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
}

func (s *ResilientSuite) TearDownTest() {
	s.ctrl.Finish()
}

func fastConfig() GuardConfig {
	return GuardConfig{
		CallTimeout:  time.Second,
		MaxRetries:   3,
		RetryInitial: time.Millisecond,
		RetryMax:     2 * time.Millisecond,
		TripAfter:    10,
		OpenFor:      time.Minute,
	}
}

func (s *ResilientSuite) TestRetriesTransientFailures() {
	unavailable := dErrors.New(dErrors.CodeUnavailable, "shopify 503")
	want := []ingestion.Message{{Type: "orders/create"}}
	gomock.InOrder(
		s.inner.EXPECT().FetchSince(gomock.Any(), s.since).Return(nil, unavailable),
		s.inner.EXPECT().FetchSince(gomock.Any(), s.since).Return(nil, unavailable),
		s.inner.EXPECT().FetchSince(gomock.Any(), s.since).Return(want, nil),
	)

	client := NewResilientClient(s.inner, fastConfig(), nil)
	got, err := client.FetchSince(s.ctx, s.since)
	s.Require().NoError(err)
	s.Equal(want, got)
	s.Equal(id.SourceShopify, client.Source())
}

func (s *ResilientSuite) TestPermanentFailuresAreNotRetried() {
	s.inner.EXPECT().FetchSince(gomock.Any(), s.since).
		Return(nil, dErrors.New(dErrors.CodeInvalidInput, "upstream returned 401")).Times(1)

	_, err := NewResilientClient(s.inner, fastConfig(), nil).FetchSince(s.ctx, s.since)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *ResilientSuite) TestRetriesAreBounded() {
	s.inner.EXPECT().FetchSince(gomock.Any(), s.since).
		Return(nil, dErrors.New(dErrors.CodeUnavailable, "down")).Times(4)

	_, err := NewResilientClient(s.inner, fastConfig(), nil).FetchSince(s.ctx, s.since)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func (s *ResilientSuite) TestBreakerOpensAndFailsFast() {
	cfg := fastConfig()
	cfg.TripAfter = 2
	s.inner.EXPECT().FetchSince(gomock.Any(), s.since).
		Return(nil, dErrors.New(dErrors.CodeUnavailable, "down")).Times(2)

	client := NewResilientClient(s.inner, cfg, nil)
	_, err := client.FetchSince(s.ctx, s.since)
	s.ErrorContains(err, "circuit open")
	s.Equal("open", client.guard.State())

	_, err = client.FetchSince(s.ctx, s.since)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable), "open breaker rejects without calling upstream")
}

func (s *ResilientSuite) TestCallTimeout() {
	cfg := fastConfig()
	cfg.CallTimeout = 10 * time.Millisecond
	cfg.MaxRetries = 0
	s.inner.EXPECT().FetchSince(gomock.Any(), s.since).DoAndReturn(
		func(ctx context.Context, _ time.Time) ([]ingestion.Message, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	_, err := NewResilientClient(s.inner, cfg, nil).FetchSince(s.ctx, s.since)
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
}

func (s *ResilientSuite) TestAudienceUpdateIsGuarded() {
	audience := mocks.NewMockAudienceClient(s.ctrl)
	audience.EXPECT().System().Return(id.SourceMailchimp).AnyTimes()
	gomock.InOrder(
		audience.EXPECT().UpdateTags(gomock.Any(), "aud", "m1", []string{"member"}, nil).
			Return(dErrors.New(dErrors.CodeUnavailable, "mailchimp 502")),
		audience.EXPECT().UpdateTags(gomock.Any(), "aud", "m1", []string{"member"}, nil).Return(nil),
	)

	err := NewResilientAudience(audience, fastConfig(), nil).UpdateTags(s.ctx, "aud", "m1", []string{"member"}, nil)
	s.NoError(err)
}

func (s *ResilientSuite) TestRegistry() {
	r := NewRegistry()
	s.Require().NoError(r.Register(s.inner))
	s.ErrorContains(r.Register(s.inner), "already registered")

	got, ok := r.Get(id.SourceShopify)
	s.True(ok)
	s.Same(s.inner, got)
	_, ok = r.Get(id.SourceStripe)
	s.False(ok)
	s.Len(r.All(), 1)
}
