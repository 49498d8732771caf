package poll

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"supporterhub/internal/ingestion"
	"supporterhub/internal/settings"
	"supporterhub/internal/sources/mocks"
	"supporterhub/internal/storage/memory"
	id "supporterhub/pkg/domain"
	dErrors "supporterhub/pkg/domain-errors"
	"supporterhub/pkg/requestcontext"
)

type fakeIngester struct {
	mu       sync.Mutex
	outcomes map[string]ingestion.Outcome
	errs     map[string]error
	seen     []string
}

func (f *fakeIngester) Ingest(_ context.Context, _ id.SourceSystem, msg ingestion.Message) (ingestion.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, msg.Type)
	if err := f.errs[msg.Type]; err != nil {
		return ingestion.Result{}, err
	}
	outcome, ok := f.outcomes[msg.Type]
	if !ok {
		outcome = ingestion.OutcomeCreated
	}
	return ingestion.Result{Outcome: outcome}, nil
}

type PollerSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	store    *memory.Store
	ingester *fakeIngester
	shopify  *mocks.MockClient
	ctx      context.Context
	now      time.Time
	key      string
}

func TestPollerSuite(t *testing.T) {
	suite.Run(t, new(PollerSuite))
}

func (s *PollerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = memory.New()
	s.ingester = &fakeIngester{outcomes: map[string]ingestion.Outcome{}, errs: map[string]error{}}
	s.shopify = mocks.NewMockClient(s.ctrl)
	s.shopify.EXPECT().Source().Return(id.SourceShopify).AnyTimes()
	s.now = time.Date(2026, 6, 20, 8, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.key = settings.PollCheckpointKey(id.SourceShopify, "order")
}

func (s *PollerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *PollerSuite) poller(opts ...Option) *Poller {
	p, err := New(s.store, s.ingester, []Target{{Kind: "order", Client: s.shopify}}, opts...)
	s.Require().NoError(err)
	return p
}

func (s *PollerSuite) checkpoint() time.Time {
	t, err := settings.Timestamp(s.ctx, s.store, s.key)
	s.Require().NoError(err)
	return t
}

func (s *PollerSuite) TestNew() {
	_, err := New(nil, s.ingester, nil)
	s.ErrorContains(err, "settings store is required")
	_, err = New(s.store, nil, nil)
	s.ErrorContains(err, "ingester is required")
	_, err = New(s.store, s.ingester, []Target{{Client: s.shopify}})
	s.ErrorContains(err, "kind")
}

func (s *PollerSuite) TestFirstRunUsesInitialLookback() {
	s.shopify.EXPECT().FetchSince(gomock.Any(), s.now.Add(-2*time.Hour)).
		Return([]ingestion.Message{{Type: "orders/create"}, {Type: "orders/paid"}}, nil)
	s.ingester.outcomes["orders/paid"] = ingestion.OutcomeDuplicate

	summary, err := s.poller(WithInitialLookback(2 * time.Hour)).Run(s.ctx)
	s.Require().NoError(err)
	s.Equal("ok", summary.Status())
	report := summary.Targets[0]
	s.Equal(1, report.Created)
	s.Equal(1, report.Duplicates)
	s.True(report.Advanced)
	s.True(s.checkpoint().Equal(s.now))
}

func (s *PollerSuite) TestResumesFromCheckpoint() {
	last := s.now.Add(-15 * time.Minute)
	s.Require().NoError(settings.SetTimestamp(s.ctx, s.store, s.key, last))
	s.shopify.EXPECT().FetchSince(gomock.Any(), last).Return(nil, nil)

	_, err := s.poller().Run(s.ctx)
	s.Require().NoError(err)
	s.True(s.checkpoint().Equal(s.now))
}

func (s *PollerSuite) TestIngestFailureKeepsCheckpoint() {
	last := s.now.Add(-time.Hour)
	s.Require().NoError(settings.SetTimestamp(s.ctx, s.store, s.key, last))
	s.shopify.EXPECT().FetchSince(gomock.Any(), last).
		Return([]ingestion.Message{{Type: "orders/create"}, {Type: "orders/paid"}}, nil)
	s.ingester.errs["orders/paid"] = errors.New("database is down")

	summary, err := s.poller().Run(s.ctx)
	s.Require().NoError(err)
	s.Equal("partial", summary.Status())
	s.False(summary.Targets[0].Advanced)
	s.True(s.checkpoint().Equal(last), "the whole batch is fetched again next run")
}

func (s *PollerSuite) TestFetchFailureKeepsCheckpoint() {
	s.shopify.EXPECT().FetchSince(gomock.Any(), gomock.Any()).
		Return(nil, dErrors.New(dErrors.CodeUnavailable, "shopify circuit open"))

	summary, err := s.poller().Run(s.ctx)
	s.Require().NoError(err)
	s.Contains(summary.Targets[0].Err, "circuit open")
	s.True(s.checkpoint().IsZero())
}

func (s *PollerSuite) TestMalformedRecordsDoNotBlockTheBatch() {
	s.shopify.EXPECT().FetchSince(gomock.Any(), gomock.Any()).
		Return([]ingestion.Message{{Type: "orders/create"}, {Type: "orders/paid"}}, nil)
	s.ingester.errs["orders/create"] = dErrors.New(dErrors.CodeMalformedMessage, "order id is required")

	summary, err := s.poller().Run(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, summary.Targets[0].Rejected)
	s.Equal(1, summary.Targets[0].Created)
	s.True(summary.Targets[0].Advanced)
}
