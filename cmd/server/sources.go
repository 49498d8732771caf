package main

import (
	"log/slog"
	"net/http"

	"supporterhub/internal/platform/config"
	"supporterhub/internal/poll"
	"supporterhub/internal/sources"
	id "supporterhub/pkg/domain"
)

type sourceWiring struct {
	registry  *sources.Registry
	audiences []sources.AudienceClient
	polled    []poll.Target
}

func sourceConfigs(cfg config.SourcesConfig) map[id.SourceSystem]config.SourceConfig {
	return map[id.SourceSystem]config.SourceConfig{
		id.SourceShopify:         cfg.Shopify,
		id.SourceFutureTicketing: cfg.FutureTicketing,
		id.SourceStripe:          cfg.Stripe,
		id.SourceGoCardless:      cfg.GoCardless,
		id.SourceMailchimp:       cfg.Mailchimp,
	}
}

// wireSources wraps every configured connector in the resilience guard.
// Sources without a feed URL take part in live ingestion only.
func wireSources(cfg config.SourcesConfig, logger *slog.Logger) (*sourceWiring, error) {
	guard := sources.GuardConfig{
		CallTimeout:  cfg.CallTimeout,
		MaxRetries:   cfg.MaxRetries,
		RetryInitial: cfg.RetryInitial,
		RetryMax:     cfg.RetryMax,
		TripAfter:    cfg.TripAfter,
		OpenFor:      cfg.OpenFor,
	}
	httpClient := &http.Client{}

	w := &sourceWiring{registry: sources.NewRegistry()}
	byName := sourceConfigs(cfg)
	for _, source := range id.AllSources() {
		sc := byName[source]
		if sc.FeedURL == "" {
			continue
		}
		client := sources.NewResilientClient(sources.NewHTTPClient(source, sc.FeedURL, sc.Token, httpClient), guard, logger)
		if err := w.registry.Register(client); err != nil {
			return nil, err
		}
		if sc.PollKind != "" {
			w.polled = append(w.polled, poll.Target{Kind: sc.PollKind, Client: client})
		}
		logger.Info("source connector configured", "source", source, "polled", sc.PollKind != "")
	}

	if mc := cfg.Mailchimp; mc.FeedURL != "" {
		audience := sources.NewHTTPAudienceClient(id.SourceMailchimp, mc.FeedURL, mc.Token, httpClient)
		w.audiences = append(w.audiences, sources.NewResilientAudience(audience, guard, logger))
	}
	return w, nil
}
