// Package settings loads durable runtime settings. Jobs call Load once at the
// start of a run and work from the returned RunConfig; nothing here is a
// process-wide singleton.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	id "supporterhub/pkg/domain"
	"supporterhub/pkg/platform/sentinel"
)

// Keys of the settings table.
const (
	KeyGraceDays            = "classifier.grace_days"
	KeyAwayLookbackDays     = "classifier.away_lookback_days"
	KeyGeneralLookbackDays  = "classifier.general_lookback_days"
	KeyTicketLookbackDays   = "classifier.ticket_lookback_days"
	KeyShopLookbackDays     = "classifier.shop_lookback_days"
	KeyReconcileLookbackHrs = "reconcile.lookback_hours"
	KeyReconcileAlert       = "reconcile.alert_threshold"
	KeyReconcileLastRun     = "reconcile.last_run_at"
	KeyClassifierLastRun    = "classifier.last_run_at"
	KeyTagSyncLastRun       = "tagsync.last_run_at"
)

// Store is the key/value table backing runtime settings.
type Store interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	AllSettings(ctx context.Context) (map[string]string, error)
}

// RunConfig is the immutable view of settings for one job run.
type RunConfig struct {
	GraceDays               int
	AwayLookback            time.Duration
	GeneralLookback         time.Duration
	TicketLookback          time.Duration
	ShopLookback            time.Duration
	ReconcileLookback       time.Duration
	ReconcileAlertThreshold int
}

const day = 24 * time.Hour

// Defaults returns the values used when a key is absent.
func Defaults() RunConfig {
	return RunConfig{
		GraceDays:               7,
		AwayLookback:            730 * day,
		GeneralLookback:         365 * day,
		TicketLookback:          365 * day,
		ShopLookback:            365 * day,
		ReconcileLookback:       72 * time.Hour,
		ReconcileAlertThreshold: 25,
	}
}

// Load reads every setting once. Malformed values are an error rather than a
// silent fallback so a typo in the table does not quietly change behaviour.
func Load(ctx context.Context, store Store) (RunConfig, error) {
	raw, err := store.AllSettings(ctx)
	if err != nil {
		return RunConfig{}, fmt.Errorf("load settings: %w", err)
	}
	cfg := Defaults()
	ints := []struct {
		key string
		set func(int)
	}{
		{KeyGraceDays, func(v int) { cfg.GraceDays = v }},
		{KeyAwayLookbackDays, func(v int) { cfg.AwayLookback = time.Duration(v) * day }},
		{KeyGeneralLookbackDays, func(v int) { cfg.GeneralLookback = time.Duration(v) * day }},
		{KeyTicketLookbackDays, func(v int) { cfg.TicketLookback = time.Duration(v) * day }},
		{KeyShopLookbackDays, func(v int) { cfg.ShopLookback = time.Duration(v) * day }},
		{KeyReconcileLookbackHrs, func(v int) { cfg.ReconcileLookback = time.Duration(v) * time.Hour }},
		{KeyReconcileAlert, func(v int) { cfg.ReconcileAlertThreshold = v }},
	}
	for _, entry := range ints {
		value, ok := raw[entry.key]
		if !ok || value == "" {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return RunConfig{}, fmt.Errorf("setting %s: invalid non-negative integer %q", entry.key, value)
		}
		entry.set(n)
	}
	return cfg, nil
}

// Timestamp reads an ISO-8601 instant. A missing or empty value returns the
// zero time and no error.
func Timestamp(ctx context.Context, store Store, key string) (time.Time, error) {
	value, err := store.GetSetting(ctx, key)
	if errors.Is(err, sentinel.ErrNotFound) || (err == nil && value == "") {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get setting %s: %w", key, err)
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("setting %s: invalid timestamp %q", key, value)
	}
	return t, nil
}

// SetTimestamp stores an instant in RFC 3339 form.
func SetTimestamp(ctx context.Context, store Store, key string, t time.Time) error {
	if err := store.SetSetting(ctx, key, t.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// PollCheckpointKey names the per-source poll checkpoint for one entity kind,
// e.g. "poll.shopify.last_order_fetch".
func PollCheckpointKey(source id.SourceSystem, kind string) string {
	return fmt.Sprintf("poll.%s.last_%s_fetch", source, kind)
}
