package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/xela07ax/attackmap/internal/connectors"
	"github.com/xela07ax/attackmap/internal/domain"
	"github.com/xela07ax/attackmap/internal/ingest"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Upstream — REST-апстрим поверх надёжного Fetcher: снапшот для бутстрапа
// и серверные агрегаты для режима charts.source=remote.
type Upstream struct {
	fetch     Fetcher
	endpoints []string
	logger    *zap.Logger
}

func NewUpstream(fetch Fetcher, bootstrapEndpoints []string, logger *zap.Logger) *Upstream {
	if len(bootstrapEndpoints) == 0 {
		bootstrapEndpoints = []string{connectors.EndpointLogs}
	}
	return &Upstream{
		fetch:     fetch,
		endpoints: bootstrapEndpoints,
		logger:    logger.Named("upstream"),
	}
}

// Snapshot склеивает ответы эндпоинтов бутстрапа в порядке конфигурации.
// Частичный успех допустим; ошибка возвращается, только если не ответил ни один.
func (u *Upstream) Snapshot(ctx context.Context) ([]domain.AttackRecord, error) {
	var (
		all  []domain.AttackRecord
		errs []error
		ok   int
	)
	for _, ep := range u.endpoints {
		body, err := u.fetch.Get(ctx, ep)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		records, dropped, err := ingest.DecodeRecords(body)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ep, err))
			continue
		}
		if dropped > 0 {
			u.logger.Warn("bootstrap records dropped", zap.String("endpoint", ep), zap.Int("dropped", dropped))
		}
		ok++
		all = append(all, records...)
	}

	if ok == 0 {
		return nil, fmt.Errorf("bootstrap: %w", errors.Join(errs...))
	}
	if len(errs) > 0 {
		u.logger.Warn("bootstrap partially failed", zap.Error(errors.Join(errs...)))
	}
	return all, nil
}

// RemoteStats параллельно тянет четыре агрегата. Любая ошибка отменяет остальные.
func (u *Upstream) RemoteStats(ctx context.Context, topN int) (domain.GlobalStats, error) {
	var (
		countries []domain.CountryCount
		trend     []domain.DateCount
		hours     []domain.HourCount
		total     struct {
			Count int64 `json:"count"`
		}
	)

	g, gctx := errgroup.WithContext(ctx)
	topEndpoint := connectors.EndpointTopCountries
	if topN > 0 {
		topEndpoint += "?limit=" + strconv.Itoa(topN)
	}
	g.Go(func() error { return u.getJSON(gctx, topEndpoint, &countries) })
	g.Go(func() error { return u.getJSON(gctx, connectors.EndpointAttackTrends, &trend) })
	g.Go(func() error { return u.getJSON(gctx, connectors.EndpointTimeOfDay, &hours) })
	g.Go(func() error { return u.getJSON(gctx, connectors.EndpointLogCounts, &total) })
	if err := g.Wait(); err != nil {
		return domain.GlobalStats{}, err
	}

	// Апстрим может не уважать limit
	if topN > 0 && len(countries) > topN {
		countries = countries[:topN]
	}
	for i := range countries {
		if countries[i].Country == "" {
			countries[i].Country = domain.Unknown
		}
	}
	if countries == nil {
		countries = []domain.CountryCount{}
	}
	if trend == nil {
		trend = []domain.DateCount{}
	}

	var series [24]int64
	for _, h := range hours {
		if h.Hour >= 0 && h.Hour < 24 {
			series[h.Hour] += h.Count
		}
	}

	return domain.GlobalStats{
		Total:        total.Count,
		TopCountries: countries,
		Trend:        domain.AttackTrend{Label: fmt.Sprintf("Attacks (%d total)", total.Count), Points: trend},
		HourOfDay:    series,
		Source:       "remote",
	}, nil
}

func (u *Upstream) getJSON(ctx context.Context, endpoint string, dst any) error {
	body, err := u.fetch.Get(ctx, endpoint)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%s: %w: %v", endpoint, ingest.ErrMalformedPayload, err)
	}
	return nil
}
