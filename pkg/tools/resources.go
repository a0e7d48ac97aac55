package tools

import (
	"context"
	"net/url"

	"github.com/harun/tradegate/pkg/broker"
	"github.com/harun/tradegate/pkg/freshness"
	"github.com/harun/tradegate/pkg/persist"
)

// Cached resource kinds resolved through the freshness coordinator
const (
	ResourcePortfolio       = "portfolio"
	ResourceLimits          = "limits"
	ResourceDiscounts       = "discounts"
	ResourceTradingStatus   = "trading_status"
	ResourceTradingSchedule = "trading_schedule"
)

// ResourceKinds lists every cached resource kind
func ResourceKinds() []string {
	return []string{
		ResourcePortfolio,
		ResourceLimits,
		ResourceDiscounts,
		ResourceTradingStatus,
		ResourceTradingSchedule,
	}
}

// RegisterResources binds every cached resource kind to its snapshot
// reader, broker fetch and snapshot writer.
func RegisterResources(c *freshness.Coordinator, store *persist.Store, api broker.API) error {
	resources := []freshness.Resource{
		{
			Kind:  ResourcePortfolio,
			Read:  store.ReadPortfolio,
			Fetch: fetchKind(api, broker.KindPortfolio),
			Write: store.WritePortfolio,
		},
		{
			Kind:  ResourceLimits,
			Read:  store.ReadLimits,
			Fetch: fetchKind(api, broker.KindLimits),
			Write: store.WriteLimits,
		},
		{
			Kind:  ResourceDiscounts,
			Read:  store.ReadDiscounts,
			Fetch: fetchKind(api, broker.KindInstrumentsDiscounts),
			Write: store.WriteDiscounts,
		},
		{
			Kind: ResourceTradingStatus,
			Read: store.ReadTradingStatus,
			Fetch: func(ctx context.Context, key freshness.Key) (interface{}, error) {
				return api.Fetch(ctx, broker.KindTradingStatus, url.Values{"classCode": {key.ClassCode}}, nil)
			},
			Write: store.WriteTradingStatus,
		},
		{
			Kind: ResourceTradingSchedule,
			Read: store.ReadTradingSchedule,
			Fetch: func(ctx context.Context, key freshness.Key) (interface{}, error) {
				q := url.Values{"classCode": {key.ClassCode}, "ticker": {key.Ticker}}
				return api.Fetch(ctx, broker.KindDailySchedule, q, nil)
			},
			Write: store.WriteTradingSchedule,
		},
	}

	for _, r := range resources {
		if err := c.Register(r); err != nil {
			return err
		}
	}
	return nil
}

func fetchKind(api broker.API, kind broker.Kind) freshness.FetchFunc {
	return func(ctx context.Context, _ freshness.Key) (interface{}, error) {
		return api.Fetch(ctx, kind, nil, nil)
	}
}
