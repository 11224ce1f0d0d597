package billing

import (
	"sort"

	"gitlab.com/tinyland/lab/csp-billing-adapter/config"
)

// BillingDimensions maps each metric's billable quantity to the CSP
// dimension of the first declared tier containing it. The mapping is
// atomic: if any metric's quantity falls outside every declared tier,
// no dimensions are returned and the failure names the metric and value.
func BillingDimensions(metrics map[string]config.MetricConfig, billableUsage map[string]int64) (map[string]int64, error) {
	names := make([]string, 0, len(billableUsage))
	for metric := range billableUsage {
		names = append(names, metric)
	}
	sort.Strings(names)

	dimensions := make(map[string]int64, len(names))
	for _, metric := range names {
		quantity := billableUsage[metric]

		tier, ok := matchTier(metrics[metric].Dimensions, quantity)
		if !ok {
			return nil, &NoMatchingDimensionError{Metric: metric, Value: quantity}
		}
		dimensions[tier.Dimension] = quantity
	}
	return dimensions, nil
}

// HeartbeatDimensions maps every metric onto its first declared tier's
// dimension with a zero quantity. A heartbeat reports liveness, not
// usage, so the tier ranges are not consulted: a config whose first tier
// starts above zero still heartbeats.
func HeartbeatDimensions(metrics map[string]config.MetricConfig) map[string]int64 {
	dimensions := make(map[string]int64, len(metrics))
	for _, metricCfg := range metrics {
		if len(metricCfg.Dimensions) == 0 {
			continue
		}
		dimensions[metricCfg.Dimensions[0].Dimension] = 0
	}
	return dimensions
}

// matchTier scans the declared tiers in order and returns the first one
// whose inclusive range contains quantity.
func matchTier(tiers []config.Tier, quantity int64) (config.Tier, bool) {
	for _, tier := range tiers {
		if tier.Contains(quantity) {
			return tier, true
		}
	}
	return config.Tier{}, false
}
