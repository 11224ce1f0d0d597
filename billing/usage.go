package billing

import (
	"gitlab.com/tinyland/lab/csp-billing-adapter/config"
)

// BillableUsage reduces the in-scope records of a bill period to one
// non-negative quantity per declared metric. With emptyUsage set, or
// with no records at all, every metric reduces to zero; that is how a
// heartbeat reports liveness without billing anything.
func BillableUsage(records []UsageRecord, metrics map[string]config.MetricConfig, emptyUsage bool) map[string]int64 {
	usage := make(map[string]int64, len(metrics))

	if emptyUsage || len(records) == 0 {
		for metric := range metrics {
			usage[metric] = 0
		}
		return usage
	}

	for metric, metricCfg := range metrics {
		switch metricCfg.UsageAggregate {
		case config.AggregateMaximum:
			usage[metric] = maxUsage(metric, records)
		default:
			usage[metric] = averageUsage(metric, records)
		}
	}
	return usage
}

// averageUsage returns the integer mean of a metric across the records
// that carry it, truncated toward zero. Records without the metric are
// skipped; no carrying records means zero.
func averageUsage(metric string, records []UsageRecord) int64 {
	var sum, count int64
	for _, record := range records {
		if value, ok := record.Value(metric); ok {
			sum += value
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / count
}

// maxUsage returns the largest value of a metric across the records that
// carry it, or zero when none do.
func maxUsage(metric string, records []UsageRecord) int64 {
	var max int64
	for _, record := range records {
		if value, ok := record.Value(metric); ok && value > max {
			max = value
		}
	}
	return max
}
