// Package enginemetrics scrapes a backend engine's own Prometheus /metrics
// endpoint and normalizes it into a flat per-model view (spec §4.8,
// "per-model engine metrics"). No other package in the module imports it.
// Grounded on the teacher's pkg/infer-gateway/backend package family.
package enginemetrics

import (
	"context"
	"fmt"
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Scrape fetches and parses a Prometheus text-format endpoint.
func Scrape(ctx context.Context, url string, client *http.Client) (map[string]*dto.MetricFamily, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("enginemetrics: building request for %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("enginemetrics: fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("enginemetrics: %s returned status %d", url, resp.StatusCode)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("enginemetrics: parsing %s: %w", url, err)
	}
	return families, nil
}

// CounterOrGaugeValues extracts the single-sample value for each named
// counter/gauge series present in families.
func CounterOrGaugeValues(families map[string]*dto.MetricFamily, names []string) map[string]float64 {
	out := make(map[string]float64)
	for _, name := range names {
		fam, ok := families[name]
		if !ok {
			continue
		}
		for _, m := range fam.Metric {
			if g := m.GetGauge(); g != nil {
				out[name] = g.GetValue()
			} else if c := m.GetCounter(); c != nil {
				out[name] = c.GetValue()
			}
		}
	}
	return out
}

// HistogramAverages extracts the last-period average (deltaSum/deltaCount
// against the previous scrape) for each named histogram series, returning
// both the averages and the raw histograms to keep as "previous" for the
// next scrape.
func HistogramAverages(families map[string]*dto.MetricFamily, names []string, previous map[string]*dto.Histogram) (map[string]float64, map[string]*dto.Histogram) {
	averages := make(map[string]float64)
	current := make(map[string]*dto.Histogram)

	for _, name := range names {
		fam, ok := families[name]
		if !ok {
			continue
		}
		for _, m := range fam.Metric {
			h := m.GetHistogram()
			if h == nil {
				continue
			}
			current[name] = h
			prev := previous[name]
			if prev == nil {
				averages[name] = h.GetSampleSum() / float64(h.GetSampleCount())
			} else {
				averages[name] = lastPeriodAvg(prev, h)
			}
		}
	}
	return averages, current
}

func lastPeriodAvg(previous, current *dto.Histogram) float64 {
	deltaSum := current.GetSampleSum() - previous.GetSampleSum()
	deltaCount := current.GetSampleCount() - previous.GetSampleCount()
	if deltaCount == 0 {
		if previous.GetSampleCount() == 0 {
			return 0
		}
		return previous.GetSampleSum() / float64(previous.GetSampleCount())
	}
	return deltaSum / float64(deltaCount)
}
