package hlsengine

import (
	"sync"
	"time"
)

const (
	// defaultEstimate is used until the first fragment has been measured.
	defaultEstimate = 500_000
	// ewmaAlpha weights the newest sample.
	ewmaAlpha = 0.3
	// bandwidthSafety is the share of the estimate a variant may use.
	bandwidthSafety = 0.8
)

// bandwidthEstimator keeps an exponentially weighted moving average of the
// observed download rate in bits per second.
type bandwidthEstimator struct {
	mu       sync.Mutex
	estimate float64
	samples  int
}

func newBandwidthEstimator() *bandwidthEstimator {
	return &bandwidthEstimator{estimate: defaultEstimate}
}

// Sample records n bytes downloaded in d.
func (b *bandwidthEstimator) Sample(n int, d time.Duration) {
	if n <= 0 {
		return
	}
	if d <= 0 {
		d = time.Millisecond
	}
	bps := float64(n*8) / d.Seconds()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.samples == 0 {
		b.estimate = bps
	} else {
		b.estimate = ewmaAlpha*bps + (1-ewmaAlpha)*b.estimate
	}
	b.samples++
}

// Estimate returns the current bandwidth estimate in bits per second.
func (b *bandwidthEstimator) Estimate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.estimate
}

// selectVariant picks the highest-bandwidth variant that fits within the safe
// share of estimate, or the lowest one when none fits.
func selectVariant(variants []Variant, estimate float64) int {
	budget := estimate * bandwidthSafety
	best, lowest := -1, 0
	for i, v := range variants {
		if v.Bandwidth < variants[lowest].Bandwidth {
			lowest = i
		}
		if float64(v.Bandwidth) <= budget && (best < 0 || v.Bandwidth > variants[best].Bandwidth) {
			best = i
		}
	}
	if best < 0 {
		return lowest
	}
	return best
}
