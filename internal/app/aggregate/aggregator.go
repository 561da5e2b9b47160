// Package aggregate turns a session's intensity samples into one reading.
//
// Outlier rejection is a single pass against the mean fix with two coarse
// per-axis thresholds. It is meant to catch gross GPS glitches, not drift.
package aggregate

import (
	"math"
	"sync"

	"github.com/ghalamif/SoundMap/internal/domain"
)

const (
	DefaultLatThreshold = 0.1
	DefaultLngThreshold = 0.1
)

// Result is the outcome of Compute.
type Result struct {
	Intensity     float64
	Accepted      int
	Rejected      int
	MeanLocation  domain.GeoPoint
	LowConfidence bool
}

// Set is an append-only sample set. The mean location is only valid right
// after Compute and is recomputed on every call.
type Set struct {
	mu      sync.Mutex
	samples []domain.IntensitySample
	meanLat float64
	meanLng float64

	latThreshold float64
	lngThreshold float64
}

// NewSet returns an empty set. Non-positive thresholds fall back to the defaults.
func NewSet(latThreshold, lngThreshold float64) *Set {
	if latThreshold <= 0 {
		latThreshold = DefaultLatThreshold
	}
	if lngThreshold <= 0 {
		lngThreshold = DefaultLngThreshold
	}
	return &Set{latThreshold: latThreshold, lngThreshold: lngThreshold}
}

// Push appends unconditionally.
func (s *Set) Push(intensity int32, loc domain.GeoPoint) {
	s.mu.Lock()
	s.samples = append(s.samples, domain.IntensitySample{Intensity: intensity, Location: loc})
	s.mu.Unlock()
}

func (s *Set) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

// Compute returns the mean intensity of the samples that lie within the
// thresholds of the mean location. An empty set yields a low-confidence zero
// together with domain.ErrEmptySampleSet; a set where every sample is
// rejected yields a low-confidence zero without error.
func (s *Set) Compute() (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.samples) == 0 {
		return Result{LowConfidence: true}, domain.ErrEmptySampleSet
	}
	s.updateMeanLocked()

	var (
		sum      int64
		accepted int
	)
	for _, smp := range s.samples {
		if math.Abs(smp.Location.Latitude-s.meanLat) >= s.latThreshold ||
			math.Abs(smp.Location.Longitude-s.meanLng) >= s.lngThreshold {
			continue
		}
		sum += int64(smp.Intensity)
		accepted++
	}

	res := Result{
		Accepted:     accepted,
		Rejected:     len(s.samples) - accepted,
		MeanLocation: domain.GeoPoint{Latitude: s.meanLat, Longitude: s.meanLng},
	}
	if accepted == 0 {
		res.LowConfidence = true
		return res, nil
	}
	res.Intensity = float64(sum) / float64(accepted)
	return res, nil
}

// MeanLocation returns the mean computed by the last Compute call.
func (s *Set) MeanLocation() domain.GeoPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.GeoPoint{Latitude: s.meanLat, Longitude: s.meanLng}
}

// Clear drops every sample and zeroes the derived means.
func (s *Set) Clear() {
	s.mu.Lock()
	s.samples = nil
	s.meanLat = 0
	s.meanLng = 0
	s.mu.Unlock()
}

func (s *Set) updateMeanLocked() {
	var sumLat, sumLng float64
	for _, smp := range s.samples {
		sumLat += smp.Location.Latitude
		sumLng += smp.Location.Longitude
	}
	n := float64(len(s.samples))
	s.meanLat = sumLat / n
	s.meanLng = sumLng / n
}
