package utils

import "time"

// RTTStats tracks the round-trip time estimators defined in RFC 9002 Section
// 5: the latest sample, the minimum observed, and a smoothed estimate with
// its variation, updated via a fixed-shift EWMA.
type RTTStats struct {
	hasMeasurement bool

	latestRTT    time.Duration
	minRTT       time.Duration
	smoothedRTT  time.Duration
	meanDeviation time.Duration

	maxAckDelay time.Duration

	// firstSampleAt is the wall time at which the very first RTT sample
	// was taken. Packets sent before this time are never counted towards
	// persistent congestion (a local, preserved-as-is choice).
	firstSampleAt time.Time
}

// NewRTTStats returns a fresh, unsampled RTTStats.
func NewRTTStats() *RTTStats {
	return &RTTStats{}
}

func (r *RTTStats) SetMaxAckDelay(d time.Duration) { r.maxAckDelay = d }
func (r *RTTStats) MaxAckDelay() time.Duration     { return r.maxAckDelay }

func (r *RTTStats) HasMeasurement() bool   { return r.hasMeasurement }
func (r *RTTStats) LatestRTT() time.Duration  { return r.latestRTT }
func (r *RTTStats) MinRTT() time.Duration     { return r.minRTT }
func (r *RTTStats) SmoothedRTT() time.Duration { return r.smoothedRTT }
func (r *RTTStats) MeanDeviation() time.Duration { return r.meanDeviation }
func (r *RTTStats) FirstSampleTime() time.Time   { return r.firstSampleAt }

// UpdateRTT records a new RTT sample. ackDelay is the peer-reported delay
// already capped by the caller (decoded and clamped to max_ack_delay once
// the handshake is confirmed); it is ignored for the very first sample.
func (r *RTTStats) UpdateRTT(latestRTT, ackDelay time.Duration, now time.Time) {
	if latestRTT < 0 {
		return
	}
	r.latestRTT = latestRTT

	if !r.hasMeasurement {
		r.hasMeasurement = true
		r.minRTT = latestRTT
		r.smoothedRTT = latestRTT
		r.meanDeviation = latestRTT / 2
		r.firstSampleAt = now
		return
	}

	if latestRTT < r.minRTT {
		r.minRTT = latestRTT
	}

	adjusted := latestRTT
	if r.minRTT+ackDelay < latestRTT {
		adjusted = latestRTT - ackDelay
	}

	sample := r.smoothedRTT - adjusted
	if sample < 0 {
		sample = -sample
	}
	r.meanDeviation += (sample - r.meanDeviation) / 4
	r.smoothedRTT += (adjusted - r.smoothedRTT) / 8
}

// ResetForPathMigration clears the smoothed estimators, mirroring a fresh
// path with unknown characteristics. FirstSampleTime keeps its old value
// until the next UpdateRTT, which is treated as a first sample and replaces
// it.
func (r *RTTStats) ResetForPathMigration() {
	r.hasMeasurement = false
	r.latestRTT = 0
	r.minRTT = 0
	r.smoothedRTT = 0
	r.meanDeviation = 0
}
