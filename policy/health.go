package policy

import "time"

// HealthLevel holds one severity band of the queue health thresholds.
type HealthLevel struct {
	QueueSize int64
	ErrorRate float64
}

// HealthThresholds grades the hourly summary. Values strictly above a
// level trigger it.
var HealthThresholds = struct {
	Warning           HealthLevel
	Critical          HealthLevel
	MaxProcessingTime time.Duration
}{
	Warning:           HealthLevel{QueueSize: 500, ErrorRate: 0.10},
	Critical:          HealthLevel{QueueSize: 1000, ErrorRate: 0.20},
	MaxProcessingTime: 600 * time.Second,
}

// BottleneckThresholds flags job types on the daily summary. Values
// strictly above a threshold trigger it.
var BottleneckThresholds = struct {
	HighDuration   time.Duration
	MediumDuration time.Duration
	ErrorRate      float64
}{
	HighDuration:   300 * time.Second,
	MediumDuration: 120 * time.Second,
	ErrorRate:      0.10,
}

// BatchRecommendation drives the batching advice given to owners.
var BatchRecommendation = struct {
	MinPendingUnits int
	SavingsPercent  int
}{
	MinPendingUnits: 5,
	SavingsPercent:  20,
}
