package report

import (
	"github.com/guileen/dbtune/batch"
	"github.com/guileen/dbtune/cache"
	"github.com/guileen/dbtune/pooltune"
)

// ConnectionReport is the pool section of a report.
type ConnectionReport struct {
	OptimalPoolSize PoolBounds              `json:"optimalPoolSize"`
	Stats           pooltune.Stats          `json:"stats"`
	Recommendations pooltune.Recommendation `json:"recommendations"`
}

// PoolBounds is a min/max pair.
type PoolBounds struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// BatchReport is the batching section of a report.
type BatchReport struct {
	PendingOperations int              `json:"pendingOperations"`
	BatchSize         int              `json:"batchSize"`
	BatchDelayMs      int64            `json:"batchDelayMs"`
	Metrics           batch.Metrics    `json:"metrics"`
	Performance       BatchPerformance `json:"performance"`
}

// BatchPerformance carries the adaptive-sizing view of the scheduler.
type BatchPerformance struct {
	RecommendedBatchSize int     `json:"recommendedBatchSize"`
	SuccessRate          float64 `json:"successRate"`
	AverageExecutionMs   float64 `json:"averageExecutionMs"`
}

// Report is the read-only snapshot handed to diagnostics. It is constructed
// on demand and safe to serialize as JSON.
type Report struct {
	Database      string           `json:"database"`
	Performance   QueryPerformance `json:"performance"`
	Cache         cache.Stats      `json:"cache"`
	Connections   ConnectionReport `json:"connections"`
	Batching      BatchReport      `json:"batching"`
	OverallHealth Health           `json:"overallHealth"`
}
