package core

import "time"

// RunSummary reports the outcome of one processing pass.
type RunSummary struct {
	AsOf      time.Time
	Processed int
	Skipped   int
	Failed    int
	Total     int
}
