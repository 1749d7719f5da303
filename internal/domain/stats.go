package domain

// DailyStat aggregates throughput for one calendar day.
type DailyStat struct {
	Date             Date
	Queued           int64
	Processed        int64
	Failed           int64
	SuccessRate      float64
	AvgProcessingMs  int64
}

// Completed returns the total terminal outcomes for the day.
func (s DailyStat) Completed() int64 {
	return s.Processed + s.Failed
}
