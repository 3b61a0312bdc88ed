package reporting

import "time"

// CallMetrics aggregates every call in the store.
type CallMetrics struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`

	// SimulatedCompletions counts completed calls that never reached the trunk.
	SimulatedCompletions int `json:"simulated_completions"`
	RealCompletions      int `json:"real_completions"`

	// SuccessRate is completed / total as a percentage, two decimals.
	SuccessRate float64 `json:"success_rate"`
	// RealSuccessRate excludes simulated completions.
	RealSuccessRate float64 `json:"real_success_rate"`

	GeneratedAt time.Time `json:"generated_at"`
}
