package models

import "time"

const (
	RunStatusOK        = "ok"
	RunStatusLoadError = "load_error"
	RunStatusFailed    = "failed"
)

// DashboardRun is one pass through the pipeline. Image bytes are not stored.
type DashboardRun struct {
	ID               string     `json:"id"`
	SourceKind       string     `json:"source_kind"`
	Source           string     `json:"source"`
	Rows             int        `json:"rows"`
	Columns          []string   `json:"columns"`
	NumVisuals       int        `json:"num_visuals"`
	Customizations   string     `json:"customizations,omitempty"`
	Insights         string     `json:"insights"`
	Model            string     `json:"model,omitempty"`
	PromptTokens     int        `json:"prompt_tokens"`
	CompletionTokens int        `json:"completion_tokens"`
	Cached           bool       `json:"cached"`
	Status           string     `json:"status"`
	Error            string     `json:"error,omitempty"`
	LatencyMS        int        `json:"latency_ms"`
	CreatedAt        time.Time  `json:"created_at"`
	Charts           []RunChart `json:"charts,omitempty"`
}

type RunChart struct {
	ID          int       `json:"-"`
	RunID       string    `json:"run_id"`
	ChartIndex  int       `json:"index"`
	LineIndex   int       `json:"line_index"`
	Kind        string    `json:"kind"`
	Title       string    `json:"title"`
	XColumn     string    `json:"x"`
	YColumn     string    `json:"y"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}

type SystemMetric struct {
	ID          int
	MetricName  string
	MetricValue float64
	Tags        string
	Timestamp   time.Time
}
