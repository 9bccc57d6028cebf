package harness

import (
	"time"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/record"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/supervisor"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/telemetry"
)

// Summary is written to artifacts/run-summary.json. It records how the run went, alongside the
// metadata documents that identify it.
type Summary struct {
	RunId     string                    `json:"runId"`
	Revision  string                    `json:"revision"`
	Tag       string                    `json:"tag"`
	Image     string                    `json:"image"`
	StartedAt time.Time                 `json:"startedAt"`
	Services  []ServiceSummary          `json:"services"`
	Workload  *WorkloadSummary          `json:"workload,omitempty"`
	Telemetry []*telemetry.SourceResult `json:"telemetry"`
}

type ServiceSummary struct {
	Name      string    `json:"name"`
	Image     string    `json:"image"`
	Instance  string    `json:"instance"`
	Ports     []int     `json:"ports"`
	StartedAt time.Time `json:"startedAt"`
}

type WorkloadSummary struct {
	Signal       string            `json:"signal"`
	SentinelSeen bool              `json:"sentinelSeen"`
	ExitCode     *int64            `json:"exitCode,omitempty"`
	Lines        int               `json:"lines"`
	Counts       map[string]string `json:"counts,omitempty"`
	StartedAt    time.Time         `json:"startedAt"`
	FinishedAt   time.Time         `json:"finishedAt"`
	DurationMs   int64             `json:"durationMs"`
}

func (h *Harness) summary(result *Result, sup *supervisor.Supervisor) *Summary {
	summary := &Summary{
		RunId:     result.RunId,
		Revision:  h.config.Run.Revision,
		Tag:       record.NoTag,
		Image:     h.config.Run.Image,
		StartedAt: result.StartedAt,
		Services:  []ServiceSummary{},
		Telemetry: []*telemetry.SourceResult{},
	}
	if h.config.Run.Tag != "" {
		summary.Tag = h.config.Run.Tag
	}
	for _, running := range sup.Services() {
		summary.Services = append(summary.Services, ServiceSummary{
			Name:      running.Name(),
			Image:     running.Spec().Image(),
			Instance:  running.Instance().ID(),
			Ports:     running.Spec().Ports(),
			StartedAt: running.StartedAt(),
		})
	}
	if o := result.Outcome; o != nil {
		summary.Workload = &WorkloadSummary{
			Signal:       o.Signal,
			SentinelSeen: o.SentinelSeen,
			ExitCode:     o.ExitCode,
			Lines:        o.Lines,
			Counts:       o.Counts,
			StartedAt:    o.StartedAt,
			FinishedAt:   o.FinishedAt,
			DurationMs:   o.Duration().Milliseconds(),
		}
	}
	if c := result.Capture; c != nil {
		for _, source := range []*telemetry.SourceResult{c.Metrics, c.Traces} {
			if source != nil {
				summary.Telemetry = append(summary.Telemetry, source)
			}
		}
	}
	return summary
}
