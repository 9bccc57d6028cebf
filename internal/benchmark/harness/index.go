package harness

import (
	"context"
	"time"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/runindex"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/logging"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/runcontext"
)

const indexTimeout = 10 * time.Second

// openIndex opens the run index below the results kind directory. The index is optional: a failure
// to open it is logged and the run goes ahead without it.
func (h *Harness) openIndex(ctx *runcontext.Context) *runindex.Index {
	if !h.config.Index.Enabled {
		return nil
	}
	index, err := runindex.Open(runindex.PathFor(h.writer.KindDir()))
	if err != nil {
		logging.WithStacktrace(ctx.Log, err).Warn("Could not open run index")
		return nil
	}
	return index
}

// recordInIndex records the finished run and closes the index.
func (h *Harness) recordInIndex(ctx *runcontext.Context, index *runindex.Index, result *Result, runErr error) {
	if index == nil {
		return
	}
	defer index.Close()

	run := runindex.Run{
		RunId:      result.RunId,
		Revision:   h.config.Run.Revision,
		Tag:        h.config.Run.Tag,
		Timestamp:  result.Timestamp,
		Dir:        result.RunDir,
		Outcome:    runindex.OutcomeSucceeded,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
	}
	if runErr != nil {
		run.Outcome = runindex.OutcomeFailed
		run.Stage = string(result.Stage)
		run.Error = runErr.Error()
	}
	// The run context may already be cancelled by an interrupt.
	recordCtx, cancel := context.WithTimeout(context.Background(), indexTimeout)
	defer cancel()
	if err := index.Record(recordCtx, run); err != nil {
		logging.WithStacktrace(ctx.Log, err).Warn("Could not record run in index")
	}
}
