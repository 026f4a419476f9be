package syncfeed

import (
	"context"

	"admissions-workers/internal/common/errors"
	"admissions-workers/internal/common/logger"
	feedsync "admissions-workers/internal/sync"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "sync-feed"

type Handler struct {
	config       *Config
	engine       feedsync.Cycler
	errorHandler *errors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, engine feedsync.Cycler, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{config: config, engine: engine, errorHandler: errors.NewErrorHandler(l), logger: l}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{"jobKey": job.Key, "workflowKey": job.ProcessInstanceKey})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.execute(ctx)
	if err != nil {
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return
	}

	cmd, err := client.NewCompleteJobCommand().JobKey(job.Key).VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{"error": err})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{"error": err})
		return
	}
	h.logger.Info("job completed successfully", map[string]interface{}{"jobKey": job.Key, "outcome": output.Outcome})
}

// execute runs one cycle. A backoff or rate limit completes the job rather
// than failing it; the engine already knows when to try again.
func (h *Handler) execute(ctx context.Context) (*Output, error) {
	res, err := h.engine.RunCycle(ctx)
	if err != nil && res.Outcome != feedsync.OutcomeRateLimited {
		return nil, err
	}
	return &Output{
		Outcome:   res.Outcome,
		Inserted:  res.Inserted,
		Patched:   res.Patched,
		Unchanged: res.Unchanged,
		Conflicts: res.Conflicts,
		Changed:   res.Inserted+res.Patched > 0,
	}, nil
}
