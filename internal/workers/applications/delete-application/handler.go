package deleteapplication

import (
	"context"
	"encoding/json"
	"fmt"

	"admissions-workers/internal/common/errors"
	"admissions-workers/internal/common/logger"
	"admissions-workers/internal/common/validation"
	"admissions-workers/internal/models"
	"admissions-workers/internal/transition"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "delete-application"

var inputSchema = validation.MustCompile(`{
	"type": "object",
	"properties": {
		"applicationId": {"type": "string", "minLength": 1},
		"username": {"type": "string"}
	},
	"required": ["applicationId"]
}`)

type Deleter interface {
	Delete(ctx context.Context, id string, actor models.Actor) transition.Result
}

type Handler struct {
	config       *Config
	deleter      Deleter
	errorHandler *errors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, deleter Deleter, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{config: config, deleter: deleter, errorHandler: errors.NewErrorHandler(l), logger: l}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{"jobKey": job.Key, "workflowKey": job.ProcessInstanceKey})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.run(ctx, job)
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
	}
}

func (h *Handler) run(ctx context.Context, job entities.Job) (*Output, error) {
	result, err := validation.ValidateAgainstSchema(inputSchema, job.Variables)
	if err != nil {
		return nil, errors.NewInvalidInputError(err.Error())
	}
	if !result.Valid {
		return nil, errors.NewInvalidInputError(fmt.Sprintf("%s: %s", result.Errors[0].Field, result.Errors[0].Message))
	}

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		return nil, errors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err))
	}

	res := h.deleter.Delete(ctx, input.ApplicationID, models.Actor{Username: input.Username, Device: "Workflow", Browser: "Zeebe", Platform: "Camunda"})
	if !res.Success {
		if res.Err != nil {
			return nil, res.Err
		}
		return nil, errors.NewInternalError(fmt.Errorf("%s", res.Message))
	}
	return &Output{ApplicationID: input.ApplicationID, Deleted: true, Message: res.Message}, nil
}
