package approveapplication

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"admissions-workers/internal/common/errors"
	"admissions-workers/internal/common/logger"
	"admissions-workers/internal/common/validation"
	"admissions-workers/internal/models"
	"admissions-workers/internal/transition"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "approve-application"

var inputSchema = validation.MustCompile(`{
	"type": "object",
	"properties": {
		"applicationId": {"type": "string", "minLength": 1},
		"paymentType": {"type": "string"},
		"paymentAmount": {"type": "number", "minimum": 0},
		"installmentsPaid": {"type": "integer", "minimum": 1},
		"totalInstallments": {"type": "integer", "minimum": 1},
		"username": {"type": "string"}
	},
	"required": ["applicationId"]
}`)

// Approver is the part of transition.Engine this worker drives.
type Approver interface {
	Approve(ctx context.Context, id string, payment models.PaymentDetails, actor models.Actor) transition.Result
}

type Handler struct {
	config       *Config
	approver     Approver
	errorHandler *errors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, approver Approver, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		approver:     approver,
		errorHandler: errors.NewErrorHandler(l),
		logger:       l,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := h.parseInput(job)
	if err != nil {
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return
	}

	output, err := h.execute(ctx, input)
	if err != nil {
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
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
	return &input, nil
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	res := h.approver.Approve(ctx, input.ApplicationID, models.PaymentDetails{
		Type:              input.PaymentType,
		Amount:            input.PaymentAmount,
		InstallmentsPaid:  input.InstallmentsPaid,
		TotalInstallments: input.TotalInstallments,
	}, models.Actor{Username: input.Username, Device: "Workflow", Browser: "Zeebe", Platform: "Camunda"})
	if !res.Success {
		if res.Err != nil {
			return nil, res.Err
		}
		return nil, errors.NewInternalError(fmt.Errorf("%s", res.Message))
	}

	out := &Output{
		ApplicationID: input.ApplicationID,
		Status:        string(models.StatusApproved),
		ApprovedAt:    time.Now().UTC().Format(time.RFC3339),
		Message:       res.Message,
	}
	if app := res.Application; app != nil {
		out.Status = string(app.Status)
		out.PaymentStatus = string(app.PaymentStatus)
		out.InstallmentsPaid = app.InstallmentsPaid
		if app.ApprovedDate != nil {
			out.ApprovedAt = app.ApprovedDate.UTC().Format(time.RFC3339)
		}
	}
	return out, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{"error": err})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{"error": err})
		return
	}
	h.logger.Info("job completed successfully", map[string]interface{}{
		"jobKey":        job.Key,
		"applicationId": output.ApplicationID,
	})
}
