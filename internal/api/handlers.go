package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"admissions-workers/internal/analytics"
	"admissions-workers/internal/common/errors"
	"admissions-workers/internal/common/validation"
	"admissions-workers/internal/models"
	"admissions-workers/internal/transition"

	"github.com/gorilla/mux"
)

var approveSchema = validation.MustCompile(`{
	"type": "object",
	"properties": {
		"paymentType": {"type": "string"},
		"paymentAmount": {"type": "number", "minimum": 0},
		"installmentsPaid": {"type": "integer", "minimum": 1},
		"totalInstallments": {"type": "integer", "minimum": 1}
	},
	"additionalProperties": false
}`)

var rejectSchema = validation.MustCompile(`{
	"type": "object",
	"properties": {
		"reason": {"type": "string", "minLength": 1}
	},
	"required": ["reason"]
}`)

type approveRequest struct {
	PaymentType       string  `json:"paymentType"`
	PaymentAmount     float64 `json:"paymentAmount"`
	InstallmentsPaid  *int    `json:"installmentsPaid"`
	TotalInstallments *int    `json:"totalInstallments"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type errorResponse struct {
	Error   string                       `json:"error"`
	Code    string                       `json:"code,omitempty"`
	Details []validation.ValidationError `json:"details,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	out := readiness{Status: "ready", Checks: map[string]string{}}
	ping := func(name string, p Pinger) bool {
		if err := p.Ping(ctx); err != nil {
			out.Checks[name] = "error: " + err.Error()
			return false
		}
		out.Checks[name] = "ok"
		return true
	}

	code := http.StatusOK
	if s.deps.Store != nil && !ping("store", s.deps.Store) {
		out.Status, code = "store unreachable", http.StatusServiceUnavailable
	}
	if s.deps.Cache.Ready() {
		out.Checks["cache"] = "ok"
	} else {
		out.Checks["cache"] = "loading"
		if code == http.StatusOK {
			out.Status, code = "cache loading", http.StatusServiceUnavailable
		}
	}
	for name, p := range s.deps.Optional {
		if !ping(name, p) && code == http.StatusOK {
			out.Status = "degraded"
		}
	}
	writeJSON(w, code, out)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if !s.cacheReady(w) {
		return
	}
	status := r.URL.Query().Get("status")
	var apps []*models.Application
	if status == "" || strings.EqualFold(status, "all") {
		apps = s.deps.Cache.All()
	} else if st, ok := models.ParseStatus(status); ok {
		apps = s.deps.Cache.ByStatus(st)
	} else {
		s.writeError(w, errors.NewInvalidInputError("unknown status "+strconv.Quote(status)))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"applications": apps,
		"count":        len(apps),
		"loadedAt":     s.deps.Cache.LoadedAt(),
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if !s.cacheReady(w) {
		return
	}
	id := mux.Vars(r)["id"]
	app, ok := s.deps.Cache.Get(id)
	if !ok {
		s.writeError(w, errors.NewNotFoundError(id, "not in cache"))
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if !s.decode(w, r, approveSchema, &req, true) {
		return
	}
	res := s.deps.Transitions.Approve(r.Context(), mux.Vars(r)["id"], models.PaymentDetails{
		Type:              req.PaymentType,
		Amount:            req.PaymentAmount,
		InstallmentsPaid:  req.InstallmentsPaid,
		TotalInstallments: req.TotalInstallments,
	}, actorFromRequest(r))
	s.writeResult(w, res)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if !s.decode(w, r, rejectSchema, &req, false) {
		return
	}
	s.writeResult(w, s.deps.Transitions.Reject(r.Context(), mux.Vars(r)["id"], req.Reason, actorFromRequest(r)))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.writeResult(w, s.deps.Transitions.Delete(r.Context(), mux.Vars(r)["id"], actorFromRequest(r)))
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sync == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "sync is disabled"})
		return
	}
	res, err := s.deps.Sync.RunCycle(r.Context())
	body := map[string]interface{}{"result": res}
	status := http.StatusOK
	if err != nil {
		std := errors.AsStandard(err)
		body["error"] = std.Message
		body["code"] = string(std.Code)
		status = statusFor(std.Code)
	}
	writeJSON(w, status, body)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.cacheReady(w) {
		return
	}
	writeJSON(w, http.StatusOK, analytics.Compute(s.deps.Cache.All(), s.deps.Analytics, s.now()))
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Logs == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"logs": []models.AdminLog{}})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, errors.NewInvalidInputError("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	var (
		logs []models.AdminLog
		err  error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		logs, err = s.deps.Logs.Search(r.Context(), q, limit)
	} else {
		logs, err = s.deps.Logs.List(r.Context(), limit)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": logs})
}

func (s *Server) cacheReady(w http.ResponseWriter) bool {
	if s.deps.Cache.Ready() {
		return true
	}
	writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "cache loading"})
	return false
}

// decode validates the body against schema before unmarshalling it. An empty
// body is accepted when allowEmpty is set.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, schema *validation.Schema, dst interface{}, allowEmpty bool) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeError(w, errors.NewInvalidInputError("unreadable body"))
		return false
	}
	if len(body) == 0 {
		if allowEmpty {
			return true
		}
		body = []byte("{}")
	}

	result, err := validation.ValidateAgainstSchema(schema, body)
	if err != nil {
		s.writeError(w, errors.NewInvalidInputError(err.Error()))
		return false
	}
	if !result.Valid {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "Invalid input",
			Code:    string(errors.ErrCodeInvalidInput),
			Details: result.Errors,
		})
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		s.writeError(w, errors.NewInvalidInputError(err.Error()))
		return false
	}
	return true
}

func (s *Server) writeResult(w http.ResponseWriter, res transition.Result) {
	status := http.StatusOK
	if !res.Success {
		status = statusFor(errors.ErrorCode(res.Code))
	}
	writeJSON(w, status, res)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	std := errors.AsStandard(err)
	status := statusFor(std.Code)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).Error("Request failed", nil)
	}
	writeJSON(w, status, errorResponse{Error: std.Message, Code: string(std.Code)})
}

func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeVersionConflict:
		return http.StatusConflict
	case errors.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case errors.ErrCodeConstraintViolation:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeTransport, errors.ErrCodeFeedParseFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
