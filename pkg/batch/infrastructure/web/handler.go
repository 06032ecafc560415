// Package web serves the HTTP admin surface for executions (launch, inspect, stop and
// abandon) and the Prometheus metrics endpoint.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tigerroll/batchimport/pkg/batch/core/application/usecase"
	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/batchimport/pkg/batch/core/domain/repository"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/batchimport/pkg/batch/support/util/logger"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/serialization"
)

// StepExecutionResponse is the JSON form of a StepExecution.
type StepExecutionResponse struct {
	ID                    string     `json:"id"`
	StepName              string     `json:"stepName"`
	Status                string     `json:"status"`
	ExitStatus            string     `json:"exitStatus"`
	ExitDescription       string     `json:"exitDescription,omitempty"`
	ReadCount             int        `json:"readCount"`
	WriteCount            int        `json:"writeCount"`
	SkipCount             int        `json:"skipCount"`
	FilterCount           int        `json:"filterCount"`
	CommitCount           int        `json:"commitCount"`
	RollbackCount         int        `json:"rollbackCount"`
	LastCommittedPosition int64      `json:"lastCommittedPosition"`
	StartTime             *time.Time `json:"startTime,omitempty"`
	EndTime               *time.Time `json:"endTime,omitempty"`
}

// JobExecutionResponse is the JSON form of a JobExecution. Parameters are masked.
type JobExecutionResponse struct {
	ID              string                  `json:"id"`
	JobInstanceID   string                  `json:"jobInstanceId"`
	JobName         string                  `json:"jobName"`
	Status          string                  `json:"status"`
	ExitStatus      string                  `json:"exitStatus"`
	ExitDescription string                  `json:"exitDescription,omitempty"`
	Parameters      map[string]interface{}  `json:"parameters"`
	CreateTime      time.Time               `json:"createTime"`
	StartTime       *time.Time              `json:"startTime,omitempty"`
	EndTime         *time.Time              `json:"endTime,omitempty"`
	Steps           []StepExecutionResponse `json:"steps"`
}

// NewJobExecutionResponse converts je.
func NewJobExecutionResponse(je *model.JobExecution) JobExecutionResponse {
	resp := JobExecutionResponse{
		ID:              je.ID,
		JobInstanceID:   je.JobInstanceID,
		JobName:         je.JobName,
		Status:          je.Status.String(),
		ExitStatus:      je.ExitStatus.String(),
		ExitDescription: je.ExitDescription,
		Parameters:      serialization.GetMaskedJobParametersMap(je.Parameters.Values()),
		CreateTime:      je.CreateTime,
		StartTime:       je.StartTime,
		EndTime:         je.EndTime,
		Steps:           make([]StepExecutionResponse, 0, len(je.StepExecutions)),
	}
	for _, se := range je.StepExecutions {
		resp.Steps = append(resp.Steps, StepExecutionResponse{
			ID:                    se.ID,
			StepName:              se.StepName,
			Status:                se.Status.String(),
			ExitStatus:            se.ExitStatus.String(),
			ExitDescription:       se.ExitDescription,
			ReadCount:             se.ReadCount,
			WriteCount:            se.WriteCount,
			SkipCount:             se.SkipCount,
			FilterCount:           se.FilterCount,
			CommitCount:           se.CommitCount,
			RollbackCount:         se.RollbackCount,
			LastCommittedPosition: se.LastCommittedPosition,
			StartTime:             se.StartTime,
			EndTime:               se.EndTime,
		})
	}
	return resp
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler routes the admin API.
type Handler struct {
	operator usecase.JobOperator
	explorer usecase.JobExplorer
	metrics  http.Handler
	router   chi.Router
}

// NewHandler creates the admin API. metricsHandler may be nil, in which case /metrics is not served.
func NewHandler(operator usecase.JobOperator, explorer usecase.JobExplorer, metricsHandler http.Handler) *Handler {
	h := &Handler{operator: operator, explorer: explorer, metrics: metricsHandler}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Post("/jobs/{jobName}/executions", h.startExecution)
	r.Get("/executions/{executionID}", h.getExecution)
	r.Post("/executions/{executionID}/stop", h.stopExecution)
	r.Post("/executions/{executionID}/abandon", h.abandonExecution)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}
	h.router = r
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// startExecution launches a job asynchronously. The body is a JSON object of
// "key" or "key(type)" to string value; a leading "-" marks a non-identifying key.
func (h *Handler) startExecution(w http.ResponseWriter, r *http.Request) {
	jobName := chi.URLParam(r, "jobName")

	raw := map[string]string{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid body: %v", err)})
			return
		}
	}
	args := make([]string, 0, len(raw))
	for k, v := range raw {
		args = append(args, k+"="+v)
	}
	sort.Strings(args)
	params, err := model.ParseJobParameters(args)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	future, err := h.operator.Start(r.Context(), jobName, params)
	if err != nil {
		h.writeError(w, err)
		return
	}
	je, err := h.explorer.GetJobExecution(r.Context(), future.ExecutionID())
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Location", "/executions/"+je.ID)
	writeJSON(w, http.StatusAccepted, NewJobExecutionResponse(je))
}

func (h *Handler) getExecution(w http.ResponseWriter, r *http.Request) {
	je, err := h.explorer.GetJobExecution(r.Context(), chi.URLParam(r, "executionID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewJobExecutionResponse(je))
}

func (h *Handler) stopExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "executionID")
	if err := h.operator.Stop(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	je, err := h.explorer.GetJobExecution(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, NewJobExecutionResponse(je))
}

// abandonExecution releases an execution left running by a process that is gone.
func (h *Handler) abandonExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "executionID")
	if err := h.operator.Abandon(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	je, err := h.explorer.GetJobExecution(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewJobExecutionResponse(je))
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case usecase.IsLaunchRejection(err), errors.Is(err, exception.ErrJobNotRunning):
		status = http.StatusConflict
	case errors.Is(err, exception.ErrJobNotRegistered), errors.Is(err, repository.ErrJobExecutionNotFound):
		status = http.StatusNotFound
	case exception.IsRetryable(err):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		logger.Errorf("Admin API request failed: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("Failed to encode admin API response: %v", err)
	}
}
