package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/temirov/acs/internal/actions"
	"github.com/temirov/acs/internal/jobs"
	"github.com/temirov/acs/internal/publish"
)

const (
	jobNotFoundMessage    = "job not found"
	queueFullMessage      = "job queue is full; retry later"
	registryClosedMessage = "job registry is shutting down"
	jobIDParameter        = "id"
)

type publishResponse struct {
	JobID         string `json:"job_id"`
	CorrelationID string `json:"correlation_id"`
}

type jobStatusResponse struct {
	JobID         string           `json:"job_id"`
	Repo          string           `json:"repo"`
	CorrelationID string           `json:"correlation_id"`
	Status        jobs.Status      `json:"status"`
	Results       []actions.Result `json:"results"`
	LogTail       string           `json:"log_tail"`
}

// teeRecorder records into the job and the persisted action log.
type teeRecorder struct {
	job       jobs.ResultRecorder
	actionLog ActionLogger
}

func (recorder teeRecorder) Record(result actions.Result) {
	recorder.job.Record(result)
	if recorder.actionLog != nil {
		recorder.actionLog.Log(result)
	}
}

func (server *Server) handleRepositories(responseWriter http.ResponseWriter, _ *http.Request) {
	writeJSON(responseWriter, http.StatusOK, server.repositories.All())
}

func (server *Server) handlePublish(responseWriter http.ResponseWriter, request *http.Request) {
	var options publish.Options
	if !decodeBody(responseWriter, request, &options) {
		return
	}
	if _, resolved := server.resolveRepository(responseWriter, options.RepositoryKey); !resolved {
		return
	}

	correlationID := server.correlationID(request)
	jobID, submitError := server.jobs.Submit(options.RepositoryKey, correlationID, func(executionContext context.Context, recorder jobs.ResultRecorder) {
		server.publisher.Run(executionContext, correlationID, options, teeRecorder{job: recorder, actionLog: server.actionLog})
	})
	switch {
	case errors.Is(submitError, jobs.ErrQueueFull):
		writeError(responseWriter, http.StatusServiceUnavailable, queueFullMessage)
		return
	case errors.Is(submitError, jobs.ErrRegistryClosed):
		writeError(responseWriter, http.StatusServiceUnavailable, registryClosedMessage)
		return
	case submitError != nil:
		writeError(responseWriter, http.StatusInternalServerError, submitError.Error())
		return
	}
	writeJSON(responseWriter, http.StatusAccepted, publishResponse{JobID: jobID, CorrelationID: correlationID})
}

func (server *Server) handleJobStatus(responseWriter http.ResponseWriter, request *http.Request) {
	state, found := server.jobs.Status(chi.URLParam(request, jobIDParameter))
	if !found {
		writeError(responseWriter, http.StatusNotFound, jobNotFoundMessage)
		return
	}
	results := state.Results
	if results == nil {
		results = []actions.Result{}
	}
	writeJSON(responseWriter, http.StatusOK, jobStatusResponse{
		JobID:         state.ID,
		Repo:          state.Repo,
		CorrelationID: state.CorrelationID,
		Status:        state.Status,
		Results:       results,
		LogTail:       state.LogTail(),
	})
}
