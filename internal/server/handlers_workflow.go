package server

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/temirov/acs/internal/workflow"
)

const (
	actorTokenHeaderConstant  = "X-ACS-Actor-Token"
	routinesDisabledMessage   = "Routines are disabled; set routines.enabled to enable them."
	actorTokenRejectedMessage = "Missing or invalid X-ACS-Actor-Token header."
	auditNotFoundMessage      = "No audit artifact found for this repository."
	routineMissingOKMessage   = "Routine result is missing 'ok' field."
)

type routinePreviewRequest struct {
	Repo string `json:"repo"`
	ID   string `json:"id"`
}

type routineApplyRequest struct {
	Repo         string `json:"repo"`
	ID           string `json:"id"`
	ConfirmToken string `json:"confirm_token"`
	PreviewHash  string `json:"preview_hash"`
}

type auditRequest struct {
	Repo string `json:"repo"`
}

// requireRoutines enforces the routine kill switch and, when configured, the shared actor secret.
func (server *Server) requireRoutines(next http.Handler) http.Handler {
	return http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		if !server.routines.Enabled {
			writeError(responseWriter, http.StatusForbidden, routinesDisabledMessage)
			return
		}
		if len(server.routines.SharedSecret) > 0 {
			presented := request.Header.Get(actorTokenHeaderConstant)
			if subtle.ConstantTimeCompare([]byte(presented), []byte(server.routines.SharedSecret)) != 1 {
				writeError(responseWriter, http.StatusForbidden, actorTokenRejectedMessage)
				return
			}
		}
		next.ServeHTTP(responseWriter, request)
	})
}

func (server *Server) handleAudit(responseWriter http.ResponseWriter, request *http.Request) {
	var payload auditRequest
	if !decodeBody(responseWriter, request, &payload) {
		return
	}
	repository, resolved := server.resolveRepository(responseWriter, payload.Repo)
	if !resolved {
		return
	}
	audit, auditError := server.workflow.RunAudit(request.Context(), repository, server.correlationID(request))
	if auditError != nil {
		server.writeWorkflowError(responseWriter, auditError)
		return
	}
	writeJSON(responseWriter, http.StatusOK, audit)
}

func (server *Server) handleLatestAudit(responseWriter http.ResponseWriter, request *http.Request) {
	repository, resolved := server.resolveRepository(responseWriter, request.URL.Query().Get(repoQueryParameter))
	if !resolved {
		return
	}
	audit, found := server.workflow.LatestAuditArtifact(repository, repository.Key)
	if !found {
		writeError(responseWriter, http.StatusNotFound, auditNotFoundMessage)
		return
	}
	writeJSON(responseWriter, http.StatusOK, audit)
}

func (server *Server) handleRoutinePreview(responseWriter http.ResponseWriter, request *http.Request) {
	var payload routinePreviewRequest
	if !decodeBody(responseWriter, request, &payload) {
		return
	}
	repository, resolved := server.resolveRepository(responseWriter, payload.Repo)
	if !resolved {
		return
	}
	preview, previewError := server.workflow.PreviewRoutine(request.Context(), repository, payload.ID)
	if previewError != nil {
		server.writeWorkflowError(responseWriter, previewError)
		return
	}
	writeJSON(responseWriter, http.StatusOK, preview)
}

func (server *Server) handleRoutineApply(responseWriter http.ResponseWriter, request *http.Request) {
	var payload routineApplyRequest
	if !decodeBody(responseWriter, request, &payload) {
		return
	}
	repository, resolved := server.resolveRepository(responseWriter, payload.Repo)
	if !resolved {
		return
	}
	result, applyError := server.workflow.ApplyRoutine(request.Context(), repository, payload.ID, payload.ConfirmToken, payload.PreviewHash)
	if applyError != nil {
		server.writeWorkflowError(responseWriter, applyError)
		return
	}

	reported, present := result.Reported()
	switch {
	case !present:
		writeError(responseWriter, http.StatusInternalServerError, routineMissingOKMessage)
	case !reported:
		writeJSON(responseWriter, http.StatusConflict, result.Payload)
	default:
		writeJSON(responseWriter, http.StatusOK, result.Payload)
	}
}

func (server *Server) writeWorkflowError(responseWriter http.ResponseWriter, workflowError error) {
	var invalidRoutine workflow.InvalidRoutineError
	switch {
	case errors.Is(workflowError, workflow.ErrConfirmationRejected):
		writeError(responseWriter, http.StatusForbidden, workflowError.Error())
	case errors.As(workflowError, &invalidRoutine):
		writeError(responseWriter, http.StatusUnprocessableEntity, workflowError.Error())
	default:
		writeError(responseWriter, http.StatusInternalServerError, server.redactor.Redact(workflowError.Error()))
	}
}
