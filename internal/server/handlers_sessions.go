package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/temirov/acs/internal/sessions"
)

const (
	sessionIDParameter         = "id"
	contentDispositionHeader   = "Content-Disposition"
	attachmentTemplateConstant = "attachment; filename=\"agent-session-%s.diff\""
)

type newSessionRequest struct {
	Repo  string `json:"repo"`
	Title string `json:"title"`
}

func (server *Server) handleSessions(responseWriter http.ResponseWriter, request *http.Request) {
	repository, resolved := server.resolveRepository(responseWriter, request.URL.Query().Get(repoQueryParameter))
	if !resolved {
		return
	}
	listing, listError := server.sessions.List(request.Context(), repository)
	if listError != nil {
		server.writeSessionError(responseWriter, listError)
		return
	}
	writeText(responseWriter, http.StatusOK, server.redactor.Redact(listing))
}

func (server *Server) handleNewSession(responseWriter http.ResponseWriter, request *http.Request) {
	var payload newSessionRequest
	if !decodeBody(responseWriter, request, &payload) {
		return
	}
	repository, resolved := server.resolveRepository(responseWriter, payload.Repo)
	if !resolved {
		return
	}
	output, newError := server.sessions.New(request.Context(), repository, payload.Title)
	if newError != nil {
		server.writeSessionError(responseWriter, newError)
		return
	}
	writeText(responseWriter, http.StatusOK, server.redactor.Redact(output))
}

func (server *Server) handleSessionDiff(responseWriter http.ResponseWriter, request *http.Request) {
	patch, ok := server.sessionDiff(responseWriter, request)
	if !ok {
		return
	}
	writeText(responseWriter, http.StatusOK, patch)
}

func (server *Server) handleSessionDiffDownload(responseWriter http.ResponseWriter, request *http.Request) {
	patch, ok := server.sessionDiff(responseWriter, request)
	if !ok {
		return
	}
	responseWriter.Header().Set(contentDispositionHeader, fmt.Sprintf(attachmentTemplateConstant, chi.URLParam(request, sessionIDParameter)))
	writeText(responseWriter, http.StatusOK, patch)
}

func (server *Server) sessionDiff(responseWriter http.ResponseWriter, request *http.Request) (string, bool) {
	repository, resolved := server.resolveRepository(responseWriter, request.URL.Query().Get(repoQueryParameter))
	if !resolved {
		return "", false
	}
	patch, diffError := server.sessions.Diff(request.Context(), repository, chi.URLParam(request, sessionIDParameter))
	if diffError != nil {
		server.writeSessionError(responseWriter, diffError)
		return "", false
	}
	return patch, true
}

func (server *Server) writeSessionError(responseWriter http.ResponseWriter, sessionError error) {
	var inputError sessions.InvalidInputError
	switch {
	case errors.As(sessionError, &inputError):
		writeError(responseWriter, http.StatusBadRequest, inputError.Error())
	case errors.Is(sessionError, sessions.ErrPatchNotFound):
		writeError(responseWriter, http.StatusNotFound, sessionError.Error())
	default:
		writeError(responseWriter, http.StatusInternalServerError, server.redactor.Redact(sessionError.Error()))
	}
}
