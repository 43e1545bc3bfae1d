package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/temirov/acs/internal/actions"
	"github.com/temirov/acs/internal/repos"
)

const (
	contentTypeHeaderConstant = "Content-Type"
	jsonContentTypeConstant   = "application/json"
	textContentTypeConstant   = "text/plain; charset=utf-8"
	maxRequestBodyBytes       = 10 << 20
	invalidJSONMessage        = "invalid json"
	repoRequiredMessage       = "repo is required"
	repoQueryParameter        = "repo"
)

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(responseWriter http.ResponseWriter, code int, payload any) {
	responseWriter.Header().Set(contentTypeHeaderConstant, jsonContentTypeConstant)
	responseWriter.WriteHeader(code)
	_ = json.NewEncoder(responseWriter).Encode(payload)
}

func writeError(responseWriter http.ResponseWriter, code int, detail string) {
	writeJSON(responseWriter, code, errorResponse{Detail: detail})
}

func writeText(responseWriter http.ResponseWriter, code int, text string) {
	responseWriter.Header().Set(contentTypeHeaderConstant, textContentTypeConstant)
	responseWriter.WriteHeader(code)
	_, _ = io.WriteString(responseWriter, text)
}

// decodeBody reads a JSON request body into target, answering 400 itself on failure.
func decodeBody(responseWriter http.ResponseWriter, request *http.Request, target any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(responseWriter, request.Body, maxRequestBodyBytes))
	if decodeError := decoder.Decode(target); decodeError != nil {
		writeError(responseWriter, http.StatusBadRequest, invalidJSONMessage)
		return false
	}
	return true
}

// resolveRepository looks the key up, answering 400 itself for unknown or missing keys.
func (server *Server) resolveRepository(responseWriter http.ResponseWriter, repositoryKey string) (repos.Repository, bool) {
	if len(strings.TrimSpace(repositoryKey)) == 0 {
		writeError(responseWriter, http.StatusBadRequest, repoRequiredMessage)
		return repos.Repository{}, false
	}
	repository, lookupError := server.repositories.Lookup(repositoryKey)
	if lookupError != nil {
		var unknownError repos.UnknownRepositoryError
		if errors.As(lookupError, &unknownError) {
			writeError(responseWriter, http.StatusBadRequest, unknownError.Error())
			return repos.Repository{}, false
		}
		writeError(responseWriter, http.StatusInternalServerError, server.redactor.Redact(lookupError.Error()))
		return repos.Repository{}, false
	}
	return repository, true
}

// writeResult redacts a synchronous result, logs it, and answers with its mapped status.
func (server *Server) writeResult(responseWriter http.ResponseWriter, result actions.Result) {
	redacted := result.MapStrings(server.redactor.Redact)
	if server.actionLog != nil {
		server.actionLog.Log(redacted)
	}
	writeJSON(responseWriter, actions.HTTPStatus(redacted), redacted)
}
