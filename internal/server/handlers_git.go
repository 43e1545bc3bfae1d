package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/temirov/acs/internal/gitops"
)

const stageParameter = "stage"

type branchRequest struct {
	Repo string `json:"repo"`
	Name string `json:"name"`
}

type commitRequest struct {
	Repo    string `json:"repo"`
	Message string `json:"message"`
}

type repositoryRequest struct {
	Repo string `json:"repo"`
}

type repairRequest struct {
	Repo       string `json:"repo"`
	BaseBranch string `json:"base_branch"`
}

func (server *Server) handlePatchApply(responseWriter http.ResponseWriter, request *http.Request) {
	var patchRequest gitops.PatchRequest
	if !decodeBody(responseWriter, request, &patchRequest) {
		return
	}
	server.writeResult(responseWriter, server.gitOperations.ApplyPatch(request.Context(), server.correlationID(request), patchRequest))
}

func (server *Server) handleBranch(responseWriter http.ResponseWriter, request *http.Request) {
	var payload branchRequest
	if !decodeBody(responseWriter, request, &payload) {
		return
	}
	server.writeResult(responseWriter, server.gitOperations.CreateBranch(request.Context(), server.correlationID(request), payload.Repo, payload.Name))
}

func (server *Server) handleCommit(responseWriter http.ResponseWriter, request *http.Request) {
	var payload commitRequest
	if !decodeBody(responseWriter, request, &payload) {
		return
	}
	server.writeResult(responseWriter, server.gitOperations.Commit(request.Context(), server.correlationID(request), payload.Repo, payload.Message))
}

func (server *Server) handlePush(responseWriter http.ResponseWriter, request *http.Request) {
	var payload repositoryRequest
	if !decodeBody(responseWriter, request, &payload) {
		return
	}
	server.writeResult(responseWriter, server.gitOperations.Push(request.Context(), server.correlationID(request), payload.Repo))
}

func (server *Server) handleState(responseWriter http.ResponseWriter, request *http.Request) {
	repositoryKey := request.URL.Query().Get(repoQueryParameter)
	server.writeResult(responseWriter, server.gitOperations.State(request.Context(), server.correlationID(request), repositoryKey))
}

func (server *Server) handlePullRequestPrepare(responseWriter http.ResponseWriter, request *http.Request) {
	repositoryKey := request.URL.Query().Get(repoQueryParameter)
	server.writeResult(responseWriter, server.gitOperations.PullRequestHint(request.Context(), server.correlationID(request), repositoryKey))
}

func (server *Server) handleRepair(responseWriter http.ResponseWriter, request *http.Request) {
	var payload repairRequest
	if !decodeBody(responseWriter, request, &payload) {
		return
	}
	rawStage := chi.URLParam(request, stageParameter)
	stage, recognized := gitops.ParseRepairStage(rawStage)
	if !recognized {
		stage = gitops.RepairStage(rawStage)
	}
	baseBranch := payload.BaseBranch
	if len(baseBranch) == 0 {
		baseBranch = server.baseBranch
	}
	server.writeResult(responseWriter, server.gitOperations.Repair(request.Context(), server.correlationID(request), payload.Repo, stage, baseBranch))
}
