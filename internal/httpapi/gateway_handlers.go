package httpapi

import (
	"context"
	"errors"
	"net/http"

	"passkeygate.org/internal/account"
	"passkeygate.org/internal/action"
	"passkeygate.org/internal/controller"
	"passkeygate.org/internal/passkey"
	"passkeygate.org/internal/sink"
)

type initializeRequest struct {
	TrustedRelayer     account.ID          `json:"trusted_relayer"`
	Owner              account.ID          `json:"owner"`
	InitialCredentials []passkey.PublicKey `json:"initial_credentials"`
}

type accountRequest struct {
	AccountID account.ID `json:"account_id"`
}

type credentialRequest struct {
	Credential passkey.PublicKey `json:"credential"`
}

type delegatedRequest struct {
	Credential passkey.PublicKey `json:"credential"`
	Action     action.Envelope   `json:"action"`
}

type delegatedBatchRequest struct {
	Credential passkey.PublicKey `json:"credential"`
	Actions    []action.Envelope `json:"actions"`
}

type directRequest struct {
	Action action.Envelope `json:"action"`
}

type directBatchRequest struct {
	Actions []action.Envelope `json:"actions"`
}

type credentialsResponse struct {
	Items []passkey.PublicKey `json:"items"`
}

var errNoActions = errors.New("actions are required")

func (a *API) initialize(w http.ResponseWriter, r *http.Request) {
	ec, err := a.executionContext(r)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	var req initializeRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	err = a.gateway.Initialize(r.Context(), ec, controller.InitParams{
		Owner:          req.Owner,
		TrustedRelayer: req.TrustedRelayer,
		Credentials:    req.InitialCredentials,
	})
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"owner":           req.Owner,
		"trusted_relayer": req.TrustedRelayer,
		"credentials":     len(req.InitialCredentials),
	})
}

func (a *API) getRelayer(w http.ResponseWriter, r *http.Request) {
	id, err := a.gateway.TrustedRelayer(r.Context())
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountRequest{AccountID: id})
}

func (a *API) setRelayer(w http.ResponseWriter, r *http.Request) {
	a.updateAccount(w, r, a.gateway.SetTrustedRelayer)
}

func (a *API) getOwner(w http.ResponseWriter, r *http.Request) {
	id, err := a.gateway.Owner(r.Context())
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountRequest{AccountID: id})
}

func (a *API) setOwner(w http.ResponseWriter, r *http.Request) {
	a.updateAccount(w, r, a.gateway.TransferOwnership)
}

func (a *API) updateAccount(w http.ResponseWriter, r *http.Request, set func(ctx context.Context, ec controller.ExecutionContext, id account.ID) error) {
	ec, err := a.executionContext(r)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	var req accountRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if err := set(r.Context(), ec, req.AccountID); err != nil {
		handleGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *API) listCredentials(w http.ResponseWriter, r *http.Request) {
	keys, err := a.gateway.ListCredentials(r.Context())
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	if keys == nil {
		keys = []passkey.PublicKey{}
	}
	writeJSON(w, http.StatusOK, credentialsResponse{Items: keys})
}

func (a *API) addCredential(w http.ResponseWriter, r *http.Request) {
	ec, err := a.executionContext(r)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	var req credentialRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if req.Credential.IsZero() {
		writeError(w, r, http.StatusBadRequest, "credential is required")
		return
	}
	added, err := a.gateway.AddCredential(r.Context(), ec, req.Credential)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"added": added})
}

func (a *API) getCredential(w http.ResponseWriter, r *http.Request) {
	key, err := passkey.ParsePublicKey(r.PathValue("key"))
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	ok, err := a.gateway.IsCredentialRegistered(r.Context(), key)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"credential": key, "registered": ok})
}

func (a *API) removeCredential(w http.ResponseWriter, r *http.Request) {
	ec, err := a.executionContext(r)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	key, err := passkey.ParsePublicKey(r.PathValue("key"))
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	removed, err := a.gateway.RemoveCredential(r.Context(), ec, key)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (a *API) executeDelegated(w http.ResponseWriter, r *http.Request) {
	ec, err := a.executionContext(r)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	var req delegatedRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if req.Action.Descriptor == nil {
		writeError(w, r, http.StatusBadRequest, "action is required")
		return
	}
	b, err := a.gateway.ExecuteDelegatedAction(r.Context(), ec, req.Credential, req.Action.Descriptor)
	a.respondBatch(w, r, b, err)
}

func (a *API) executeDelegatedBatch(w http.ResponseWriter, r *http.Request) {
	ec, err := a.executionContext(r)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	var req delegatedBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if len(req.Actions) == 0 {
		badRequest(w, r, errNoActions)
		return
	}
	b, err := a.gateway.ExecuteDelegatedActions(r.Context(), ec, req.Credential, action.Descriptors(req.Actions))
	a.respondBatch(w, r, b, err)
}

func (a *API) executeDirect(w http.ResponseWriter, r *http.Request) {
	ec, err := a.executionContext(r)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	var req directRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if req.Action.Descriptor == nil {
		writeError(w, r, http.StatusBadRequest, "action is required")
		return
	}
	b, err := a.gateway.ExecuteDirectAction(r.Context(), ec, req.Action.Descriptor)
	a.respondBatch(w, r, b, err)
}

func (a *API) executeDirectBatch(w http.ResponseWriter, r *http.Request) {
	ec, err := a.executionContext(r)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	var req directBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if len(req.Actions) == 0 {
		badRequest(w, r, errNoActions)
		return
	}
	b, err := a.gateway.ExecuteDirectActions(r.Context(), ec, action.Descriptors(req.Actions))
	a.respondBatch(w, r, b, err)
}

// respondBatch answers 202: the promises are scheduled, not yet applied.
func (a *API) respondBatch(w http.ResponseWriter, r *http.Request, b sink.Batch, err error) {
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, b)
}
