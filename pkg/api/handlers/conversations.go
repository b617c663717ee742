package handlers

import (
	"encoding/json"
	"net/http"

	"log/slog"

	"github.com/gorilla/mux"

	"fpchat/pkg/engine"
	"fpchat/pkg/models"
	"fpchat/pkg/send"
	"fpchat/pkg/utils"
	"fpchat/pkg/validation"
)

// Conversations exposes the engine over HTTP for the UI process.
type Conversations struct {
	Eng *engine.Engine
}

// Register wires all conversation and timeline endpoints onto r.
func (h *Conversations) Register(r *mux.Router) {
	r.HandleFunc("/conversations", h.list).Methods(http.MethodGet)
	r.HandleFunc("/conversations", h.upsert).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}", h.drop).Methods(http.MethodDelete)

	r.HandleFunc("/conversations/{id}/select", h.selectConv).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/timeline", h.timeline).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}/timeline/more", h.loadMore).Methods(http.MethodPost)

	r.HandleFunc("/conversations/{id}/messages", h.sendMessage).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/draft", h.draft).Methods(http.MethodGet)
}

func (h *Conversations) list(w http.ResponseWriter, r *http.Request) {
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Conversations []models.Conversation `json:"conversations"`
		Active        string                `json:"active,omitempty"`
	}{Conversations: h.Eng.Conversations(), Active: h.Eng.Active()})
}

func (h *Conversations) upsert(w http.ResponseWriter, r *http.Request) {
	var c models.Conversation
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if c.ID == "" {
		utils.JSONError(w, http.StatusBadRequest, "conversation id required")
		return
	}
	h.Eng.UpsertConversation(c)
	_ = utils.JSONWrite(w, http.StatusOK, c)
}

func (h *Conversations) drop(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.Eng.DropConversation(id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Conversations) selectConv(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	view, err := h.Eng.SelectConversation(r.Context(), id)
	if err != nil {
		// The cached timeline (if any) still renders; surface the fetch
		// failure alongside it.
		slog.Warn("select_fetch_failed", "conversation", id, "error", err)
		_ = utils.JSONWrite(w, http.StatusOK, struct {
			engine.TimelineView
			FetchError string `json:"fetch_error"`
		}{TimelineView: view, FetchError: err.Error()})
		return
	}
	slog.Info("conversation_selected", "conversation", id, "count", len(view.Messages))
	_ = utils.JSONWrite(w, http.StatusOK, view)
}

func (h *Conversations) timeline(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	_ = utils.JSONWrite(w, http.StatusOK, h.Eng.Timeline(id))
}

func (h *Conversations) loadMore(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	fetched, err := h.Eng.LoadMore(r.Context(), id)
	if err != nil {
		utils.JSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	view := h.Eng.Timeline(id)
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		engine.TimelineView
		Fetched bool `json:"fetched"`
	}{TimelineView: view, Fetched: fetched})
}

type sendRequest struct {
	Text    string                 `json:"text,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

func (h *Conversations) sendMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validation.ValidateDraft(req.Text, req.Payload); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	err := h.Eng.Send(r.Context(), id, send.Draft{Text: req.Text, Payload: req.Payload})
	if err == send.ErrSendInFlight {
		utils.JSONError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		utils.JSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusAccepted, h.Eng.Timeline(id))
}

func (h *Conversations) draft(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	d, ok := h.Eng.RestoreDraft(id)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, d)
}
