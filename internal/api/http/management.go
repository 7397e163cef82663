package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	appNegotiation "github.com/execution-hub/dsp-connector/internal/application/negotiation"
	appTransfer "github.com/execution-hub/dsp-connector/internal/application/transfer"
	"github.com/execution-hub/dsp-connector/internal/domain/failure"
	"github.com/execution-hub/dsp-connector/internal/domain/negotiation"
	"github.com/execution-hub/dsp-connector/internal/domain/transfer"
	"github.com/execution-hub/dsp-connector/internal/infrastructure/sse"
)

type negotiationInitiateRequest struct {
	CounterPartyID      string                    `json:"counterPartyId"`
	CounterPartyAddress string                    `json:"counterPartyAddress"`
	Protocol            string                    `json:"protocol"`
	Offer               negotiation.ContractOffer `json:"offer"`
}

type transferInitiateRequest struct {
	AgreementID         string            `json:"agreementId"`
	CounterPartyAddress string            `json:"counterPartyAddress"`
	Protocol            string            `json:"protocol"`
	TransferType        string            `json:"transferType"`
	DataDestination     map[string]string `json:"dataDestination"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// decodeReason accepts an empty body.
func decodeReason(r *http.Request) (string, error) {
	if r.ContentLength == 0 {
		return "", nil
	}
	var req reasonRequest
	if err := decodeBody(r, &req); err != nil {
		return "", failure.BadRequest("%v", err)
	}
	return req.Reason, nil
}

// Negotiation handlers
func (s *Server) initiateNegotiation(w http.ResponseWriter, r *http.Request) {
	var req negotiationInitiateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	n, err := s.negotiations.Initiate(r.Context(), appNegotiation.InitiateInput{
		CounterPartyID:      req.CounterPartyID,
		CounterPartyAddress: req.CounterPartyAddress,
		Protocol:            req.Protocol,
		Offer:               req.Offer,
	})
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, n)
}

func (s *Server) offerNegotiation(w http.ResponseWriter, r *http.Request) {
	var req negotiationInitiateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.Offer.ID == "" {
		req.Offer.ID = uuid.NewString()
	}
	n, err := s.negotiations.Offer(r.Context(), appNegotiation.InitiateInput{
		CounterPartyID:      req.CounterPartyID,
		CounterPartyAddress: req.CounterPartyAddress,
		Protocol:            req.Protocol,
		Offer:               req.Offer,
	})
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, n)
}

func (s *Server) listNegotiations(w http.ResponseWriter, r *http.Request) {
	var state negotiation.State
	if v := r.URL.Query().Get("state"); v != "" {
		parsed, ok := negotiation.ParseState(v)
		if !ok {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "unknown state "+v)
			return
		}
		state = parsed
	}
	items, err := s.negotiations.List(r.Context(), state, parseLimit(r, 100, 500))
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"negotiations": items})
}

func (s *Server) getManagedNegotiation(w http.ResponseWriter, r *http.Request) {
	n, err := s.negotiations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (s *Server) acceptNegotiation(w http.ResponseWriter, r *http.Request) {
	n, err := s.negotiations.Accept(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (s *Server) terminateNegotiation(w http.ResponseWriter, r *http.Request) {
	reason, err := decodeReason(r)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	n, err := s.negotiations.Terminate(r.Context(), chi.URLParam(r, "id"), reason)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (s *Server) deleteNegotiation(w http.ResponseWriter, r *http.Request) {
	if err := s.negotiations.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getAgreement(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := s.agreements.FindAgreement(r.Context(), id)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	if a == nil {
		respondError(w, http.StatusNotFound, string(failure.ReasonNotFound), "agreement "+id+" not found")
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// Transfer handlers
func (s *Server) initiateTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferInitiateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	p, err := s.transfers.Initiate(r.Context(), appTransfer.InitiateInput{
		AgreementID:         req.AgreementID,
		CounterPartyAddress: req.CounterPartyAddress,
		Protocol:            req.Protocol,
		TransferType:        req.TransferType,
		DataDestination:     req.DataDestination,
	})
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (s *Server) listTransfers(w http.ResponseWriter, r *http.Request) {
	var state transfer.State
	if v := r.URL.Query().Get("state"); v != "" {
		parsed, ok := transfer.ParseState(v)
		if !ok {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "unknown state "+v)
			return
		}
		state = parsed
	}
	items, err := s.transfers.List(r.Context(), state, parseLimit(r, 100, 500))
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"transfers": items})
}

func (s *Server) getManagedTransfer(w http.ResponseWriter, r *http.Request) {
	p, err := s.transfers.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) suspendTransfer(w http.ResponseWriter, r *http.Request) {
	reason, err := decodeReason(r)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	p, err := s.transfers.Suspend(r.Context(), chi.URLParam(r, "id"), reason)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) resumeTransfer(w http.ResponseWriter, r *http.Request) {
	p, err := s.transfers.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) completeTransfer(w http.ResponseWriter, r *http.Request) {
	p, err := s.transfers.Complete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) terminateTransfer(w http.ResponseWriter, r *http.Request) {
	reason, err := decodeReason(r)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	p, err := s.transfers.Terminate(r.Context(), chi.URLParam(r, "id"), reason)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) deleteTransfer(w http.ResponseWriter, r *http.Request) {
	if err := s.transfers.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// eventStream relays committed transitions to the caller as server-sent events.
func (s *Server) eventStream(w http.ResponseWriter, r *http.Request) {
	topics := splitCSV(r.URL.Query().Get("topics"))
	for _, t := range topics {
		if t != sse.TopicNegotiation && t != sse.TopicTransfer {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "unknown topic "+t)
			return
		}
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}

	client := sse.NewClient(uuid.NewString(), topics)
	s.hub.Register(client)
	defer s.hub.Unregister(client.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case msg, ok := <-client.Messages:
			if !ok {
				return
			}
			payload, _ := json.Marshal(msg)
			_, _ = w.Write([]byte("event: " + msg.Topic + "." + msg.Event + "\n"))
			_, _ = w.Write([]byte("id: " + msg.ID + "\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
