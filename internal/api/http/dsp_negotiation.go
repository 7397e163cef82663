package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/execution-hub/dsp-connector/internal/domain/entity"
	"github.com/execution-hub/dsp-connector/internal/domain/negotiation"
)

type negotiationAck struct {
	Type        string `json:"@type"`
	ConsumerPid string `json:"consumerPid"`
	ProviderPid string `json:"providerPid"`
	State       string `json:"state"`
}

// pids returns (consumerPid, providerPid) for a process seen from the local role.
func pids(e *entity.StatefulEntity) (string, string) {
	if e.Type == entity.TypeProvider {
		return e.CorrelationID, e.ID
	}
	return e.ID, e.CorrelationID
}

func negotiationResponse(n *negotiation.ContractNegotiation) negotiationAck {
	consumerPid, providerPid := pids(&n.StatefulEntity)
	return negotiationAck{
		Type:        "dspace:ContractNegotiation",
		ConsumerPid: consumerPid,
		ProviderPid: providerPid,
		State:       "dspace:" + n.CurrentState().String(),
	}
}

// respondNegotiation writes 201 for a negotiation created by an initial message.
func (s *Server) respondNegotiation(w http.ResponseWriter, r *http.Request, n *negotiation.ContractNegotiation, err error) {
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	status := http.StatusOK
	if chi.URLParam(r, "pid") == "" {
		status = http.StatusCreated
	}
	respondJSON(w, status, negotiationResponse(n))
}

func (s *Server) negotiationRequest(w http.ResponseWriter, r *http.Request) {
	var msg negotiation.ContractRequestMessage
	if err := decodeMessage(r, negotiation.TypeContractRequestMessage, &msg); err != nil {
		s.respondFailure(w, r, err)
		return
	}
	msg.TargetPid = chi.URLParam(r, "pid")
	n, err := s.negotiationProtocol.NotifyRequested(r.Context(), bearerToken(r), msg)
	s.respondNegotiation(w, r, n, err)
}

func (s *Server) negotiationOffer(w http.ResponseWriter, r *http.Request) {
	var msg negotiation.ContractOfferMessage
	if err := decodeMessage(r, negotiation.TypeContractOfferMessage, &msg); err != nil {
		s.respondFailure(w, r, err)
		return
	}
	msg.TargetPid = chi.URLParam(r, "pid")
	n, err := s.negotiationProtocol.NotifyOffered(r.Context(), bearerToken(r), msg)
	s.respondNegotiation(w, r, n, err)
}

func (s *Server) negotiationEvent(w http.ResponseWriter, r *http.Request) {
	var msg negotiation.ContractNegotiationEventMessage
	if err := decodeMessage(r, negotiation.TypeContractNegotiationEvent, &msg); err != nil {
		s.respondFailure(w, r, err)
		return
	}
	msg.TargetPid = chi.URLParam(r, "pid")
	n, err := s.negotiationProtocol.NotifyEvent(r.Context(), bearerToken(r), msg)
	s.respondNegotiation(w, r, n, err)
}

func (s *Server) negotiationAgreement(w http.ResponseWriter, r *http.Request) {
	var msg negotiation.ContractAgreementMessage
	if err := decodeMessage(r, negotiation.TypeContractAgreementMessage, &msg); err != nil {
		s.respondFailure(w, r, err)
		return
	}
	msg.TargetPid = chi.URLParam(r, "pid")
	n, err := s.negotiationProtocol.NotifyAgreed(r.Context(), bearerToken(r), msg)
	s.respondNegotiation(w, r, n, err)
}

func (s *Server) negotiationVerification(w http.ResponseWriter, r *http.Request) {
	var msg negotiation.ContractAgreementVerificationMessage
	if err := decodeMessage(r, negotiation.TypeContractAgreementVerify, &msg); err != nil {
		s.respondFailure(w, r, err)
		return
	}
	msg.TargetPid = chi.URLParam(r, "pid")
	n, err := s.negotiationProtocol.NotifyVerified(r.Context(), bearerToken(r), msg)
	s.respondNegotiation(w, r, n, err)
}

func (s *Server) negotiationTermination(w http.ResponseWriter, r *http.Request) {
	var msg negotiation.ContractNegotiationTerminationMessage
	if err := decodeMessage(r, negotiation.TypeContractNegotiationTerminal, &msg); err != nil {
		s.respondFailure(w, r, err)
		return
	}
	msg.TargetPid = chi.URLParam(r, "pid")
	n, err := s.negotiationProtocol.NotifyTerminated(r.Context(), bearerToken(r), msg)
	s.respondNegotiation(w, r, n, err)
}

func (s *Server) getNegotiation(w http.ResponseWriter, r *http.Request) {
	n, err := s.negotiationProtocol.FindByID(r.Context(), bearerToken(r), chi.URLParam(r, "pid"))
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, negotiationResponse(n))
}
