package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/execution-hub/dsp-connector/internal/domain/transfer"
)

type transferAck struct {
	Type        string `json:"@type"`
	ConsumerPid string `json:"consumerPid"`
	ProviderPid string `json:"providerPid"`
	State       string `json:"state"`
}

func transferResponse(p *transfer.Process) transferAck {
	consumerPid, providerPid := pids(&p.StatefulEntity)
	return transferAck{
		Type:        "dspace:TransferProcess",
		ConsumerPid: consumerPid,
		ProviderPid: providerPid,
		State:       "dspace:" + p.CurrentState().String(),
	}
}

func (s *Server) respondTransfer(w http.ResponseWriter, r *http.Request, p *transfer.Process, err error) {
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	status := http.StatusOK
	if chi.URLParam(r, "pid") == "" {
		status = http.StatusCreated
	}
	respondJSON(w, status, transferResponse(p))
}

func (s *Server) transferRequest(w http.ResponseWriter, r *http.Request) {
	var msg transfer.TransferRequestMessage
	if err := decodeMessage(r, transfer.TypeTransferRequestMessage, &msg); err != nil {
		s.respondFailure(w, r, err)
		return
	}
	p, err := s.transferProtocol.NotifyRequested(r.Context(), bearerToken(r), msg)
	s.respondTransfer(w, r, p, err)
}

func (s *Server) transferStart(w http.ResponseWriter, r *http.Request) {
	var msg transfer.TransferStartMessage
	if err := decodeMessage(r, transfer.TypeTransferStartMessage, &msg); err != nil {
		s.respondFailure(w, r, err)
		return
	}
	msg.TargetPid = chi.URLParam(r, "pid")
	p, err := s.transferProtocol.NotifyStarted(r.Context(), bearerToken(r), msg)
	s.respondTransfer(w, r, p, err)
}

func (s *Server) transferSuspension(w http.ResponseWriter, r *http.Request) {
	var msg transfer.TransferSuspensionMessage
	if err := decodeMessage(r, transfer.TypeTransferSuspensionMessage, &msg); err != nil {
		s.respondFailure(w, r, err)
		return
	}
	msg.TargetPid = chi.URLParam(r, "pid")
	p, err := s.transferProtocol.NotifySuspended(r.Context(), bearerToken(r), msg)
	s.respondTransfer(w, r, p, err)
}

func (s *Server) transferCompletion(w http.ResponseWriter, r *http.Request) {
	var msg transfer.TransferCompletionMessage
	if err := decodeMessage(r, transfer.TypeTransferCompletionMessage, &msg); err != nil {
		s.respondFailure(w, r, err)
		return
	}
	msg.TargetPid = chi.URLParam(r, "pid")
	p, err := s.transferProtocol.NotifyCompleted(r.Context(), bearerToken(r), msg)
	s.respondTransfer(w, r, p, err)
}

func (s *Server) transferTermination(w http.ResponseWriter, r *http.Request) {
	var msg transfer.TransferTerminationMessage
	if err := decodeMessage(r, transfer.TypeTransferTerminationMessage, &msg); err != nil {
		s.respondFailure(w, r, err)
		return
	}
	msg.TargetPid = chi.URLParam(r, "pid")
	p, err := s.transferProtocol.NotifyTerminated(r.Context(), bearerToken(r), msg)
	s.respondTransfer(w, r, p, err)
}

func (s *Server) getTransfer(w http.ResponseWriter, r *http.Request) {
	p, err := s.transferProtocol.FindByID(r.Context(), bearerToken(r), chi.URLParam(r, "pid"))
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, transferResponse(p))
}
