package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	appNegotiation "github.com/execution-hub/dsp-connector/internal/application/negotiation"
	appTransfer "github.com/execution-hub/dsp-connector/internal/application/transfer"
	"github.com/execution-hub/dsp-connector/internal/domain/failure"
	"github.com/execution-hub/dsp-connector/internal/domain/negotiation"
	"github.com/execution-hub/dsp-connector/internal/infrastructure/sse"
)

const maxBodyBytes = 1 << 20

// Dependencies wires the services behind the HTTP surface.
type Dependencies struct {
	NegotiationProtocol *appNegotiation.ProtocolService
	TransferProtocol    *appTransfer.ProtocolService
	Negotiations        *appNegotiation.Service
	Transfers           *appTransfer.Service
	Agreements          negotiation.AgreementStore
	Hub                 *sse.Hub
	Gatherer            prometheus.Gatherer
	ManagementKeyHash   string
	Logger              zerolog.Logger
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	negotiationProtocol *appNegotiation.ProtocolService
	transferProtocol    *appTransfer.ProtocolService
	negotiations        *appNegotiation.Service
	transfers           *appTransfer.Service
	agreements          negotiation.AgreementStore
	hub                 *sse.Hub
	gatherer            prometheus.Gatherer
	managementKeyHash   []byte
	logger              zerolog.Logger
}

func NewServer(deps Dependencies) *Server {
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		negotiationProtocol: deps.NegotiationProtocol,
		transferProtocol:    deps.TransferProtocol,
		negotiations:        deps.Negotiations,
		transfers:           deps.Transfers,
		agreements:          deps.Agreements,
		hub:                 deps.Hub,
		gatherer:            gatherer,
		managementKeyHash:   []byte(deps.ManagementKeyHash),
		logger:              deps.Logger.With().Str("service", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/dsp", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Route("/negotiations", func(r chi.Router) {
			r.Post("/request", s.negotiationRequest)
			r.Post("/offers", s.negotiationOffer)
			r.Get("/{pid}", s.getNegotiation)
			r.Post("/{pid}/request", s.negotiationRequest)
			r.Post("/{pid}/offers", s.negotiationOffer)
			r.Post("/{pid}/events", s.negotiationEvent)
			r.Post("/{pid}/agreement", s.negotiationAgreement)
			r.Post("/{pid}/agreement/verification", s.negotiationVerification)
			r.Post("/{pid}/termination", s.negotiationTermination)
		})

		r.Route("/transfers", func(r chi.Router) {
			r.Post("/request", s.transferRequest)
			r.Get("/{pid}", s.getTransfer)
			r.Post("/{pid}/start", s.transferStart)
			r.Post("/{pid}/suspension", s.transferSuspension)
			r.Post("/{pid}/completion", s.transferCompletion)
			r.Post("/{pid}/termination", s.transferTermination)
		})
	})

	r.Route("/v1/management", func(r chi.Router) {
		r.Use(s.requireAPIKey)

		// The event stream outlives the request timeout.
		r.Get("/events", s.eventStream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Route("/negotiations", func(r chi.Router) {
				r.Post("/", s.initiateNegotiation)
				r.Post("/offers", s.offerNegotiation)
				r.Get("/", s.listNegotiations)
				r.Get("/{id}", s.getManagedNegotiation)
				r.Post("/{id}/accept", s.acceptNegotiation)
				r.Post("/{id}/terminate", s.terminateNegotiation)
				r.Delete("/{id}", s.deleteNegotiation)
			})

			r.Get("/agreements/{id}", s.getAgreement)

			r.Route("/transfers", func(r chi.Router) {
				r.Post("/", s.initiateTransfer)
				r.Get("/", s.listTransfers)
				r.Get("/{id}", s.getManagedTransfer)
				r.Post("/{id}/suspend", s.suspendTransfer)
				r.Post("/{id}/resume", s.resumeTransfer)
				r.Post("/{id}/complete", s.completeTransfer)
				r.Post("/{id}/terminate", s.terminateTransfer)
				r.Delete("/{id}", s.deleteTransfer)
			})
		})
	})

	return r
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// respondFailure maps a classified rejection to its status code. Unclassified
// errors are logged and reported as 500 without detail.
func (s *Server) respondFailure(w http.ResponseWriter, r *http.Request, err error) {
	var fe *failure.Error
	if !errors.As(err, &fe) {
		s.logger.Error().Err(err).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request failed")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	status := http.StatusInternalServerError
	switch fe.Reason {
	case failure.ReasonNotFound:
		status = http.StatusNotFound
	case failure.ReasonConflict:
		status = http.StatusConflict
	case failure.ReasonBadRequest:
		status = http.StatusBadRequest
	case failure.ReasonUnauthorized:
		status = http.StatusUnauthorized
	}
	respondError(w, status, string(fe.Reason), fe.Message)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// decodeMessage reads a protocol message. Unknown JSON-LD members are tolerated but
// a present "@type" must name the expected message.
func decodeMessage(r *http.Request, messageType string, v interface{}) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return failure.BadRequest("read body: %v", err)
	}
	var head struct {
		Type string `json:"@type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return failure.BadRequest("invalid JSON: %v", err)
	}
	if head.Type != "" && head.Type != messageType {
		return failure.BadRequest("expected %s, got %s", messageType, head.Type)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return failure.BadRequest("invalid %s: %v", messageType, err)
	}
	return nil
}

func bearerToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	return strings.TrimSpace(authz)
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := []string{}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLimit(r *http.Request, defaultLimit, maxLimit int) int {
	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			limit = l
		}
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit
}
