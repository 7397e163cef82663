package negotiation

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/execution-hub/dsp-connector/internal/domain/entity"
	"github.com/execution-hub/dsp-connector/internal/domain/failure"
	domain "github.com/execution-hub/dsp-connector/internal/domain/negotiation"
)

// Service exposes management commands on negotiations owned by this connector.
type Service struct {
	store     Store
	listeners *Listeners
	logger    zerolog.Logger
}

func NewService(store Store, listeners *Listeners, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		listeners: listeners,
		logger:    logger.With().Str("service", "negotiation").Logger(),
	}
}

// InitiateInput starts a consumer negotiation.
type InitiateInput struct {
	CounterPartyID      string
	CounterPartyAddress string
	Protocol            string
	Offer               domain.ContractOffer
	TraceContext        map[string]string
}

// Initiate persists a consumer negotiation in INITIAL; the manager sends the request.
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (*domain.ContractNegotiation, error) {
	if in.CounterPartyID == "" || in.CounterPartyAddress == "" {
		return nil, failure.BadRequest("counterPartyId and counterPartyAddress are required")
	}
	if in.Offer.ID == "" {
		return nil, failure.BadRequest("offer id is required")
	}
	n := domain.New(domain.Fields{
		Type:                entity.TypeConsumer,
		CounterPartyID:      in.CounterPartyID,
		CounterPartyAddress: in.CounterPartyAddress,
		Protocol:            in.Protocol,
		Offer:               &in.Offer,
		TraceContext:        in.TraceContext,
	})
	if err := s.store.Save(ctx, n); err != nil {
		return nil, fmt.Errorf("save negotiation: %w", err)
	}
	s.logger.Info().Str("process_id", n.ID).Str("counter_party_id", n.CounterPartyID).Msg("negotiation initiated")
	s.notify(n)
	return n, nil
}

// Offer persists a provider negotiation in OFFERING; the manager sends the offer.
func (s *Service) Offer(ctx context.Context, in InitiateInput) (*domain.ContractNegotiation, error) {
	if in.CounterPartyID == "" || in.CounterPartyAddress == "" {
		return nil, failure.BadRequest("counterPartyId and counterPartyAddress are required")
	}
	if in.Offer.ID == "" {
		return nil, failure.BadRequest("offer id is required")
	}
	n := domain.New(domain.Fields{
		Type:                entity.TypeProvider,
		CounterPartyID:      in.CounterPartyID,
		CounterPartyAddress: in.CounterPartyAddress,
		Protocol:            in.Protocol,
		Offer:               &in.Offer,
		TraceContext:        in.TraceContext,
	})
	if err := n.TransitionOffering(); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, n); err != nil {
		return nil, fmt.Errorf("save negotiation: %w", err)
	}
	s.logger.Info().Str("process_id", n.ID).Str("counter_party_id", n.CounterPartyID).Msg("negotiation offered")
	s.notify(n)
	return n, nil
}

// Accept moves an offered consumer negotiation to ACCEPTING.
func (s *Service) Accept(ctx context.Context, id string) (*domain.ContractNegotiation, error) {
	return s.command(ctx, id, func(n *domain.ContractNegotiation) error {
		if n.Type != entity.TypeConsumer {
			return failure.BadRequest("only the consumer accepts an offer")
		}
		return n.TransitionAccepting()
	})
}

// Terminate ends a negotiation. A negotiation the counterparty never acknowledged is
// terminated locally; otherwise the manager notifies the counterparty first.
func (s *Service) Terminate(ctx context.Context, id, reason string) (*domain.ContractNegotiation, error) {
	return s.command(ctx, id, func(n *domain.ContractNegotiation) error {
		if n.CorrelationID == "" {
			return n.TransitionTerminated(reason)
		}
		if err := n.TransitionTerminating(); err != nil {
			return err
		}
		n.SetErrorDetail(reason)
		return nil
	})
}

// Delete removes a terminal negotiation that produced no agreement.
func (s *Service) Delete(ctx context.Context, id string) error {
	n, err := s.lease(ctx, id)
	if err != nil {
		return err
	}
	if !n.IsTerminal() || n.Agreement != nil {
		s.release(ctx, id)
		return failure.Conflict("negotiation %s in state %s cannot be deleted", id, n.CurrentState())
	}
	if err := s.store.Delete(ctx, id); err != nil {
		s.release(ctx, id)
		return fmt.Errorf("delete negotiation %s: %w", id, err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.ContractNegotiation, error) {
	n, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find negotiation %s: %w", id, err)
	}
	if n == nil {
		return nil, failure.NotFound("negotiation %s", id)
	}
	return n, nil
}

// List returns negotiations in state, or all when state is zero.
func (s *Service) List(ctx context.Context, state domain.State, limit int) ([]*domain.ContractNegotiation, error) {
	return s.store.List(ctx, entity.Query{State: int(state), Limit: limit})
}

func (s *Service) command(ctx context.Context, id string, fn func(*domain.ContractNegotiation) error) (*domain.ContractNegotiation, error) {
	n, err := s.lease(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(n); err != nil {
		s.release(ctx, id)
		var fe *failure.Error
		if errors.As(err, &fe) {
			return nil, fe
		}
		return nil, failure.Conflict("%v", err)
	}
	if err := s.store.Save(ctx, n); err != nil {
		s.release(ctx, id)
		return nil, fmt.Errorf("save negotiation %s: %w", id, err)
	}
	s.logger.Info().Str("process_id", id).Str("state", n.CurrentState().String()).Msg("negotiation command applied")
	s.notify(n)
	return n, nil
}

func (s *Service) lease(ctx context.Context, id string) (*domain.ContractNegotiation, error) {
	n, err := s.store.FindByIDAndLease(ctx, id)
	switch {
	case errors.Is(err, entity.ErrNotFound):
		return nil, failure.NotFound("negotiation %s", id)
	case errors.Is(err, entity.ErrAlreadyLeased):
		return nil, failure.Conflict("negotiation %s is being processed", id)
	case err != nil:
		return nil, fmt.Errorf("lease negotiation %s: %w", id, err)
	}
	return n, nil
}

func (s *Service) release(ctx context.Context, id string) {
	if err := s.store.BreakLease(context.WithoutCancel(ctx), id); err != nil {
		s.logger.Warn().Err(err).Str("process_id", id).Msg("failed to break lease")
	}
}

func (s *Service) notify(n *domain.ContractNegotiation) {
	s.listeners.Invoke(func(l domain.Listener) { domain.Notify(l, n) })
}
