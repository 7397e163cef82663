package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/execution-hub/dsp-connector/internal/domain/entity"
	"github.com/execution-hub/dsp-connector/internal/domain/failure"
	"github.com/execution-hub/dsp-connector/internal/domain/negotiation"
	domain "github.com/execution-hub/dsp-connector/internal/domain/transfer"
)

// Service exposes management commands on transfer processes.
type Service struct {
	store      Store
	agreements negotiation.AgreementStore
	listeners  *Listeners
	logger     zerolog.Logger
}

func NewService(store Store, agreements negotiation.AgreementStore, listeners *Listeners, logger zerolog.Logger) *Service {
	return &Service{
		store:      store,
		agreements: agreements,
		listeners:  listeners,
		logger:     logger.With().Str("service", "transfer").Logger(),
	}
}

type InitiateInput struct {
	AgreementID         string
	CounterPartyAddress string
	Protocol            string
	TransferType        string
	DataDestination     map[string]string
	TraceContext        map[string]string
}

// Initiate persists a consumer transfer under an agreement this connector holds.
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (*domain.Process, error) {
	if in.AgreementID == "" || in.CounterPartyAddress == "" {
		return nil, failure.BadRequest("agreementId and counterPartyAddress are required")
	}
	if in.TransferType == "" {
		return nil, failure.BadRequest("transferType is required")
	}
	agreement, err := s.agreements.FindAgreement(ctx, in.AgreementID)
	if err != nil {
		return nil, fmt.Errorf("find agreement %s: %w", in.AgreementID, err)
	}
	if agreement == nil {
		return nil, failure.BadRequest("unknown agreement %s", in.AgreementID)
	}
	p := domain.New(domain.Fields{
		Type:                entity.TypeConsumer,
		CounterPartyID:      agreement.ProviderID,
		CounterPartyAddress: in.CounterPartyAddress,
		Protocol:            in.Protocol,
		AgreementID:         agreement.ID,
		AssetID:             agreement.AssetID,
		TransferType:        in.TransferType,
		DataDestination:     in.DataDestination,
		TraceContext:        in.TraceContext,
	})
	if err := s.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save transfer: %w", err)
	}
	s.logger.Info().Str("process_id", p.ID).Str("agreement_id", p.AgreementID).Msg("transfer initiated")
	s.notify(p)
	return p, nil
}

// Suspend asks the manager to suspend a started transfer.
func (s *Service) Suspend(ctx context.Context, id, reason string) (*domain.Process, error) {
	return s.command(ctx, id, func(p *domain.Process) error {
		if err := p.TransitionSuspending(); err != nil {
			return err
		}
		p.SetErrorDetail(reason)
		return nil
	})
}

func (s *Service) Complete(ctx context.Context, id string) (*domain.Process, error) {
	return s.command(ctx, id, func(p *domain.Process) error {
		return p.TransitionCompleting()
	})
}

// Resume restarts the data flow of a suspended provider transfer.
func (s *Service) Resume(ctx context.Context, id string) (*domain.Process, error) {
	return s.command(ctx, id, func(p *domain.Process) error {
		if p.Type != entity.TypeProvider {
			return failure.BadRequest("only the provider resumes a transfer")
		}
		if p.CurrentState() != domain.StateSuspended {
			return failure.Conflict("transfer %s is %s, not SUSPENDED", id, p.CurrentState())
		}
		return p.TransitionStarting()
	})
}

// Terminate ends a transfer, locally when the counterparty never acknowledged it.
func (s *Service) Terminate(ctx context.Context, id, reason string) (*domain.Process, error) {
	return s.command(ctx, id, func(p *domain.Process) error {
		if p.CorrelationID == "" {
			return p.TransitionTerminated(reason)
		}
		if err := p.TransitionTerminating(); err != nil {
			return err
		}
		p.SetErrorDetail(reason)
		return nil
	})
}

// Delete removes a terminal transfer.
func (s *Service) Delete(ctx context.Context, id string) error {
	p, err := s.lease(ctx, id)
	if err != nil {
		return err
	}
	if !p.IsTerminal() {
		s.release(ctx, id)
		return failure.Conflict("transfer %s in state %s cannot be deleted", id, p.CurrentState())
	}
	if err := s.store.Delete(ctx, id); err != nil {
		s.release(ctx, id)
		return fmt.Errorf("delete transfer %s: %w", id, err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Process, error) {
	p, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find transfer %s: %w", id, err)
	}
	if p == nil {
		return nil, failure.NotFound("transfer %s", id)
	}
	return p, nil
}

func (s *Service) List(ctx context.Context, state domain.State, limit int) ([]*domain.Process, error) {
	return s.store.List(ctx, entity.Query{State: int(state), Limit: limit})
}

func (s *Service) command(ctx context.Context, id string, fn func(*domain.Process) error) (*domain.Process, error) {
	p, err := s.lease(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(p); err != nil {
		s.release(ctx, id)
		var fe *failure.Error
		if errors.As(err, &fe) {
			return nil, fe
		}
		return nil, failure.Conflict("%v", err)
	}
	if err := s.store.Save(ctx, p); err != nil {
		s.release(ctx, id)
		return nil, fmt.Errorf("save transfer %s: %w", id, err)
	}
	s.logger.Info().Str("process_id", id).Str("state", p.CurrentState().String()).Msg("transfer command applied")
	s.notify(p)
	return p, nil
}

func (s *Service) lease(ctx context.Context, id string) (*domain.Process, error) {
	p, err := s.store.FindByIDAndLease(ctx, id)
	switch {
	case errors.Is(err, entity.ErrNotFound):
		return nil, failure.NotFound("transfer %s", id)
	case errors.Is(err, entity.ErrAlreadyLeased):
		return nil, failure.Conflict("transfer %s is being processed", id)
	case err != nil:
		return nil, fmt.Errorf("lease transfer %s: %w", id, err)
	}
	return p, nil
}

func (s *Service) release(ctx context.Context, id string) {
	if err := s.store.BreakLease(context.WithoutCancel(ctx), id); err != nil {
		s.logger.Warn().Err(err).Str("process_id", id).Msg("failed to break lease")
	}
}

func (s *Service) notify(p *domain.Process) {
	s.listeners.Invoke(func(l domain.Listener) { domain.Notify(l, p) })
}
