package inbound

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/execution-hub/dsp-connector/internal/domain/entity"
	"github.com/execution-hub/dsp-connector/internal/domain/failure"
	"github.com/execution-hub/dsp-connector/internal/domain/identity"
	"github.com/execution-hub/dsp-connector/internal/domain/protocol"
)

// Rule states which roles receive a message kind and in which states it is accepted.
type Rule struct {
	Recipients []entity.Type
	// Sources lists accepting states. Nil accepts every non-terminal state; an empty
	// non-nil slice accepts none.
	Sources []int
}

// Request is one inbound protocol message.
type Request[T entity.Stateful] struct {
	Token   string
	Message protocol.RemoteMessage
	Rule    Rule
	// Correlation is the sender's process id, used to recognize a retransmitted initial message.
	Correlation string
	// Create builds the entity for an initial message. Nil when the message must address an existing process.
	Create func(ctx context.Context, caller *identity.ParticipantIdentity) (T, error)
	// Apply transitions the leased entity.
	Apply func(ctx context.Context, e T) error
}

type Config[T entity.Stateful] struct {
	// Audience is this participant's id; presented tokens must be issued for it.
	Audience  string
	Terminal  func(state int) bool
	StateName func(state int) string
	Notify    func(e T)
}

// Handler applies inbound messages inside one leased unit of work. Every lease it
// acquires is released exactly once, by save or by break.
type Handler[T entity.Stateful] struct {
	store    entity.Store[T]
	verifier identity.TokenVerifier
	cfg      Config[T]
	logger   zerolog.Logger
}

func NewHandler[T entity.Stateful](store entity.Store[T], verifier identity.TokenVerifier, cfg Config[T], logger zerolog.Logger) *Handler[T] {
	if cfg.Terminal == nil {
		cfg.Terminal = func(int) bool { return false }
	}
	if cfg.StateName == nil {
		cfg.StateName = strconv.Itoa
	}
	return &Handler[T]{store: store, verifier: verifier, cfg: cfg, logger: logger}
}

// Handle authenticates the caller and applies the message. Rejections are *failure.Error.
func (h *Handler[T]) Handle(ctx context.Context, req Request[T]) (T, error) {
	var zero T
	msg := req.Message
	caller, err := h.verifier.Verify(ctx, req.Token, identity.VerificationContext{Audience: h.cfg.Audience, Scope: msg.MessageType()})
	if err != nil {
		return zero, failure.Unauthorized("%v", err)
	}
	if caller == nil {
		return zero, failure.Unauthorized("no participant identity")
	}

	pid := msg.ProcessID()
	if pid == "" {
		if req.Create == nil {
			return zero, failure.BadRequest("%s requires a process id", msg.MessageType())
		}
		return h.create(ctx, req, caller)
	}

	e, err := h.lease(ctx, pid)
	if err != nil {
		return zero, err
	}
	return h.apply(ctx, req, req.Rule, caller, e)
}

// Find returns the process addressed by id when the caller is its counterparty. Other
// callers get NOT_FOUND so process ids cannot be probed.
func (h *Handler[T]) Find(ctx context.Context, token, scope, id string) (T, error) {
	var zero T
	caller, err := h.verifier.Verify(ctx, token, identity.VerificationContext{Audience: h.cfg.Audience, Scope: scope})
	if err != nil || caller == nil {
		return zero, failure.Unauthorized("%v", err)
	}
	e, err := h.store.FindByID(ctx, id)
	if err != nil {
		return zero, fmt.Errorf("find process %s: %w", id, err)
	}
	if e == zero || e.Entity().CounterPartyID != caller.ID {
		return zero, failure.NotFound("process %s", id)
	}
	return e, nil
}

func (h *Handler[T]) lease(ctx context.Context, id string) (T, error) {
	var zero T
	e, err := h.store.FindByIDAndLease(ctx, id)
	switch {
	case errors.Is(err, entity.ErrNotFound):
		return zero, failure.NotFound("process %s", id)
	case errors.Is(err, entity.ErrAlreadyLeased):
		return zero, failure.Conflict("process %s is being processed", id)
	case err != nil:
		return zero, fmt.Errorf("lease process %s: %w", id, err)
	}
	return e, nil
}

func (h *Handler[T]) create(ctx context.Context, req Request[T], caller *identity.ParticipantIdentity) (T, error) {
	var zero T
	msg := req.Message
	if req.Correlation != "" {
		existing, err := h.store.FindByCorrelationID(ctx, req.Correlation)
		if err != nil {
			return zero, fmt.Errorf("find process by correlation %s: %w", req.Correlation, err)
		}
		if existing != zero {
			e, err := h.lease(ctx, existing.Entity().ID)
			if err != nil {
				return zero, err
			}
			// Only a retransmission of the original message is accepted.
			return h.apply(ctx, req, Rule{Recipients: req.Rule.Recipients, Sources: []int{}}, caller, e)
		}
	}

	e, err := req.Create(ctx, caller)
	if err != nil {
		var fe *failure.Error
		if errors.As(err, &fe) {
			return zero, fe
		}
		return zero, failure.BadRequest("%v", err)
	}
	ent := e.Entity()
	ent.ProtocolMessages.MessageReceived(msg.MessageID())
	if err := h.store.Save(ctx, e); err != nil {
		return zero, fmt.Errorf("save process %s: %w", ent.ID, err)
	}
	h.logger.Info().
		Str("process_id", ent.ID).
		Str("state", h.cfg.StateName(ent.State)).
		Str("counter_party_id", caller.ID).
		Str("message_id", msg.MessageID()).
		Msg("process created from inbound message")
	h.notify(e)
	return e, nil
}

func (h *Handler[T]) apply(ctx context.Context, req Request[T], rule Rule, caller *identity.ParticipantIdentity, e T) (T, error) {
	var zero T
	ent := e.Entity()
	msgID := req.Message.MessageID()
	log := h.logger.With().
		Str("process_id", ent.ID).
		Str("state", h.cfg.StateName(ent.State)).
		Str("message_id", msgID).
		Str("message_type", req.Message.MessageType()).
		Logger()

	if ent.ProtocolMessages.IsAlreadyReceived(msgID) {
		h.release(ctx, ent.ID)
		log.Debug().Msg("duplicate message ignored")
		return e, nil
	}
	if msgID != "" && msgID == ent.ProtocolMessages.LastSent {
		h.release(ctx, ent.ID)
		return zero, failure.BadRequest("message %s originates from this connector", msgID)
	}
	if caller.ID != ent.CounterPartyID {
		h.release(ctx, ent.ID)
		log.Warn().Str("counter_party_id", caller.ID).Msg("message from unexpected participant")
		return zero, failure.BadRequest("participant %s is not the counterparty of process %s", caller.ID, ent.ID)
	}
	if h.cfg.Terminal(ent.State) {
		h.release(ctx, ent.ID)
		return zero, failure.Conflict("process %s is in terminal state %s", ent.ID, h.cfg.StateName(ent.State))
	}
	if !slices.Contains(rule.Recipients, ent.Type) {
		h.release(ctx, ent.ID)
		return zero, failure.BadRequest("%s cannot be received by a %s", req.Message.MessageType(), ent.Type)
	}
	if rule.Sources != nil && !slices.Contains(rule.Sources, ent.State) {
		h.release(ctx, ent.ID)
		return zero, failure.Conflict("%s not accepted in state %s", req.Message.MessageType(), h.cfg.StateName(ent.State))
	}

	if err := req.Apply(ctx, e); err != nil {
		h.release(ctx, ent.ID)
		var fe *failure.Error
		if errors.As(err, &fe) {
			return zero, fe
		}
		return zero, failure.Conflict("%v", err)
	}
	ent.ProtocolMessages.MessageReceived(msgID)
	if err := h.store.Save(ctx, e); err != nil {
		h.release(ctx, ent.ID)
		return zero, fmt.Errorf("save process %s: %w", ent.ID, err)
	}
	log.Debug().Str("new_state", h.cfg.StateName(ent.State)).Msg("inbound message applied")
	h.notify(e)
	return e, nil
}

func (h *Handler[T]) release(ctx context.Context, id string) {
	if err := h.store.BreakLease(context.WithoutCancel(ctx), id); err != nil {
		h.logger.Warn().Err(err).Str("process_id", id).Msg("failed to break lease")
	}
}

func (h *Handler[T]) notify(e T) {
	if h.cfg.Notify != nil {
		h.cfg.Notify(e)
	}
}
