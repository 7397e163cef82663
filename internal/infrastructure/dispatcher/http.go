package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/execution-hub/dsp-connector/internal/domain/identity"
	"github.com/execution-hub/dsp-connector/internal/domain/negotiation"
	"github.com/execution-hub/dsp-connector/internal/domain/protocol"
	"github.com/execution-hub/dsp-connector/internal/domain/transfer"
)

const maxResponseBytes = 1 << 20

// HTTPDispatcher posts protocol messages to the counterparty's DSP endpoint.
type HTTPDispatcher struct {
	client *http.Client
	issuer identity.TokenIssuer
	logger zerolog.Logger
}

func NewHTTPDispatcher(client *http.Client, issuer identity.TokenIssuer, logger zerolog.Logger) *HTTPDispatcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPDispatcher{
		client: client,
		issuer: issuer,
		logger: logger.With().Str("service", "dispatcher").Logger(),
	}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, participantContextID string, msg protocol.RemoteMessage) (protocol.StatusResult, error) {
	path, err := Path(msg)
	if err != nil {
		return protocol.Fatal(err.Error()), nil
	}
	body, err := Encode(msg)
	if err != nil {
		return protocol.Fatal(fmt.Sprintf("encode %s: %v", msg.MessageType(), err)), nil
	}

	url := strings.TrimRight(msg.CounterPartyAddress(), "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return protocol.Fatal(fmt.Sprintf("build request: %v", err)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	if d.issuer != nil {
		token, err := d.issuer.Issue(ctx, msg.CounterPartyID())
		if err != nil {
			return protocol.StatusResult{}, fmt.Errorf("issue token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return protocol.StatusResult{}, fmt.Errorf("dispatch %s: %w", msg.MessageType(), err)
	}
	defer resp.Body.Close()
	content, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	result := Classify(resp.StatusCode, content)
	d.logger.Debug().
		Str("participant_context_id", participantContextID).
		Str("message_id", msg.MessageID()).
		Str("message_type", msg.MessageType()).
		Str("url", url).
		Int("status", resp.StatusCode).
		Msg("message dispatched")
	return result, nil
}

// Classify maps an HTTP status to a dispatch outcome.
func Classify(status int, content []byte) protocol.StatusResult {
	switch {
	case status >= 200 && status < 300:
		return protocol.Success(content)
	case status == http.StatusRequestTimeout, status == http.StatusConflict,
		status == http.StatusTooManyRequests, status >= 500:
		return protocol.Retry(detail(status, content))
	default:
		return protocol.Fatal(detail(status, content))
	}
}

func detail(status int, content []byte) string {
	text := strings.TrimSpace(string(content))
	if len(text) > 256 {
		text = text[:256]
	}
	if text == "" {
		return fmt.Sprintf("status %d", status)
	}
	return fmt.Sprintf("status %d: %s", status, text)
}

// Path resolves the DSP endpoint for a message relative to the counterparty address.
func Path(msg protocol.RemoteMessage) (string, error) {
	pid := msg.ProcessID()
	switch msg.MessageType() {
	case negotiation.TypeContractRequestMessage:
		if pid == "" {
			return "/negotiations/request", nil
		}
		return "/negotiations/" + pid + "/request", nil
	case negotiation.TypeContractOfferMessage:
		if pid == "" {
			return "/negotiations/offers", nil
		}
		return "/negotiations/" + pid + "/offers", nil
	case negotiation.TypeContractNegotiationEvent:
		return scoped("negotiations", pid, "events")
	case negotiation.TypeContractAgreementMessage:
		return scoped("negotiations", pid, "agreement")
	case negotiation.TypeContractAgreementVerify:
		return scoped("negotiations", pid, "agreement/verification")
	case negotiation.TypeContractNegotiationTerminal:
		return scoped("negotiations", pid, "termination")
	case transfer.TypeTransferRequestMessage:
		return "/transfers/request", nil
	case transfer.TypeTransferStartMessage:
		return scoped("transfers", pid, "start")
	case transfer.TypeTransferSuspensionMessage:
		return scoped("transfers", pid, "suspension")
	case transfer.TypeTransferCompletionMessage:
		return scoped("transfers", pid, "completion")
	case transfer.TypeTransferTerminationMessage:
		return scoped("transfers", pid, "termination")
	}
	return "", fmt.Errorf("no endpoint for message type %q", msg.MessageType())
}

func scoped(kind, pid, action string) (string, error) {
	if pid == "" {
		return "", fmt.Errorf("%s %s requires the counterparty process id", kind, action)
	}
	return "/" + kind + "/" + pid + "/" + action, nil
}

// Encode renders the message body with its "@type" discriminator.
func Encode(msg protocol.RemoteMessage) ([]byte, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	fields["@type"] = msg.MessageType()
	return json.Marshal(fields)
}
