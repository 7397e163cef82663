package dataplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/execution-hub/dsp-connector/internal/domain/protocol"
	"github.com/execution-hub/dsp-connector/internal/domain/transfer"
	"github.com/execution-hub/dsp-connector/internal/infrastructure/dispatcher"
)

const maxResponseBytes = 64 << 10

// StartRequest is the body sent to the data plane to open a flow.
type StartRequest struct {
	ProcessID       string            `json:"processId"`
	AgreementID     string            `json:"agreementId"`
	AssetID         string            `json:"assetId,omitempty"`
	TransferType    string            `json:"transferType"`
	CounterPartyID  string            `json:"counterPartyId"`
	DataDestination map[string]string `json:"dataDestination,omitempty"`
}

type stopRequest struct {
	ProcessID string `json:"processId"`
	Reason    string `json:"reason,omitempty"`
}

// HTTPController signals a data plane over HTTP. A successful start returns the
// data address in the response body.
type HTTPController struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

func NewHTTPController(baseURL string, client *http.Client, logger zerolog.Logger) *HTTPController {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPController{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger.With().Str("service", "dataplane").Logger(),
	}
}

func (c *HTTPController) Start(ctx context.Context, p *transfer.Process) (protocol.StatusResult, error) {
	return c.post(ctx, "/flows", StartRequest{
		ProcessID:       p.ID,
		AgreementID:     p.AgreementID,
		AssetID:         p.AssetID,
		TransferType:    p.TransferType,
		CounterPartyID:  p.CounterPartyID,
		DataDestination: p.DataDestination,
	})
}

func (c *HTTPController) Suspend(ctx context.Context, p *transfer.Process, reason string) (protocol.StatusResult, error) {
	return c.post(ctx, "/flows/"+url.PathEscape(p.ID)+"/suspend", stopRequest{ProcessID: p.ID, Reason: reason})
}

func (c *HTTPController) Terminate(ctx context.Context, p *transfer.Process, reason string) (protocol.StatusResult, error) {
	return c.post(ctx, "/flows/"+url.PathEscape(p.ID)+"/terminate", stopRequest{ProcessID: p.ID, Reason: reason})
}

func (c *HTTPController) post(ctx context.Context, path string, body any) (protocol.StatusResult, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return protocol.Fatal(fmt.Sprintf("encode request: %v", err)), nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return protocol.Fatal(fmt.Sprintf("build request: %v", err)), nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return protocol.StatusResult{}, fmt.Errorf("data plane %s: %w", path, err)
	}
	defer resp.Body.Close()
	content, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	c.logger.Debug().Str("path", path).Int("status", resp.StatusCode).Msg("data plane called")
	return dispatcher.Classify(resp.StatusCode, content), nil
}

// Noop accepts every signal without a data plane. Start returns no data address.
type Noop struct{}

func (Noop) Start(context.Context, *transfer.Process) (protocol.StatusResult, error) {
	return protocol.Success(nil), nil
}

func (Noop) Suspend(context.Context, *transfer.Process, string) (protocol.StatusResult, error) {
	return protocol.Success(nil), nil
}

func (Noop) Terminate(context.Context, *transfer.Process, string) (protocol.StatusResult, error) {
	return protocol.Success(nil), nil
}
