package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/execution-hub/dsp-connector/internal/domain/identity/mocks"
	"github.com/execution-hub/dsp-connector/internal/domain/negotiation"
	"github.com/execution-hub/dsp-connector/internal/domain/protocol"
	"github.com/execution-hub/dsp-connector/internal/domain/transfer"
)

func requestMessage(address string) negotiation.ContractRequestMessage {
	return negotiation.ContractRequestMessage{
		Envelope: protocol.Envelope{
			ID:          "msg-1",
			ConsumerPid: "cons-1",
			Recipient:   "provider",
			Address:     address,
		},
		Offer:           negotiation.ContractOffer{ID: "offer-1", AssetID: "asset-1"},
		CallbackAddress: "http://consumer/dsp",
	}
}

func TestDispatchPostsSignedMessage(t *testing.T) {
	ctrl := gomock.NewController(t)
	issuer := mocks.NewMockTokenIssuer(ctrl)
	issuer.EXPECT().Issue(gomock.Any(), "provider").Return("tok-1", nil)

	var (
		gotPath  string
		gotAuth  string
		gotBody  map[string]any
		gotCType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotCType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"consumerPid":"cons-1","providerPid":"prov-1"}`))
	}))
	defer srv.Close()

	d := NewHTTPDispatcher(srv.Client(), issuer, zerolog.Nop())
	res, err := d.Dispatch(context.Background(), "ctx-1", requestMessage(srv.URL+"/dsp/"))
	require.NoError(t, err)

	assert.True(t, res.Succeeded())
	assert.JSONEq(t, `{"consumerPid":"cons-1","providerPid":"prov-1"}`, string(res.Content))
	assert.Equal(t, "/dsp/negotiations/request", gotPath)
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, "application/json", gotCType)
	assert.Equal(t, negotiation.TypeContractRequestMessage, gotBody["@type"])
	assert.Equal(t, "msg-1", gotBody["@id"])
}

func TestDispatchClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		want   protocol.ResponseStatus
	}{
		{http.StatusOK, protocol.StatusOK},
		{http.StatusBadRequest, protocol.StatusFatal},
		{http.StatusNotFound, protocol.StatusFatal},
		{http.StatusRequestTimeout, protocol.StatusRetry},
		{http.StatusConflict, protocol.StatusRetry},
		{http.StatusTooManyRequests, protocol.StatusRetry},
		{http.StatusInternalServerError, protocol.StatusRetry},
		{http.StatusServiceUnavailable, protocol.StatusRetry},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("boom"))
			}))
			defer srv.Close()

			d := NewHTTPDispatcher(srv.Client(), nil, zerolog.Nop())
			res, err := d.Dispatch(context.Background(), "ctx-1", requestMessage(srv.URL))
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)
			if tt.want != protocol.StatusOK {
				assert.Contains(t, res.Detail, "boom")
			}
		})
	}
}

func TestDispatchTransportErrorIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	d := NewHTTPDispatcher(nil, nil, zerolog.Nop())
	_, err := d.Dispatch(context.Background(), "ctx-1", requestMessage(url))
	require.Error(t, err)
}

func TestDispatchTokenFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	issuer := mocks.NewMockTokenIssuer(ctrl)
	issuer.EXPECT().Issue(gomock.Any(), "provider").Return("", errors.New("no key"))

	d := NewHTTPDispatcher(nil, issuer, zerolog.Nop())
	_, err := d.Dispatch(context.Background(), "ctx-1", requestMessage("http://127.0.0.1:1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no key")
}

func TestPath(t *testing.T) {
	env := func(pid string) protocol.Envelope { return protocol.Envelope{ID: "m", TargetPid: pid} }
	tests := []struct {
		name string
		msg  protocol.RemoteMessage
		want string
	}{
		{"initial request", negotiation.ContractRequestMessage{Envelope: env("")}, "/negotiations/request"},
		{"counter request", negotiation.ContractRequestMessage{Envelope: env("p1")}, "/negotiations/p1/request"},
		{"initial offer", negotiation.ContractOfferMessage{Envelope: env("")}, "/negotiations/offers"},
		{"counter offer", negotiation.ContractOfferMessage{Envelope: env("c1")}, "/negotiations/c1/offers"},
		{"event", negotiation.ContractNegotiationEventMessage{Envelope: env("p1")}, "/negotiations/p1/events"},
		{"agreement", negotiation.ContractAgreementMessage{Envelope: env("c1")}, "/negotiations/c1/agreement"},
		{"verification", negotiation.ContractAgreementVerificationMessage{Envelope: env("p1")}, "/negotiations/p1/agreement/verification"},
		{"negotiation termination", negotiation.ContractNegotiationTerminationMessage{Envelope: env("p1")}, "/negotiations/p1/termination"},
		{"transfer request", transfer.TransferRequestMessage{Envelope: env("")}, "/transfers/request"},
		{"start", transfer.TransferStartMessage{Envelope: env("c1")}, "/transfers/c1/start"},
		{"suspension", transfer.TransferSuspensionMessage{Envelope: env("c1")}, "/transfers/c1/suspension"},
		{"completion", transfer.TransferCompletionMessage{Envelope: env("c1")}, "/transfers/c1/completion"},
		{"transfer termination", transfer.TransferTerminationMessage{Envelope: env("c1")}, "/transfers/c1/termination"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Path(tt.msg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("scoped message without pid", func(t *testing.T) {
		_, err := Path(transfer.TransferStartMessage{Envelope: env("")})
		require.Error(t, err)
	})
}

func TestDispatchMissingPidIsFatal(t *testing.T) {
	d := NewHTTPDispatcher(nil, nil, zerolog.Nop())
	res, err := d.Dispatch(context.Background(), "ctx-1", negotiation.ContractAgreementVerificationMessage{})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusFatal, res.Status)
}

func TestEncodeGolden(t *testing.T) {
	body, err := Encode(requestMessage("http://provider/dsp"))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, json.Indent(&out, body, "", "  "))
	out.WriteByte('\n')

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "contract_request", out.Bytes())
}
