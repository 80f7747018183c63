package handler

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deedmarket/deedmarketd/internal/domain"
	"github.com/deedmarket/deedmarketd/internal/protocol"
)

type fakeSubmitter struct {
	receipt *protocol.Receipt
	err     error
	calls   int
}

func (f *fakeSubmitter) Submit(_ context.Context, _, _ []byte) (*protocol.Receipt, error) {
	f.calls++
	return f.receipt, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func submitBody(t *testing.T, ix protocol.Instruction) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(submitRequest{
		Instruction: "0x" + hex.EncodeToString(ix.Encode()),
		Signature:   "0x" + hex.EncodeToString(make([]byte, 65)),
	})
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func TestHandleSubmitSuccess(t *testing.T) {
	svc := &fakeSubmitter{receipt: &protocol.Receipt{Operation: "deposit"}}
	req := httptest.NewRequest(http.MethodPost, "/api/deposit", submitBody(t, protocol.Deposit{Amount: 10}))
	rec := httptest.NewRecorder()

	handleSubmit(rec, req, svc, testLogger(), "deposit")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, svc.calls)

	var resp receiptResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "deposit", resp.Operation)
}

func TestHandleSubmitWrongEndpoint(t *testing.T) {
	svc := &fakeSubmitter{receipt: &protocol.Receipt{Operation: "deposit"}}
	req := httptest.NewRequest(http.MethodPost, "/api/offers", submitBody(t, protocol.Deposit{Amount: 10}))
	rec := httptest.NewRecorder()

	handleSubmit(rec, req, svc, testLogger(), "make_offer")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, svc.calls, "a mismatched instruction must never reach the service")
}

func TestHandleSubmitMalformedRequests(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{not json`},
		{"missing instruction", `{"signature":"0xabcd"}`},
		{"bad instruction hex", `{"instruction":"0xzz","signature":"0xabcd"}`},
		{"bad signature hex", `{"instruction":"0xabcd","signature":"0xzz"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeSubmitter{}
			req := httptest.NewRequest(http.MethodPost, "/api/deposit", bytes.NewBufferString(tc.body))
			rec := httptest.NewRecorder()

			handleSubmit(rec, req, svc, testLogger(), "deposit")

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, 0, svc.calls)
		})
	}
}

func TestHandleSubmitUndecodableInstruction(t *testing.T) {
	svc := &fakeSubmitter{}
	body, err := json.Marshal(submitRequest{
		Instruction: "0x" + hex.EncodeToString(make([]byte, 16)),
		Signature:   "0x" + hex.EncodeToString(make([]byte, 65)),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/deposit", bytes.NewBuffer(body))
	rec := httptest.NewRecorder()

	handleSubmit(rec, req, svc, testLogger(), "deposit")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, svc.calls)
}

func TestHandleSubmitServiceError(t *testing.T) {
	svc := &fakeSubmitter{err: fmt.Errorf("service: %w", domain.ErrOfferNotPending)}
	req := httptest.NewRequest(http.MethodPost, "/api/deposit", submitBody(t, protocol.Deposit{Amount: 10}))
	rec := httptest.NewRecorder()

	handleSubmit(rec, req, svc, testLogger(), "deposit")

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWriteDomainErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrBadSig, http.StatusUnauthorized},
		{domain.ErrInvalidPrice, http.StatusBadRequest},
		{domain.ErrBadEncode, http.StatusBadRequest},
		{domain.ErrUnauthorized, http.StatusForbidden},
		{domain.ErrAlreadyInitialized, http.StatusConflict},
		{domain.ErrOfferExpired, http.StatusConflict},
		{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{domain.ErrTransferFailed, http.StatusUnprocessableEntity},
		{fmt.Errorf("something else entirely"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeDomainError(rec, fmt.Errorf("wrapped: %w", tc.err))
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestParseListOpts(t *testing.T) {
	cases := []struct {
		name   string
		query  string
		limit  int
		offset int
	}{
		{"defaults", "", 50, 0},
		{"explicit", "?limit=25&offset=100", 25, 100},
		{"capped", "?limit=9999", 500, 0},
		{"garbage ignored", "?limit=abc&offset=-5", 50, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/properties"+tc.query, nil)
			opts := parseListOpts(req)
			assert.Equal(t, tc.limit, opts.Limit)
			assert.Equal(t, tc.offset, opts.Offset)
		})
	}
}
