package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bidpool/bidpool-api/internal/cache"
	"github.com/bidpool/bidpool-api/internal/events"
	"github.com/bidpool/bidpool-api/internal/middleware"
	"github.com/bidpool/bidpool-api/internal/models"
	"github.com/bidpool/bidpool-api/internal/services"
	"github.com/bidpool/bidpool-api/pkg/dto"
	"github.com/bidpool/bidpool-api/tests/testutil"
	"github.com/google/uuid"
	"github.com/m1z23r/drift/pkg/drift"
	driftmw "github.com/m1z23r/drift/pkg/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupBidTest(t *testing.T) (*testutil.MockBidService, *testutil.MockSettlementService, *testutil.MockIdempotencyStore, *testutil.MockHub, *BidHandler, *services.JWTService) {
	t.Helper()
	mockBidService := new(testutil.MockBidService)
	mockSettlementService := new(testutil.MockSettlementService)
	mockStore := new(testutil.MockIdempotencyStore)
	mockHub := new(testutil.MockHub)
	handler := NewBidHandler(mockBidService, mockSettlementService, mockStore, mockHub)
	jwtSvc := newTestJWTService()
	return mockBidService, mockSettlementService, mockStore, mockHub, handler, jwtSvc
}

func newBidApp(handler *BidHandler, jwtSvc *services.JWTService) http.Handler {
	app := drift.New()
	app.Use(driftmw.BodyParser())
	app.Use(middleware.Auth(jwtSvc))
	app.Post("/groups/:groupId/bids", handler.Submit)
	app.Get("/bids/:bidId/quorum", handler.Quorum)
	app.Post("/bids/:bidId/invalidate", handler.Invalidate)
	app.Post("/bids/:bidId/extend", handler.Extend)
	return app
}

func validSubmitBidRequest() dto.SubmitBidRequest {
	return dto.SubmitBidRequest{
		GroupPriceCents:       1_000_000,
		PerMemberPriceCents:   250_000,
		SavingsPct:            15,
		RequiredAcceptances:   2,
		RequiredAcceptancePct: 60,
		AcceptanceDeadline:    time.Now().Add(48 * time.Hour),
		Specifics: []dto.ProjectSpecificRequest{
			{MemberID: uuid.New(), PriceCents: 240_000, Scope: "30yr shingles, full tear-off", TimelineDays: 4},
			{MemberID: uuid.New(), PriceCents: 260_000, Scope: "30yr shingles, two-layer removal", TimelineDays: 5},
		},
	}
}

func TestBidHandler_Submit_Success(t *testing.T) {
	mockBidService, mockSettlementService, _, mockHub, handler, jwtSvc := setupBidTest(t)

	groupID := uuid.New()
	contractorID := uuid.New()
	req := validSubmitBidRequest()
	bid := &models.GroupBid{
		ID:                    uuid.New(),
		GroupID:               groupID,
		ContractorID:          contractorID,
		Status:                models.BidStatusActive,
		GroupPriceCents:       req.GroupPriceCents,
		PerMemberPriceCents:   req.PerMemberPriceCents,
		SavingsPct:            req.SavingsPct,
		RequiredAcceptances:   req.RequiredAcceptances,
		RequiredAcceptancePct: req.RequiredAcceptancePct,
		AcceptanceDeadline:    req.AcceptanceDeadline,
	}

	mockBidService.On("Submit", mock.Anything, groupID, contractorID, mock.Anything).
		Return(&services.SubmitResult{Bid: bid}, nil)
	mockSettlementService.On("Compensate", mock.Anything, mock.Anything).Return()
	mockHub.On("Broadcast", groupID, events.TypeBidSubmitted, mock.Anything).Return()

	app := newBidApp(handler, jwtSvc)

	jsonBody, _ := json.Marshal(req)
	token := generateTestToken(t, jwtSvc, contractorID, "contractor@example.com")
	httpReq := httptest.NewRequest(http.MethodPost, "/groups/"+groupID.String()+"/bids", bytes.NewReader(jsonBody))
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	app.ServeHTTP(rec, httpReq)

	assert.Equal(t, http.StatusCreated, rec.Code)

	var response dto.SubmitBidResponse
	err := json.Unmarshal(rec.Body.Bytes(), &response)
	require.NoError(t, err)

	assert.Equal(t, bid.ID, response.Bid.ID)
	assert.Equal(t, models.BidStatusActive, response.Bid.Status)
	assert.Nil(t, response.SupersededBid)

	mockBidService.AssertExpectations(t)
	mockHub.AssertExpectations(t)
}

func TestBidHandler_Submit_SupersededRefunds(t *testing.T) {
	mockBidService, mockSettlementService, _, mockHub, handler, jwtSvc := setupBidTest(t)

	groupID := uuid.New()
	contractorID := uuid.New()
	oldBidID := uuid.New()
	refs := []string{"pend_old"}
	bid := &models.GroupBid{ID: uuid.New(), GroupID: groupID, ContractorID: contractorID, Status: models.BidStatusActive}

	mockBidService.On("Submit", mock.Anything, groupID, contractorID, mock.Anything).
		Return(&services.SubmitResult{Bid: bid, SupersededBid: &oldBidID, CancelledRefs: refs}, nil)
	mockSettlementService.On("Compensate", mock.Anything, refs).Return()
	mockHub.On("Broadcast", groupID, events.TypeBidSubmitted, mock.Anything).Return()

	app := newBidApp(handler, jwtSvc)

	jsonBody, _ := json.Marshal(validSubmitBidRequest())
	token := generateTestToken(t, jwtSvc, contractorID, "contractor@example.com")
	httpReq := httptest.NewRequest(http.MethodPost, "/groups/"+groupID.String()+"/bids", bytes.NewReader(jsonBody))
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	app.ServeHTTP(rec, httpReq)

	assert.Equal(t, http.StatusCreated, rec.Code)

	var response dto.SubmitBidResponse
	err := json.Unmarshal(rec.Body.Bytes(), &response)
	require.NoError(t, err)

	require.NotNil(t, response.SupersededBid)
	assert.Equal(t, oldBidID, *response.SupersededBid)
	mockSettlementService.AssertExpectations(t)
}

func TestBidHandler_Submit_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*dto.SubmitBidRequest)
		message string
	}{
		{
			name:    "non-positive price",
			mutate:  func(r *dto.SubmitBidRequest) { r.GroupPriceCents = 0 },
			message: "prices must be positive",
		},
		{
			name:    "savings out of range",
			mutate:  func(r *dto.SubmitBidRequest) { r.SavingsPct = 120 },
			message: "savings_pct must be between 0 and 100",
		},
		{
			name: "no quorum requirement",
			mutate: func(r *dto.SubmitBidRequest) {
				r.RequiredAcceptances = 0
				r.RequiredAcceptancePct = 0
			},
			message: "bid must specify an acceptance count or percentage",
		},
		{
			name:    "missing specifics",
			mutate:  func(r *dto.SubmitBidRequest) { r.Specifics = nil },
			message: "specifics are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockBidService, _, _, _, handler, jwtSvc := setupBidTest(t)

			req := validSubmitBidRequest()
			tt.mutate(&req)

			app := newBidApp(handler, jwtSvc)

			jsonBody, _ := json.Marshal(req)
			token := generateTestToken(t, jwtSvc, uuid.New(), "contractor@example.com")
			httpReq := httptest.NewRequest(http.MethodPost, "/groups/"+uuid.New().String()+"/bids", bytes.NewReader(jsonBody))
			httpReq.Header.Set("Authorization", "Bearer "+token)
			httpReq.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()

			app.ServeHTTP(rec, httpReq)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.message)
			mockBidService.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestBidHandler_Submit_IncompleteCoverage(t *testing.T) {
	mockBidService, _, _, _, handler, jwtSvc := setupBidTest(t)

	groupID := uuid.New()
	contractorID := uuid.New()

	mockBidService.On("Submit", mock.Anything, groupID, contractorID, mock.Anything).
		Return(nil, services.ErrIncompleteCoverage)

	app := newBidApp(handler, jwtSvc)

	jsonBody, _ := json.Marshal(validSubmitBidRequest())
	token := generateTestToken(t, jwtSvc, contractorID, "contractor@example.com")
	httpReq := httptest.NewRequest(http.MethodPost, "/groups/"+groupID.String()+"/bids", bytes.NewReader(jsonBody))
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	app.ServeHTTP(rec, httpReq)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBidHandler_Quorum(t *testing.T) {
	mockBidService, _, _, _, handler, jwtSvc := setupBidTest(t)

	bidID := uuid.New()
	deadline := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)

	mockBidService.On("GetQuorum", mock.Anything, bidID).Return(&services.QuorumStatus{
		BidID:              bidID,
		Status:             models.BidStatusActive,
		ConfirmedCount:     2,
		Threshold:          3,
		CurrentMembers:     5,
		AcceptanceDeadline: deadline,
	}, nil)

	app := newBidApp(handler, jwtSvc)

	token := generateTestToken(t, jwtSvc, uuid.New(), "member@example.com")
	httpReq := httptest.NewRequest(http.MethodGet, "/bids/"+bidID.String()+"/quorum", nil)
	httpReq.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	app.ServeHTTP(rec, httpReq)

	assert.Equal(t, http.StatusOK, rec.Code)

	var response dto.QuorumResponse
	err := json.Unmarshal(rec.Body.Bytes(), &response)
	require.NoError(t, err)

	assert.Equal(t, bidID, response.BidID)
	assert.Equal(t, 2, response.ConfirmedCount)
	assert.Equal(t, 3, response.Threshold)
	assert.Equal(t, 5, response.CurrentMembers)
}

func TestBidHandler_Invalidate_PromotesWaitingBid(t *testing.T) {
	mockBidService, mockSettlementService, _, mockHub, handler, jwtSvc := setupBidTest(t)

	groupID := uuid.New()
	userID := uuid.New()
	bid := &models.GroupBid{ID: uuid.New(), GroupID: groupID, Status: models.BidStatusWithdrawn}
	promoted := &models.GroupBid{ID: uuid.New(), GroupID: groupID, Status: models.BidStatusActive}
	refs := []string{"pend_1", "pend_2"}

	mockBidService.On("Invalidate", mock.Anything, bid.ID, userID).
		Return(&services.InvalidateResult{Bid: bid, CancelledRefs: refs, PromotedBid: promoted}, nil)
	mockSettlementService.On("Compensate", mock.Anything, refs).Return()
	mockHub.On("Broadcast", groupID, events.TypeBidInvalidated, mock.Anything).Return()
	mockHub.On("Broadcast", groupID, events.TypeBidPromoted, mock.Anything).Return()

	app := newBidApp(handler, jwtSvc)

	token := generateTestToken(t, jwtSvc, userID, "admin@example.com")
	httpReq := httptest.NewRequest(http.MethodPost, "/bids/"+bid.ID.String()+"/invalidate", nil)
	httpReq.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	app.ServeHTTP(rec, httpReq)

	assert.Equal(t, http.StatusOK, rec.Code)

	var response map[string]any
	err := json.Unmarshal(rec.Body.Bytes(), &response)
	require.NoError(t, err)

	assert.Equal(t, float64(2), response["refunds_issued"])
	mockSettlementService.AssertExpectations(t)
	mockHub.AssertExpectations(t)
}

func TestBidHandler_Invalidate_IdempotentReplay(t *testing.T) {
	mockBidService, mockSettlementService, mockStore, mockHub, handler, jwtSvc := setupBidTest(t)

	bidID := uuid.New()
	storedBody := []byte(`{"bid":{"id":"` + bidID.String() + `"},"refunds_issued":2}`)
	mockStore.On("Lookup", mock.Anything, "invalidate-token-1").
		Return(&cache.StoredResponse{Status: 200, Body: storedBody}, true, nil)

	app := newBidApp(handler, jwtSvc)

	token := generateTestToken(t, jwtSvc, uuid.New(), "admin@example.com")
	httpReq := httptest.NewRequest(http.MethodPost, "/bids/"+bidID.String()+"/invalidate", nil)
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Idempotency-Key", "invalidate-token-1")
	rec := httptest.NewRecorder()

	app.ServeHTTP(rec, httpReq)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, string(storedBody), rec.Body.String())
	mockBidService.AssertNotCalled(t, "Invalidate", mock.Anything, mock.Anything, mock.Anything)
	mockSettlementService.AssertNotCalled(t, "Compensate", mock.Anything, mock.Anything)
	mockHub.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything, mock.Anything)
	mockStore.AssertExpectations(t)
}

func TestBidHandler_Invalidate_NotAdmin(t *testing.T) {
	mockBidService, _, _, mockHub, handler, jwtSvc := setupBidTest(t)

	bidID := uuid.New()
	userID := uuid.New()
	mockBidService.On("Invalidate", mock.Anything, bidID, userID).Return(nil, services.ErrNotGroupAdmin)

	app := newBidApp(handler, jwtSvc)

	token := generateTestToken(t, jwtSvc, userID, "member@example.com")
	httpReq := httptest.NewRequest(http.MethodPost, "/bids/"+bidID.String()+"/invalidate", nil)
	httpReq.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	app.ServeHTTP(rec, httpReq)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	mockHub.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything, mock.Anything)
}

func TestBidHandler_Extend_Success(t *testing.T) {
	mockBidService, _, _, mockHub, handler, jwtSvc := setupBidTest(t)

	groupID := uuid.New()
	bidID := uuid.New()
	userID := uuid.New()
	previous := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	newDeadline := previous.Add(24 * time.Hour)

	extension := &models.Extension{
		ID:               uuid.New(),
		BidID:            bidID,
		PreviousDeadline: previous,
		NewDeadline:      newDeadline,
		Reason:           "two members travelling",
		ExtendedBy:       userID,
	}

	mockBidService.On("ExtendDeadline", mock.Anything, bidID, userID, mock.Anything, "two members travelling").
		Return(extension, nil)
	mockBidService.On("GetByID", mock.Anything, bidID).
		Return(&models.GroupBid{ID: bidID, GroupID: groupID, Status: models.BidStatusActive}, nil)
	mockHub.On("Broadcast", groupID, events.TypeDeadlineExtended, mock.Anything).Return()

	app := newBidApp(handler, jwtSvc)

	jsonBody, _ := json.Marshal(dto.ExtendDeadlineRequest{NewDeadline: newDeadline, Reason: "two members travelling"})
	token := generateTestToken(t, jwtSvc, userID, "admin@example.com")
	httpReq := httptest.NewRequest(http.MethodPost, "/bids/"+bidID.String()+"/extend", bytes.NewReader(jsonBody))
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	app.ServeHTTP(rec, httpReq)

	assert.Equal(t, http.StatusOK, rec.Code)

	var response dto.ExtensionResponse
	err := json.Unmarshal(rec.Body.Bytes(), &response)
	require.NoError(t, err)

	assert.Equal(t, extension.ID, response.ID)
	assert.Equal(t, newDeadline, response.NewDeadline.UTC())
	mockHub.AssertExpectations(t)
}

func TestBidHandler_Extend_BackwardDeadline(t *testing.T) {
	mockBidService, _, _, _, handler, jwtSvc := setupBidTest(t)

	bidID := uuid.New()
	userID := uuid.New()
	mockBidService.On("ExtendDeadline", mock.Anything, bidID, userID, mock.Anything, "").
		Return(nil, services.ErrInvalidExtension)

	app := newBidApp(handler, jwtSvc)

	jsonBody, _ := json.Marshal(dto.ExtendDeadlineRequest{NewDeadline: time.Now().Add(-time.Hour)})
	token := generateTestToken(t, jwtSvc, userID, "admin@example.com")
	httpReq := httptest.NewRequest(http.MethodPost, "/bids/"+bidID.String()+"/extend", bytes.NewReader(jsonBody))
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	app.ServeHTTP(rec, httpReq)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
