package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/stamp-kkookk/digital-stamp-service-sub000/internal/directory"
	"github.com/stamp-kkookk/digital-stamp-service-sub000/internal/store/gormstore"
	"github.com/stamp-kkookk/digital-stamp-service-sub000/pkg/approval"
)

const (
	testWalletID   = "wallet-1"
	testStoreID    = "store-1"
	testOperatorID = "owner-1"
	testCardID     = "card-1"
	testRewardID   = "reward-1"
)

func TestIssuanceCreateApprovePollFlow(test *testing.T) {
	gin.SetMode(gin.TestMode)
	harness := newServerHarness(test)

	createCtx, createRecorder := newTestContext(http.MethodPost, "/api/v1/issuance/requests", map[string]any{
		"walletStampCardId": testCardID,
		"idempotencyKey":    "idem-1",
	})
	createCtx.Set(claimsContextKey, &sessionvalidator.Claims{UserID: testWalletID})
	harness.handler.handleCreateRequest(approval.KindIssuance)(createCtx)
	if createRecorder.Code != http.StatusCreated {
		test.Fatalf("create status=%d body=%s", createRecorder.Code, createRecorder.Body.String())
	}
	ticket := decodeTicket(test, createRecorder)
	if ticket.Status != "pending" || ticket.RemainingSeconds != 120 {
		test.Fatalf("unexpected ticket: %+v", ticket)
	}

	replayCtx, replayRecorder := newTestContext(http.MethodPost, "/api/v1/issuance/requests", map[string]any{
		"walletStampCardId": testCardID,
		"idempotencyKey":    "idem-1",
	})
	replayCtx.Set(claimsContextKey, &sessionvalidator.Claims{UserID: testWalletID})
	harness.handler.handleCreateRequest(approval.KindIssuance)(replayCtx)
	if replayRecorder.Code != http.StatusOK {
		test.Fatalf("replay status=%d body=%s", replayRecorder.Code, replayRecorder.Body.String())
	}
	if replay := decodeTicket(test, replayRecorder); replay.ID != ticket.ID {
		test.Fatalf("replay returned a different request: %s vs %s", replay.ID, ticket.ID)
	}

	approveCtx, approveRecorder := newOperatorContext(http.MethodPost, "/approve", nil, ticket.ID)
	harness.handler.handleApprove(approval.KindIssuance)(approveCtx)
	if approveRecorder.Code != http.StatusOK {
		test.Fatalf("approve status=%d body=%s", approveRecorder.Code, approveRecorder.Body.String())
	}
	var outcome outcomePayload
	mustDecode(test, approveRecorder, &outcome)
	if outcome.Status != "approved" || outcome.AppliedDelta != 1 || outcome.StampCount != 1 {
		test.Fatalf("unexpected outcome: %+v", outcome)
	}

	pollCtx, pollRecorder := newTestContext(http.MethodGet, "/api/v1/issuance/requests/"+ticket.ID, nil)
	pollCtx.Set(claimsContextKey, &sessionvalidator.Claims{UserID: testWalletID})
	pollCtx.Params = gin.Params{{Key: "id", Value: ticket.ID}}
	harness.handler.handleGetRequest(approval.KindIssuance)(pollCtx)
	if pollRecorder.Code != http.StatusOK {
		test.Fatalf("poll status=%d body=%s", pollRecorder.Code, pollRecorder.Body.String())
	}
	if polled := decodeTicket(test, pollRecorder); polled.Status != "approved" || polled.StampCount != 1 {
		test.Fatalf("unexpected polled ticket: %+v", polled)
	}

	eventsCtx, eventsRecorder := newTestContext(http.MethodGet, "/api/v1/cards/"+testCardID+"/events", nil)
	eventsCtx.Set(claimsContextKey, &sessionvalidator.Claims{UserID: testWalletID})
	eventsCtx.Params = gin.Params{{Key: "id", Value: testCardID}}
	harness.handler.handleCardEvents(eventsCtx)
	if eventsRecorder.Code != http.StatusOK {
		test.Fatalf("events status=%d body=%s", eventsRecorder.Code, eventsRecorder.Body.String())
	}
	var history struct {
		Events []eventPayload `json:"events"`
		Count  int            `json:"count"`
	}
	mustDecode(test, eventsRecorder, &history)
	if history.Count != 1 || history.Events[0].Type != "issued" {
		test.Fatalf("unexpected history: %+v", history)
	}
}

func TestSecondPendingRequestConflicts(test *testing.T) {
	gin.SetMode(gin.TestMode)
	harness := newServerHarness(test)
	harness.createIssuance(test, "idem-1")

	ctx, recorder := newTestContext(http.MethodPost, "/api/v1/issuance/requests", map[string]any{
		"walletStampCardId": testCardID,
		"idempotencyKey":    "idem-2",
	})
	ctx.Set(claimsContextKey, &sessionvalidator.Claims{UserID: testWalletID})
	harness.handler.handleCreateRequest(approval.KindIssuance)(ctx)
	if recorder.Code != http.StatusConflict {
		test.Fatalf("expected 409, got %d body=%s", recorder.Code, recorder.Body.String())
	}
	if code := decodeErrorCode(test, recorder); code != "already_pending" {
		test.Fatalf("unexpected error code %q", code)
	}
}

func TestApproveAfterExpiryIsGone(test *testing.T) {
	gin.SetMode(gin.TestMode)
	harness := newServerHarness(test)
	ticket := harness.createIssuance(test, "idem-1")
	harness.clock += 121

	ctx, recorder := newOperatorContext(http.MethodPost, "/approve", nil, ticket.ID)
	harness.handler.handleApprove(approval.KindIssuance)(ctx)
	if recorder.Code != http.StatusGone {
		test.Fatalf("expected 410, got %d body=%s", recorder.Code, recorder.Body.String())
	}
	if code := decodeErrorCode(test, recorder); code != "request_expired" {
		test.Fatalf("unexpected error code %q", code)
	}

	retryCtx, retryRecorder := newOperatorContext(http.MethodPost, "/approve", nil, ticket.ID)
	harness.handler.handleApprove(approval.KindIssuance)(retryCtx)
	if retryRecorder.Code != http.StatusGone {
		test.Fatalf("expected 410 on retried expired request, got %d", retryRecorder.Code)
	}
	if code := decodeErrorCode(test, retryRecorder); code != "request_expired" {
		test.Fatalf("unexpected retry error code %q", code)
	}
}

func TestRejectRecordsReason(test *testing.T) {
	gin.SetMode(gin.TestMode)
	harness := newServerHarness(test)
	ticket := harness.createMigration(test, "idem-1")

	ctx, recorder := newOperatorContext(http.MethodPost, "/reject", map[string]any{"reason": "photo unreadable"}, ticket.ID)
	harness.handler.handleReject(approval.KindMigration)(ctx)
	if recorder.Code != http.StatusOK {
		test.Fatalf("reject status=%d body=%s", recorder.Code, recorder.Body.String())
	}
	var outcome outcomePayload
	mustDecode(test, recorder, &outcome)
	if outcome.Status != "rejected" {
		test.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestMigrationApproveCarriesOperatorCount(test *testing.T) {
	gin.SetMode(gin.TestMode)
	harness := newServerHarness(test)
	ticket := harness.createMigration(test, "idem-1")

	ctx, recorder := newOperatorContext(http.MethodPost, "/approve", map[string]any{"approvedStampCount": 9}, ticket.ID)
	harness.handler.handleApprove(approval.KindMigration)(ctx)
	if recorder.Code != http.StatusOK {
		test.Fatalf("approve status=%d body=%s", recorder.Code, recorder.Body.String())
	}
	var outcome outcomePayload
	mustDecode(test, recorder, &outcome)
	if outcome.AppliedDelta != 9 || outcome.StampCount != 9 {
		test.Fatalf("unexpected outcome: %+v", outcome)
	}

	badCtx, badRecorder := newOperatorContext(http.MethodPost, "/approve", map[string]any{"approvedStampCount": 99}, ticket.ID)
	harness.handler.handleApprove(approval.KindMigration)(badCtx)
	if badRecorder.Code != http.StatusBadRequest {
		test.Fatalf("expected 400 for out-of-range count, got %d", badRecorder.Code)
	}
}

func TestListPendingEndpoint(test *testing.T) {
	gin.SetMode(gin.TestMode)
	harness := newServerHarness(test)
	ticket := harness.createIssuance(test, "idem-1")

	ctx, recorder := newOperatorContext(http.MethodGet, "/requests", nil, "")
	harness.handler.handleListPending(approval.KindIssuance)(ctx)
	if recorder.Code != http.StatusOK {
		test.Fatalf("list status=%d body=%s", recorder.Code, recorder.Body.String())
	}
	var listing struct {
		Requests []pendingItemPayload `json:"requests"`
		Count    int                  `json:"count"`
	}
	mustDecode(test, recorder, &listing)
	if listing.Count != 1 || listing.Requests[0].ID != ticket.ID {
		test.Fatalf("unexpected listing: %+v", listing)
	}
	if listing.Requests[0].CustomerName == "" {
		test.Fatalf("expected resolved customer name")
	}
}

func TestGetUnknownRequestNotFound(test *testing.T) {
	gin.SetMode(gin.TestMode)
	harness := newServerHarness(test)

	ctx, recorder := newTestContext(http.MethodGet, "/api/v1/issuance/requests/missing", nil)
	ctx.Set(claimsContextKey, &sessionvalidator.Claims{UserID: testWalletID})
	ctx.Params = gin.Params{{Key: "id", Value: "00000000-0000-0000-0000-000000000000"}}
	harness.handler.handleGetRequest(approval.KindIssuance)(ctx)
	if recorder.Code != http.StatusNotFound {
		test.Fatalf("expected 404, got %d body=%s", recorder.Code, recorder.Body.String())
	}
}

func TestCreateWithoutSessionUnauthorized(test *testing.T) {
	gin.SetMode(gin.TestMode)
	harness := newServerHarness(test)

	ctx, recorder := newTestContext(http.MethodPost, "/api/v1/issuance/requests", map[string]any{
		"walletStampCardId": testCardID,
		"idempotencyKey":    "idem-1",
	})
	harness.handler.handleCreateRequest(approval.KindIssuance)(ctx)
	if recorder.Code != http.StatusUnauthorized {
		test.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestParseTerminalToken(test *testing.T) {
	const signingKey = "terminal-secret"
	const issuer = "stampd-terminal"
	claims := jwt.RegisteredClaims{
		Subject:   testOperatorID,
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingKey))
	if err != nil {
		test.Fatalf("sign token: %v", err)
	}

	subject, err := parseTerminalToken("Bearer "+token, signingKey, issuer)
	if err != nil {
		test.Fatalf("parse: %v", err)
	}
	if subject != testOperatorID {
		test.Fatalf("expected %q, got %q", testOperatorID, subject)
	}

	if _, err := parseTerminalToken("Bearer "+token, signingKey, "other-issuer"); err == nil {
		test.Fatal("expected issuer mismatch to fail")
	}
	if _, err := parseTerminalToken("Bearer "+token, "wrong-key", issuer); err == nil {
		test.Fatal("expected signature mismatch to fail")
	}
	if _, err := parseTerminalToken(token, signingKey, issuer); err == nil {
		test.Fatal("expected missing bearer prefix to fail")
	}
}

func TestParseAllowedOrigins(test *testing.T) {
	origins := ParseAllowedOrigins(" http://a.com , http://b.com ")
	if len(origins) != 2 || origins[0] != "http://a.com" || origins[1] != "http://b.com" {
		test.Fatalf("unexpected origins: %#v", origins)
	}
	if len(ParseAllowedOrigins("  ")) != 0 {
		test.Fatal("expected empty origins")
	}
}

func TestConfigValidateMissingKeys(test *testing.T) {
	cfg := Config{}
	if err := cfg.Validate(); err == nil {
		test.Fatal("expected validation error without signing keys")
	}
	cfg = Config{SessionSigningKey: "s", TerminalSigningKey: "t"}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("unexpected validation error: %v", err)
	}
	if cfg.ListenAddr != defaultListenAddr || cfg.SessionIssuer != defaultSessionIssuer {
		test.Fatalf("defaults not applied: %+v", cfg)
	}
}

type serverHarness struct {
	handler *httpHandler
	clock   int64
}

func newServerHarness(test *testing.T) *serverHarness {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&gormstore.ApprovalRequest{},
		&gormstore.StampEvent{},
		&gormstore.StampAggregate{},
		&directory.Store{},
		&directory.CustomerWallet{},
		&directory.WalletStampCard{},
		&directory.WalletReward{},
	)
	if err != nil {
		test.Fatalf("migrate: %v", err)
	}

	now := time.Now().UTC()
	seed := []any{
		&directory.Store{StoreID: testStoreID, OwnerAccountID: testOperatorID, Name: "Corner Cafe", CreatedAt: now},
		&directory.CustomerWallet{WalletID: testWalletID, Name: "Jamie", CreatedAt: now},
		&directory.WalletStampCard{CardID: testCardID, WalletID: testWalletID, StoreID: testStoreID, CreatedAt: now},
		&directory.WalletReward{RewardID: testRewardID, WalletID: testWalletID, StoreID: testStoreID, Title: "Free Americano", CreatedAt: now},
	}
	for _, row := range seed {
		if err := db.Create(row).Error; err != nil {
			test.Fatalf("seed %T: %v", row, err)
		}
	}

	h := &serverHarness{clock: now.Unix()}
	engine, err := approval.NewEngine(gormstore.New(db), directory.New(db), func() int64 { return h.clock })
	if err != nil {
		test.Fatalf("engine init: %v", err)
	}
	h.handler = &httpHandler{logger: zap.NewNop(), engine: engine}
	return h
}

func (h *serverHarness) createIssuance(test *testing.T, key string) ticketPayload {
	test.Helper()
	return h.create(test, approval.KindIssuance, map[string]any{
		"walletStampCardId": testCardID,
		"idempotencyKey":    key,
	})
}

func (h *serverHarness) createMigration(test *testing.T, key string) ticketPayload {
	test.Helper()
	return h.create(test, approval.KindMigration, map[string]any{
		"walletStampCardId": testCardID,
		"idempotencyKey":    key,
		"imageUrl":          "https://img.example/paper.jpg",
	})
}

func (h *serverHarness) create(test *testing.T, kind approval.Kind, payload map[string]any) ticketPayload {
	test.Helper()
	ctx, recorder := newTestContext(http.MethodPost, "/api/v1/"+kind.String()+"/requests", payload)
	ctx.Set(claimsContextKey, &sessionvalidator.Claims{UserID: testWalletID})
	h.handler.handleCreateRequest(kind)(ctx)
	if recorder.Code != http.StatusCreated {
		test.Fatalf("create %s status=%d body=%s", kind, recorder.Code, recorder.Body.String())
	}
	return decodeTicket(test, recorder)
}

func newTestContext(method, path string, payload map[string]any) (*gin.Context, *httptest.ResponseRecorder) {
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(method, path, payloadReader(payload))
	return ctx, recorder
}

// newOperatorContext builds a context as the terminal middleware would leave
// it: operator identity resolved, store and request ids bound as params.
func newOperatorContext(method, path string, payload map[string]any, requestID string) (*gin.Context, *httptest.ResponseRecorder) {
	ctx, recorder := newTestContext(method, path, payload)
	ctx.Set(operatorContextKey, testOperatorID)
	params := gin.Params{{Key: "storeId", Value: testStoreID}}
	if requestID != "" {
		params = append(params, gin.Param{Key: "id", Value: requestID})
	}
	ctx.Params = params
	return ctx, recorder
}

func payloadReader(payload map[string]any) *bytes.Reader {
	if payload == nil {
		return bytes.NewReader(nil)
	}
	encoded, _ := json.Marshal(payload)
	return bytes.NewReader(encoded)
}

func decodeTicket(test *testing.T, recorder *httptest.ResponseRecorder) ticketPayload {
	test.Helper()
	var ticket ticketPayload
	mustDecode(test, recorder, &ticket)
	return ticket
}

func decodeErrorCode(test *testing.T, recorder *httptest.ResponseRecorder) string {
	test.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	mustDecode(test, recorder, &body)
	return body.Error.Code
}

func mustDecode(test *testing.T, recorder *httptest.ResponseRecorder, target any) {
	test.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		test.Fatalf("decode body %q: %v", recorder.Body.String(), err)
	}
}
