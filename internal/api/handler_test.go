package rewards

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	db "github.com/glkeru/loyalty/rewards/internal/db"
	model "github.com/glkeru/loyalty/rewards/internal/models"
	services "github.com/glkeru/loyalty/rewards/internal/services"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHandler(t *testing.T) (*RewardsHandler, *services.RewardsService) {
	t.Helper()
	svc := services.NewRewardsService(zap.NewNop(), db.NewMemoryDB(), nil, nil, nil, nil, services.Settings{})
	return NewHandler(svc, zap.NewNop()), svc
}

func do(t *testing.T, h http.Handler, method string, path string, body any, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if admin {
		req.Header.Set(RoleHeader, string(model.RoleAdmin))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createAccount(t *testing.T, h http.Handler, id string, points int64) model.Account {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/accounts", EnsureAccountRequest{ID: id, Email: id + "@example.com"}, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	account := decode[model.Account](t, rec)
	if points > 0 {
		rec = do(t, h, http.MethodPost, "/accounts/"+id+"/credit", PointsRequest{Points: points, Reason: "seed"}, true)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		account.Balance = decode[BalanceResponse](t, rec).Balance
	}
	return account
}

func TestAccountFlow(t *testing.T) {
	h, _ := newTestHandler(t)
	createAccount(t, h, "u1", 0)

	rec := do(t, h, http.MethodGet, "/accounts/u1", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	account := decode[model.Account](t, rec)
	require.Equal(t, "u1@example.com", account.Email)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	// начисление только администратору
	rec = do(t, h, http.MethodPost, "/accounts/u1/credit", PointsRequest{Points: 10}, false)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodPost, "/accounts/u1/purchases", map[string]any{"amount": "12.90"}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, int64(12), decode[CreditResponse](t, rec).Points)

	rec = do(t, h, http.MethodPost, "/accounts/u1/debit", PointsRequest{Points: 5}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(7), decode[BalanceResponse](t, rec).Balance)

	rec = do(t, h, http.MethodGet, "/accounts/u1/balance", nil, false)
	require.Equal(t, int64(7), decode[BalanceResponse](t, rec).Balance)

	rec = do(t, h, http.MethodGet, "/accounts/u1/transactions?limit=1", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	tnxs := decode[[]model.PointTransaction](t, rec)
	require.Len(t, tnxs, 1)
	require.Equal(t, int64(-5), tnxs[0].Delta)

	rec = do(t, h, http.MethodGet, "/customers/"+strings.ToLower(account.CustomerCode), nil, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "u1", decode[model.Account](t, rec).ID)

	rec = do(t, h, http.MethodDelete, "/accounts/u1", nil, false)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodGet, "/accounts/u1", nil, false)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	h, _ := newTestHandler(t)
	createAccount(t, h, "u1", 30)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		kind   string
	}{
		{"insufficient", http.MethodPost, "/accounts/u1/debit", PointsRequest{Points: 31}, http.StatusConflict, "InsufficientBalance"},
		{"invalid amount", http.MethodPost, "/accounts/u1/credit", PointsRequest{Points: 0}, http.StatusBadRequest, "InvalidAmount"},
		{"unknown account", http.MethodPost, "/accounts/ghost/credit", PointsRequest{Points: 1}, http.StatusNotFound, "NotFound"},
		{"unknown reward", http.MethodPost, "/accounts/u1/claims", ClaimRequest{RewardID: "pizza"}, http.StatusNotFound, "UnknownReward"},
		{"bad body", http.MethodPost, "/accounts/u1/credit", "not an object", http.StatusBadRequest, "InvalidInput"},
		{"bad kind", http.MethodPost, "/accounts/u1/coupons", IssueCouponRequest{Kind: "gift", Title: "x"}, http.StatusBadRequest, "InvalidInput"},
		{"bad limit", http.MethodGet, "/accounts/u1/transactions?limit=x", nil, http.StatusBadRequest, "InvalidInput"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body, true)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			res := decode[ErrorResponse](t, rec)
			require.Equal(t, tt.kind, res.Error)
			require.NotEmpty(t, res.Message)
		})
	}
}

func TestClaimAndRedeem(t *testing.T) {
	h, _ := newTestHandler(t)
	createAccount(t, h, "u1", 100)
	createAccount(t, h, "u2", 0)

	rec := do(t, h, http.MethodGet, "/rewards", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]model.RewardCatalogEntry](t, rec), 4)

	rec = do(t, h, http.MethodPost, "/accounts/u1/claims", ClaimRequest{RewardID: "burger"}, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	coupon := decode[model.Coupon](t, rec)
	require.Equal(t, "Burger Offert", coupon.Title)
	require.Equal(t, model.CouponReward, coupon.Kind)

	rec = do(t, h, http.MethodPost, "/accounts/u1/claims", ClaimRequest{RewardID: "burger"}, false)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/coupons/"+coupon.Code+"/redeem", RedeemRequest{AccountID: "u2"}, false)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "WrongOwner", decode[ErrorResponse](t, rec).Error)

	// без accountId погасить может только сотрудник
	rec = do(t, h, http.MethodPost, "/coupons/"+coupon.Code+"/redeem", RedeemRequest{}, false)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/coupons/"+coupon.Code+"/redeem", RedeemRequest{AccountID: "u1"}, false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, model.CouponUsed, decode[model.Coupon](t, rec).Status)

	rec = do(t, h, http.MethodPost, "/coupons/"+coupon.Code+"/redeem", RedeemRequest{}, true)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "NotRedeemable", decode[ErrorResponse](t, rec).Error)

	rec = do(t, h, http.MethodGet, "/coupons/"+strings.ToLower(coupon.Code), nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPromoAdmin(t *testing.T) {
	h, _ := newTestHandler(t)
	createAccount(t, h, "u1", 0)
	createAccount(t, h, "u2", 0)

	rec := do(t, h, http.MethodPost, "/promos/broadcast", BroadcastRequest{Title: "Promo"}, false)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodPost, "/promos/broadcast", BroadcastRequest{Title: "Promo"}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, model.BroadcastResult{Created: 2, TotalAccounts: 2}, decode[model.BroadcastResult](t, rec))

	rec = do(t, h, http.MethodGet, "/promos", nil, false)
	require.Len(t, decode[[]model.Coupon](t, rec), 2)

	rec = do(t, h, http.MethodGet, "/stats", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(2), decode[model.GlobalStats](t, rec).ActiveCoupons)

	rec = do(t, h, http.MethodPost, "/coupons/expire", ExpireRequest{}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 2, decode[ExpireResponse](t, rec).Updated)

	rec = do(t, h, http.MethodGet, "/stats/coupons", nil, true)
	require.Equal(t, model.CouponCounts{Total: 2, Used: 0}, decode[model.CouponCounts](t, rec))
}

func TestContestRoutes(t *testing.T) {
	h, _ := newTestHandler(t)
	createAccount(t, h, "u1", 25)

	rec := do(t, h, http.MethodGet, "/contests/active", nil, false)
	require.Equal(t, http.StatusNoContent, rec.Code)

	in := model.ContestInput{Title: "Grand jeu", Prize: "Trottinette", TicketCostPoints: 10, ClosesAt: time.Now().Add(time.Hour)}
	rec = do(t, h, http.MethodPost, "/contests", in, false)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(t, h, http.MethodPost, "/contests", in, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	contest := decode[model.Contest](t, rec)

	rec = do(t, h, http.MethodGet, "/contests/active", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, contest.ID, decode[model.Contest](t, rec).ID)

	rec = do(t, h, http.MethodPost, "/contests/"+contest.ID+"/tickets", TicketsRequest{AccountID: "u1", Quantity: 2}, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, model.PurchaseResult{AccountTickets: 2, TotalTickets: 2, Balance: 5}, decode[model.PurchaseResult](t, rec))

	rec = do(t, h, http.MethodPost, "/contests/"+contest.ID+"/tickets", TicketsRequest{AccountID: "u1", Quantity: 1}, false)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "InsufficientBalance", decode[ErrorResponse](t, rec).Error)

	rec = do(t, h, http.MethodGet, "/contests/"+contest.ID+"/stats?accountId=u1", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.InDelta(t, 1.0, decode[model.ContestStats](t, rec).Probability, 1e-9)

	title := "Renamed"
	rec = do(t, h, http.MethodPatch, "/contests/"+contest.ID, model.ContestPatch{Title: &title}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Renamed", decode[model.Contest](t, rec).Title)

	rec = do(t, h, http.MethodPost, "/contests/"+contest.ID+"/close", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/contests/"+contest.ID+"/toggle", ToggleRequest{Active: true}, true)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "ContestClosed", decode[ErrorResponse](t, rec).Error)

	rec = do(t, h, http.MethodGet, "/contests/"+contest.ID+"/participants", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	parts := decode[[]model.ContestParticipant](t, rec)
	require.Len(t, parts, 1)
	require.Equal(t, int64(20), parts[0].PointsSpent)
}

func TestContestLive(t *testing.T) {
	h, svc := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	createAccount(t, h, "u1", 100)
	contest, err := svc.CreateContest(context.Background(), model.ContestInput{Title: "Live", TicketCostPoints: 10, ClosesAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/contests/" + contest.ID + "/live?accountId=u1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var stats model.ContestStats
	require.NoError(t, conn.ReadJSON(&stats))
	require.Equal(t, int64(0), stats.TotalTickets)

	_, err = svc.PurchaseTickets(context.Background(), contest.ID, "u1", 3)
	require.NoError(t, err)
	for stats.AccountTickets != 3 || stats.TotalTickets != 3 {
		require.NoError(t, conn.ReadJSON(&stats))
	}
	require.InDelta(t, 1.0, stats.Probability, 1e-9)

	rec := do(t, h, http.MethodGet, "/contests/missing/live", nil, false)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccountLive(t *testing.T) {
	h, svc := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()
	createAccount(t, h, "u1", 10)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/accounts/u1/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var account model.Account
	require.NoError(t, conn.ReadJSON(&account))
	require.Equal(t, int64(10), account.Balance)

	_, err = svc.Credit(context.Background(), "u1", 15, "bonus")
	require.NoError(t, err)
	for account.Balance != 25 {
		require.NoError(t, conn.ReadJSON(&account))
	}
}
