package rewards

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	model "github.com/glkeru/loyalty/rewards/internal/models"
	services "github.com/glkeru/loyalty/rewards/internal/services"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Роль вызывающего выставляет gateway авторизации
const RoleHeader = "X-Role"

const maxBodySize = 1 << 20

type RewardsHandler struct {
	router   *mux.Router
	svc      *services.RewardsService
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewHandler(svc *services.RewardsService, logger *zap.Logger) *RewardsHandler {
	router := mux.NewRouter()
	h := &RewardsHandler{
		router: router,
		svc:    svc,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	router.Use(MiddlewareLog())

	// счета
	router.HandleFunc("/accounts", h.EnsureAccountHandler).Methods(http.MethodPost)
	router.HandleFunc("/accounts/{id}", h.GetAccountHandler).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{id}", h.CloseAccountHandler).Methods(http.MethodDelete)
	router.HandleFunc("/accounts/{id}/balance", h.GetBalanceHandler).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{id}/transactions", h.ListTransactionsHandler).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{id}/coupons", h.ListCouponsHandler).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{id}/claims", h.ClaimHandler).Methods(http.MethodPost)
	router.HandleFunc("/accounts/{id}/push-tokens", h.RegisterTokenHandler).Methods(http.MethodPost)
	router.HandleFunc("/accounts/{id}/push-tokens", h.RemoveTokensHandler).Methods(http.MethodDelete)
	router.HandleFunc("/accounts/{id}/live", h.AccountLiveHandler).Methods(http.MethodGet)

	// каталог, купоны
	router.HandleFunc("/rewards", h.ListRewardsHandler).Methods(http.MethodGet)
	router.HandleFunc("/promos", h.ListPromosHandler).Methods(http.MethodGet)
	router.HandleFunc("/coupons/{code}", h.GetCouponHandler).Methods(http.MethodGet)
	router.HandleFunc("/coupons/{code}/redeem", h.RedeemHandler).Methods(http.MethodPost)

	// конкурсы
	router.HandleFunc("/contests", h.ListContestsHandler).Methods(http.MethodGet)
	router.HandleFunc("/contests/active", h.ActiveContestHandler).Methods(http.MethodGet)
	router.HandleFunc("/contests/{id}", h.GetContestHandler).Methods(http.MethodGet)
	router.HandleFunc("/contests/{id}/tickets", h.PurchaseTicketsHandler).Methods(http.MethodPost)
	router.HandleFunc("/contests/{id}/stats", h.ContestStatsHandler).Methods(http.MethodGet)
	router.HandleFunc("/contests/{id}/live", h.ContestLiveHandler).Methods(http.MethodGet)

	// администратор
	admin := router.NewRoute().Subrouter()
	admin.Use(AdminOnly)
	admin.HandleFunc("/customers/{code}", h.ResolveCustomerHandler).Methods(http.MethodGet)
	admin.HandleFunc("/accounts/{id}/credit", h.CreditHandler).Methods(http.MethodPost)
	admin.HandleFunc("/accounts/{id}/debit", h.DebitHandler).Methods(http.MethodPost)
	admin.HandleFunc("/accounts/{id}/purchases", h.PurchaseHandler).Methods(http.MethodPost)
	admin.HandleFunc("/accounts/{id}/coupons", h.IssueCouponHandler).Methods(http.MethodPost)
	admin.HandleFunc("/coupons/expire", h.ExpireHandler).Methods(http.MethodPost)
	admin.HandleFunc("/contests", h.CreateContestHandler).Methods(http.MethodPost)
	admin.HandleFunc("/contests/{id}", h.UpdateContestHandler).Methods(http.MethodPatch)
	admin.HandleFunc("/contests/{id}/toggle", h.ToggleContestHandler).Methods(http.MethodPost)
	admin.HandleFunc("/contests/{id}/close", h.CloseContestHandler).Methods(http.MethodPost)
	admin.HandleFunc("/contests/{id}/participants", h.ListParticipantsHandler).Methods(http.MethodGet)
	admin.HandleFunc("/promos/broadcast", h.BroadcastHandler).Methods(http.MethodPost)
	admin.HandleFunc("/stats", h.GlobalStatsHandler).Methods(http.MethodGet)
	admin.HandleFunc("/stats/coupons", h.CouponCountsHandler).Methods(http.MethodGet)
	admin.HandleFunc("/stats/points", h.PointsAggregatesHandler).Methods(http.MethodGet)

	return h
}

func (h *RewardsHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.router.ServeHTTP(w, req)
}

func (h *RewardsHandler) Log(msg string, service string, err error) {
	h.logger.Error(msg,
		zap.String("service", service),
		zap.Error(err),
	)
}

func isAdmin(req *http.Request) bool {
	return model.Role(req.Header.Get(RoleHeader)) == model.RoleAdmin
}

// AdminOnly пропускает только запросы с ролью admin
func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !isAdmin(req) {
			writeJSON(w, http.StatusForbidden, ErrorResponse{"Forbidden", "Admin role required"})
			return
		}
		next.ServeHTTP(w, req)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	j, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(j)
}

func (h *RewardsHandler) reply(w http.ResponseWriter, service string, v any, err error) {
	if err != nil {
		h.writeError(w, service, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

var errorMessages = map[string]string{
	"InvalidAmount":       "Amount must be positive",
	"InsufficientBalance": "Not enough points",
	"NotFound":            "Not found",
	"WrongOwner":          "This coupon belongs to another customer",
	"NotRedeemable":       "Coupon is already used or expired",
	"ContestClosed":       "Contest is closed",
	"UnknownReward":       "Unknown reward",
	"InvalidInput":        "Invalid request",
	"Conflict":            "Already exists",
}

func statusOf(kind string) int {
	switch kind {
	case "InvalidAmount", "InvalidInput":
		return http.StatusBadRequest
	case "NotFound", "UnknownReward":
		return http.StatusNotFound
	case "WrongOwner":
		return http.StatusForbidden
	case "InsufficientBalance", "NotRedeemable", "ContestClosed", "Conflict":
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// ошибка домена -> статус и тело {"error","message"}; прочие ошибки 500 и в лог
func (h *RewardsHandler) writeError(w http.ResponseWriter, service string, err error) {
	kind := model.Kind(err)
	status := statusOf(kind)
	if status == http.StatusInternalServerError {
		h.Log("Request failed", service, err)
		writeJSON(w, status, ErrorResponse{kind, "Internal error"})
		return
	}
	msg := errorMessages[kind]
	if errors.Is(err, model.ErrInvalidInput) || errors.Is(err, model.ErrInvalidAmount) {
		msg = err.Error()
	}
	writeJSON(w, status, ErrorResponse{kind, msg})
}

// тело запроса; ошибка разбора - InvalidInput
func readJSON(w http.ResponseWriter, req *http.Request, v any) error {
	defer req.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("body is not correct: %v: %w", err, model.ErrInvalidInput)
	}
	return nil
}

// limit из query, 0 - по умолчанию
func queryInt(req *http.Request, name string) (int, error) {
	raw := req.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("query %s=%q: %w", name, raw, model.ErrInvalidInput)
	}
	return n, nil
}
