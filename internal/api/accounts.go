package rewards

import (
	"net/http"

	model "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

type EnsureAccountRequest struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

type PointsRequest struct {
	Points int64  `json:"points"`
	Reason string `json:"reason"`
}

type PurchaseRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

type BalanceResponse struct {
	Balance int64 `json:"balance"`
}

type CreditResponse struct {
	Points int64 `json:"points"`
}

type TokenRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

// Счет при входе; существующий возвращается как есть
func (h *RewardsHandler) EnsureAccountHandler(w http.ResponseWriter, req *http.Request) {
	var in EnsureAccountRequest
	if err := readJSON(w, req, &in); err != nil {
		h.writeError(w, "EnsureAccountHandler", err)
		return
	}
	account, err := h.svc.EnsureAccount(req.Context(), in.ID, in.Email, in.DisplayName)
	h.reply(w, "EnsureAccountHandler", account, err)
}

func (h *RewardsHandler) GetAccountHandler(w http.ResponseWriter, req *http.Request) {
	account, err := h.svc.GetAccount(req.Context(), mux.Vars(req)["id"])
	h.reply(w, "GetAccountHandler", account, err)
}

func (h *RewardsHandler) CloseAccountHandler(w http.ResponseWriter, req *http.Request) {
	if err := h.svc.CloseAccount(req.Context(), mux.Vars(req)["id"]); err != nil {
		h.writeError(w, "CloseAccountHandler", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Поиск по коду клиента для кассы
func (h *RewardsHandler) ResolveCustomerHandler(w http.ResponseWriter, req *http.Request) {
	account, err := h.svc.ResolveCustomerCode(req.Context(), mux.Vars(req)["code"])
	h.reply(w, "ResolveCustomerHandler", account, err)
}

func (h *RewardsHandler) GetBalanceHandler(w http.ResponseWriter, req *http.Request) {
	balance, err := h.svc.GetBalance(req.Context(), mux.Vars(req)["id"])
	h.reply(w, "GetBalanceHandler", BalanceResponse{balance}, err)
}

func (h *RewardsHandler) ListTransactionsHandler(w http.ResponseWriter, req *http.Request) {
	limit, err := queryInt(req, "limit")
	if err != nil {
		h.writeError(w, "ListTransactionsHandler", err)
		return
	}
	tnxs, err := h.svc.ListTransactions(req.Context(), mux.Vars(req)["id"], limit)
	if tnxs == nil {
		tnxs = []model.PointTransaction{}
	}
	h.reply(w, "ListTransactionsHandler", tnxs, err)
}

func (h *RewardsHandler) CreditHandler(w http.ResponseWriter, req *http.Request) {
	var in PointsRequest
	if err := readJSON(w, req, &in); err != nil {
		h.writeError(w, "CreditHandler", err)
		return
	}
	balance, err := h.svc.Credit(req.Context(), mux.Vars(req)["id"], in.Points, in.Reason)
	h.reply(w, "CreditHandler", BalanceResponse{balance}, err)
}

func (h *RewardsHandler) DebitHandler(w http.ResponseWriter, req *http.Request) {
	var in PointsRequest
	if err := readJSON(w, req, &in); err != nil {
		h.writeError(w, "DebitHandler", err)
		return
	}
	balance, err := h.svc.Debit(req.Context(), mux.Vars(req)["id"], in.Points, in.Reason)
	h.reply(w, "DebitHandler", BalanceResponse{balance}, err)
}

// Начисление по сумме чека
func (h *RewardsHandler) PurchaseHandler(w http.ResponseWriter, req *http.Request) {
	var in PurchaseRequest
	if err := readJSON(w, req, &in); err != nil {
		h.writeError(w, "PurchaseHandler", err)
		return
	}
	points, err := h.svc.CreditFromPurchaseAmount(req.Context(), mux.Vars(req)["id"], in.Amount, in.Reason)
	h.reply(w, "PurchaseHandler", CreditResponse{points}, err)
}

func (h *RewardsHandler) RegisterTokenHandler(w http.ResponseWriter, req *http.Request) {
	var in TokenRequest
	if err := readJSON(w, req, &in); err != nil {
		h.writeError(w, "RegisterTokenHandler", err)
		return
	}
	tk, err := h.svc.RegisterToken(req.Context(), mux.Vars(req)["id"], in.Token, in.Platform)
	h.reply(w, "RegisterTokenHandler", tk, err)
}

func (h *RewardsHandler) RemoveTokensHandler(w http.ResponseWriter, req *http.Request) {
	if err := h.svc.RemoveTokens(req.Context(), mux.Vars(req)["id"]); err != nil {
		h.writeError(w, "RemoveTokensHandler", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
