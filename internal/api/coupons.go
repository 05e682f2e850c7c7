package rewards

import (
	"fmt"
	"net/http"

	model "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/gorilla/mux"
)

type IssueCouponRequest struct {
	Kind     model.CouponKind `json:"kind"`
	Title    string           `json:"title"`
	ImageRef string           `json:"imageRef"`
}

type RedeemRequest struct {
	AccountID string `json:"accountId"`
}

type ClaimRequest struct {
	RewardID string `json:"rewardId"`
}

type ExpireRequest struct {
	Kind  model.CouponKind `json:"kind"`
	Limit int              `json:"limit"`
}

type ExpireResponse struct {
	Updated int `json:"updated"`
}

type BroadcastRequest struct {
	Title    string `json:"title"`
	ImageRef string `json:"imageRef"`
}

func (h *RewardsHandler) ListRewardsHandler(w http.ResponseWriter, req *http.Request) {
	entries, err := h.svc.ListRewards(req.Context())
	h.reply(w, "ListRewardsHandler", entries, err)
}

func (h *RewardsHandler) ListCouponsHandler(w http.ResponseWriter, req *http.Request) {
	coupons, err := h.svc.ListCoupons(req.Context(), mux.Vars(req)["id"])
	if coupons == nil {
		coupons = []model.Coupon{}
	}
	h.reply(w, "ListCouponsHandler", coupons, err)
}

func (h *RewardsHandler) ListPromosHandler(w http.ResponseWriter, req *http.Request) {
	limit, err := queryInt(req, "limit")
	if err != nil {
		h.writeError(w, "ListPromosHandler", err)
		return
	}
	coupons, err := h.svc.ListActivePromos(req.Context(), limit)
	if coupons == nil {
		coupons = []model.Coupon{}
	}
	h.reply(w, "ListPromosHandler", coupons, err)
}

func (h *RewardsHandler) GetCouponHandler(w http.ResponseWriter, req *http.Request) {
	coupon, err := h.svc.GetByCode(req.Context(), mux.Vars(req)["code"])
	h.reply(w, "GetCouponHandler", coupon, err)
}

func (h *RewardsHandler) IssueCouponHandler(w http.ResponseWriter, req *http.Request) {
	var in IssueCouponRequest
	if err := readJSON(w, req, &in); err != nil {
		h.writeError(w, "IssueCouponHandler", err)
		return
	}
	accountID := mux.Vars(req)["id"]
	var (
		coupon model.Coupon
		err    error
	)
	switch in.Kind {
	case model.CouponPromo:
		coupon, err = h.svc.IssuePromo(req.Context(), accountID, in.Title, in.ImageRef)
	case model.CouponReward:
		coupon, err = h.svc.IssueReward(req.Context(), accountID, in.Title, in.ImageRef)
	default:
		err = fmt.Errorf("coupon kind %q: %w", in.Kind, model.ErrInvalidInput)
	}
	h.reply(w, "IssueCouponHandler", coupon, err)
}

// Погашение: клиент предъявляет свой купон, сотрудник (admin) может погасить без accountId
func (h *RewardsHandler) RedeemHandler(w http.ResponseWriter, req *http.Request) {
	var in RedeemRequest
	if err := readJSON(w, req, &in); err != nil {
		h.writeError(w, "RedeemHandler", err)
		return
	}
	if in.AccountID == "" && !isAdmin(req) {
		h.writeError(w, "RedeemHandler", fmt.Errorf("accountId is required: %w", model.ErrInvalidInput))
		return
	}
	coupon, err := h.svc.Redeem(req.Context(), mux.Vars(req)["code"], in.AccountID)
	h.reply(w, "RedeemHandler", coupon, err)
}

func (h *RewardsHandler) ClaimHandler(w http.ResponseWriter, req *http.Request) {
	var in ClaimRequest
	if err := readJSON(w, req, &in); err != nil {
		h.writeError(w, "ClaimHandler", err)
		return
	}
	coupon, err := h.svc.Claim(req.Context(), mux.Vars(req)["id"], in.RewardID)
	h.reply(w, "ClaimHandler", coupon, err)
}

func (h *RewardsHandler) ExpireHandler(w http.ResponseWriter, req *http.Request) {
	var in ExpireRequest
	if err := readJSON(w, req, &in); err != nil {
		h.writeError(w, "ExpireHandler", err)
		return
	}
	if in.Kind == "" {
		in.Kind = model.CouponPromo
	}
	updated, err := h.svc.ExpireBatch(req.Context(), in.Kind, in.Limit)
	h.reply(w, "ExpireHandler", ExpireResponse{updated}, err)
}

func (h *RewardsHandler) BroadcastHandler(w http.ResponseWriter, req *http.Request) {
	var in BroadcastRequest
	if err := readJSON(w, req, &in); err != nil {
		h.writeError(w, "BroadcastHandler", err)
		return
	}
	res, err := h.svc.BroadcastPromo(req.Context(), in.Title, in.ImageRef)
	h.reply(w, "BroadcastHandler", res, err)
}
