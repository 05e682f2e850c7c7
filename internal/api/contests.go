package rewards

import (
	"fmt"
	"net/http"

	model "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/gorilla/mux"
)

type TicketsRequest struct {
	AccountID string `json:"accountId"`
	Quantity  int64  `json:"quantity"`
}

type ToggleRequest struct {
	Active bool `json:"active"`
}

func (h *RewardsHandler) ListContestsHandler(w http.ResponseWriter, req *http.Request) {
	limit, err := queryInt(req, "limit")
	if err != nil {
		h.writeError(w, "ListContestsHandler", err)
		return
	}
	contests, err := h.svc.ListContests(req.Context(), limit)
	if contests == nil {
		contests = []model.Contest{}
	}
	h.reply(w, "ListContestsHandler", contests, err)
}

// нет открытого конкурса - 204
func (h *RewardsHandler) ActiveContestHandler(w http.ResponseWriter, req *http.Request) {
	contest, err := h.svc.GetActiveContest(req.Context())
	if err != nil {
		h.writeError(w, "ActiveContestHandler", err)
		return
	}
	if contest == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, contest)
}

func (h *RewardsHandler) GetContestHandler(w http.ResponseWriter, req *http.Request) {
	contest, err := h.svc.GetContest(req.Context(), mux.Vars(req)["id"])
	h.reply(w, "GetContestHandler", contest, err)
}

func (h *RewardsHandler) PurchaseTicketsHandler(w http.ResponseWriter, req *http.Request) {
	var in TicketsRequest
	if err := readJSON(w, req, &in); err != nil {
		h.writeError(w, "PurchaseTicketsHandler", err)
		return
	}
	if in.AccountID == "" {
		h.writeError(w, "PurchaseTicketsHandler", fmt.Errorf("accountId is required: %w", model.ErrInvalidInput))
		return
	}
	res, err := h.svc.PurchaseTickets(req.Context(), mux.Vars(req)["id"], in.AccountID, in.Quantity)
	h.reply(w, "PurchaseTicketsHandler", res, err)
}

func (h *RewardsHandler) ContestStatsHandler(w http.ResponseWriter, req *http.Request) {
	stats, err := h.svc.GetStats(req.Context(), mux.Vars(req)["id"], req.URL.Query().Get("accountId"))
	h.reply(w, "ContestStatsHandler", stats, err)
}

func (h *RewardsHandler) ListParticipantsHandler(w http.ResponseWriter, req *http.Request) {
	limit, err := queryInt(req, "limit")
	if err != nil {
		h.writeError(w, "ListParticipantsHandler", err)
		return
	}
	parts, err := h.svc.ListParticipants(req.Context(), mux.Vars(req)["id"], limit)
	if parts == nil {
		parts = []model.ContestParticipant{}
	}
	h.reply(w, "ListParticipantsHandler", parts, err)
}

func (h *RewardsHandler) CreateContestHandler(w http.ResponseWriter, req *http.Request) {
	var in model.ContestInput
	if err := readJSON(w, req, &in); err != nil {
		h.writeError(w, "CreateContestHandler", err)
		return
	}
	contest, err := h.svc.CreateContest(req.Context(), in)
	if err != nil {
		h.writeError(w, "CreateContestHandler", err)
		return
	}
	writeJSON(w, http.StatusCreated, contest)
}

func (h *RewardsHandler) UpdateContestHandler(w http.ResponseWriter, req *http.Request) {
	var patch model.ContestPatch
	if err := readJSON(w, req, &patch); err != nil {
		h.writeError(w, "UpdateContestHandler", err)
		return
	}
	contest, err := h.svc.UpdateContest(req.Context(), mux.Vars(req)["id"], patch)
	h.reply(w, "UpdateContestHandler", contest, err)
}

func (h *RewardsHandler) ToggleContestHandler(w http.ResponseWriter, req *http.Request) {
	var in ToggleRequest
	if err := readJSON(w, req, &in); err != nil {
		h.writeError(w, "ToggleContestHandler", err)
		return
	}
	contest, err := h.svc.ToggleActive(req.Context(), mux.Vars(req)["id"], in.Active)
	h.reply(w, "ToggleContestHandler", contest, err)
}

func (h *RewardsHandler) CloseContestHandler(w http.ResponseWriter, req *http.Request) {
	contest, err := h.svc.ForceClose(req.Context(), mux.Vars(req)["id"])
	h.reply(w, "CloseContestHandler", contest, err)
}

func (h *RewardsHandler) GlobalStatsHandler(w http.ResponseWriter, req *http.Request) {
	stats, err := h.svc.GlobalStats(req.Context())
	h.reply(w, "GlobalStatsHandler", stats, err)
}

func (h *RewardsHandler) CouponCountsHandler(w http.ResponseWriter, req *http.Request) {
	counts, err := h.svc.CouponCounts(req.Context())
	h.reply(w, "CouponCountsHandler", counts, err)
}

func (h *RewardsHandler) PointsAggregatesHandler(w http.ResponseWriter, req *http.Request) {
	days, err := queryInt(req, "days")
	if err != nil {
		h.writeError(w, "PointsAggregatesHandler", err)
		return
	}
	agg, err := h.svc.PointsAggregates(req.Context(), days)
	h.reply(w, "PointsAggregatesHandler", agg, err)
}
