package rewards

import "time"

// Конкурс
type Contest struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Prize            string    `json:"prize"`
	TicketCostPoints int64     `json:"ticketCostPoints"`
	ClosesAt         time.Time `json:"closesAt"`
	Active           bool      `json:"active"`
	TotalTickets     int64     `json:"totalTickets"` // сумма NumTickets участников
	ImageRef         string    `json:"imageRef,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Продажа билетов открыта. После ClosesAt конкурс не открывается снова.
func (c Contest) AcceptingPurchases(now time.Time) bool {
	return c.Active && now.Before(c.ClosesAt)
}

// Участник конкурса, ключ (ContestID, AccountID)
type ContestParticipant struct {
	ContestID      string    `json:"contestId"`
	AccountID      string    `json:"accountId"`
	NumTickets     int64     `json:"numTickets"`
	PointsSpent    int64     `json:"pointsSpent"`
	UpdatedAt      time.Time `json:"updatedAt"`
	LastPurchaseAt time.Time `json:"lastPurchaseAt"`
}

type ContestStats struct {
	Contest        Contest `json:"contest"`
	AccountTickets int64   `json:"accountTickets"`
	TotalTickets   int64   `json:"totalTickets"`
	Probability    float64 `json:"probability"` // 0..1
}

func NewContestStats(contest Contest, accountTickets int64) ContestStats {
	stats := ContestStats{
		Contest:        contest,
		AccountTickets: accountTickets,
		TotalTickets:   contest.TotalTickets,
	}
	if stats.TotalTickets > 0 {
		stats.Probability = float64(accountTickets) / float64(stats.TotalTickets)
	}
	return stats
}

type PurchaseResult struct {
	AccountTickets int64 `json:"accountTickets"`
	TotalTickets   int64 `json:"totalTickets"`
	Balance        int64 `json:"balance"`
}

// Патч конкурса; nil - поле не меняется
type ContestPatch struct {
	Title            *string    `json:"title,omitempty"`
	Prize            *string    `json:"prize,omitempty"`
	TicketCostPoints *int64     `json:"ticketCostPoints,omitempty"`
	ClosesAt         *time.Time `json:"closesAt,omitempty"`
	Active           *bool      `json:"active,omitempty"`
	ImageRef         *string    `json:"imageRef,omitempty"`
}

// Статистика для администратора
type GlobalStats struct {
	Accounts            int64            `json:"accounts"`
	TotalBalance        int64            `json:"totalBalance"`
	ActiveCoupons       int64            `json:"activeCoupons"`
	ActiveCouponsByKind map[string]int64 `json:"activeCouponsByKind"`
}

type CouponCounts struct {
	Total int64 `json:"total"`
	Used  int64 `json:"used"`
}

type PointsAggregates struct {
	Positive int64 `json:"positive"`
	Negative int64 `json:"negative"`
}

// Новый конкурс; Active == nil - активен
type ContestInput struct {
	Title            string    `json:"title"`
	Prize            string    `json:"prize"`
	TicketCostPoints int64     `json:"ticketCostPoints"`
	ClosesAt         time.Time `json:"closesAt"`
	Active           *bool     `json:"active,omitempty"`
	ImageRef         string    `json:"imageRef,omitempty"`
}
