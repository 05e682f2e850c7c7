package rewards

import "time"

type CouponKind string

const (
	CouponPromo  CouponKind = "promo"
	CouponReward CouponKind = "reward"
)

func (k CouponKind) Valid() bool {
	return k == CouponPromo || k == CouponReward
}

// префикс кода купона
func (k CouponKind) Prefix() string {
	if k == CouponPromo {
		return "PRM"
	}
	return "RWD"
}

type CouponStatus string

const (
	CouponActive  CouponStatus = "active"
	CouponUsed    CouponStatus = "used"
	CouponExpired CouponStatus = "expired"
)

// Купон: active -> used | expired, обратных переходов нет
type Coupon struct {
	ID        string       `json:"id"`
	AccountID string       `json:"accountId"`
	Code      string       `json:"code"`
	Title     string       `json:"title"`
	Kind      CouponKind   `json:"kind"`
	Status    CouponStatus `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
	UsedAt    *time.Time   `json:"usedAt,omitempty"`
	ImageRef  string       `json:"imageRef,omitempty"`
}

// Позиция каталога наград
type RewardCatalogEntry struct {
	ID         string `bson:"id" json:"id"`
	Title      string `bson:"title" json:"title"`
	Subtitle   string `bson:"subtitle" json:"subtitle,omitempty"`
	PointsCost int64  `bson:"pointsCost" json:"pointsCost"`
	ImageRef   string `bson:"imageRef" json:"imageRef,omitempty"`
}

// Токен push-уведомлений устройства
type NotificationToken struct {
	AccountID string    `json:"accountId"`
	Token     string    `json:"token"`
	DeviceID  string    `json:"deviceId"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"createdAt"`
}

// Итог рассылки промо
type BroadcastResult struct {
	Created       int `json:"created"`
	TotalAccounts int `json:"totalAccounts"`
}
