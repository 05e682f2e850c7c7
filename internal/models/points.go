package rewards

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Счет клиента
type Account struct {
	ID           string    `json:"id"`
	CustomerCode string    `json:"customerCode"` // XXXX-NNNN
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName,omitempty"`
	Role         Role      `json:"role"`
	Balance      int64     `json:"balance"` // всегда равен сумме Delta по транзакциям счета
	CreatedAt    time.Time `json:"createdAt"`
}

func (a Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Транзакция баллов, только добавление
type PointTransaction struct {
	ID          string              `json:"id"`
	AccountID   string              `json:"accountId"`
	Delta       int64               `json:"delta"` // + начисление, - списание
	Reason      string              `json:"reason"`
	OrderAmount decimal.NullDecimal `json:"orderAmount"` // сумма покупки для начислений по чеку
	CreatedAt   time.Time           `json:"createdAt"`
}

// Точка контроля: сумма транзакций
func SumDeltas(txs []PointTransaction) (sum int64) {
	for _, t := range txs {
		sum += t.Delta
	}
	return sum
}

// Событие покупки из Kafka
type PurchaseEvent struct {
	EventID   string          `json:"eventId"`
	AccountID string          `json:"accountId"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
}
