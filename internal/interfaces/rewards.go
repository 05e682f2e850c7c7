package rewards

import (
	"context"
	"time"

	model "github.com/glkeru/loyalty/rewards/internal/models"
)

//go:generate mockgen -destination=./../services/mock_rewards_test.go -package=rewards . Notifier,RewardCatalog,PushSender

// Хранилище: чтение вне транзакции, изменения только через InTx
type RewardsStorage interface {
	// fn выполняется в одной атомарной единице; ошибка fn - откат
	InTx(ctx context.Context, fn func(ctx context.Context, tx RewardsTx) error) error

	GetAccount(ctx context.Context, accountID string) (model.Account, error)
	GetAccountByCustomerCode(ctx context.Context, code string) (model.Account, error)
	ListAccountIDs(ctx context.Context) ([]string, error)

	// новые сверху; может не поддерживаться без индекса сортировки
	ListTransactions(ctx context.Context, accountID string, limit int) ([]model.PointTransaction, error)
	// без сортировки, порядок вставки
	ScanTransactions(ctx context.Context, accountID string) ([]model.PointTransaction, error)
	PointsAggregates(ctx context.Context, since time.Time) (model.PointsAggregates, error)

	GetCouponByCode(ctx context.Context, code string) (model.Coupon, error)
	ListCoupons(ctx context.Context, accountID string) ([]model.Coupon, error)
	ListActiveCoupons(ctx context.Context, kind model.CouponKind, limit int) ([]model.Coupon, error)
	CountCoupons(ctx context.Context, status model.CouponStatus, kind model.CouponKind) (int64, error)
	CountAccounts(ctx context.Context) (accounts int64, totalBalance int64, err error)

	GetContest(ctx context.Context, contestID string) (model.Contest, error)
	ListContests(ctx context.Context, limit int) ([]model.Contest, error)
	// открытые на момент now, по возрастанию ClosesAt, затем ID
	ListOpenContests(ctx context.Context, now time.Time, limit int) ([]model.Contest, error)
	GetParticipant(ctx context.Context, contestID string, accountID string) (model.ContestParticipant, error)
	ListParticipants(ctx context.Context, contestID string, limit int) ([]model.ContestParticipant, error)

	ListTokens(ctx context.Context, accountID string) ([]model.NotificationToken, error)
	SaveToken(ctx context.Context, token model.NotificationToken) error
	DeleteTokens(ctx context.Context, accountID string) error
}

// Операции внутри транзакции
type RewardsTx interface {
	// ErrConflict если занят ID или CustomerCode
	CreateAccount(ctx context.Context, account model.Account) error
	// блокировка строки счета до конца транзакции
	LockAccount(ctx context.Context, accountID string) (model.Account, error)
	// атомарный инкремент баланса, возвращает новый баланс
	AddBalance(ctx context.Context, accountID string, delta int64) (int64, error)
	AppendTransaction(ctx context.Context, tnx model.PointTransaction) error
	// удаление счета с транзакциями, купонами и токенами
	DeleteAccount(ctx context.Context, accountID string) error

	// ErrConflict если код занят
	InsertCoupon(ctx context.Context, coupon model.Coupon) error
	LockCouponByCode(ctx context.Context, code string) (model.Coupon, error)
	MarkCouponUsed(ctx context.Context, couponID string, usedAt time.Time) error
	// переводит до limit активных купонов вида kind в expired
	ExpireCoupons(ctx context.Context, kind model.CouponKind, limit int) (int, error)

	InsertContest(ctx context.Context, contest model.Contest) error
	LockContest(ctx context.Context, contestID string) (model.Contest, error)
	UpdateContest(ctx context.Context, contest model.Contest) error
	// инкремент TotalTickets только для открытого на момент now конкурса; ErrContestClosed / ErrNotFound
	AddContestTickets(ctx context.Context, contestID string, quantity int64, now time.Time) (model.Contest, error)
	// upsert участника с инкрементом счетчиков
	AddParticipantTickets(ctx context.Context, contestID string, accountID string, quantity int64, points int64, now time.Time) (model.ContestParticipant, error)
}

// Кэш балансов
type CacheStorage interface {
	GetBalance(ctx context.Context, accountID string) (points int64, err error)
	// версия растет при каждом сбросе баланса
	BalanceVersion(ctx context.Context, accountID string) (version int64, err error)
	// запись только если версия не изменилась с момента чтения
	SetBalance(ctx context.Context, accountID string, points int64, version int64) (err error)
	InvalidateBalance(ctx context.Context, accountID string) error
}

// Отметки обработанных событий (идемпотентность джобов)
type Deduper interface {
	// false - событие уже обработано
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)
	UnmarkProcessed(ctx context.Context, key string) error
}

// Каталог наград, справочные данные
type RewardCatalog interface {
	Get(ctx context.Context, rewardID string) (model.RewardCatalogEntry, error)
	List(ctx context.Context) ([]model.RewardCatalogEntry, error)
}

// Push-сообщение
type PushMessage struct {
	To    string            `json:"to"`
	Sound string            `json:"sound,omitempty"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Тикет ответа на одно сообщение
type PushTicket struct {
	Status  string `json:"status"` // ok | error
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

// Транспорт push, одна пачка за вызов
type PushSender interface {
	Send(ctx context.Context, messages []PushMessage) ([]PushTicket, error)
}

// Отправка push, best-effort
type Notifier interface {
	SendToAll(ctx context.Context, title string, body string, data map[string]string) (sent int, failed int, err error)
}

// Шина событий изменений: ключи вида "contest/<id>"
type EventBus interface {
	Publish(ctx context.Context, topic string)
	// после возврата unsubscribe колбэк больше не вызывается
	Subscribe(topic string, fn func(topic string)) (unsubscribe func())
}
