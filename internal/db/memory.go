package rewards

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	interf "github.com/glkeru/loyalty/rewards/internal/interfaces"
	model "github.com/glkeru/loyalty/rewards/internal/models"
)

// упорядоченный список недоступен (нет индекса сортировки)
var ErrUnordered = errors.New("ordered listing is not supported")

// MemoryDB - хранилище в памяти процесса (тесты, локальный запуск).
// Каждая транзакция выполняется под одним мьютексом, откат через журнал отмены.
type MemoryDB struct {
	mu sync.RWMutex

	accounts     map[string]model.Account
	accountCodes map[string]string // customerCode -> accountID
	tnx          []model.PointTransaction
	coupons      map[string]model.Coupon
	couponCodes  map[string]string // code -> couponID
	couponOrder  []string
	contests     map[string]model.Contest
	participants map[string]model.ContestParticipant
	tokens       map[string]model.NotificationToken // deviceID -> token

	// сымитировать отсутствие индекса сортировки транзакций
	Unordered bool
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		accounts:     make(map[string]model.Account),
		accountCodes: make(map[string]string),
		coupons:      make(map[string]model.Coupon),
		couponCodes:  make(map[string]string),
		contests:     make(map[string]model.Contest),
		participants: make(map[string]model.ContestParticipant),
		tokens:       make(map[string]model.NotificationToken),
	}
}

var _ interf.RewardsStorage = (*MemoryDB)(nil)

func participantKey(contestID string, accountID string) string {
	return contestID + "/" + accountID
}

func (m *MemoryDB) InTx(ctx context.Context, fn func(ctx context.Context, tx interf.RewardsTx) error) (err error) {
	if err = ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{db: m}
	defer func() {
		if err != nil {
			tx.rollback()
		}
	}()
	err = fn(ctx, tx)
	if err != nil {
		return err
	}
	// отмена до коммита - откат
	return ctx.Err()
}

type memTx struct {
	db   *MemoryDB
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) CreateAccount(_ context.Context, account model.Account) error {
	m := t.db
	if _, ok := m.accounts[account.ID]; ok {
		return fmt.Errorf("account %s: %w", account.ID, model.ErrConflict)
	}
	if _, ok := m.accountCodes[account.CustomerCode]; ok {
		return fmt.Errorf("customer code %s: %w", account.CustomerCode, model.ErrConflict)
	}
	m.accounts[account.ID] = account
	m.accountCodes[account.CustomerCode] = account.ID
	t.undo = append(t.undo, func() {
		delete(m.accounts, account.ID)
		delete(m.accountCodes, account.CustomerCode)
	})
	return nil
}

func (t *memTx) LockAccount(_ context.Context, accountID string) (model.Account, error) {
	a, ok := t.db.accounts[accountID]
	if !ok {
		return model.Account{}, fmt.Errorf("account %s: %w", accountID, model.ErrNotFound)
	}
	return a, nil
}

func (t *memTx) AddBalance(_ context.Context, accountID string, delta int64) (int64, error) {
	m := t.db
	a, ok := m.accounts[accountID]
	if !ok {
		return 0, fmt.Errorf("account %s: %w", accountID, model.ErrNotFound)
	}
	if a.Balance+delta < 0 {
		return 0, fmt.Errorf("account %s: %w", accountID, model.ErrInsufficientBalance)
	}
	prev := a.Balance
	a.Balance += delta
	m.accounts[accountID] = a
	t.undo = append(t.undo, func() {
		a := m.accounts[accountID]
		a.Balance = prev
		m.accounts[accountID] = a
	})
	return a.Balance, nil
}

func (t *memTx) AppendTransaction(_ context.Context, tnx model.PointTransaction) error {
	m := t.db
	if _, ok := m.accounts[tnx.AccountID]; !ok {
		return fmt.Errorf("account %s: %w", tnx.AccountID, model.ErrNotFound)
	}
	n := len(m.tnx)
	m.tnx = append(m.tnx, tnx)
	t.undo = append(t.undo, func() {
		m.tnx = m.tnx[:n]
	})
	return nil
}

func (t *memTx) DeleteAccount(_ context.Context, accountID string) error {
	m := t.db
	a, ok := m.accounts[accountID]
	if !ok {
		return fmt.Errorf("account %s: %w", accountID, model.ErrNotFound)
	}

	oldTnx := m.tnx
	kept := make([]model.PointTransaction, 0, len(m.tnx))
	for _, v := range m.tnx {
		if v.AccountID != accountID {
			kept = append(kept, v)
		}
	}
	m.tnx = kept

	var coupons []model.Coupon
	for id, c := range m.coupons {
		if c.AccountID == accountID {
			coupons = append(coupons, c)
			delete(m.coupons, id)
			delete(m.couponCodes, c.Code)
		}
	}
	var tokens []model.NotificationToken
	for id, tk := range m.tokens {
		if tk.AccountID == accountID {
			tokens = append(tokens, tk)
			delete(m.tokens, id)
		}
	}
	delete(m.accounts, accountID)
	delete(m.accountCodes, a.CustomerCode)

	t.undo = append(t.undo, func() {
		m.tnx = oldTnx
		for _, c := range coupons {
			m.coupons[c.ID] = c
			m.couponCodes[c.Code] = c.ID
		}
		for _, tk := range tokens {
			m.tokens[tk.DeviceID] = tk
		}
		m.accounts[accountID] = a
		m.accountCodes[a.CustomerCode] = accountID
	})
	return nil
}

func (t *memTx) InsertCoupon(_ context.Context, coupon model.Coupon) error {
	m := t.db
	if _, ok := m.accounts[coupon.AccountID]; !ok {
		return fmt.Errorf("account %s: %w", coupon.AccountID, model.ErrNotFound)
	}
	if _, ok := m.couponCodes[coupon.Code]; ok {
		return fmt.Errorf("coupon code %s: %w", coupon.Code, model.ErrConflict)
	}
	if _, ok := m.coupons[coupon.ID]; ok {
		return fmt.Errorf("coupon %s: %w", coupon.ID, model.ErrConflict)
	}
	m.coupons[coupon.ID] = coupon
	m.couponCodes[coupon.Code] = coupon.ID
	n := len(m.couponOrder)
	m.couponOrder = append(m.couponOrder, coupon.ID)
	t.undo = append(t.undo, func() {
		delete(m.coupons, coupon.ID)
		delete(m.couponCodes, coupon.Code)
		m.couponOrder = m.couponOrder[:n]
	})
	return nil
}

func (t *memTx) LockCouponByCode(_ context.Context, code string) (model.Coupon, error) {
	m := t.db
	id, ok := m.couponCodes[code]
	if !ok {
		return model.Coupon{}, fmt.Errorf("coupon %s: %w", code, model.ErrNotFound)
	}
	return m.coupons[id], nil
}

func (t *memTx) MarkCouponUsed(_ context.Context, couponID string, usedAt time.Time) error {
	m := t.db
	c, ok := m.coupons[couponID]
	if !ok {
		return fmt.Errorf("coupon %s: %w", couponID, model.ErrNotFound)
	}
	if c.Status != model.CouponActive {
		return fmt.Errorf("coupon %s: %w", c.Code, model.ErrNotRedeemable)
	}
	prev := c
	c.Status = model.CouponUsed
	c.UsedAt = &usedAt
	m.coupons[couponID] = c
	t.undo = append(t.undo, func() {
		m.coupons[couponID] = prev
	})
	return nil
}

func (t *memTx) ExpireCoupons(_ context.Context, kind model.CouponKind, limit int) (int, error) {
	m := t.db
	var updated int
	for _, id := range m.couponOrder {
		if updated >= limit {
			break
		}
		c, ok := m.coupons[id]
		if !ok || c.Kind != kind || c.Status != model.CouponActive {
			continue
		}
		prev := c
		c.Status = model.CouponExpired
		m.coupons[id] = c
		t.undo = append(t.undo, func() {
			m.coupons[prev.ID] = prev
		})
		updated++
	}
	return updated, nil
}

func (t *memTx) InsertContest(_ context.Context, contest model.Contest) error {
	m := t.db
	if _, ok := m.contests[contest.ID]; ok {
		return fmt.Errorf("contest %s: %w", contest.ID, model.ErrConflict)
	}
	m.contests[contest.ID] = contest
	t.undo = append(t.undo, func() {
		delete(m.contests, contest.ID)
	})
	return nil
}

func (t *memTx) LockContest(_ context.Context, contestID string) (model.Contest, error) {
	c, ok := t.db.contests[contestID]
	if !ok {
		return model.Contest{}, fmt.Errorf("contest %s: %w", contestID, model.ErrNotFound)
	}
	return c, nil
}

func (t *memTx) UpdateContest(_ context.Context, contest model.Contest) error {
	m := t.db
	prev, ok := m.contests[contest.ID]
	if !ok {
		return fmt.Errorf("contest %s: %w", contest.ID, model.ErrNotFound)
	}
	// счетчик меняется только инкрементом
	contest.TotalTickets = prev.TotalTickets
	contest.CreatedAt = prev.CreatedAt
	m.contests[contest.ID] = contest
	t.undo = append(t.undo, func() {
		m.contests[prev.ID] = prev
	})
	return nil
}

func (t *memTx) AddContestTickets(_ context.Context, contestID string, quantity int64, now time.Time) (model.Contest, error) {
	m := t.db
	c, ok := m.contests[contestID]
	if !ok {
		return model.Contest{}, fmt.Errorf("contest %s: %w", contestID, model.ErrNotFound)
	}
	if !c.AcceptingPurchases(now) {
		return model.Contest{}, fmt.Errorf("contest %s: %w", contestID, model.ErrContestClosed)
	}
	prev := c
	c.TotalTickets += quantity
	m.contests[contestID] = c
	t.undo = append(t.undo, func() {
		m.contests[contestID] = prev
	})
	return c, nil
}

func (t *memTx) AddParticipantTickets(_ context.Context, contestID string, accountID string, quantity int64, points int64, now time.Time) (model.ContestParticipant, error) {
	m := t.db
	key := participantKey(contestID, accountID)
	prev, existed := m.participants[key]
	p := prev
	if !existed {
		p = model.ContestParticipant{ContestID: contestID, AccountID: accountID}
	}
	p.NumTickets += quantity
	p.PointsSpent += points
	p.UpdatedAt = now
	p.LastPurchaseAt = now
	m.participants[key] = p
	t.undo = append(t.undo, func() {
		if existed {
			m.participants[key] = prev
		} else {
			delete(m.participants, key)
		}
	})
	return p, nil
}

// чтение

func (m *MemoryDB) GetAccount(_ context.Context, accountID string) (model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return model.Account{}, fmt.Errorf("account %s: %w", accountID, model.ErrNotFound)
	}
	return a, nil
}

func (m *MemoryDB) GetAccountByCustomerCode(_ context.Context, code string) (model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.accountCodes[code]
	if !ok {
		return model.Account{}, fmt.Errorf("customer %s: %w", code, model.ErrNotFound)
	}
	return m.accounts[id], nil
}

func (m *MemoryDB) ListAccountIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryDB) ListTransactions(_ context.Context, accountID string, limit int) ([]model.PointTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Unordered {
		return nil, ErrUnordered
	}
	var res []model.PointTransaction
	// с конца: при равном времени новее та, что вставлена позже
	for i := len(m.tnx) - 1; i >= 0; i-- {
		if m.tnx[i].AccountID == accountID {
			res = append(res, m.tnx[i])
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *MemoryDB) ScanTransactions(_ context.Context, accountID string) ([]model.PointTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []model.PointTransaction
	for _, v := range m.tnx {
		if v.AccountID == accountID {
			res = append(res, v)
		}
	}
	return res, nil
}

func (m *MemoryDB) PointsAggregates(_ context.Context, since time.Time) (agg model.PointsAggregates, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.tnx {
		if v.CreatedAt.Before(since) {
			continue
		}
		if v.Delta > 0 {
			agg.Positive += v.Delta
		} else {
			agg.Negative += v.Delta
		}
	}
	return agg, nil
}

func (m *MemoryDB) GetCouponByCode(_ context.Context, code string) (model.Coupon, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.couponCodes[code]
	if !ok {
		return model.Coupon{}, fmt.Errorf("coupon %s: %w", code, model.ErrNotFound)
	}
	return m.coupons[id], nil
}

func (m *MemoryDB) ListCoupons(_ context.Context, accountID string) ([]model.Coupon, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []model.Coupon
	for _, id := range m.couponOrder {
		c, ok := m.coupons[id]
		if ok && c.AccountID == accountID {
			res = append(res, c)
		}
	}
	return res, nil
}

func (m *MemoryDB) ListActiveCoupons(_ context.Context, kind model.CouponKind, limit int) ([]model.Coupon, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []model.Coupon
	for i := len(m.couponOrder) - 1; i >= 0; i-- {
		c, ok := m.coupons[m.couponOrder[i]]
		if !ok || c.Status != model.CouponActive || (kind != "" && c.Kind != kind) {
			continue
		}
		res = append(res, c)
		if limit > 0 && len(res) >= limit {
			break
		}
	}
	return res, nil
}

func (m *MemoryDB) CountCoupons(_ context.Context, status model.CouponStatus, kind model.CouponKind) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, c := range m.coupons {
		if (status == "" || c.Status == status) && (kind == "" || c.Kind == kind) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryDB) CountAccounts(_ context.Context) (accounts int64, totalBalance int64, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.accounts {
		accounts++
		totalBalance += a.Balance
	}
	return accounts, totalBalance, nil
}

func (m *MemoryDB) GetContest(_ context.Context, contestID string) (model.Contest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contests[contestID]
	if !ok {
		return model.Contest{}, fmt.Errorf("contest %s: %w", contestID, model.ErrNotFound)
	}
	return c, nil
}

func (m *MemoryDB) ListContests(_ context.Context, limit int) ([]model.Contest, error) {
	m.mu.RLock()
	res := make([]model.Contest, 0, len(m.contests))
	for _, c := range m.contests {
		res = append(res, c)
	}
	m.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *MemoryDB) ListOpenContests(_ context.Context, now time.Time, limit int) ([]model.Contest, error) {
	m.mu.RLock()
	var res []model.Contest
	for _, c := range m.contests {
		if c.AcceptingPurchases(now) {
			res = append(res, c)
		}
	}
	m.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool {
		if res[i].ClosesAt.Equal(res[j].ClosesAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].ClosesAt.Before(res[j].ClosesAt)
	})
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *MemoryDB) GetParticipant(_ context.Context, contestID string, accountID string) (model.ContestParticipant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.participants[participantKey(contestID, accountID)]
	if !ok {
		return model.ContestParticipant{}, fmt.Errorf("participant %s/%s: %w", contestID, accountID, model.ErrNotFound)
	}
	return p, nil
}

func (m *MemoryDB) ListParticipants(_ context.Context, contestID string, limit int) ([]model.ContestParticipant, error) {
	m.mu.RLock()
	var res []model.ContestParticipant
	for _, p := range m.participants {
		if p.ContestID == contestID {
			res = append(res, p)
		}
	}
	m.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool {
		if res[i].NumTickets == res[j].NumTickets {
			return res[i].AccountID < res[j].AccountID
		}
		return res[i].NumTickets > res[j].NumTickets
	})
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *MemoryDB) ListTokens(_ context.Context, accountID string) ([]model.NotificationToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []model.NotificationToken
	for _, tk := range m.tokens {
		if accountID == "" || tk.AccountID == accountID {
			res = append(res, tk)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].DeviceID < res[j].DeviceID })
	return res, nil
}

func (m *MemoryDB) SaveToken(_ context.Context, token model.NotificationToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[token.AccountID]; !ok {
		return fmt.Errorf("account %s: %w", token.AccountID, model.ErrNotFound)
	}
	m.tokens[token.DeviceID] = token
	return nil
}

func (m *MemoryDB) DeleteTokens(_ context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, tk := range m.tokens {
		if tk.AccountID == accountID {
			delete(m.tokens, id)
		}
	}
	return nil
}
