package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/chatbooks/internal/model"
	"github.com/shopspring/decimal"
)

// errNegativeStock は products の CHECK (stock >= 0) 相当の違反を表す。
var errNegativeStock = errors.New("stock must not be negative")

// memData はメモリ上の全テーブル。WithinTx ではこれを複製して書き換え、成功時に差し替える。
type memData struct {
	users        map[string]model.User
	products     map[string]model.Product
	transactions map[string]memTransaction
	inventory    []model.InventoryLogEntry
	customers    map[string]model.Customer
	banks        map[string]model.BankAccount
	idempotency  map[string]model.IdempotencyRecord
	seq          int64
}

type memTransaction struct {
	tx  model.Transaction
	seq int64
}

func newMemData() *memData {
	return &memData{
		users:        make(map[string]model.User),
		products:     make(map[string]model.Product),
		transactions: make(map[string]memTransaction),
		customers:    make(map[string]model.Customer),
		banks:        make(map[string]model.BankAccount),
		idempotency:  make(map[string]model.IdempotencyRecord),
	}
}

// clone は各テーブルを複製する。値型の構造体を保持するため浅いコピーで足りる。
// ポインタを含むフィールドは書き込み時と読み出し時に複製している。
func (d *memData) clone() *memData {
	c := &memData{
		users:        make(map[string]model.User, len(d.users)),
		products:     make(map[string]model.Product, len(d.products)),
		transactions: make(map[string]memTransaction, len(d.transactions)),
		inventory:    append([]model.InventoryLogEntry(nil), d.inventory...),
		customers:    make(map[string]model.Customer, len(d.customers)),
		banks:        make(map[string]model.BankAccount, len(d.banks)),
		idempotency:  make(map[string]model.IdempotencyRecord, len(d.idempotency)),
		seq:          d.seq,
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.products {
		c.products[k] = v
	}
	for k, v := range d.transactions {
		c.transactions[k] = v
	}
	for k, v := range d.customers {
		c.customers[k] = v
	}
	for k, v := range d.banks {
		c.banks[k] = v
	}
	for k, v := range d.idempotency {
		c.idempotency[k] = v
	}
	return c
}

// memRunner はmemDataに対する1操作の実行方法（ロックの有無）を抽象化する。
type memRunner func(fn func(d *memData) error) error

// MemStore はテストおよびDBなしのローカル実行向けのインメモリ Store。
// WithinTx はストア全体をロックし、複製に対して作業した結果を成功時のみ反映する。
// WithinTx のfn内から Repos() を呼んではならない。
type MemStore struct {
	mu   sync.Mutex
	data *memData
}

// NewMemStore は空のMemStoreを生成する。
func NewMemStore() *MemStore {
	return &MemStore{data: newMemData()}
}

// Repos は操作ごとにロックを取るリポジトリ群を返す。
func (s *MemStore) Repos() Repos {
	return memRepos(func(fn func(d *memData) error) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		return fn(s.data)
	})
}

// WithinTx はfnを複製データ上で実行し、エラーがなければ複製を本体に差し替える。
func (s *MemStore) WithinTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	repos := memRepos(func(op func(d *memData) error) error {
		return op(snapshot)
	})
	if err := fn(ctx, repos); err != nil {
		return err
	}
	s.data = snapshot
	return nil
}

func memRepos(run memRunner) Repos {
	return Repos{
		Users:         &memUserRepo{run: run},
		Products:      &memProductRepo{run: run},
		Transactions:  &memTransactionRepo{run: run},
		InventoryLogs: &memInventoryLogRepo{run: run},
		Customers:     &memCustomerRepo{run: run},
		BankAccounts:  &memBankAccountRepo{run: run},
		Idempotency:   &memIdempotencyRepo{run: run},
	}
}

func sameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func stampNew(id *string, createdAt, updatedAt *time.Time) {
	if *id == "" {
		*id = uuid.NewString()
	}
	now := time.Now()
	if createdAt.IsZero() {
		*createdAt = now
	}
	if updatedAt.IsZero() {
		*updatedAt = *createdAt
	}
}

// --- ユーザー ---

type memUserRepo struct{ run memRunner }

func copyUser(u model.User) *model.User {
	if u.StateContext != nil {
		u.StateContext = cloneStateContext(u.StateContext)
	}
	if u.SubscriptionExpiresAt != nil {
		t := *u.SubscriptionExpiresAt
		u.SubscriptionExpiresAt = &t
	}
	return &u
}

// cloneStateContext はJSON往復でステートコンテキストを深く複製する。
// Postgres の jsonb カラムと同じ表現を通すため、保存できない値はここで失われる。
func cloneStateContext(sc *model.StateContext) *model.StateContext {
	raw, err := json.Marshal(sc)
	if err != nil {
		return nil
	}
	out := &model.StateContext{}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil
	}
	return out
}

func (r *memUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	var found *model.User
	err := r.run(func(d *memData) error {
		if u, ok := d.users[id]; ok {
			found = copyUser(u)
		}
		return nil
	})
	return found, err
}

func (r *memUserRepo) FindByChannelID(_ context.Context, channelID string) (*model.User, error) {
	var found *model.User
	err := r.run(func(d *memData) error {
		for _, u := range d.users {
			if u.ChannelID == channelID {
				found = copyUser(u)
				return nil
			}
		}
		return nil
	})
	return found, err
}

func (r *memUserRepo) Create(_ context.Context, user *model.User) error {
	return r.run(func(d *memData) error {
		for _, u := range d.users {
			if u.ChannelID == user.ChannelID {
				return ErrDuplicate
			}
		}
		stampNew(&user.ID, &user.CreatedAt, &user.UpdatedAt)
		d.users[user.ID] = *copyUser(*user)
		return nil
	})
}

func (r *memUserRepo) update(id string, mutate func(u *model.User)) error {
	return r.run(func(d *memData) error {
		u, ok := d.users[id]
		if !ok {
			return errors.New("user not found: " + id)
		}
		mutate(&u)
		u.UpdatedAt = time.Now()
		d.users[id] = *copyUser(u)
		return nil
	})
}

func (r *memUserRepo) SaveState(_ context.Context, userID string, state model.State, sc *model.StateContext) error {
	return r.update(userID, func(u *model.User) {
		u.State = state
		u.StateContext = sc
	})
}

func (r *memUserRepo) UpdateProfile(_ context.Context, user *model.User) error {
	return r.update(user.ID, func(u *model.User) {
		u.BusinessName = user.BusinessName
		u.Email = user.Email
		u.Currency = user.Currency
	})
}

func (r *memUserRepo) UpdateSubscription(_ context.Context, userID string, status model.SubscriptionStatus, expiresAt *time.Time) error {
	return r.update(userID, func(u *model.User) {
		u.SubscriptionStatus = status
		u.SubscriptionExpiresAt = expiresAt
	})
}

// --- 商品 ---

type memProductRepo struct{ run memRunner }

func (r *memProductRepo) FindByName(_ context.Context, userID, name string) (*model.Product, error) {
	var found *model.Product
	err := r.run(func(d *memData) error {
		for _, p := range d.products {
			if p.UserID == userID && sameName(p.Name, name) {
				p := p
				found = &p
				return nil
			}
		}
		return nil
	})
	return found, err
}

func (r *memProductRepo) ListByUser(_ context.Context, userID string) ([]*model.Product, error) {
	var out []*model.Product
	err := r.run(func(d *memData) error {
		for _, p := range d.products {
			if p.UserID == userID {
				p := p
				out = append(out, &p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out, err
}

func (r *memProductRepo) Create(_ context.Context, p *model.Product) error {
	return r.run(func(d *memData) error {
		if p.Stock < 0 {
			return errNegativeStock
		}
		for _, existing := range d.products {
			if existing.UserID == p.UserID && sameName(existing.Name, p.Name) {
				return ErrDuplicate
			}
		}
		stampNew(&p.ID, &p.CreatedAt, &p.UpdatedAt)
		d.products[p.ID] = *p
		return nil
	})
}

func (r *memProductRepo) Update(_ context.Context, p *model.Product) error {
	return r.run(func(d *memData) error {
		existing, ok := d.products[p.ID]
		if !ok || existing.UserID != p.UserID {
			return errors.New("product not found: " + p.ID)
		}
		existing.Cost = p.Cost
		existing.Price = p.Price
		existing.UpdatedAt = time.Now()
		d.products[p.ID] = existing
		return nil
	})
}

func (r *memProductRepo) AdjustStock(_ context.Context, userID, productID string, delta int) (*model.Product, error) {
	var out *model.Product
	err := r.run(func(d *memData) error {
		p, ok := d.products[productID]
		if !ok || p.UserID != userID {
			return errors.New("product not found: " + productID)
		}
		if p.Stock+delta < 0 {
			return ErrInsufficientStock
		}
		p.Stock += delta
		p.UpdatedAt = time.Now()
		d.products[productID] = p
		out = &p
		return nil
	})
	return out, err
}

// --- 取引 ---

type memTransactionRepo struct{ run memRunner }

func (r *memTransactionRepo) Create(_ context.Context, t *model.Transaction) error {
	return r.run(func(d *memData) error {
		if !t.Amount.IsPositive() {
			return errors.New("transaction amount must be positive")
		}
		stampNew(&t.ID, &t.CreatedAt, &t.UpdatedAt)
		d.seq++
		d.transactions[t.ID] = memTransaction{tx: *t, seq: d.seq}
		return nil
	})
}

func (r *memTransactionRepo) FindByID(_ context.Context, userID, id string) (*model.Transaction, error) {
	var found *model.Transaction
	err := r.run(func(d *memData) error {
		if mt, ok := d.transactions[id]; ok && mt.tx.UserID == userID {
			t := mt.tx
			found = &t
		}
		return nil
	})
	return found, err
}

func (r *memTransactionRepo) sorted(userID string, keep func(t model.Transaction) bool) ([]memTransaction, error) {
	var rows []memTransaction
	err := r.run(func(d *memData) error {
		for _, mt := range d.transactions {
			if mt.tx.UserID == userID && keep(mt.tx) {
				rows = append(rows, mt)
			}
		}
		return nil
	})
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].tx.CreatedAt.Equal(rows[j].tx.CreatedAt) {
			return rows[i].tx.CreatedAt.Before(rows[j].tx.CreatedAt)
		}
		return rows[i].seq < rows[j].seq
	})
	return rows, err
}

func (r *memTransactionRepo) ListRecent(_ context.Context, userID string, limit int) ([]*model.Transaction, error) {
	rows, err := r.sorted(userID, func(model.Transaction) bool { return true })
	if err != nil {
		return nil, err
	}
	var out []*model.Transaction
	for i := len(rows) - 1; i >= 0 && len(out) < limit; i-- {
		t := rows[i].tx
		out = append(out, &t)
	}
	return out, nil
}

func (r *memTransactionRepo) ListBetween(_ context.Context, userID string, from, to time.Time) ([]*model.Transaction, error) {
	rows, err := r.sorted(userID, func(t model.Transaction) bool {
		return !t.CreatedAt.Before(from) && t.CreatedAt.Before(to)
	})
	if err != nil {
		return nil, err
	}
	out := make([]*model.Transaction, 0, len(rows))
	for _, mt := range rows {
		t := mt.tx
		out = append(out, &t)
	}
	return out, nil
}

func (r *memTransactionRepo) ListBySource(_ context.Context, userID, sourceID string) ([]*model.Transaction, error) {
	rows, err := r.sorted(userID, func(t model.Transaction) bool { return t.SourceID == sourceID })
	if err != nil {
		return nil, err
	}
	out := make([]*model.Transaction, 0, len(rows))
	for _, mt := range rows {
		t := mt.tx
		out = append(out, &t)
	}
	return out, nil
}

func (r *memTransactionRepo) Update(_ context.Context, t *model.Transaction) error {
	return r.run(func(d *memData) error {
		mt, ok := d.transactions[t.ID]
		if !ok || mt.tx.UserID != t.UserID {
			return errors.New("transaction not found: " + t.ID)
		}
		if !t.Amount.IsPositive() {
			return errors.New("transaction amount must be positive")
		}
		mt.tx.Amount = t.Amount
		mt.tx.Description = t.Description
		mt.tx.Category = t.Category
		mt.tx.UpdatedAt = time.Now()
		d.transactions[t.ID] = mt
		return nil
	})
}

func (r *memTransactionRepo) Delete(_ context.Context, userID, id string) error {
	return r.run(func(d *memData) error {
		mt, ok := d.transactions[id]
		if !ok || mt.tx.UserID != userID {
			return errors.New("transaction not found: " + id)
		}
		delete(d.transactions, id)
		return nil
	})
}

// --- 在庫変動ログ ---

type memInventoryLogRepo struct{ run memRunner }

func (r *memInventoryLogRepo) Append(_ context.Context, e *model.InventoryLogEntry) error {
	return r.run(func(d *memData) error {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now()
		}
		d.inventory = append(d.inventory, *e)
		return nil
	})
}

func (r *memInventoryLogRepo) ListByProduct(_ context.Context, userID, productID string) ([]*model.InventoryLogEntry, error) {
	return r.list(func(e model.InventoryLogEntry) bool { return e.UserID == userID && e.ProductID == productID })
}

func (r *memInventoryLogRepo) ListByReference(_ context.Context, userID, referenceID string) ([]*model.InventoryLogEntry, error) {
	return r.list(func(e model.InventoryLogEntry) bool { return e.UserID == userID && e.ReferenceID == referenceID })
}

func (r *memInventoryLogRepo) list(keep func(e model.InventoryLogEntry) bool) ([]*model.InventoryLogEntry, error) {
	var out []*model.InventoryLogEntry
	err := r.run(func(d *memData) error {
		for _, e := range d.inventory {
			if keep(e) {
				e := e
				out = append(out, &e)
			}
		}
		return nil
	})
	return out, err
}

// --- 顧客 ---

type memCustomerRepo struct{ run memRunner }

func (r *memCustomerRepo) FindByName(_ context.Context, userID, name string) (*model.Customer, error) {
	var found *model.Customer
	err := r.run(func(d *memData) error {
		for _, c := range d.customers {
			if c.UserID == userID && sameName(c.Name, name) {
				c := c
				found = &c
				return nil
			}
		}
		return nil
	})
	return found, err
}

func (r *memCustomerRepo) ListByUser(_ context.Context, userID string) ([]*model.Customer, error) {
	var out []*model.Customer
	err := r.run(func(d *memData) error {
		for _, c := range d.customers {
			if c.UserID == userID {
				c := c
				out = append(out, &c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out, err
}

func (r *memCustomerRepo) Create(_ context.Context, c *model.Customer) error {
	return r.run(func(d *memData) error {
		for _, existing := range d.customers {
			if existing.UserID == c.UserID && sameName(existing.Name, c.Name) {
				return ErrDuplicate
			}
		}
		stampNew(&c.ID, &c.CreatedAt, &c.UpdatedAt)
		d.customers[c.ID] = *c
		return nil
	})
}

func (r *memCustomerRepo) UpdateBalanceOwed(_ context.Context, customerID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.run(func(d *memData) error {
		c, ok := d.customers[customerID]
		if !ok {
			return errors.New("customer not found: " + customerID)
		}
		c.BalanceOwed = c.BalanceOwed.Add(delta)
		c.UpdatedAt = time.Now()
		d.customers[customerID] = c
		balance = c.BalanceOwed
		return nil
	})
	return balance, err
}

// --- 銀行口座 ---

type memBankAccountRepo struct{ run memRunner }

func (r *memBankAccountRepo) FindByName(_ context.Context, userID, name string) (*model.BankAccount, error) {
	var found *model.BankAccount
	err := r.run(func(d *memData) error {
		for _, a := range d.banks {
			if a.UserID == userID && sameName(a.Name, name) {
				a := a
				found = &a
				return nil
			}
		}
		return nil
	})
	return found, err
}

func (r *memBankAccountRepo) FindByID(_ context.Context, userID, id string) (*model.BankAccount, error) {
	var found *model.BankAccount
	err := r.run(func(d *memData) error {
		if a, ok := d.banks[id]; ok && a.UserID == userID {
			found = &a
		}
		return nil
	})
	return found, err
}

func (r *memBankAccountRepo) ListByUser(_ context.Context, userID string) ([]*model.BankAccount, error) {
	var out []*model.BankAccount
	err := r.run(func(d *memData) error {
		for _, a := range d.banks {
			if a.UserID == userID {
				a := a
				out = append(out, &a)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out, err
}

func (r *memBankAccountRepo) Create(_ context.Context, a *model.BankAccount) error {
	return r.run(func(d *memData) error {
		for _, existing := range d.banks {
			if existing.UserID == a.UserID && sameName(existing.Name, a.Name) {
				return ErrDuplicate
			}
		}
		stampNew(&a.ID, &a.CreatedAt, &a.UpdatedAt)
		d.banks[a.ID] = *a
		return nil
	})
}

func (r *memBankAccountRepo) AdjustBalance(_ context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.run(func(d *memData) error {
		a, ok := d.banks[accountID]
		if !ok {
			return errors.New("bank account not found: " + accountID)
		}
		a.Balance = a.Balance.Add(delta)
		a.UpdatedAt = time.Now()
		d.banks[accountID] = a
		balance = a.Balance
		return nil
	})
	return balance, err
}

// --- 冪等性台帳 ---

type memIdempotencyRepo struct{ run memRunner }

func idempotencyKey(kind model.IdempotencyKind, reference string) string {
	return string(kind) + "\x00" + reference
}

func (r *memIdempotencyRepo) Exists(_ context.Context, kind model.IdempotencyKind, reference string) (bool, error) {
	var exists bool
	err := r.run(func(d *memData) error {
		_, exists = d.idempotency[idempotencyKey(kind, reference)]
		return nil
	})
	return exists, err
}

func (r *memIdempotencyRepo) Record(_ context.Context, rec *model.IdempotencyRecord) (bool, error) {
	var inserted bool
	err := r.run(func(d *memData) error {
		key := idempotencyKey(rec.Kind, rec.Reference)
		if _, ok := d.idempotency[key]; ok {
			return nil
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now()
		}
		d.idempotency[key] = *rec
		inserted = true
		return nil
	})
	return inserted, err
}

// compile-time interface check
var _ Store = (*MemStore)(nil)
