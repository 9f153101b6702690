package services

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/subpool/internal/common"
	"github.com/dmitrijs2005/subpool/internal/dbx"
	"github.com/dmitrijs2005/subpool/internal/logging"
	"github.com/dmitrijs2005/subpool/internal/server/config"
	"github.com/dmitrijs2005/subpool/internal/server/models"
	auditlogrepo "github.com/dmitrijs2005/subpool/internal/server/repositories/auditlog"
	credentialsrepo "github.com/dmitrijs2005/subpool/internal/server/repositories/credentials"
	grantsrepo "github.com/dmitrijs2005/subpool/internal/server/repositories/grants"
	groupsrepo "github.com/dmitrijs2005/subpool/internal/server/repositories/groups"
	ledgerrepo "github.com/dmitrijs2005/subpool/internal/server/repositories/ledger"
	membershipsrepo "github.com/dmitrijs2005/subpool/internal/server/repositories/memberships"
	usersrepo "github.com/dmitrijs2005/subpool/internal/server/repositories/users"
	withdrawalsrepo "github.com/dmitrijs2005/subpool/internal/server/repositories/withdrawals"
)

// --- helpers ---

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

// newServiceDB returns a *sql.DB whose only job is transaction control: the
// fakes keep all state outside the database, so Begin/Commit/Rollback is the
// only traffic that reaches the driver. Begin snapshots the shared fake
// state and holds a lock until the transaction ends; Rollback restores the
// snapshot. That gives service tests the same guarantees the real
// repositories get from Postgres — a failed transaction leaves no trace —
// with transactions serialized like a single global lock.
func newServiceDB(t *testing.T, rm *fakeRepoManager) *sql.DB {
	t.Helper()
	db := sql.OpenDB(&txConnector{rm: rm})
	t.Cleanup(func() { db.Close() })
	return db
}

type txConnector struct {
	rm *fakeRepoManager
	mu sync.Mutex
}

func (c *txConnector) Connect(context.Context) (driver.Conn, error) { return &txConn{c: c}, nil }
func (c *txConnector) Driver() driver.Driver                        { return txDriver{} }

type txDriver struct{}

func (txDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("open through sql.OpenDB")
}

type txConn struct{ c *txConnector }

func (t *txConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("statements are not supported, state lives in the fakes")
}
func (t *txConn) Close() error { return nil }

func (t *txConn) Begin() (driver.Tx, error) {
	t.c.mu.Lock()
	return &txHandle{c: t.c, snap: t.c.rm.snapshot()}, nil
}

type txHandle struct {
	c    *txConnector
	snap *fakeState
}

func (t *txHandle) Commit() error {
	t.c.mu.Unlock()
	return nil
}

func (t *txHandle) Rollback() error {
	t.c.rm.restore(t.snap)
	t.c.mu.Unlock()
	return nil
}

func newTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	return cfg
}

func newTestLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// --- stateful in-memory fakes ---

// The fakes mirror the conditional-update semantics of the Postgres repos so
// service tests can exercise race outcomes without a database. All of them
// are safe for concurrent use.

type fakeUsersRepo struct {
	mu       sync.Mutex
	balances map[string]int64
}

func newFakeUsersRepo() *fakeUsersRepo {
	return &fakeUsersRepo{balances: make(map[string]int64)}
}

func (f *fakeUsersRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[u.ID] = u.CreditBalance
	return u, nil
}

func (f *fakeUsersRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.balances[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &models.User{ID: id, CreditBalance: b, IsActive: true}, nil
}

func (f *fakeUsersRepo) Debit(ctx context.Context, userID string, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.balances[userID]
	if !ok {
		return common.ErrNotFound
	}
	if b < amount {
		return common.ErrInsufficientFunds
	}
	f.balances[userID] = b - amount
	return nil
}

func (f *fakeUsersRepo) Credit(ctx context.Context, userID string, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.balances[userID]; !ok {
		return common.ErrNotFound
	}
	f.balances[userID] += amount
	return nil
}

func (f *fakeUsersRepo) balance(userID string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[userID]
}

type fakeGroupsRepo struct {
	mu     sync.Mutex
	groups map[string]*models.Group

	updateStatusErr error
}

func newFakeGroupsRepo() *fakeGroupsRepo {
	return &fakeGroupsRepo{groups: make(map[string]*models.Group)}
}

func (f *fakeGroupsRepo) put(g *models.Group) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *g
	f.groups[g.ID] = &cp
}

func (f *fakeGroupsRepo) Create(ctx context.Context, g *models.Group) (*models.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *g
	if cp.ID == "" {
		cp.ID = fmt.Sprintf("g%d", len(f.groups)+1)
	}
	cp.CreatedAt = time.Now()
	f.groups[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeGroupsRepo) GetByID(ctx context.Context, id string) (*models.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (f *fakeGroupsRepo) ClaimSlot(ctx context.Context, groupID string) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[groupID]
	if !ok {
		return 0, 0, common.ErrNotFound
	}
	if g.Status == models.GroupStatusFull || g.SlotsFilled >= g.SlotsTotal {
		return 0, 0, common.ErrCapacityExceeded
	}
	if g.Status != models.GroupStatusActive {
		return 0, 0, common.ErrInvalidState
	}
	g.SlotsFilled++
	return g.SlotsFilled, g.SlotsTotal, nil
}

func (f *fakeGroupsRepo) ReleaseSlot(ctx context.Context, groupID string) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[groupID]
	if !ok {
		return 0, 0, common.ErrNotFound
	}
	if g.SlotsFilled <= 0 {
		return 0, 0, common.ErrInvalidState
	}
	g.SlotsFilled--
	return g.SlotsFilled, g.SlotsTotal, nil
}

func (f *fakeGroupsRepo) SetStatus(ctx context.Context, groupID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[groupID]
	if !ok {
		return common.ErrNotFound
	}
	g.Status = status
	return nil
}

func (f *fakeGroupsRepo) UpdateStatusFrom(ctx context.Context, groupID, fromStatus, toStatus string) error {
	if f.updateStatusErr != nil {
		return f.updateStatusErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[groupID]
	if !ok {
		return common.ErrNotFound
	}
	if g.Status != fromStatus {
		return common.ErrInvalidState
	}
	g.Status = toStatus
	return nil
}

func (f *fakeGroupsRepo) SelectStale(ctx context.Context, createdBefore time.Time) ([]*models.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Group
	for _, g := range f.groups {
		if (g.Status == models.GroupStatusOpen || g.Status == models.GroupStatusActive) &&
			g.SlotsFilled < g.SlotsTotal && g.CreatedAt.Before(createdBefore) {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeMembershipsRepo struct {
	mu    sync.Mutex
	seq   int
	items []*models.Membership
}

func newFakeMembershipsRepo() *fakeMembershipsRepo {
	return &fakeMembershipsRepo{}
}

func (f *fakeMembershipsRepo) Create(ctx context.Context, m *models.Membership) (*models.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.items {
		if it.IsActive && it.UserID == m.UserID && it.GroupID == m.GroupID {
			// matches the partial unique index on active memberships
			return nil, dbx.ErrRetry
		}
	}
	f.seq++
	cp := *m
	cp.ID = fmt.Sprintf("m%d", f.seq)
	cp.CreatedAt = time.Now()
	f.items = append(f.items, &cp)
	m.ID = cp.ID
	out := cp
	return &out, nil
}

func (f *fakeMembershipsRepo) GetActive(ctx context.Context, userID, groupID string) (*models.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.items {
		if it.IsActive && it.UserID == userID && it.GroupID == groupID {
			cp := *it
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (f *fakeMembershipsRepo) Deactivate(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.items {
		if it.ID == id && it.IsActive {
			it.IsActive = false
			return nil
		}
	}
	return common.ErrNotFound
}

func (f *fakeMembershipsRepo) SelectActiveByGroup(ctx context.Context, groupID string) ([]*models.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Membership
	for _, it := range f.items {
		if it.IsActive && it.GroupID == groupID {
			cp := *it
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeMembershipsRepo) activeCount(groupID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, it := range f.items {
		if it.IsActive && it.GroupID == groupID {
			n++
		}
	}
	return n
}

type fakeCredentialsRepo struct {
	mu    sync.Mutex
	items map[string]*models.Credential
}

func newFakeCredentialsRepo() *fakeCredentialsRepo {
	return &fakeCredentialsRepo{items: make(map[string]*models.Credential)}
}

func (f *fakeCredentialsRepo) Upsert(ctx context.Context, c *models.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	if prev, ok := f.items[c.GroupID]; ok {
		cp.KeyVersion = prev.KeyVersion + 1
	}
	cp.UpdatedAt = time.Now()
	f.items[c.GroupID] = &cp
	return nil
}

func (f *fakeCredentialsRepo) GetByGroup(ctx context.Context, groupID string) (*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.items[groupID]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

type fakeGrantsRepo struct {
	mu    sync.Mutex
	items map[string]*models.AccessGrant
}

func newFakeGrantsRepo() *fakeGrantsRepo {
	return &fakeGrantsRepo{items: make(map[string]*models.AccessGrant)}
}

func (f *fakeGrantsRepo) Acquire(ctx context.Context, g *models.AccessGrant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.items[g.GroupID]
	if ok && cur.HolderUserID != g.HolderUserID && cur.ExpiresAt.After(g.IssuedAt) {
		return common.ErrAccessContended
	}
	cp := *g
	f.items[g.GroupID] = &cp
	return nil
}

func (f *fakeGrantsRepo) Release(ctx context.Context, groupID, holderUserID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.items[groupID]
	if ok && cur.HolderUserID == holderUserID {
		delete(f.items, groupID)
	}
	return nil
}

func (f *fakeGrantsRepo) GetByGroup(ctx context.Context, groupID string) (*models.AccessGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.items[groupID]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (f *fakeGrantsRepo) DeleteExpired(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	var n int64
	for k, g := range f.items {
		if !g.ExpiresAt.After(now) {
			delete(f.items, k)
			n++
		}
	}
	return n, nil
}

type fakeLedgerRepo struct {
	mu     sync.Mutex
	seq    int
	txns   []*models.Transaction
	events map[string]struct{}
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{events: make(map[string]struct{})}
}

func (f *fakeLedgerRepo) Append(ctx context.Context, t *models.Transaction) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	cp := *t
	cp.ID = fmt.Sprintf("t%d", f.seq)
	cp.CreatedAt = time.Now()
	f.txns = append(f.txns, &cp)
	out := cp
	return &out, nil
}

func (f *fakeLedgerRepo) SelectByUser(ctx context.Context, userID string, since time.Time) ([]*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Transaction
	for _, t := range f.txns {
		if t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeLedgerRepo) InsertCreditEvent(ctx context.Context, idempotencyKey, userID string, amount int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[idempotencyKey]; ok {
		return false, nil
	}
	f.events[idempotencyKey] = struct{}{}
	return true, nil
}

func (f *fakeLedgerRepo) countByType(txType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.txns {
		if t.Type == txType {
			n++
		}
	}
	return n
}

type fakeWithdrawalsRepo struct {
	mu    sync.Mutex
	seq   int
	items map[string]*models.WithdrawalRequest
}

func newFakeWithdrawalsRepo() *fakeWithdrawalsRepo {
	return &fakeWithdrawalsRepo{items: make(map[string]*models.WithdrawalRequest)}
}

func (f *fakeWithdrawalsRepo) Create(ctx context.Context, w *models.WithdrawalRequest) (*models.WithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	cp := *w
	cp.ID = fmt.Sprintf("w%d", f.seq)
	f.items[cp.ID] = &cp
	w.ID = cp.ID
	out := cp
	return &out, nil
}

func (f *fakeWithdrawalsRepo) GetByID(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.items[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (f *fakeWithdrawalsRepo) HasActiveCooldown(ctx context.Context, userID string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.items {
		if w.UserID == userID && w.CooldownExpiresAt.After(now) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeWithdrawalsRepo) UpdateStatusFrom(ctx context.Context, id, fromStatus, toStatus string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.items[id]
	if !ok {
		return common.ErrNotFound
	}
	if w.Status != fromStatus {
		return common.ErrInvalidState
	}
	w.Status = toStatus
	return nil
}

type fakeAuditRepo struct {
	mu        sync.Mutex
	entries   []*models.AuditEntry
	appendErr error
}

func newFakeAuditRepo() *fakeAuditRepo {
	return &fakeAuditRepo{}
}

func (f *fakeAuditRepo) Append(ctx context.Context, e *models.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	cp := *e
	cp.CreatedAt = time.Now()
	f.entries = append(f.entries, &cp)
	return nil
}

func (f *fakeAuditRepo) SelectCreatedAfter(ctx context.Context, after time.Time) ([]*models.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.AuditEntry
	for _, e := range f.entries {
		if e.CreatedAt.After(after) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeAuditRepo) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

// fakeRepoManager hands out the same fakes regardless of the handle, so
// code written against transactional repos sees one shared state.
type fakeRepoManager struct {
	users       *fakeUsersRepo
	groups      *fakeGroupsRepo
	memberships *fakeMembershipsRepo
	credentials *fakeCredentialsRepo
	grants      *fakeGrantsRepo
	ledger      *fakeLedgerRepo
	withdrawals *fakeWithdrawalsRepo
	audit       *fakeAuditRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		users:       newFakeUsersRepo(),
		groups:      newFakeGroupsRepo(),
		memberships: newFakeMembershipsRepo(),
		credentials: newFakeCredentialsRepo(),
		grants:      newFakeGrantsRepo(),
		ledger:      newFakeLedgerRepo(),
		withdrawals: newFakeWithdrawalsRepo(),
		audit:       newFakeAuditRepo(),
	}
}

// fakeState is a deep copy of every fake's contents, taken at Begin and
// restored on Rollback.
type fakeState struct {
	balances      map[string]int64
	groups        map[string]*models.Group
	membershipSeq int
	memberships   []*models.Membership
	credentials   map[string]*models.Credential
	grants        map[string]*models.AccessGrant
	ledgerSeq     int
	txns          []*models.Transaction
	events        map[string]struct{}
	withdrawalSeq int
	withdrawals   map[string]*models.WithdrawalRequest
	auditEntries  []*models.AuditEntry
}

func cloneMap[K comparable, V any](src map[K]*V) map[K]*V {
	out := make(map[K]*V, len(src))
	for k, v := range src {
		cp := *v
		out[k] = &cp
	}
	return out
}

func cloneSlice[V any](src []*V) []*V {
	out := make([]*V, 0, len(src))
	for _, v := range src {
		cp := *v
		out = append(out, &cp)
	}
	return out
}

func (m *fakeRepoManager) snapshot() *fakeState {
	s := &fakeState{}

	m.users.mu.Lock()
	s.balances = make(map[string]int64, len(m.users.balances))
	for k, v := range m.users.balances {
		s.balances[k] = v
	}
	m.users.mu.Unlock()

	m.groups.mu.Lock()
	s.groups = cloneMap(m.groups.groups)
	m.groups.mu.Unlock()

	m.memberships.mu.Lock()
	s.membershipSeq = m.memberships.seq
	s.memberships = cloneSlice(m.memberships.items)
	m.memberships.mu.Unlock()

	m.credentials.mu.Lock()
	s.credentials = cloneMap(m.credentials.items)
	m.credentials.mu.Unlock()

	m.grants.mu.Lock()
	s.grants = cloneMap(m.grants.items)
	m.grants.mu.Unlock()

	m.ledger.mu.Lock()
	s.ledgerSeq = m.ledger.seq
	s.txns = cloneSlice(m.ledger.txns)
	s.events = make(map[string]struct{}, len(m.ledger.events))
	for k := range m.ledger.events {
		s.events[k] = struct{}{}
	}
	m.ledger.mu.Unlock()

	m.withdrawals.mu.Lock()
	s.withdrawalSeq = m.withdrawals.seq
	s.withdrawals = cloneMap(m.withdrawals.items)
	m.withdrawals.mu.Unlock()

	m.audit.mu.Lock()
	s.auditEntries = cloneSlice(m.audit.entries)
	m.audit.mu.Unlock()

	return s
}

func (m *fakeRepoManager) restore(s *fakeState) {
	m.users.mu.Lock()
	m.users.balances = s.balances
	m.users.mu.Unlock()

	m.groups.mu.Lock()
	m.groups.groups = s.groups
	m.groups.mu.Unlock()

	m.memberships.mu.Lock()
	m.memberships.seq = s.membershipSeq
	m.memberships.items = s.memberships
	m.memberships.mu.Unlock()

	m.credentials.mu.Lock()
	m.credentials.items = s.credentials
	m.credentials.mu.Unlock()

	m.grants.mu.Lock()
	m.grants.items = s.grants
	m.grants.mu.Unlock()

	m.ledger.mu.Lock()
	m.ledger.seq = s.ledgerSeq
	m.ledger.txns = s.txns
	m.ledger.events = s.events
	m.ledger.mu.Unlock()

	m.withdrawals.mu.Lock()
	m.withdrawals.seq = s.withdrawalSeq
	m.withdrawals.items = s.withdrawals
	m.withdrawals.mu.Unlock()

	m.audit.mu.Lock()
	m.audit.entries = s.auditEntries
	m.audit.mu.Unlock()
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error       { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository             { return m.users }
func (m *fakeRepoManager) Groups(db dbx.DBTX) groupsrepo.Repository           { return m.groups }
func (m *fakeRepoManager) Memberships(db dbx.DBTX) membershipsrepo.Repository { return m.memberships }
func (m *fakeRepoManager) Credentials(db dbx.DBTX) credentialsrepo.Repository { return m.credentials }
func (m *fakeRepoManager) Grants(db dbx.DBTX) grantsrepo.Repository           { return m.grants }
func (m *fakeRepoManager) Ledger(db dbx.DBTX) ledgerrepo.Repository           { return m.ledger }
func (m *fakeRepoManager) Withdrawals(db dbx.DBTX) withdrawalsrepo.Repository { return m.withdrawals }
func (m *fakeRepoManager) AuditLog(db dbx.DBTX) auditlogrepo.Repository       { return m.audit }
