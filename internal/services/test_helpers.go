package services

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/authemail/internal/models"
	pkgauth "github.com/BradenHooton/authemail/pkg/auth"
	"github.com/BradenHooton/authemail/pkg/useragent"
	"github.com/google/uuid"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testClock is a settable time source shared by the fake store and the services
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{now: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// memStore is an in-memory implementation of the account, code and audit repositories
// and of TxManager. A transaction holds the store lock for its whole duration and
// restores a snapshot on error, which is enough to exercise atomicity and races.
type memStore struct {
	mu        sync.Mutex
	accounts  map[string]*models.Account
	codes     map[string]*models.VerificationCode
	audit     []*models.AuditEntry
	nextAudit int64
	agents    *memUserAgents
	clock     *testClock
}

func newMemStore(clock *testClock) *memStore {
	return &memStore{
		accounts: make(map[string]*models.Account),
		codes:    make(map[string]*models.VerificationCode),
		agents:   newMemUserAgents(),
		clock:    clock,
	}
}

type memSnapshot struct {
	accounts  map[string]*models.Account
	codes     map[string]*models.VerificationCode
	audit     []*models.AuditEntry
	nextAudit int64
}

func (s *memStore) snapshot() memSnapshot {
	snap := memSnapshot{
		accounts:  make(map[string]*models.Account, len(s.accounts)),
		codes:     make(map[string]*models.VerificationCode, len(s.codes)),
		audit:     append([]*models.AuditEntry(nil), s.audit...),
		nextAudit: s.nextAudit,
	}
	for k, v := range s.accounts {
		snap.accounts[k] = v
	}
	for k, v := range s.codes {
		snap.codes[k] = v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.accounts = snap.accounts
	s.codes = snap.codes
	s.audit = snap.audit
	s.nextAudit = snap.nextAudit
}

func (s *memStore) WithinTx(ctx context.Context, fn func(Repos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(s.repos(true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *memStore) repos(inTx bool) Repos {
	v := memView{s: s, inTx: inTx}
	return Repos{
		Accounts: memAccounts{v},
		Codes:    memCodes{v},
		Audit:    memAudit{v},
	}
}

// Accounts, Codes and Audit are the non-transactional repositories
func (s *memStore) Accounts() memAccounts { return memAccounts{memView{s: s}} }
func (s *memStore) Codes() memCodes       { return memCodes{memView{s: s}} }
func (s *memStore) Audit() memAudit       { return memAudit{memView{s: s}} }

func (s *memStore) codeCount(kind models.CodeKind, accountID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.codes {
		if c.Kind == kind && c.AccountID == accountID {
			n++
		}
	}
	return n
}

func (s *memStore) auditCount(accountID string, eventType models.AuditEventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.audit {
		if e.AccountID == accountID && e.EventType == eventType {
			n++
		}
	}
	return n
}

func (s *memStore) putAccount(a models.Account) *models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.TokenKey == "" {
		a.TokenKey = uuid.NewString()
	}
	a.CreatedAt = s.clock.Now()
	s.accounts[a.ID] = &a
	out := a
	return &out
}

type memView struct {
	s    *memStore
	inTx bool
}

func (v memView) lock() func() {
	if v.inTx {
		return func() {}
	}
	v.s.mu.Lock()
	return v.s.mu.Unlock
}

type memAccounts struct{ memView }

func (r memAccounts) GetByID(ctx context.Context, id string) (*models.Account, error) {
	defer r.lock()()
	a, ok := r.s.accounts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := *a
	return &out, nil
}

func (r memAccounts) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	defer r.lock()()
	for _, a := range r.s.accounts {
		if a.Email == models.NormalizeEmail(email) {
			out := *a
			return &out, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r memAccounts) emailTaken(email, exceptID string) bool {
	for _, a := range r.s.accounts {
		if a.Email == email && a.ID != exceptID {
			return true
		}
	}
	return false
}

func (r memAccounts) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	defer r.lock()()
	if r.emailTaken(account.Email, "") {
		return nil, models.ErrConflict
	}
	a := *account
	a.ID = uuid.NewString()
	key, err := pkgauth.GenerateTokenKey()
	if err != nil {
		return nil, err
	}
	a.TokenKey = key
	a.CreatedAt = r.s.clock.Now()
	r.s.accounts[a.ID] = &a
	out := a
	return &out, nil
}

func (r memAccounts) Update(ctx context.Context, account *models.Account) (*models.Account, error) {
	defer r.lock()()
	current, ok := r.s.accounts[account.ID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if r.emailTaken(account.Email, account.ID) {
		return nil, models.ErrConflict
	}
	a := *account
	a.TokenKey = current.TokenKey
	a.CreatedAt = current.CreatedAt
	a.LastLogin = current.LastLogin
	r.s.accounts[a.ID] = &a
	out := a
	return &out, nil
}

func (r memAccounts) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	defer r.lock()()
	current, ok := r.s.accounts[id]
	if !ok {
		return models.ErrNotFound
	}
	a := *current
	a.LastLogin = &at
	r.s.accounts[id] = &a
	return nil
}

func (r memAccounts) RotateTokenKey(ctx context.Context, id string) (string, error) {
	defer r.lock()()
	current, ok := r.s.accounts[id]
	if !ok {
		return "", models.ErrNotFound
	}
	key, err := pkgauth.GenerateTokenKey()
	if err != nil {
		return "", err
	}
	a := *current
	a.TokenKey = key
	r.s.accounts[id] = &a
	return key, nil
}

func (r memAccounts) Delete(ctx context.Context, id string) error {
	defer r.lock()()
	if _, ok := r.s.accounts[id]; !ok {
		return models.ErrNotFound
	}
	delete(r.s.accounts, id)
	for k, c := range r.s.codes {
		if c.AccountID == id {
			delete(r.s.codes, k)
		}
	}
	kept := r.s.audit[:0:0]
	for _, e := range r.s.audit {
		if e.AccountID != id {
			kept = append(kept, e)
		}
	}
	r.s.audit = kept
	return nil
}

type memCodes struct{ memView }

func (r memCodes) Replace(ctx context.Context, code *models.VerificationCode) (*models.VerificationCode, error) {
	defer r.lock()()
	if _, ok := r.s.accounts[code.AccountID]; !ok {
		return nil, models.ErrNotFound
	}
	if _, ok := r.s.codes[code.Code]; ok {
		return nil, models.ErrCodeCollision
	}
	for k, c := range r.s.codes {
		if c.Kind == code.Kind && c.AccountID == code.AccountID {
			delete(r.s.codes, k)
		}
	}
	c := *code
	r.s.codes[c.Code] = &c
	out := c
	return &out, nil
}

func (r memCodes) Get(ctx context.Context, kind models.CodeKind, code string) (*models.VerificationCode, error) {
	defer r.lock()()
	c, ok := r.s.codes[code]
	if !ok || c.Kind != kind {
		return nil, models.ErrNotFound
	}
	out := *c
	return &out, nil
}

func (r memCodes) GetByAccount(ctx context.Context, kind models.CodeKind, accountID string) (*models.VerificationCode, error) {
	defer r.lock()()
	for _, c := range r.s.codes {
		if c.Kind == kind && c.AccountID == accountID {
			out := *c
			return &out, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r memCodes) Take(ctx context.Context, kind models.CodeKind, code string) (*models.VerificationCode, error) {
	defer r.lock()()
	c, ok := r.s.codes[code]
	if !ok || c.Kind != kind {
		return nil, models.ErrNotFound
	}
	delete(r.s.codes, code)
	out := *c
	return &out, nil
}

func (r memCodes) Delete(ctx context.Context, kind models.CodeKind, code string) error {
	defer r.lock()()
	if c, ok := r.s.codes[code]; ok && c.Kind == kind {
		delete(r.s.codes, code)
	}
	return nil
}

func (r memCodes) DeleteByAccount(ctx context.Context, kind models.CodeKind, accountID string) (int64, error) {
	defer r.lock()()
	var n int64
	for k, c := range r.s.codes {
		if c.Kind == kind && c.AccountID == accountID {
			delete(r.s.codes, k)
			n++
		}
	}
	return n, nil
}

func (r memCodes) DeleteCreatedBefore(ctx context.Context, kind models.CodeKind, cutoff time.Time) (int64, error) {
	defer r.lock()()
	var n int64
	for k, c := range r.s.codes {
		if c.Kind == kind && c.CreatedAt.Before(cutoff) {
			delete(r.s.codes, k)
			n++
		}
	}
	return n, nil
}

type memAudit struct{ memView }

func (r memAudit) Create(ctx context.Context, entry *models.AuditEntry) (*models.AuditEntry, error) {
	defer r.lock()()
	if _, ok := r.s.accounts[entry.AccountID]; !ok {
		return nil, models.ErrNotFound
	}
	r.s.nextAudit++
	e := *entry
	e.ID = r.s.nextAudit
	e.CreatedAt = r.s.clock.Now()
	e.Fingerprint = nil
	r.s.audit = append(r.s.audit, &e)
	out := e
	return &out, nil
}

func (r memAudit) joined(e *models.AuditEntry) *models.AuditEntry {
	out := *e
	if e.FingerprintID != nil {
		out.Fingerprint = r.s.agents.byID(*e.FingerprintID)
	}
	return &out
}

func (r memAudit) newestFirst(accountID string, keep func(*models.AuditEntry) bool) []*models.AuditEntry {
	var entries []*models.AuditEntry
	for _, e := range r.s.audit {
		if e.AccountID == accountID && keep(e) {
			entries = append(entries, r.joined(e))
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].ID > entries[j].ID
	})
	return entries
}

func (r memAudit) MostRecent(ctx context.Context, accountID string, eventType models.AuditEventType) (*models.AuditEntry, error) {
	defer r.lock()()
	entries := r.newestFirst(accountID, func(e *models.AuditEntry) bool { return e.EventType == eventType })
	if len(entries) == 0 {
		return nil, models.ErrNotFound
	}
	return entries[0], nil
}

func (r memAudit) ListByAccount(ctx context.Context, accountID string, types []models.AuditEventType, limit, offset int) ([]*models.AuditEntry, error) {
	defer r.lock()()
	entries := r.newestFirst(accountID, func(e *models.AuditEntry) bool {
		if len(types) == 0 {
			return true
		}
		for _, t := range types {
			if e.EventType == t {
				return true
			}
		}
		return false
	})
	if offset >= len(entries) {
		return []*models.AuditEntry{}, nil
	}
	entries = entries[offset:]
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// memUserAgents is an in-memory UserAgentRepository that counts inserts
type memUserAgents struct {
	mu      sync.Mutex
	rows    map[string]*models.DeviceFingerprint
	nextID  int64
	inserts int
}

func newMemUserAgents() *memUserAgents {
	return &memUserAgents{rows: make(map[string]*models.DeviceFingerprint)}
}

func (m *memUserAgents) GetByIdentifier(ctx context.Context, identifier string) (*models.DeviceFingerprint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.rows[identifier]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := *f
	return &out, nil
}

func (m *memUserAgents) InsertIfAbsent(ctx context.Context, identifier, userAgent string) (*models.DeviceFingerprint, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.rows[identifier]; ok {
		out := *f
		return &out, false, nil
	}
	m.nextID++
	m.inserts++
	f := &models.DeviceFingerprint{ID: m.nextID, Identifier: identifier, UserAgent: userAgent, CreatedAt: time.Now()}
	m.rows[identifier] = f
	out := *f
	return &out, true, nil
}

func (m *memUserAgents) UpdateParsed(ctx context.Context, f *models.DeviceFingerprint) (*models.DeviceFingerprint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.rows[f.Identifier]
	if !ok {
		return nil, models.ErrNotFound
	}
	if !current.Parsed() {
		updated := *f
		m.rows[f.Identifier] = &updated
		current = &updated
	}
	out := *current
	return &out, nil
}

func (m *memUserAgents) byID(id int64) *models.DeviceFingerprint {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.rows {
		if f.ID == id {
			out := *f
			return &out
		}
	}
	return nil
}

func (m *memUserAgents) insertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inserts
}

// MockUserAgentRepository implements UserAgentRepository for testing
type MockUserAgentRepository struct {
	GetByIdentifierFunc func(ctx context.Context, identifier string) (*models.DeviceFingerprint, error)
	InsertIfAbsentFunc  func(ctx context.Context, identifier, userAgent string) (*models.DeviceFingerprint, bool, error)
	UpdateParsedFunc    func(ctx context.Context, f *models.DeviceFingerprint) (*models.DeviceFingerprint, error)
}

func (m *MockUserAgentRepository) GetByIdentifier(ctx context.Context, identifier string) (*models.DeviceFingerprint, error) {
	if m.GetByIdentifierFunc != nil {
		return m.GetByIdentifierFunc(ctx, identifier)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserAgentRepository) InsertIfAbsent(ctx context.Context, identifier, userAgent string) (*models.DeviceFingerprint, bool, error) {
	if m.InsertIfAbsentFunc != nil {
		return m.InsertIfAbsentFunc(ctx, identifier, userAgent)
	}
	return &models.DeviceFingerprint{ID: 1, Identifier: identifier, UserAgent: userAgent}, true, nil
}

func (m *MockUserAgentRepository) UpdateParsed(ctx context.Context, f *models.DeviceFingerprint) (*models.DeviceFingerprint, error) {
	if m.UpdateParsedFunc != nil {
		return m.UpdateParsedFunc(ctx, f)
	}
	return f, nil
}

// MockAuditLogRepository implements AuditLogRepository for testing
type MockAuditLogRepository struct {
	CreateFunc        func(ctx context.Context, entry *models.AuditEntry) (*models.AuditEntry, error)
	MostRecentFunc    func(ctx context.Context, accountID string, eventType models.AuditEventType) (*models.AuditEntry, error)
	ListByAccountFunc func(ctx context.Context, accountID string, types []models.AuditEventType, limit, offset int) ([]*models.AuditEntry, error)
}

func (m *MockAuditLogRepository) Create(ctx context.Context, entry *models.AuditEntry) (*models.AuditEntry, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, entry)
	}
	out := *entry
	out.ID = 1
	return &out, nil
}

func (m *MockAuditLogRepository) MostRecent(ctx context.Context, accountID string, eventType models.AuditEventType) (*models.AuditEntry, error) {
	if m.MostRecentFunc != nil {
		return m.MostRecentFunc(ctx, accountID, eventType)
	}
	return nil, models.ErrNotFound
}

func (m *MockAuditLogRepository) ListByAccount(ctx context.Context, accountID string, types []models.AuditEventType, limit, offset int) ([]*models.AuditEntry, error) {
	if m.ListByAccountFunc != nil {
		return m.ListByAccountFunc(ctx, accountID, types, limit, offset)
	}
	return []*models.AuditEntry{}, nil
}

// MockFingerprintResolver implements FingerprintResolver for testing
type MockFingerprintResolver struct {
	GetOrCreateFunc func(ctx context.Context, raw string) (*models.DeviceFingerprint, error)
}

func (m *MockFingerprintResolver) GetOrCreate(ctx context.Context, raw string) (*models.DeviceFingerprint, error) {
	if m.GetOrCreateFunc != nil {
		return m.GetOrCreateFunc(ctx, raw)
	}
	return &models.DeviceFingerprint{ID: 1, Identifier: useragent.Hash(raw), UserAgent: raw}, nil
}

// MockTokenIssuer implements TokenIssuer for testing
type MockTokenIssuer struct {
	IssueFunc func(account *models.Account) (string, error)
}

func (m *MockTokenIssuer) Issue(account *models.Account) (string, error) {
	if m.IssueFunc != nil {
		return m.IssueFunc(account)
	}
	return "token-" + account.ID, nil
}

// MockParser implements useragent.Parser for testing
type MockParser struct {
	mu        sync.Mutex
	calls     int
	ParseFunc func(raw string) useragent.Result
}

func (m *MockParser) Parse(raw string) useragent.Result {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.ParseFunc != nil {
		return m.ParseFunc(raw)
	}
	family := "Firefox"
	return useragent.Result{BrowserFamily: &family}
}

func (m *MockParser) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type sentMail struct {
	Template  TemplateID
	Data      map[string]string
	Recipient string
}

// recordingMailer implements Mailer by recording every message
type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, template TemplateID, data map[string]string, recipient string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{Template: template, Data: data, Recipient: recipient})
	return nil
}

func (m *recordingMailer) Sent() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMail(nil), m.sent...)
}

func (m *recordingMailer) Last() (sentMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMail{}, false
	}
	return m.sent[len(m.sent)-1], true
}
