package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/yamazhen/soma-server/internal/common"
	"github.com/yamazhen/soma-server/internal/dbx"
	"github.com/yamazhen/soma-server/internal/logging"
	"github.com/yamazhen/soma-server/internal/server/auth"
	"github.com/yamazhen/soma-server/internal/server/cache"
	"github.com/yamazhen/soma-server/internal/server/devices"
	"github.com/yamazhen/soma-server/internal/server/models"
	"github.com/yamazhen/soma-server/internal/server/notify"
	"github.com/yamazhen/soma-server/internal/server/rate"
	"github.com/yamazhen/soma-server/internal/server/repositories/refreshtokens"
	"github.com/yamazhen/soma-server/internal/server/repositories/trusteddevices"
	"github.com/yamazhen/soma-server/internal/server/repositories/users"
)

// --- in-memory repositories ---

type memUsersRepo struct {
	mu   sync.Mutex
	seq  int64
	rows map[int64]*models.User

	findErr error
}

func newMemUsersRepo() *memUsersRepo {
	return &memUsersRepo{rows: map[int64]*models.User{}}
}

func (m *memUsersRepo) clone(u *models.User) *models.User {
	c := *u
	return &c
}

func (m *memUsersRepo) Create(ctx context.Context, user *models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.Username == user.Username || row.Email == user.Email {
			return nil, common.ErrConflict
		}
	}
	m.seq++
	c := m.clone(user)
	c.ID = m.seq
	c.IsActive = true
	c.CreateDate = time.Now()
	c.UpdateDate = time.Now()
	m.rows[c.ID] = c
	return m.clone(c), nil
}

func (m *memUsersRepo) find(match func(*models.User) bool) (*models.User, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, row := range m.rows {
		if match(row) {
			return m.clone(row), nil
		}
	}
	return nil, common.ErrNotFound
}

func (m *memUsersRepo) FindByID(ctx context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(func(u *models.User) bool { return u.ID == id })
}

func (m *memUsersRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(func(u *models.User) bool { return u.Username == username })
}

func (m *memUsersRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(func(u *models.User) bool { return u.Email == email })
}

func (m *memUsersRepo) FindByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(func(u *models.User) bool { return u.Username == identifier || u.Email == identifier })
}

func (m *memUsersRepo) MarkVerified(ctx context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	row.IsVerified = true
	row.VerificationCode = nil
	row.VerificationCodeExpiry = nil
	return m.clone(row), nil
}

func (m *memUsersRepo) SetVerificationCode(ctx context.Context, id int64, code string, expiry time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return common.ErrNotFound
	}
	row.VerificationCode = &code
	row.VerificationCodeExpiry = &expiry
	return nil
}

func (m *memUsersRepo) UpdateEmail(ctx context.Context, id int64, newEmail, doneBy string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.ID != id && row.Email == newEmail {
			return nil, common.ErrConflict
		}
	}
	row, ok := m.rows[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	row.Email = newEmail
	row.VerificationCode = nil
	row.VerificationCodeExpiry = nil
	row.DoneBy = doneBy
	return m.clone(row), nil
}

func (m *memUsersRepo) UpdateProfile(ctx context.Context, username string, displayName, profilePicture *string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.Username == username {
			if displayName != nil {
				row.DisplayName = displayName
			}
			if profilePicture != nil {
				row.ProfilePicture = profilePicture
			}
			return m.clone(row), nil
		}
	}
	return nil, common.ErrNotFound
}

func (m *memUsersRepo) StampLastLogin(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return common.ErrNotFound
	}
	now := time.Now()
	row.LastLogin = &now
	return nil
}

func (m *memUsersRepo) FindBySocial(ctx context.Context, provider models.SocialProvider, socialID, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(func(u *models.User) bool {
		if u.Email == email {
			return true
		}
		switch provider {
		case models.ProviderGoogle:
			return u.GoogleID != nil && *u.GoogleID == socialID
		case models.ProviderApple:
			return u.AppleID != nil && *u.AppleID == socialID
		}
		return false
	})
}

func (m *memUsersRepo) LinkSocial(ctx context.Context, id int64, provider models.SocialProvider, socialID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return common.ErrNotFound
	}
	switch provider {
	case models.ProviderGoogle:
		row.GoogleID = &socialID
	case models.ProviderApple:
		row.AppleID = &socialID
	}
	return nil
}

func (m *memUsersRepo) CreateSocial(ctx context.Context, provider models.SocialProvider, socialID, username, email string, picture *string) (*models.User, error) {
	user := &models.User{Username: username, Email: email, IsVerified: true, ProfilePicture: picture, DoneBy: username}
	created, err := m.Create(ctx, user)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.rows[created.ID]
	switch provider {
	case models.ProviderGoogle:
		row.GoogleID = &socialID
	case models.ProviderApple:
		row.AppleID = &socialID
	}
	return m.clone(row), nil
}

type memRefreshRepo struct {
	mu   sync.Mutex
	seq  int64
	rows map[string]*models.RefreshToken
}

func newMemRefreshRepo() *memRefreshRepo {
	return &memRefreshRepo{rows: map[string]*models.RefreshToken{}}
}

func (m *memRefreshRepo) Create(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	c := *token
	c.ID = m.seq
	c.CreateDate = time.Now()
	m.rows[c.Token] = &c
	out := c
	return &out, nil
}

func (m *memRefreshRepo) Find(ctx context.Context, token string) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[token]
	if !ok {
		return nil, common.ErrNotFound
	}
	c := *row
	return &c, nil
}

func (m *memRefreshRepo) Delete(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[token]; !ok {
		return common.ErrNotFound
	}
	delete(m.rows, token)
	return nil
}

func (m *memRefreshRepo) DeleteAllForUser(ctx context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for token, row := range m.rows {
		if row.UserID == userID {
			delete(m.rows, token)
			n++
		}
	}
	return n, nil
}

type memDevicesRepo struct {
	mu   sync.Mutex
	seq  int64
	rows map[string]*models.TrustedDevice
}

func newMemDevicesRepo() *memDevicesRepo {
	return &memDevicesRepo{rows: map[string]*models.TrustedDevice{}}
}

func (m *memDevicesRepo) key(userID int64, fp string) string {
	return fmt.Sprintf("%d/%s", userID, fp)
}

func (m *memDevicesRepo) Upsert(ctx context.Context, userID int64, fingerprint, deviceName string, trustedUntil time.Time) (*models.TrustedDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.rows[m.key(userID, fingerprint)]
	if !ok {
		m.seq++
		d = &models.TrustedDevice{ID: m.seq, UserID: userID, Fingerprint: fingerprint, CreateDate: time.Now()}
		m.rows[m.key(userID, fingerprint)] = d
	}
	d.DeviceName = deviceName
	d.TrustedUntil = trustedUntil
	d.LastUsed = time.Now()
	c := *d
	return &c, nil
}

func (m *memDevicesRepo) Find(ctx context.Context, userID int64, fingerprint string) (*models.TrustedDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.rows[m.key(userID, fingerprint)]
	if !ok {
		return nil, common.ErrNotFound
	}
	c := *d
	return &c, nil
}

func (m *memDevicesRepo) Touch(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.rows {
		if d.ID == id {
			d.LastUsed = time.Now()
			return nil
		}
	}
	return common.ErrNotFound
}

func (m *memDevicesRepo) Delete(ctx context.Context, userID int64, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[m.key(userID, fingerprint)]; !ok {
		return common.ErrNotFound
	}
	delete(m.rows, m.key(userID, fingerprint))
	return nil
}

// fakeRM hands out the in-memory repositories regardless of the DBTX; the
// transaction boundary itself is exercised through sqlmock Begin/Commit.
type fakeRM struct {
	users   *memUsersRepo
	tokens  *memRefreshRepo
	devices *memDevicesRepo
}

func (f *fakeRM) RunMigrations(ctx context.Context, db *sql.DB) error { return nil }
func (f *fakeRM) Users(db dbx.DBTX) users.Repository                  { return f.users }
func (f *fakeRM) RefreshTokens(db dbx.DBTX) refreshtokens.Repository  { return f.tokens }
func (f *fakeRM) TrustedDevices(db dbx.DBTX) trusteddevices.Repository {
	return f.devices
}

// fakeSender records outbound mail.
type fakeSender struct {
	mu   sync.Mutex
	sent []*notify.Message
	err  error
}

func (f *fakeSender) Send(ctx context.Context, msg *notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) last(t *testing.T) *notify.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no mail sent")
	}
	return f.sent[len(f.sent)-1]
}

// codeFrom pulls the numeric code out of a rendered mail body.
func codeFrom(t *testing.T, msg *notify.Message, digits int) string {
	t.Helper()
	for _, line := range strings.Fields(msg.Text) {
		if len(line) == digits && strings.IndexFunc(line, func(r rune) bool { return r < '0' || r > '9' }) == -1 {
			return line
		}
	}
	t.Fatalf("no %d-digit code in mail:\n%s", digits, msg.Text)
	return ""
}

// --- environment ---

type testEnv struct {
	db    *sql.DB
	mock  sqlmock.Sqlmock
	mr    *miniredis.Miniredis
	cache *cache.Cache

	users   *memUsersRepo
	tokens  *memRefreshRepo
	devrows *memDevicesRepo
	sender  *fakeSender
	issuer  *auth.Issuer

	userSvc  *UserService
	loginSvc *LoginService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := logging.Discard()
	c := cache.New(rdb, log)
	limiter := rate.NewLimiter(c, 5, 15*time.Minute)
	issuer := auth.NewIssuer([]byte("access-secret"), []byte("refresh-secret"),
		15*time.Minute, 7*24*time.Hour)

	env := &testEnv{
		db: db, mock: mock, mr: mr, cache: c,
		users:   newMemUsersRepo(),
		tokens:  newMemRefreshRepo(),
		devrows: newMemDevicesRepo(),
		sender:  &fakeSender{},
		issuer:  issuer,
	}
	rm := &fakeRM{users: env.users, tokens: env.tokens, devices: env.devrows}
	dm := devices.NewManager(env.devrows, log)

	env.userSvc = NewUserService(db, rm, c, limiter, env.sender, log)
	env.loginSvc = NewLoginService(db, rm, c, limiter, issuer, dm, env.sender, log, 30)
	env.userSvc.SetSessionIssuer(env.loginSvc)
	return env
}

// expectTx arms sqlmock for one Complete call's transaction.
func (e *testEnv) expectTx() {
	e.mock.ExpectBegin()
	e.mock.ExpectCommit()
}

// register creates an account through the normal flow, password
// "correct horse". The account is still unverified.
func (e *testEnv) register(t *testing.T, username, email string) *models.User {
	t.Helper()
	pub, err := e.userSvc.Register(context.Background(), username, email, "correct horse", "")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	u, err := e.users.FindByID(context.Background(), pub.ID)
	if err != nil {
		t.Fatalf("FindByID error: %v", err)
	}
	return u
}

// verifiedUser registers and marks the account verified, bypassing the
// code flow, and clears cache state left behind by registration.
func (e *testEnv) verifiedUser(t *testing.T, username, email string) *models.User {
	t.Helper()
	u := e.register(t, username, email)
	v, err := e.users.MarkVerified(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("MarkVerified error: %v", err)
	}
	e.mr.FlushAll()
	return v
}
