package auth

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/hitoshi/hourglass/internal/model"
	"github.com/hitoshi/hourglass/internal/repository"
)

// memDB はリポジトリのインメモリ実装。行ロックの代わりにmutexで直列化する。
type memDB struct {
	mu     sync.Mutex
	txMu   sync.Mutex
	nextID int

	users  map[string]*memUser
	tokens map[string]*memToken // key: userID

	// failConsume/failIssue はエラー注入用。
	failConsume error
	failIssue   error
}

type memUser struct {
	user      model.User
	codeHash  string
	codeUntil time.Time
}

type memToken struct {
	hash      string
	expiresAt *time.Time
}

func newMemDB() *memDB {
	return &memDB{
		users:  make(map[string]*memUser),
		tokens: make(map[string]*memToken),
	}
}

func (db *memDB) userRepo() *memUserRepo   { return &memUserRepo{db: db} }
func (db *memDB) tokenRepo() *memTokenRepo { return &memTokenRepo{db: db} }

// snapshot はロールバック用に状態を複製する。呼び出し側でmuを保持すること。
func (db *memDB) snapshot() (map[string]*memUser, map[string]*memToken) {
	users := make(map[string]*memUser, len(db.users))
	for k, v := range db.users {
		c := *v
		users[k] = &c
	}
	tokens := make(map[string]*memToken, len(db.tokens))
	for k, v := range db.tokens {
		c := *v
		tokens[k] = &c
	}
	return users, tokens
}

type memUserRepo struct{ db *memDB }

func (r *memUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[id]
	if !ok {
		return nil, nil
	}
	user := u.user
	return &user, nil
}

func (r *memUserRepo) UpsertBySubject(_ context.Context, identity model.ProviderIdentity) (*model.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	now := time.Now()
	for _, u := range r.db.users {
		if u.user.Provider == identity.Provider && u.user.SubjectID == identity.SubjectID {
			u.user.Email = identity.Email
			u.user.DisplayName = identity.DisplayName
			switch {
			case identity.AvatarURL != nil:
				u.user.AvatarURL = identity.AvatarURL
			case u.user.AvatarURL == nil && identity.FallbackAvatarURL != "":
				fallback := identity.FallbackAvatarURL
				u.user.AvatarURL = &fallback
			}
			u.user.UpdatedAt = now
			user := u.user
			return &user, nil
		}
	}
	avatar := identity.AvatarURL
	if avatar == nil && identity.FallbackAvatarURL != "" {
		fallback := identity.FallbackAvatarURL
		avatar = &fallback
	}
	r.db.nextID++
	u := &memUser{user: model.User{
		ID:          strconv.Itoa(r.db.nextID),
		Provider:    identity.Provider,
		SubjectID:   identity.SubjectID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		AvatarURL:   avatar,
		CreatedAt:   now,
		UpdatedAt:   now,
	}}
	r.db.users[u.user.ID] = u
	user := u.user
	return &user, nil
}

func (r *memUserRepo) AttachExchangeCode(_ context.Context, userID, codeHash string, expiresAt time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.codeHash = codeHash
	u.codeUntil = expiresAt
	return nil
}

func (r *memUserRepo) ConsumeExchangeCode(_ context.Context, codeHash string) (*model.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.failConsume != nil {
		return nil, r.db.failConsume
	}
	for _, u := range r.db.users {
		if u.codeHash != "" && u.codeHash == codeHash && time.Now().Before(u.codeUntil) {
			u.codeHash = ""
			u.codeUntil = time.Time{}
			user := u.user
			return &user, nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) ClearExpiredExchangeCodes(_ context.Context) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for _, u := range r.db.users {
		if u.codeHash != "" && !time.Now().Before(u.codeUntil) {
			u.codeHash = ""
			n++
		}
	}
	return n, nil
}

type memTokenRepo struct{ db *memDB }

func (r *memTokenRepo) IssueOrRotate(_ context.Context, userID, tokenHash string, expiresAt *time.Time) (string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.failIssue != nil {
		return "", r.db.failIssue
	}
	prev := ""
	if t, ok := r.db.tokens[userID]; ok {
		prev = t.hash
	}
	r.db.tokens[userID] = &memToken{hash: tokenHash, expiresAt: expiresAt}
	return prev, nil
}

func (r *memTokenRepo) FindUserIDByTokenHash(_ context.Context, tokenHash string) (string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for userID, t := range r.db.tokens {
		if t.hash == tokenHash {
			if t.expiresAt != nil && !time.Now().Before(*t.expiresAt) {
				return "", nil
			}
			return userID, nil
		}
	}
	return "", nil
}

func (r *memTokenRepo) DeleteByTokenHash(_ context.Context, tokenHash string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for userID, t := range r.db.tokens {
		if t.hash == tokenHash {
			delete(r.db.tokens, userID)
			return true, nil
		}
	}
	return false, nil
}

func (r *memTokenRepo) DeleteExpired(_ context.Context) (int64, error) {
	return 0, nil
}

// memTransactor はfnを直列に実行し、エラー時は状態を巻き戻す。
type memTransactor struct{ db *memDB }

func (t *memTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context, users repository.UserRepository, tokens repository.TokenRepository) error) error {
	t.db.txMu.Lock()
	defer t.db.txMu.Unlock()

	t.db.mu.Lock()
	users, tokens := t.db.snapshot()
	t.db.mu.Unlock()

	if err := fn(ctx, t.db.userRepo(), t.db.tokenRepo()); err != nil {
		t.db.mu.Lock()
		t.db.users, t.db.tokens = users, tokens
		t.db.mu.Unlock()
		return err
	}
	return nil
}

// mapCache はTokenCacheのインメモリ実装。
type mapCache struct {
	mu          sync.Mutex
	entries     map[string]string
	invalidated []string
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string]string)}
}

func (c *mapCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *mapCache) Add(_ context.Context, key, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return false
	}
	c.entries[key] = userID
	return true
}

func (c *mapCache) Invalidate(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = ""
	c.invalidated = append(c.invalidated, key)
}

var errDB = errors.New("connection reset")

var (
	_ repository.UserRepository  = (*memUserRepo)(nil)
	_ repository.TokenRepository = (*memTokenRepo)(nil)
	_ repository.Transactor      = (*memTransactor)(nil)
	_ TokenCache                 = (*mapCache)(nil)
)

// testEnv は認証コンポーネント一式をインメモリDBで組み立てる。
type testEnv struct {
	db        *memDB
	directory *Directory
	issuer    *CodeIssuer
	store     *TokenStore
	exchange  *ExchangeService
	resolver  *BearerResolver
}

func newTestEnv(cache TokenCache) *testEnv {
	db := newMemDB()
	directory := NewDirectory(db.userRepo(), nil)
	issuer := NewCodeIssuer(db.userRepo(), time.Minute)
	store := NewTokenStore(&memTransactor{db: db}, db.tokenRepo(), TokenStoreConfig{Cache: cache})
	return &testEnv{
		db:        db,
		directory: directory,
		issuer:    issuer,
		store:     store,
		exchange:  NewExchangeService(&memTransactor{db: db}, store, nil),
		resolver:  NewBearerResolver(store, directory, nil),
	}
}

// login はユーザーをupsertして交換コードを発行する。
func (e *testEnv) login(ctx context.Context, subject, email, name string) (*model.User, string, error) {
	user, err := e.directory.UpsertBySubject(ctx, model.ProviderIdentity{
		Provider:    model.ProviderGoogle,
		SubjectID:   subject,
		Email:       email,
		DisplayName: name,
	})
	if err != nil {
		return nil, "", err
	}
	code, err := e.issuer.IssueCode(ctx, user)
	return user, code, err
}
