// Package session holds the token store and the derived session state.
// The store persists the session payload in one of two durabilities:
// a bbolt database that survives restarts ("remember me") or an
// in-memory map that dies with the process. Reads never error; every
// parsing failure degrades to absence.
package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	bolt "go.etcd.io/bbolt"

	"github.com/fleetops/console/internal/api"
)

const (
	// storeDirPerm is the permission mode for the state directory.
	storeDirPerm = fs.FileMode(0o700)

	// storeFilePerm is the permission mode for the session database file.
	storeFilePerm = fs.FileMode(0o600)

	// storeOpenTimeout is the maximum time to wait for the bolt database lock.
	storeOpenTimeout = 5 * time.Second

	// expirySkew is subtracted from the token's remaining lifetime so a
	// token about to expire in transit is treated as already expired.
	expirySkew = 30 * time.Second
)

// The four session keys. Always written and cleared as a group.
const (
	tokenKey     = "auth_token"
	userKey      = "auth_user"
	rightsKey    = "auth_rights"
	loginInfoKey = "login_info"
)

var sessionKeys = []string{tokenKey, userKey, rightsKey, loginInfoKey}

// storage is one durability of the token store.
type storage interface {
	Get(key string) []byte
	Set(key string, value []byte) error
	Delete(key string) error
}

// boltStorage persists keys across restarts in a bbolt bucket.
type boltStorage struct {
	db *bolt.DB
}

var sessionBucket = []byte("session")

func openBoltStorage(path string) (*boltStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), storeDirPerm); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}

	db, err := bolt.Open(path, storeFilePerm, &bolt.Options{Timeout: storeOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening session db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing session db: %w", err)
	}

	return &boltStorage{db: db}, nil
}

func (b *boltStorage) Get(key string) []byte {
	var out []byte

	_ = b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(sessionBucket).Get([]byte(key))
		if v != nil {
			out = append([]byte(nil), v...)
		}

		return nil
	})

	return out
}

func (b *boltStorage) Set(key string, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Put([]byte(key), value)
	})
}

func (b *boltStorage) Delete(key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Delete([]byte(key))
	})
}

func (b *boltStorage) Close() error {
	return b.db.Close()
}

// memoryStorage is the session-scoped durability: it dies with the process.
type memoryStorage struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{values: make(map[string][]byte)}
}

func (m *memoryStorage) Get(key string) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.values[key]
}

func (m *memoryStorage) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = append([]byte(nil), value...)

	return nil
}

func (m *memoryStorage) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)

	return nil
}

// Store owns the persisted session payload. The payload lives in
// exactly one durability at a time; every write clears both first.
type Store struct {
	persistent storage
	scoped     storage

	// now is swappable for expiry-boundary tests.
	now func() time.Time
}

// Open creates a store whose persistent durability lives at
// dir/session.db.
func Open(dir string) (*Store, error) {
	return OpenAt(filepath.Join(dir, "session.db"))
}

// OpenAt opens a store with its database at the given path, creating it
// if it does not exist. Useful for tests that need an isolated database.
func OpenAt(path string) (*Store, error) {
	bs, err := openBoltStorage(path)
	if err != nil {
		return nil, err
	}

	return &Store{
		persistent: bs,
		scoped:     newMemoryStorage(),
		now:        time.Now,
	}, nil
}

// Close releases the persistent database.
func (s *Store) Close() error {
	if c, ok := s.persistent.(interface{ Close() error }); ok {
		return c.Close()
	}

	return nil
}

// Store clears both durabilities, then writes the payload into the one
// selected by remember. Absent payload fields are simply not written.
func (s *Store) Store(remember bool, p *api.SessionPayload) error {
	if err := s.Clear(); err != nil {
		return err
	}

	dst := s.scoped
	if remember {
		dst = s.persistent
	}

	if p.Token != "" {
		if err := dst.Set(tokenKey, []byte(p.Token)); err != nil {
			return fmt.Errorf("storing token: %w", err)
		}
	}

	if len(p.User) > 0 {
		if err := dst.Set(userKey, p.User); err != nil {
			return fmt.Errorf("storing user: %w", err)
		}
	}

	if len(p.Rights) > 0 {
		if err := dst.Set(rightsKey, p.Rights); err != nil {
			return fmt.Errorf("storing rights: %w", err)
		}
	}

	if len(p.LoginInfo) > 0 {
		if err := dst.Set(loginInfoKey, p.LoginInfo); err != nil {
			return fmt.Errorf("storing login info: %w", err)
		}
	}

	return nil
}

// Clear removes all four keys from both durabilities. Idempotent.
func (s *Store) Clear() error {
	for _, key := range sessionKeys {
		if err := s.persistent.Delete(key); err != nil {
			return fmt.Errorf("clearing %s: %w", key, err)
		}

		if err := s.scoped.Delete(key); err != nil {
			return fmt.Errorf("clearing %s: %w", key, err)
		}
	}

	return nil
}

// get reads a key from the persistent durability first, falling back to
// the session-scoped one.
func (s *Store) get(key string) []byte {
	if v := s.persistent.Get(key); v != nil {
		return v
	}

	return s.scoped.Get(key)
}

// Token returns the stored bearer token. Absence is a normal outcome
// (logged-out state), not an error.
func (s *Store) Token() (string, bool) {
	v := s.get(tokenKey)
	if v == nil {
		return "", false
	}

	return string(v), true
}

// Remembered reports which durability currently holds the token. Used
// to keep a refreshed token in the durability the user chose at login;
// a session-scoped login must never silently become a persistent one.
func (s *Store) Remembered() bool {
	return s.persistent.Get(tokenKey) != nil
}

// User returns the stored user record. Malformed data degrades to absent.
func (s *Store) User() (json.RawMessage, bool) {
	return s.record(userKey)
}

// Rights returns the stored rights array. Malformed data degrades to absent.
func (s *Store) Rights() (json.RawMessage, bool) {
	return s.record(rightsKey)
}

// LoginInfo returns the stored login-context record. Malformed data
// degrades to absent.
func (s *Store) LoginInfo() (json.RawMessage, bool) {
	return s.record(loginInfoKey)
}

func (s *Store) record(key string) (json.RawMessage, bool) {
	v := s.get(key)
	if v == nil || !json.Valid(v) {
		return nil, false
	}

	return json.RawMessage(v), true
}

// IsExpired reports whether the stored token is unusable. Fail-closed:
// no token, an undecodable token, or a missing exp claim all count as
// expired. A token is usable only while exp is more than 30 seconds in
// the future.
func (s *Store) IsExpired() bool {
	exp, ok := s.expiry()
	if !ok {
		return true
	}

	return exp.Before(s.now().Add(expirySkew))
}

// ExpiryTime returns the token's expiry instant, when one is decodable.
func (s *Store) ExpiryTime() (time.Time, bool) {
	return s.expiry()
}

// Claims returns the decoded token payload as raw JSON, when decodable.
func (s *Store) Claims() (json.RawMessage, bool) {
	token, ok := s.Token()
	if !ok {
		return nil, false
	}

	return decodeTokenPayload(token)
}

func (s *Store) expiry() (time.Time, bool) {
	claims, ok := s.Claims()
	if !ok {
		return time.Time{}, false
	}

	exp := gjson.GetBytes(claims, "exp")
	if !exp.Exists() {
		return time.Time{}, false
	}

	return time.Unix(exp.Int(), 0), true
}

// decodeTokenPayload base64url-decodes the middle segment of a JWT.
// Returns absent for anything that is not a three-segment token with a
// JSON payload; corruption must never crash the caller.
func decodeTokenPayload(token string) (json.RawMessage, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, false
	}

	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil, false
	}

	if !json.Valid(payload) {
		return nil, false
	}

	return json.RawMessage(payload), true
}
