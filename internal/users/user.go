// Package users implements the user/permission gate: accounts, layered
// global/per-stream/per-topic permissions, personal access tokens, and
// session authentication (spec §4.8).
//
// Grounded on original_source's streaming/users/{user,permissioner,pat}.rs:
// the permission-layering shortcut (global -> per-stream -> per-topic ->
// deny) and the root-user bootstrap come directly from permissioner.rs and
// user.rs, reimplemented with bcrypt password hashing per the teacher's
// ambient-stack choice of a standard Go credential library.
package users

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/adred-codev/streambroker/internal/ierror"
	"github.com/adred-codev/streambroker/internal/persistence"
)

// Status mirrors the two lifecycle states a user account can be in.
type Status int

const (
	Active Status = iota
	Inactive
)

// RootUserID is the bootstrapped root account's fixed id; it bypasses all
// permission checks (spec §4.8).
const RootUserID = 1

// GlobalPermissions are the account-wide grants (spec §4.8).
type GlobalPermissions struct {
	ManageServers   bool
	ManageUsers     bool
	ManageStreams   bool
	ReadStreams     bool
	ManageTopics    bool
	ReadTopics      bool
	PollMessagesAll bool
	SendMessagesAll bool
}

// StreamPermissions are per-stream overrides, themselves overridable
// per-topic.
type StreamPermissions struct {
	ManageStream bool
	ReadStream   bool
	ManageTopics bool
	ReadTopics   bool
	PollMessages bool
	SendMessages bool
	Topics       map[int]TopicPermissions
}

// TopicPermissions are the finest-grained override layer.
type TopicPermissions struct {
	ManageTopic  bool
	ReadTopic    bool
	PollMessages bool
	SendMessages bool
}

// Permissions bundles every layer granted to one user.
type Permissions struct {
	Global  GlobalPermissions
	Streams map[int]StreamPermissions
}

// RootPermissions grants every permission, used only for the bootstrapped
// root account.
func RootPermissions() Permissions {
	return Permissions{Global: GlobalPermissions{
		ManageServers: true, ManageUsers: true, ManageStreams: true, ReadStreams: true,
		ManageTopics: true, ReadTopics: true, PollMessagesAll: true, SendMessagesAll: true,
	}}
}

// User is one account record (spec §3 "User").
type User struct {
	ID           int
	Username     string
	PasswordHash string
	Status       Status
	Permissions  Permissions
	CreatedAt    time.Time
}

// HashPassword bcrypt-hashes a plaintext password for storage.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", ierror.Wrap(ierror.IoError, "hash password", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether plaintext matches the stored bcrypt hash.
func VerifyPassword(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// NewRoot builds the bootstrapped root account from IGGY_ROOT_USERNAME /
// IGGY_ROOT_PASSWORD, seeded only on a brand-new data directory (spec §6
// "CLI & env for bootstrap").
func NewRoot(username, password string) (*User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	return &User{
		ID:           RootUserID,
		Username:     username,
		PasswordHash: hash,
		Status:       Active,
		Permissions:  RootPermissions(),
		CreatedAt:    time.Now(),
	}, nil
}

// Directory owns every user account, keyed by id and username. When
// SetPersistence has been called, every mutation is durably saved to disk
// the same way internal/storage/stream persists stream.name: a whole-file
// overwrite via the configured Persister (spec §4.7 recovery: "load
// users...").
type Directory struct {
	mu     sync.RWMutex
	byID   map[int]*User
	byName map[string]int
	nextID int

	path      string
	persister persistence.Persister
}

// NewDirectory returns an empty user directory.
func NewDirectory() *Directory {
	return &Directory{byID: make(map[int]*User), byName: make(map[string]int), nextID: 2}
}

// SetPersistence points the directory at its on-disk database file; call
// Load once afterward to recover any existing records.
func (d *Directory) SetPersistence(path string, persister persistence.Persister) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.path = path
	d.persister = persister
}

// Load recovers a previously persisted directory, reporting whether a
// database file was found (false on a brand-new data directory, in which
// case the caller seeds the root account).
func (d *Directory) Load() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.path == "" {
		return false, nil
	}
	data, err := os.ReadFile(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, ierror.Wrap(ierror.IoError, "read users database", err)
	}
	var list []*User
	if err := json.Unmarshal(data, &list); err != nil {
		return false, ierror.Wrap(ierror.CannotDeserializeResource, "corrupt users database", err)
	}
	for _, u := range list {
		d.byID[u.ID] = u
		d.byName[u.Username] = u.ID
		if u.ID >= d.nextID {
			d.nextID = u.ID + 1
		}
	}
	return true, nil
}

func (d *Directory) saveLocked() error {
	if d.persister == nil {
		return nil
	}
	list := make([]*User, 0, len(d.byID))
	for _, u := range d.byID {
		list = append(list, u)
	}
	data, err := json.Marshal(list)
	if err != nil {
		return ierror.Wrap(ierror.CannotSerializeResource, "encode users database", err)
	}
	return d.persister.Overwrite(d.path, data)
}

// Register adds an already-constructed user (used for the root bootstrap)
// and persists it.
func (d *Directory) Register(u *User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byID[u.ID] = u
	d.byName[u.Username] = u.ID
	if u.ID >= d.nextID {
		d.nextID = u.ID + 1
	}
	return d.saveLocked()
}

// Create adds a new user with an auto-assigned id and persists the
// directory.
func (d *Directory) Create(username, password string, status Status, perms Permissions) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.byName[username]; exists {
		return nil, ierror.New(ierror.ResourceAlreadyExists, fmt.Sprintf("user %q already exists", username))
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &User{
		ID: d.nextID, Username: username, PasswordHash: hash,
		Status: status, Permissions: perms, CreatedAt: time.Now(),
	}
	d.byID[u.ID] = u
	d.byName[username] = u.ID
	d.nextID++
	if err := d.saveLocked(); err != nil {
		return nil, err
	}
	return u, nil
}

// Save persists the directory's current contents, used after a caller
// mutates a *User record obtained from Get/GetByUsername in place (e.g.
// UpdateUser's status change).
func (d *Directory) Save() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.saveLocked()
}

// Get returns the user with the given id.
func (d *Directory) Get(id int) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byID[id]
	if !ok {
		return nil, ierror.New(ierror.ResourceNotFound, fmt.Sprintf("user %d not found", id))
	}
	return u, nil
}

// GetByUsername resolves a user by username, used by LoginUser.
func (d *Directory) GetByUsername(username string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byName[username]
	if !ok {
		return nil, ierror.New(ierror.ResourceNotFound, fmt.Sprintf("user %q not found", username))
	}
	return d.byID[id], nil
}

// Delete removes a user account entirely.
func (d *Directory) Delete(id int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return ierror.New(ierror.ResourceNotFound, fmt.Sprintf("user %d not found", id))
	}
	delete(d.byID, id)
	delete(d.byName, u.Username)
	return d.saveLocked()
}

// All returns every user account.
func (d *Directory) All() []*User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*User, 0, len(d.byID))
	for _, u := range d.byID {
		out = append(out, u)
	}
	return out
}

// PersonalAccessToken is a long-lived bearer credential tied to a user
// (spec §3); only its hash is persisted, the plaintext is returned once at
// creation (original_source's pat.rs).
type PersonalAccessToken struct {
	UserID    int
	Name      string
	TokenHash string
	ExpiresAt *time.Time
}

// NewPersonalAccessToken generates a random 50-byte token, hashes it for
// storage, and returns both the record and the one-time plaintext.
func NewPersonalAccessToken(userID int, name string, ttl time.Duration) (*PersonalAccessToken, string, error) {
	buf := make([]byte, 50)
	if _, err := rand.Read(buf); err != nil {
		return nil, "", ierror.Wrap(ierror.IoError, "generate personal access token", err)
	}
	plaintext := base64.RawURLEncoding.EncodeToString(buf)

	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}
	pat := &PersonalAccessToken{
		UserID:    userID,
		Name:      name,
		TokenHash: HashToken(plaintext),
		ExpiresAt: expiresAt,
	}
	return pat, plaintext, nil
}

// HashToken deterministically hashes a plaintext PAT for lookup/storage.
func HashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// IsExpired reports whether the token has passed its expiry, if any.
func (p *PersonalAccessToken) IsExpired() bool {
	return p.ExpiresAt != nil && time.Now().After(*p.ExpiresAt)
}

// PATStore owns every personal access token, keyed by (user id, name) and
// indexed by token hash for login lookup. Persisted the same way Directory
// is, via whole-file overwrite once SetPersistence has been called.
type PATStore struct {
	mu     sync.RWMutex
	byHash map[string]*PersonalAccessToken
	byUser map[int]map[string]*PersonalAccessToken

	path      string
	persister persistence.Persister
}

// NewPATStore returns an empty PAT store.
func NewPATStore() *PATStore {
	return &PATStore{
		byHash: make(map[string]*PersonalAccessToken),
		byUser: make(map[int]map[string]*PersonalAccessToken),
	}
}

// SetPersistence points the store at its on-disk database file; call Load
// once afterward to recover any existing records.
func (s *PATStore) SetPersistence(path string, persister persistence.Persister) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.path = path
	s.persister = persister
}

// Load recovers a previously persisted PAT store, a no-op if the database
// file doesn't exist yet.
func (s *PATStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return ierror.Wrap(ierror.IoError, "read personal access tokens database", err)
	}
	var list []*PersonalAccessToken
	if err := json.Unmarshal(data, &list); err != nil {
		return ierror.Wrap(ierror.CannotDeserializeResource, "corrupt personal access tokens database", err)
	}
	for _, pat := range list {
		s.byHash[pat.TokenHash] = pat
		if s.byUser[pat.UserID] == nil {
			s.byUser[pat.UserID] = make(map[string]*PersonalAccessToken)
		}
		s.byUser[pat.UserID][pat.Name] = pat
	}
	return nil
}

func (s *PATStore) saveLocked() error {
	if s.persister == nil {
		return nil
	}
	list := make([]*PersonalAccessToken, 0, len(s.byHash))
	for _, pat := range s.byHash {
		list = append(list, pat)
	}
	data, err := json.Marshal(list)
	if err != nil {
		return ierror.Wrap(ierror.CannotSerializeResource, "encode personal access tokens database", err)
	}
	return s.persister.Overwrite(s.path, data)
}

// Create mints and stores a new PAT, returning the one-time plaintext.
func (s *PATStore) Create(userID int, name string, ttl time.Duration) (*PersonalAccessToken, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byUser[userID][name]; exists {
		return nil, "", ierror.New(ierror.ResourceAlreadyExists, fmt.Sprintf("personal access token %q already exists", name))
	}
	pat, plaintext, err := NewPersonalAccessToken(userID, name, ttl)
	if err != nil {
		return nil, "", err
	}
	s.byHash[pat.TokenHash] = pat
	if s.byUser[userID] == nil {
		s.byUser[userID] = make(map[string]*PersonalAccessToken)
	}
	s.byUser[userID][name] = pat
	if err := s.saveLocked(); err != nil {
		return nil, "", err
	}
	return pat, plaintext, nil
}

// Lookup resolves a presented plaintext token to its owning user id,
// failing if the token is unknown or expired (spec §4.8
// "LoginWithPersonalAccessToken").
func (s *PATStore) Lookup(plaintext string) (int, error) {
	hash := HashToken(plaintext)
	s.mu.RLock()
	pat, ok := s.byHash[hash]
	s.mu.RUnlock()
	if !ok {
		return 0, ierror.New(ierror.Unauthenticated, "unknown personal access token")
	}
	if pat.IsExpired() {
		return 0, ierror.New(ierror.Unauthenticated, "personal access token has expired")
	}
	return pat.UserID, nil
}

// Delete removes a named PAT belonging to userID.
func (s *PATStore) Delete(userID int, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pat, ok := s.byUser[userID][name]
	if !ok {
		return ierror.New(ierror.ResourceNotFound, fmt.Sprintf("personal access token %q not found", name))
	}
	delete(s.byHash, pat.TokenHash)
	delete(s.byUser[userID], name)
	return s.saveLocked()
}

// List returns every PAT belonging to userID (without plaintext, which is
// never retained after creation).
func (s *PATStore) List(userID int) []*PersonalAccessToken {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*PersonalAccessToken, 0, len(s.byUser[userID]))
	for _, pat := range s.byUser[userID] {
		out = append(out, pat)
	}
	return out
}
