package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"quickchat/internal/content"
	"quickchat/internal/models"

	"github.com/c-pro/geche"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenExpiry = 12 * time.Hour
	issuer             = "quickchat"
	loginFailedMessage = "Login failed"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type SignUpRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	FullName string `json:"fullName" validate:"required,max=64"`
	Bio      string `json:"bio" validate:"max=280"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// ProfileUpdate changes the public profile of a user. ProfilePic is a
// file store URL resolved by the caller; empty keeps the current picture.
type ProfileUpdate struct {
	FullName   string `json:"fullName" validate:"required,max=64"`
	Bio        string `json:"bio" validate:"max=280"`
	ProfilePic string `json:"-"`
}

type AuthResponse struct {
	Success     bool        `json:"success"`
	Message     string      `json:"message,omitempty"`
	Token       string      `json:"token,omitempty"`
	TokenExpiry int64       `json:"tokenExpiry,omitempty"`
	UserData    models.User `json:"userData"`
}

type UserCredentials struct {
	models.User
	PasswordHash string `json:"-"`
	// Counter for consecutive failed login attempts to throttle brute force attacks.
	FailedLoginAttempts int64 `json:"-"`
	LastAttemptTime     int64 `json:"-"`
	// Tokens carrying an older generation are rejected.
	TokenGeneration int64 `json:"-"`
}

func (uc *UserCredentials) ResetFailedLoginAttempts(now time.Time) {
	uc.FailedLoginAttempts = 0
	uc.LastAttemptTime = now.Unix()
}

func (uc *UserCredentials) IncrementFailedLoginAttempts(now time.Time) {
	uc.FailedLoginAttempts++
	uc.LastAttemptTime = now.Unix()
}

// CredentialStore persists users.
type CredentialStore interface {
	CreateCredentials(credentials UserCredentials) error
	UpdateCredentials(credentials UserCredentials) error
	ListCredentials() ([]UserCredentials, error)
}

// Config holds the token signing settings. Secret is the raw HMAC key.
type Config struct {
	Secret      string        `json:"secret"`
	secretBytes []byte        `json:"-"`
	TokenExpiry time.Duration `json:"tokenExpiry"`
}

type Claims struct {
	jwt.RegisteredClaims
	Generation int64 `json:"gen"`
}

type AuthService struct {
	Config
	store CredentialStore
	// userID -> credentials
	users *geche.Locker[string, *UserCredentials]
	// lowercased email -> userID
	emails *geche.Locker[string, string]
	// token ID -> userID, kept until the token would have expired anyway
	revoked geche.Geche[string, string]
	now     func() time.Time
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}

	c.secretBytes = []byte(c.Secret)

	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}

	return nil
}

func NewAuthService(ctx context.Context, config Config, store CredentialStore) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	as := &AuthService{
		Config:  config,
		store:   store,
		users:   geche.NewLocker[string, *UserCredentials](geche.NewMapCache[string, *UserCredentials]()),
		emails:  geche.NewLocker[string, string](geche.NewMapCache[string, string]()),
		revoked: geche.NewMapTTLCache[string, string](ctx, config.TokenExpiry, time.Minute),
		now:     time.Now,
	}

	creds, err := store.ListCredentials()
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	for _, c := range creds {
		as.cache(c)
	}

	return as, nil
}

func (as *AuthService) cache(c UserCredentials) {
	tx := as.users.Lock()
	tx.Set(c.ID, &c)
	tx.Unlock()

	etx := as.emails.Lock()
	etx.Set(normalizeEmail(c.Email), c.ID)
	etx.Unlock()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp creates an account and logs it in.
func (as *AuthService) SignUp(req SignUpRequest) (AuthResponse, error) {
	req.Email = normalizeEmail(req.Email)
	req.FullName = strings.TrimSpace(content.StripTags(req.FullName))
	req.Bio = strings.TrimSpace(content.StripTags(req.Bio))
	if err := validate.Struct(req); err != nil {
		return AuthResponse{}, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}

	user, err := as.createUser(req.Email, req.Password, req.FullName, req.Bio)
	if err != nil {
		return AuthResponse{}, err
	}

	token, expiry, err := as.IssueToken(user.ID)
	if err != nil {
		return AuthResponse{}, err
	}

	return AuthResponse{
		Success:     true,
		Message:     "Account created",
		Token:       token,
		TokenExpiry: expiry,
		UserData:    user,
	}, nil
}

// AddUser creates an account with a random password and returns the password.
// Used by the admin API.
func (as *AuthService) AddUser(email, fullName string) (models.User, string, error) {
	email = normalizeEmail(email)
	fullName = strings.TrimSpace(content.StripTags(fullName))
	if fullName == "" {
		fullName, _, _ = strings.Cut(email, "@")
	}
	if err := validate.Var(email, "required,email,max=254"); err != nil {
		return models.User{}, "", fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}

	password, err := generatePassword()
	if err != nil {
		return models.User{}, "", err
	}

	user, err := as.createUser(email, password, fullName, "")
	if err != nil {
		return models.User{}, "", err
	}
	return user, password, nil
}

func (as *AuthService) createUser(email, password, fullName, bio string) (models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	etx := as.emails.Lock()
	defer etx.Unlock()
	if _, err := etx.Get(email); err == nil {
		return models.User{}, models.ErrUserExists
	}

	creds := UserCredentials{
		User: models.User{
			ID:        uuid.NewString(),
			Email:     email,
			FullName:  fullName,
			Bio:       bio,
			CreatedAt: as.now().UnixMilli(),
		},
		PasswordHash: string(hash),
	}
	if err := as.store.CreateCredentials(creds); err != nil {
		return models.User{}, err
	}

	etx.Set(email, creds.ID)
	tx := as.users.Lock()
	tx.Set(creds.ID, &creds)
	tx.Unlock()

	return creds.User, nil
}

func (as *AuthService) Login(req LoginRequest) (AuthResponse, error) {
	now := as.now()
	req.Email = normalizeEmail(req.Email)
	if err := validate.Struct(req); err != nil {
		return AuthResponse{Message: loginFailedMessage}, models.ErrUnauthorized
	}

	etx := as.emails.Lock()
	userID, err := etx.Get(req.Email)
	etx.Unlock()
	if err != nil {
		return AuthResponse{Message: loginFailedMessage}, models.ErrUnauthorized
	}

	// Snapshot under the lock; bcrypt is slow and must not block Verify.
	tx := as.users.Lock()
	cached, err := tx.Get(userID)
	var user UserCredentials
	if err == nil {
		user = *cached
	}
	tx.Unlock()
	if err != nil {
		return AuthResponse{Message: loginFailedMessage}, models.ErrUnauthorized
	}

	// Check failed login attempts
	if user.FailedLoginAttempts > 3 {
		nextAttempt := user.LastAttemptTime + 30*(user.FailedLoginAttempts*user.FailedLoginAttempts)
		if now.Unix() < nextAttempt {
			return AuthResponse{
				Message: fmt.Sprintf("Too many failed login attempts. Next attempt in %d seconds", nextAttempt-now.Unix()),
			}, models.ErrUnauthorized
		}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		as.recordLoginAttempt(userID, user.PasswordHash, func(c *UserCredentials) { c.IncrementFailedLoginAttempts(now) })
		return AuthResponse{Message: loginFailedMessage}, models.ErrUnauthorized
	}

	token, expiry, err := as.issueToken(user.ID, user.TokenGeneration)
	if err != nil {
		slog.Error("login failed", "user_id", user.ID, "error", err)
		return AuthResponse{Message: "internal error"}, err
	}
	as.recordLoginAttempt(userID, user.PasswordHash, func(c *UserCredentials) { c.ResetFailedLoginAttempts(now) })

	return AuthResponse{
		Success:     true,
		Message:     "Login successful",
		Token:       token,
		TokenExpiry: expiry,
		UserData:    user.User,
	}, nil
}

// recordLoginAttempt updates the throttling counters of userID unless the
// password changed while the hash was being checked.
func (as *AuthService) recordLoginAttempt(userID, checkedHash string, update func(*UserCredentials)) {
	tx := as.users.Lock()
	defer tx.Unlock()
	user, err := tx.Get(userID)
	if err != nil || user.PasswordHash != checkedHash {
		return
	}
	updated := *user
	update(&updated)
	tx.Set(userID, &updated)
}

// IssueToken signs a bearer token for userID and returns it with its
// expiry as a unix timestamp.
func (as *AuthService) IssueToken(userID string) (string, int64, error) {
	var generation int64
	tx := as.users.Lock()
	if user, err := tx.Get(userID); err == nil {
		generation = user.TokenGeneration
	}
	tx.Unlock()
	return as.issueToken(userID, generation)
}

func (as *AuthService) issueToken(userID string, generation int64) (string, int64, error) {
	now := as.now()
	expiresAt := now.Add(as.TokenExpiry)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Generation: generation,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(as.secretBytes)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiresAt.Unix(), nil
}

func (as *AuthService) parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return as.secretBytes, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(as.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}
	return claims, nil
}

// Verify turns a bearer token into the identity it was issued for.
func (as *AuthService) Verify(token string) (string, error) {
	if token == "" {
		return "", models.ErrUnauthorized
	}
	claims, err := as.parse(token)
	if err != nil {
		return "", err
	}
	if _, err := as.revoked.Get(claims.ID); err == nil {
		return "", fmt.Errorf("%w: token revoked", models.ErrUnauthorized)
	}

	tx := as.users.Lock()
	user, err := tx.Get(claims.Subject)
	tx.Unlock()
	if err != nil {
		return "", fmt.Errorf("%w: user no longer exists", models.ErrUnauthorized)
	}
	if claims.Generation != user.TokenGeneration {
		return "", fmt.Errorf("%w: token predates password reset", models.ErrUnauthorized)
	}

	return claims.Subject, nil
}

// Logoff revokes the token and returns the identity it belonged to.
func (as *AuthService) Logoff(token string) (string, error) {
	claims, err := as.parse(token)
	if err != nil {
		return "", err
	}
	as.revoked.Set(claims.ID, claims.Subject)
	return claims.Subject, nil
}

func (as *AuthService) GetUser(id string) (models.User, error) {
	tx := as.users.Lock()
	defer tx.Unlock()
	user, err := tx.Get(id)
	if err != nil {
		return models.User{}, fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}
	return user.User, nil
}

// ListUsers returns every user sorted by full name.
func (as *AuthService) ListUsers() ([]models.User, error) {
	creds, err := as.store.ListCredentials()
	if err != nil {
		return nil, err
	}
	users := make([]models.User, 0, len(creds))
	for _, c := range creds {
		users = append(users, c.User)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].FullName == users[j].FullName {
			return users[i].ID < users[j].ID
		}
		return users[i].FullName < users[j].FullName
	})
	return users, nil
}

func (as *AuthService) UpdateProfile(userID string, update ProfileUpdate) (models.User, error) {
	update.FullName = strings.TrimSpace(content.StripTags(update.FullName))
	update.Bio = strings.TrimSpace(content.StripTags(update.Bio))
	if err := validate.Struct(update); err != nil {
		return models.User{}, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}

	tx := as.users.Lock()
	defer tx.Unlock()
	user, err := tx.Get(userID)
	if err != nil {
		return models.User{}, fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
	}

	updated := *user
	updated.FullName = update.FullName
	updated.Bio = update.Bio
	if update.ProfilePic != "" {
		updated.ProfilePic = update.ProfilePic
	}
	if err := as.store.UpdateCredentials(updated); err != nil {
		return models.User{}, err
	}
	tx.Set(userID, &updated)

	return updated.User, nil
}

// ResetPassword sets a generated password for userID, invalidates every
// token issued so far and returns the new password.
func (as *AuthService) ResetPassword(userID string) (string, error) {
	password, err := generatePassword()
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	tx := as.users.Lock()
	defer tx.Unlock()
	user, err := tx.Get(userID)
	if err != nil {
		return "", fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
	}

	updated := *user
	updated.PasswordHash = string(hash)
	updated.TokenGeneration++
	updated.FailedLoginAttempts = 0
	if err := as.store.UpdateCredentials(updated); err != nil {
		return "", err
	}
	tx.Set(userID, &updated)

	return password, nil
}

func generatePassword() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
