package services

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lugares/apiserver/internal/store"
	"github.com/lugares/apiserver/types"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 6
	defaultTokenTTL   = 24 * time.Hour
)

// UserRepository defines persistence operations for accounts and their role records.
type UserRepository interface {
	GetByUID(ctx context.Context, uid string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	GetRole(ctx context.Context, uid string) (string, error)
	CreateWithRole(ctx context.Context, user types.User, role types.Role) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
}

// IdentityService signs users up and in, and resolves credentials into sessions.
type IdentityService struct {
	repo     UserRepository
	secret   []byte
	tokenTTL time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

func NewIdentityService(repo UserRepository, jwtSecret string, tokenTTL time.Duration, logger zerolog.Logger) *IdentityService {
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}
	return &IdentityService{
		repo:     repo,
		secret:   []byte(jwtSecret),
		tokenTTL: tokenTTL,
		logger:   logger,
		now:      time.Now,
	}
}

type SignUpInput struct {
	Email          string
	Password       string
	RepeatPassword string
	DisplayName    string
	Role           string
}

type ProfileInput struct {
	DisplayName    *string
	PhotoURL       *string
	Email          *string
	Password       *string
	RepeatPassword *string
}

// AuthResult carries the issued credential and the session it resolves to.
type AuthResult struct {
	Token   string
	Session types.Session
}

// SignUp creates an account with its role in one write and signs it in.
func (s *IdentityService) SignUp(ctx context.Context, in SignUpInput) (AuthResult, error) {
	var verr ValidationError
	email := strings.TrimSpace(in.Email)
	checkEmail(&verr, email)
	checkNewPassword(&verr, in.Password, in.RepeatPassword)
	role, err := types.ParseRole(in.Role)
	if err != nil {
		verr.add("role", "is not a known role")
	}
	if err := verr.err(); err != nil {
		return AuthResult{}, err
	}

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return AuthResult{}, ErrEmailInUse
	} else if !errors.Is(err, store.ErrNotFound) {
		return AuthResult{}, storeUnavailable(err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return AuthResult{}, err
	}

	user, err := s.repo.CreateWithRole(ctx, types.User{
		Email:        email,
		DisplayName:  strings.TrimSpace(in.DisplayName),
		PasswordHash: string(hashed),
	}, role)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return AuthResult{}, ErrEmailInUse
		}
		return AuthResult{}, storeUnavailable(err)
	}

	token, err := s.IssueToken(user.UID)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{Token: token, Session: sessionFor(user, role)}, nil
}

// SignIn verifies credentials. When the account has no usable role the token
// is still returned together with ErrRoleMissing so the caller can be routed
// to the blocked view.
func (s *IdentityService) SignIn(ctx context.Context, email, password string) (AuthResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return AuthResult{}, ErrInvalidCredentials
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, storeUnavailable(err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return AuthResult{}, ErrInvalidCredentials
	}

	token, err := s.IssueToken(user.UID)
	if err != nil {
		return AuthResult{}, err
	}

	session, err := s.Resolve(ctx, user.UID)
	return AuthResult{Token: token, Session: session}, err
}

// Authenticate resolves a bearer token into a session.
func (s *IdentityService) Authenticate(ctx context.Context, token string) (types.Session, error) {
	uid, err := s.ParseToken(token)
	if err != nil {
		return types.Session{}, ErrNoSession
	}
	return s.Resolve(ctx, uid)
}

// Resolve builds the session of uid from its identity and role records. On
// ErrRoleMissing the returned session carries the identity with no role.
func (s *IdentityService) Resolve(ctx context.Context, uid string) (types.Session, error) {
	user, err := s.repo.GetByUID(ctx, uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Session{}, ErrNoSession
		}
		return types.Session{}, storeUnavailable(err)
	}

	label, err := s.repo.GetRole(ctx, uid)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return types.Session{}, storeUnavailable(err)
		}
		s.logger.Error().Str("uid", uid).Msg("account has no role record")
		return sessionFor(user, types.RoleNone), ErrRoleMissing
	}

	role, err := types.ParseRole(label)
	if err != nil {
		s.logger.Error().Err(err).Str("uid", uid).Msg("account has an unrecognized role")
		return sessionFor(user, types.RoleNone), ErrRoleMissing
	}
	return sessionFor(user, role), nil
}

// Profile returns the stored account behind session.
func (s *IdentityService) Profile(ctx context.Context, session types.Session) (types.User, error) {
	user, err := s.repo.GetByUID(ctx, session.UID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrNoSession
		}
		return types.User{}, storeUnavailable(err)
	}
	return user, nil
}

// UpdateProfile changes the present profile fields. The role never changes.
func (s *IdentityService) UpdateProfile(ctx context.Context, session types.Session, in ProfileInput) (types.User, error) {
	var verr ValidationError
	if in.Email != nil {
		trimmed := strings.TrimSpace(*in.Email)
		in.Email = &trimmed
		checkEmail(&verr, trimmed)
	}
	if in.Password != nil {
		repeat := ""
		if in.RepeatPassword != nil {
			repeat = *in.RepeatPassword
		}
		checkNewPassword(&verr, *in.Password, repeat)
	}
	if err := verr.err(); err != nil {
		return types.User{}, err
	}

	user, err := s.Profile(ctx, session)
	if err != nil {
		return types.User{}, err
	}

	if in.Email != nil && !strings.EqualFold(*in.Email, user.Email) {
		existing, err := s.repo.GetByEmail(ctx, *in.Email)
		switch {
		case err == nil && existing.UID != user.UID:
			return types.User{}, ErrEmailInUse
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return types.User{}, storeUnavailable(err)
		}
		user.Email = *in.Email
	}
	if in.DisplayName != nil {
		user.DisplayName = strings.TrimSpace(*in.DisplayName)
	}
	if in.PhotoURL != nil {
		user.PhotoURL = strings.TrimSpace(*in.PhotoURL)
	}
	if in.Password != nil {
		hashed, err := bcrypt.GenerateFromPassword([]byte(*in.Password), bcrypt.DefaultCost)
		if err != nil {
			return types.User{}, err
		}
		user.PasswordHash = string(hashed)
	}

	updated, err := s.repo.Update(ctx, user)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			return types.User{}, ErrEmailInUse
		case errors.Is(err, store.ErrNotFound):
			return types.User{}, ErrNoSession
		}
		return types.User{}, storeUnavailable(err)
	}
	return updated, nil
}

// IssueToken signs an HS256 token whose subject is uid.
func (s *IdentityService) IssueToken(uid string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   uid,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ParseToken validates tokenString and returns its subject.
func (s *IdentityService) ParseToken(tokenString string) (string, error) {
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("missing subject")
	}
	return claims.Subject, nil
}

func sessionFor(user types.User, role types.Role) types.Session {
	return types.Session{
		UID:         user.UID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Role:        role,
	}
}

func checkEmail(verr *ValidationError, email string) {
	if email == "" {
		verr.add("email", "is required")
		return
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		verr.add("email", "is malformed")
	}
}

func checkNewPassword(verr *ValidationError, password, repeat string) {
	switch {
	case password == "":
		verr.add("password", "is required")
		return
	case len(password) < minPasswordLength:
		verr.add("password", "is too weak")
	}
	if password != repeat {
		verr.add("repeat_password", "does not match")
	}
}
