// Package user implements the UserService from spec.md §2/§3: registration
// with first-registrant bootstrap admin, a login random-code challenge,
// session token mint/revoke, and login-method tracking. Password hashing
// ceremony itself is out of scope (spec.md §1): the wire protocol already
// carries password_md5, a digest the client computed, and this package
// stores and compares that opaque value rather than re-deriving it.
package user

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"

	"github.com/inkvault/inkvault/cmn"
	"github.com/inkvault/inkvault/cmn/errs"
	"github.com/inkvault/inkvault/coordination"
	"github.com/inkvault/inkvault/db"
)

// User is a users row (spec.md §3).
type User struct {
	ID          int64
	Email       string
	PasswordMD5 string
	DisplayName string
	IsActive    bool
	IsAdmin     bool
	CreatedAt   int64
}

// Claims is the JWT payload minted at login, grounded on the claim shape
// the vendor session token carries: which user, and which piece of
// equipment is holding the session (a tablet may run a sync session
// concurrently with a web session for the same account).
type Claims struct {
	UserID      int64  `json:"uid"`
	Email       string `json:"email"`
	EquipmentNo string `json:"equipmentNo,omitempty"`
	jwt.RegisteredClaims
}

const (
	randomCodeTTL         = 5 * time.Minute
	loginAttemptKeyPrefix = "login_attempts:"
	sessionKeyPrefix      = "session:"
)

// Service is the UserService.
type Service struct {
	db     *db.DB
	coord  coordination.Service
	ids    *cmn.Snowflake
	cfg    *cmn.AuthConf
	secret []byte
}

func New(database *db.DB, coord coordination.Service, ids *cmn.Snowflake, cfg *cmn.AuthConf) *Service {
	return &Service{db: database, coord: coord, ids: ids, cfg: cfg, secret: []byte(cfg.SessionSecret)}
}

func (s *Service) userCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n)
	return n, err
}

func (s *Service) byEmail(ctx context.Context, email string) (*User, error) {
	var u User
	var isActive, isAdmin string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, password_md5, display_name, is_active, is_admin, created_at FROM users WHERE email = ?", email).
		Scan(&u.ID, &u.Email, &u.PasswordMD5, &u.DisplayName, &isActive, &isAdmin, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundf("user %q not found", email)
	}
	if err != nil {
		return nil, errs.Internalf(err, "user: load by email")
	}
	u.IsActive = isActive == "Y"
	u.IsAdmin = isAdmin == "Y"
	return &u, nil
}

// UserIDByEmail resolves an account email to its numeric id, for the public
// OSS routes that authenticate solely by signed URL and only carry the
// email UploadApply signed for, never a session token (spec.md §4.4).
func (s *Service) UserIDByEmail(ctx context.Context, email string) (int64, error) {
	u, err := s.byEmail(ctx, email)
	if err != nil {
		return 0, err
	}
	return u.ID, nil
}

// Register creates a new user. The first registrant ever becomes admin and
// bypasses the registration-enabled flag (spec.md §3 "bootstrap").
func (s *Service) Register(ctx context.Context, email, passwordMD5, displayName string) (*User, error) {
	count, err := s.userCount(ctx)
	if err != nil {
		return nil, errs.Internalf(err, "user: count users")
	}
	isBootstrap := count == 0
	if !isBootstrap && !s.cfg.RegistrationOpen {
		return nil, errs.ForbiddenF("registration is currently closed")
	}

	if existing, err := s.byEmail(ctx, email); err == nil && existing != nil {
		return nil, errs.Conflictf("", "an account for %q already exists", email)
	} else if err != nil && !errs.Is(err, errs.NotFound) {
		return nil, err
	}

	id := s.ids.Next()
	now := db.NowMS()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_md5, display_name, is_active, is_admin, created_at)
		 VALUES (?, ?, ?, ?, 'Y', ?, ?)`,
		id, email, passwordMD5, displayName, boolFlag(isBootstrap), now)
	if err != nil {
		return nil, errs.Internalf(err, "user: insert")
	}
	return &User{ID: id, Email: email, PasswordMD5: passwordMD5, DisplayName: displayName, IsActive: true, IsAdmin: isBootstrap, CreatedAt: now}, nil
}

func boolFlag(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}

// QueryRandomCode issues a short-lived challenge code for account, used by
// the device login flow ahead of the actual password submission.
func (s *Service) QueryRandomCode(ctx context.Context, account string) (code string, timestampMS int64, err error) {
	code, err = randomDigits(6)
	if err != nil {
		return "", 0, errors.Wrap(err, "user: generate random code")
	}
	ts := time.Now().UnixMilli()
	if err := s.coord.SetValue(ctx, "randomcode:"+account, code, randomCodeTTL); err != nil {
		return "", 0, errors.Wrap(err, "user: stash random code")
	}
	return code, ts, nil
}

func randomDigits(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	digits := make([]byte, n)
	for i, c := range b {
		digits[i] = '0' + c%10
	}
	return string(digits), nil
}

// Login rate-limits by account, verifies the password_md5 digest the
// client already computed, records the login method, and mints a session
// token. equipmentNo is empty for web logins.
func (s *Service) Login(ctx context.Context, account, passwordMD5, equipmentNo, loginMethod string) (token string, u *User, err error) {
	attempts, err := s.coord.Increment(ctx, loginAttemptKeyPrefix+account, 1, s.cfg.LoginRateWindow)
	if err != nil {
		return "", nil, errors.Wrap(err, "user: rate limit check")
	}
	if int(attempts) > s.cfg.LoginRateLimit {
		return "", nil, errs.RateLimitedf("too many login attempts for %q, try again later", account)
	}

	found, err := s.byEmail(ctx, account)
	if err != nil {
		return "", nil, errs.Unauthorizedf("invalid account or password")
	}
	if found.PasswordMD5 != passwordMD5 || !found.IsActive {
		return "", nil, errs.Unauthorizedf("invalid account or password")
	}

	token, err = s.mintSession(ctx, found, equipmentNo)
	if err != nil {
		return "", nil, err
	}

	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO login_records (id, user_id, method, equipment_no, login_time) VALUES (?, ?, ?, ?, ?)",
		s.ids.Next(), found.ID, loginMethod, nullableString(equipmentNo), db.NowMS()); err != nil {
		cmn.Warningf("user: failed to record login for %q: %v", account, err)
	}

	return token, found, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *Service) mintSession(ctx context.Context, u *User, equipmentNo string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:      u.ID,
		Email:       u.Email,
		EquipmentNo: equipmentNo,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.SessionTTL)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", errors.Wrap(err, "user: sign session token")
	}
	if err := s.coord.SetValue(ctx, sessionKeyPrefix+signed, fmt.Sprintf("%d", u.ID), s.cfg.SessionTTL); err != nil {
		return "", errors.Wrap(err, "user: register session")
	}
	return signed, nil
}

// Authenticate validates a session token: its signature and expiry via
// JWT, then its live-ness via the CoordinationService registration (so
// Logout can revoke a token before its JWT expiry).
func (s *Service) Authenticate(ctx context.Context, token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, errs.Unauthorizedf("invalid or expired session token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, errs.Unauthorizedf("invalid session token claims")
	}

	_, live, err := s.coord.GetValue(ctx, sessionKeyPrefix+token)
	if err != nil {
		return nil, errors.Wrap(err, "user: check session liveness")
	}
	if !live {
		return nil, errs.Unauthorizedf("session has been revoked")
	}
	return claims, nil
}

// Logout revokes a session token immediately, ahead of its JWT expiry.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.coord.DeleteValue(ctx, sessionKeyPrefix+token)
}
