package legacy

import (
	"bytes"
	"context"
	"crypto/sha1"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/arxiv/arxiv-auth/domain"
	"github.com/arxiv/arxiv-auth/internal"
	"github.com/arxiv/arxiv-auth/internal/logging"
	"go.uber.org/zap"
)

const saltSize = 4

type userRow struct {
	userID        string
	nickname      string
	email         string
	firstName     sql.NullString
	lastName      sql.NullString
	suffixName    sql.NullString
	policyClass   int
	editUsers     int
	emailVerified int
	editSystem    int
}

func (r userRow) user() *domain.User {
	return &domain.User{
		UserID:   r.userID,
		Username: r.nickname,
		Email:    r.email,
		Name: &domain.UserFullName{
			Forename: r.firstName.String,
			Surname:  r.lastName.String,
			Suffix:   r.suffixName.String,
		},
		Verified: r.emailVerified != 0,
	}
}

func (r userRow) capabilities() int {
	caps := 0
	if r.editUsers != 0 {
		caps += domain.CapEditUsers
	}
	if r.emailVerified != 0 {
		caps += domain.CapEmailVerified
	}
	if r.editSystem != 0 {
		caps += domain.CapEditSystem
	}
	return caps
}

func scopesFor(policyClass int) []domain.Scope {
	switch policyClass {
	case PolicyAdmin:
		return domain.AdminUserScopes()
	case PolicyPublicUser:
		return domain.GeneralUserScopes()
	default:
		return nil
	}
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// loadEndorsements returns the categories whose valid endorsement points sum to non-zero.
func loadEndorsements(ctx context.Context, q querier, userID string) ([]domain.Category, error) {
	rows, err := q.QueryContext(ctx, `
SELECT archive, subject_class
FROM arxiv_endorsements
WHERE endorsee_id = ? AND flag_valid = 1
GROUP BY archive, subject_class
HAVING SUM(point_value) <> 0
ORDER BY archive, subject_class`, userID)
	if err != nil {
		return nil, readErr("load endorsements", err)
	}
	defer rows.Close()

	var cats []domain.Category
	for rows.Next() {
		var cat domain.Category
		if err := rows.Scan(&cat.Archive, &cat.Subject); err != nil {
			return nil, readErr("scan endorsement", err)
		}
		cats = append(cats, cat)
	}
	if err := rows.Err(); err != nil {
		return nil, readErr("load endorsements", err)
	}
	return cats, nil
}

// PasswordStorageSHA1 is the password_storage value of salted SHA-1 rows, the
// only format Authenticate accepts. Types 0 and 3 are retired and type 1 (md5)
// is refused.
const PasswordStorageSHA1 = 2

// HashPassword returns the classic salted SHA-1 encoding of password.
func HashPassword(password string) (string, error) {
	if !isASCII(password) {
		return "", errors.New("legacy: password must be ascii")
	}
	salt, err := internal.NewSalt(saltSize)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(append(salt, hashSaltAndPassword(salt, password)...)), nil
}

// CheckPassword reports whether password matches the classic encoding.
func CheckPassword(password, encoded string) bool {
	if !isASCII(password) {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) <= saltSize {
		return false
	}
	salt, want := raw[:saltSize], raw[saltSize:]
	return subtle.ConstantTimeCompare(hashSaltAndPassword(salt, password), want) == 1
}

func hashSaltAndPassword(salt []byte, password string) []byte {
	sum := sha1.Sum(bytes.Join([][]byte{salt, []byte(password)}, []byte("-")))
	return sum[:]
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7f {
			return false
		}
	}
	return true
}

// Users is the classic user store.
type Users struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewUsers returns a user store over db.
func NewUsers(db *sql.DB, logger *zap.Logger) *Users {
	return &Users{db: db, logger: logging.OrNop(logger)}
}

const userColumns = `
SELECT u.user_id, u.email, u.first_name, u.last_name, u.suffix_name, u.policy_class,
       u.flag_edit_users, u.flag_email_verified, u.flag_edit_system,
       u.flag_deleted, u.flag_banned, n.nickname`

// Authenticate checks a username or email and password. Deleted and banned
// accounts never authenticate.
func (u *Users) Authenticate(ctx context.Context, usernameOrEmail, password string) (*domain.User, domain.Authorizations, error) {
	if usernameOrEmail == "" || password == "" {
		return nil, domain.Authorizations{}, fmt.Errorf("%w: username and password required", ErrAuthenticationFailed)
	}
	if !isASCII(password) {
		return nil, domain.Authorizations{}, fmt.Errorf("%w: non-ascii password", ErrAuthenticationFailed)
	}

	var (
		row              userRow
		userID           int64
		deleted, banned  int
		passwordStorage  int
		passwordEncoding string
	)
	err := u.db.QueryRowContext(ctx, userColumns+`, p.password_storage, p.password_enc
FROM tapir_users u
JOIN tapir_nicknames n ON n.user_id = u.user_id
JOIN tapir_users_password p ON p.user_id = u.user_id
WHERE n.nickname = ? OR u.email = ?
ORDER BY n.flag_primary DESC
LIMIT 1`, usernameOrEmail, usernameOrEmail).Scan(
		&userID, &row.email, &row.firstName, &row.lastName, &row.suffixName, &row.policyClass,
		&row.editUsers, &row.emailVerified, &row.editSystem,
		&deleted, &banned, &row.nickname, &passwordStorage, &passwordEncoding,
	)
	if errors.Is(err, sql.ErrNoRows) {
		u.logger.Debug("no classic account", zap.String("login", usernameOrEmail))
		return nil, domain.Authorizations{}, fmt.Errorf("%w: no such account", ErrAuthenticationFailed)
	}
	if err != nil {
		return nil, domain.Authorizations{}, readErr("authenticate", err)
	}
	if deleted != 0 || banned != 0 {
		return nil, domain.Authorizations{}, fmt.Errorf("%w: account disabled", ErrAuthenticationFailed)
	}
	if passwordStorage != PasswordStorageSHA1 {
		u.logger.Warn("classic account has unsupported password storage",
			zap.Int64("user_id", userID), zap.Int("password_storage", passwordStorage))
		return nil, domain.Authorizations{}, fmt.Errorf("%w: %w: type %d", ErrAuthenticationFailed, ErrUnsupportedPasswordStorage, passwordStorage)
	}
	if !CheckPassword(password, strings.TrimSpace(passwordEncoding)) {
		return nil, domain.Authorizations{}, fmt.Errorf("%w: incorrect password", ErrAuthenticationFailed)
	}

	row.userID = strconv.FormatInt(userID, 10)
	endorsements, err := loadEndorsements(ctx, u.db, row.userID)
	if err != nil {
		return nil, domain.Authorizations{}, err
	}
	return row.user(), domain.Authorizations{
		Classic:      row.capabilities(),
		Scopes:       scopesFor(row.policyClass),
		Endorsements: endorsements,
	}, nil
}

// GetUserByID loads a user by its classic user ID.
func (u *Users) GetUserByID(ctx context.Context, userID string) (*domain.User, error) {
	var (
		row             userRow
		id              int64
		deleted, banned int
	)
	err := u.db.QueryRowContext(ctx, userColumns+`
FROM tapir_users u
JOIN tapir_nicknames n ON n.user_id = u.user_id
WHERE u.user_id = ?
ORDER BY n.flag_primary DESC
LIMIT 1`, userID).Scan(
		&id, &row.email, &row.firstName, &row.lastName, &row.suffixName, &row.policyClass,
		&row.editUsers, &row.emailVerified, &row.editSystem,
		&deleted, &banned, &row.nickname,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchUser, userID)
	}
	if err != nil {
		return nil, readErr("get user", err)
	}
	row.userID = strconv.FormatInt(id, 10)
	return row.user(), nil
}

// CreateUserParams describes a classic account to insert.
type CreateUserParams struct {
	Username      string
	Email         string
	Password      string
	Forename      string
	Surname       string
	Suffix        string
	PolicyClass   int
	EmailVerified bool
	EditUsers     bool
	EditSystem    bool
}

// CreateUser inserts a user, its primary nickname and its password in one
// transaction and returns the new user ID.
func (u *Users) CreateUser(ctx context.Context, p CreateUserParams) (string, error) {
	encoded, err := HashPassword(p.Password)
	if err != nil {
		return "", err
	}
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return "", readErr("create user", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
INSERT INTO tapir_users (first_name, last_name, suffix_name, email, policy_class,
                         flag_email_verified, flag_edit_users, flag_edit_system)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Forename, p.Surname, p.Suffix, p.Email, p.PolicyClass,
		flag(p.EmailVerified), flag(p.EditUsers), flag(p.EditSystem))
	if err != nil {
		return "", readErr("create user", err)
	}
	userID, err := res.LastInsertId()
	if err != nil {
		return "", readErr("create user", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tapir_nicknames (nickname, user_id, flag_valid, flag_primary) VALUES (?, ?, 1, 1)`,
		p.Username, userID); err != nil {
		return "", readErr("create nickname", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tapir_users_password (user_id, password_storage, password_enc) VALUES (?, ?, ?)`,
		userID, PasswordStorageSHA1, encoded); err != nil {
		return "", readErr("create password", err)
	}
	if err := tx.Commit(); err != nil {
		return "", readErr("create user", err)
	}
	return strconv.FormatInt(userID, 10), nil
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}
