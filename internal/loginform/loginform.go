// Package loginform is the one form endpoint spec section 1 allows beyond
// static files: POST /login, whose "action" form field selects login or
// register against the DB pool collaborator. It mirrors the original source's pattern of a single
// process-wide DB pool singleton consumed from request handling (see
// original_source/code/server/webserver.cpp's SqlConnPool::Instance()) but
// expressed as an injected dependency rather than a package-level
// singleton, since Go idiomatically threads dependencies explicitly.
package loginform

import (
	"context"
	"database/sql"
	"errors"
	"net/url"

	"github.com/arcflow-systems/webd/internal/dbpool"
)

// ErrInvalidCredentials is returned by Login/Register on a bad username or
// password; it never indicates a DB or pool failure.
var ErrInvalidCredentials = errors.New("loginform: invalid credentials")

// Handler serves the login/register form against a DB pool.
type Handler struct {
	pool *dbpool.Pool
}

// New wraps a DB pool for form handling.
func New(pool *dbpool.Pool) *Handler {
	return &Handler{pool: pool}
}

// Handle dispatches a parsed form body to Login or Register based on the
// "action" field, returning the HTTP status the caller should respond with.
func (h *Handler) Handle(ctx context.Context, form url.Values) int {
	user := form.Get("username")
	pwd := form.Get("password")
	if user == "" || pwd == "" {
		return 400
	}

	var err error
	switch form.Get("action") {
	case "register":
		err = h.Register(ctx, user, pwd)
	default:
		err = h.Login(ctx, user, pwd)
	}
	switch {
	case err == nil:
		return 200
	case errors.Is(err, ErrInvalidCredentials):
		return 403
	default:
		return 500
	}
}

// Login checks user/pwd against the "user" table.
func (h *Handler) Login(ctx context.Context, user, pwd string) error {
	db, err := h.pool.Get(ctx)
	if err != nil {
		return err
	}
	defer h.pool.Put(db)

	var stored string
	err = db.QueryRowContext(ctx, "SELECT password FROM user WHERE username = ?", user).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && stored != pwd) {
		return ErrInvalidCredentials
	}
	return err
}

// Register inserts a new user row, failing with ErrInvalidCredentials if the
// username is already taken.
func (h *Handler) Register(ctx context.Context, user, pwd string) error {
	db, err := h.pool.Get(ctx)
	if err != nil {
		return err
	}
	defer h.pool.Put(db)

	var exists int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM user WHERE username = ?", user).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		return ErrInvalidCredentials
	}
	_, err = db.ExecContext(ctx, "INSERT INTO user(username, password) VALUES (?, ?)", user, pwd)
	return err
}
