package backend

import (
	"database/sql"
	"net"
	"net/http"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/navdeck-io/navdeck/core/access"
	"github.com/navdeck-io/navdeck/core/apierror"
	"github.com/navdeck-io/navdeck/core/logger"
)

// civilTimeFormat is the format login timestamps are stored and returned in.
// These are civil wall-clock strings in the backend's fixed zone, not RFC3339.
const civilTimeFormat = "2006-01-02 15:04:05"

// minPasswordLength applies to password changes only. Seeded accounts are
// the operator's business.
const minPasswordLength = 6

type userRecord struct {
	ID            int64          `db:"id"`
	Username      string         `db:"username"`
	Password      string         `db:"password"`
	LastLoginTime sql.NullString `db:"last_login_time"`
	LastLoginIP   sql.NullString `db:"last_login_ip"`
}

// handleAccountRoutes mounts the login and self-service account routes.
// They exist only when a "user" entity is configured; the generic engine
// knows nothing about accounts otherwise.
func (b *Backend) handleAccountRoutes(router *mux.Router) {
	user, ok := b.entities["user"]
	if !ok {
		logger.Default().Warningln("no user entity configured, skipping account routes")
		return
	}
	nillog := logger.Default()
	nillog.Debugln("handle route: /login POST")
	router.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		b.login(w, r, user)
	}).Methods(http.MethodPost)
	router.HandleFunc("/login", methodNotAllowed(http.MethodPost))

	nillog.Debugln("handle route: /user/profile GET")
	router.HandleFunc("/user/profile", b.gate.Protect(func(w http.ResponseWriter, r *http.Request) {
		b.profile(w, r, user)
	})).Methods(http.MethodGet)
	router.HandleFunc("/user/profile", methodNotAllowed(http.MethodGet))

	nillog.Debugln("handle route: /user/me GET")
	router.HandleFunc("/user/me", b.gate.Protect(func(w http.ResponseWriter, r *http.Request) {
		b.me(w, r, user)
	})).Methods(http.MethodGet)
	router.HandleFunc("/user/me", methodNotAllowed(http.MethodGet))

	nillog.Debugln("handle route: /user/password PUT")
	router.HandleFunc("/user/password", b.gate.Protect(func(w http.ResponseWriter, r *http.Request) {
		b.changePassword(w, r, user)
	})).Methods(http.MethodPut)
	router.HandleFunc("/user/password", methodNotAllowed(http.MethodPut))
}

func (b *Backend) getUser(table string, condition sq.Eq) (userRecord, error) {
	var user userRecord
	query, args, err := b.sb.
		Select(`"id"`, `"username"`, `"password"`, `"last_login_time"`, `"last_login_ip"`).
		From(table).
		Where(condition).
		ToSql()
	if err != nil {
		return user, err
	}
	err = b.db.Get(&user, query, args...)
	return user, err
}

// login verifies the credentials and issues a bearer token. The response
// reports the previous login's time and address; the current login is
// recorded in the same transaction.
func (b *Backend) login(w http.ResponseWriter, r *http.Request, e *entityConfiguration) {
	rlog := logger.FromContext(r.Context())
	var credentials struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if apiErr := decodeInto(r, &credentials); apiErr != nil {
		apierror.Write(w, rlog, apiErr)
		return
	}
	if credentials.Username == "" || credentials.Password == "" {
		apierror.Write(w, rlog, apierror.Validation("username and password are required"))
		return
	}

	user, err := b.getUser(b.table(e), sq.Eq{`"username"`: credentials.Username})
	if err == sql.ErrNoRows {
		apierror.Write(w, rlog, apierror.Authentication("invalid username or password"))
		return
	}
	if err != nil {
		apierror.Write(w, rlog, apierror.FromDB(err, ""))
		return
	}
	// deliberately the same message as for an unknown username
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(credentials.Password)) != nil {
		apierror.Write(w, rlog, apierror.Authentication("invalid username or password"))
		return
	}

	now := time.Now().In(b.location).Format(civilTimeFormat)
	ip := clientIP(r)
	query, args, err := b.sb.Update(b.table(e)).
		Set(`"last_login_time"`, now).
		Set(`"last_login_ip"`, ip).
		Where(sq.Eq{`"id"`: user.ID}).
		ToSql()
	if err == nil {
		var tx *sql.Tx
		tx, err = b.db.Begin()
		if err == nil {
			if _, err = tx.Exec(query, args...); err != nil {
				tx.Rollback()
			} else {
				err = tx.Commit()
			}
		}
	}
	if err != nil {
		apierror.Write(w, rlog, apierror.Internal("login record update failed", err))
		return
	}

	token, err := b.tokens.Issue(user.ID, user.Username)
	if err != nil {
		apierror.Write(w, rlog, apierror.Internal("cannot issue token", err))
		return
	}
	rlog.Infoln("login:", user.Username, "from", ip)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":         token,
		"lastLoginTime": nullableString(user.LastLoginTime),
		"lastLoginIp":   nullableString(user.LastLoginIP),
	})
}

func (b *Backend) profile(w http.ResponseWriter, r *http.Request, e *entityConfiguration) {
	rlog := logger.FromContext(r.Context())
	identity, _ := access.IdentityFromContext(r.Context())
	user, err := b.getUser(b.table(e), sq.Eq{`"id"`: identity.ID})
	if err != nil {
		apierror.Write(w, rlog, apierror.FromDB(err, ""))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

func (b *Backend) me(w http.ResponseWriter, r *http.Request, e *entityConfiguration) {
	rlog := logger.FromContext(r.Context())
	identity, _ := access.IdentityFromContext(r.Context())
	user, err := b.getUser(b.table(e), sq.Eq{`"id"`: identity.ID})
	if err != nil {
		apierror.Write(w, rlog, apierror.FromDB(err, ""))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":            user.ID,
		"username":      user.Username,
		"lastLoginTime": nullableString(user.LastLoginTime),
		"lastLoginIp":   nullableString(user.LastLoginIP),
	})
}

func (b *Backend) changePassword(w http.ResponseWriter, r *http.Request, e *entityConfiguration) {
	rlog := logger.FromContext(r.Context())
	identity, _ := access.IdentityFromContext(r.Context())
	var change struct {
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}
	if apiErr := decodeInto(r, &change); apiErr != nil {
		apierror.Write(w, rlog, apiErr)
		return
	}
	if change.OldPassword == "" || change.NewPassword == "" {
		apierror.Write(w, rlog, apierror.Validation("old and new password are required"))
		return
	}
	if len(change.NewPassword) < minPasswordLength {
		apierror.Write(w, rlog, apierror.Validation("new password must be at least %d characters", minPasswordLength))
		return
	}

	user, err := b.getUser(b.table(e), sq.Eq{`"id"`: identity.ID})
	if err != nil {
		apierror.Write(w, rlog, apierror.FromDB(err, ""))
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(change.OldPassword)) != nil {
		apierror.Write(w, rlog, apierror.Validation("old password is incorrect"))
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(change.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		apierror.Write(w, rlog, apierror.Internal("cannot hash password", err))
		return
	}
	query, args, err := b.sb.Update(b.table(e)).
		Set(`"password"`, string(hash)).
		Where(sq.Eq{`"id"`: user.ID}).
		ToSql()
	if err == nil {
		_, err = b.db.Exec(query, args...)
	}
	if err != nil {
		apierror.Write(w, rlog, apierror.FromDB(err, ""))
		return
	}
	rlog.Infoln("password changed:", user.Username)
	writeJSON(w, http.StatusOK, map[string]int{"changed": 1})
}

// EnsureAdminAccount creates the administrator account if no account with
// that username exists yet. The password is stored as a bcrypt hash. This
// runs at service startup and is a no-op on every restart thereafter.
func (b *Backend) EnsureAdminAccount(username, password string) error {
	e, ok := b.entities["user"]
	if !ok {
		return nil
	}
	_, err := b.getUser(b.table(e), sq.Eq{`"username"`: username})
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	query, args, err := b.sb.Insert(b.table(e)).
		Columns(`"username"`, `"password"`).
		Values(username, string(hash)).
		ToSql()
	if err != nil {
		return err
	}
	if _, err = b.db.Exec(query, args...); err != nil {
		return err
	}
	logger.Default().Infoln("created admin account:", username)
	return nil
}

// decodeInto reads the request body into a typed struct.
func decodeInto(r *http.Request, target interface{}) *apierror.Error {
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		return apierror.Validation("invalid request body")
	}
	return nil
}

// clientIP extracts the originating client address. Reverse proxies put the
// real client first in X-Forwarded-For; the IPv4-mapped prefix some stacks
// produce is stripped.
func clientIP(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip != "" {
		if comma := strings.IndexByte(ip, ','); comma >= 0 {
			ip = ip[:comma]
		}
		ip = strings.TrimSpace(ip)
	} else {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip = host
	}
	return strings.TrimPrefix(ip, "::ffff:")
}

// nullableString converts a nullable column for JSON output; NULL stays null.
func nullableString(s sql.NullString) interface{} {
	if !s.Valid {
		return nil
	}
	return s.String
}
