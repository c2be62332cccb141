package www

import (
	"database/sql"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"

	"linetrack/store"
)

const (
	sessionName = "linetrack-session"
	operatorKey = "operator"
)

// DefaultAdmin is seeded, with itself as password, into an empty operator table.
const DefaultAdmin = "admin"

// newSessionStore builds the cookie store. sessions.NewCookieStore defaults
// to Secure cookies, which a plain HTTP station never gets back.
func newSessionStore(secret string, secure bool) *sessions.CookieStore {
	if secret == "" {
		secret = "linetrack-default-secret-change-me"
	}
	cs := sessions.NewCookieStore([]byte(secret))
	cs.Options.HttpOnly = true
	cs.Options.Secure = secure
	cs.Options.SameSite = http.SameSiteLaxMode
	return cs
}

func hashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(b), err
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// operator returns the logged-in operator name, or "" for anonymous requests.
func (h *Handlers) operator(r *http.Request) string {
	s, err := h.sessions.Get(r, sessionName)
	if err != nil {
		return ""
	}
	name, _ := s.Values[operatorKey].(string)
	return name
}

func (h *Handlers) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.operator(r) == "" {
			jsonError(w, "login required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func seedOperator(db *store.DB) {
	if seeded, err := db.HasOperators(); err != nil || seeded {
		return
	}
	hash, err := hashPassword(DefaultAdmin)
	if err == nil {
		err = db.CreateOperator(DefaultAdmin, hash)
	}
	if err != nil {
		log.Printf("auth: seed operator: %v", err)
		return
	}
	log.Printf("auth: seeded operator %q with default password", DefaultAdmin)
}

func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	db := h.engine.DB()
	if db == nil {
		jsonError(w, "no operator database", http.StatusServiceUnavailable)
		return
	}
	name, password := r.PostFormValue("username"), r.PostFormValue("password")
	op, err := db.GetOperator(name)
	if err != nil || !checkPassword(op.PasswordHash, password) {
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			log.Printf("auth: lookup %q: %v", name, err)
		}
		jsonError(w, "invalid username or password", http.StatusUnauthorized)
		return
	}
	if err := db.RecordLogin(name); err != nil {
		log.Printf("auth: record login for %q: %v", name, err)
	}

	s, _ := h.sessions.Get(r, sessionName)
	s.Values[operatorKey] = name
	if err := s.Save(r, w); err != nil {
		jsonError(w, "session: "+err.Error(), http.StatusInternalServerError)
		return
	}
	jsonOK(w, map[string]string{"username": name})
}

func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	s, _ := h.sessions.Get(r, sessionName)
	delete(s.Values, operatorKey)
	s.Options.MaxAge = -1
	s.Save(r, w)
	jsonOK(w, map[string]string{"status": "logged out"})
}

// apiPassword changes the logged-in operator's password. The current
// password must be supplied again.
func (h *Handlers) apiPassword(w http.ResponseWriter, r *http.Request) {
	db := h.engine.DB()
	if db == nil {
		jsonError(w, "no operator database", http.StatusServiceUnavailable)
		return
	}
	name := h.operator(r)
	current, next := r.PostFormValue("current"), r.PostFormValue("new")
	if len(next) < 4 {
		jsonError(w, "new password too short", http.StatusBadRequest)
		return
	}
	op, err := db.GetOperator(name)
	if err != nil || !checkPassword(op.PasswordHash, current) {
		jsonError(w, "current password does not match", http.StatusForbidden)
		return
	}
	hash, err := hashPassword(next)
	if err == nil {
		err = db.SetOperatorPassword(name, hash)
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonOK(w, map[string]string{"status": "password changed", "operator": name})
}
