package api

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// SessionPayload is the canonical session record produced by a login or
// refresh call. The user, rights, and login-info records are opaque to
// the auth core; they are stored and surfaced verbatim.
type SessionPayload struct {
	Token     string
	User      json.RawMessage
	Rights    json.RawMessage
	LoginInfo json.RawMessage
}

// HasUser reports whether the payload carries a user record.
func (p *SessionPayload) HasUser() bool {
	return len(p.User) > 0
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RefreshRequest is the body for POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// LogoutRequest is the body for POST /auth/logout.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// APIError is the error body shape returned by the backend.
type APIError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// normalizeSession maps either observed wire shape onto the canonical
// payload. Two backend variants exist: one returns
// {token, user, userRights, loginDetail}, the other
// {accessToken, user, rights, loginInfo}. Neither shape leaks past this
// boundary.
func normalizeSession(raw []byte) *SessionPayload {
	doc := gjson.ParseBytes(raw)

	first := func(paths ...string) gjson.Result {
		for _, p := range paths {
			if v := doc.Get(p); v.Exists() {
				return v
			}
		}

		return gjson.Result{}
	}

	p := &SessionPayload{
		Token: first("token", "accessToken").String(),
	}

	if v := first("user"); v.Exists() {
		p.User = json.RawMessage(v.Raw)
	}

	if v := first("userRights", "rights"); v.Exists() {
		p.Rights = json.RawMessage(v.Raw)
	}

	if v := first("loginDetail", "loginInfo"); v.Exists() {
		p.LoginInfo = json.RawMessage(v.Raw)
	}

	return p
}
