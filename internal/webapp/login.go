package webapp

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"nuha.dev/fleettrack/internal/identity"
	"nuha.dev/fleettrack/internal/model"
	"nuha.dev/fleettrack/internal/util"
)

const (
	SessionCookie = "GSESS"
	CsrfCookie    = "GSURF"
)

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Status     int        `json:"status"`
	Message    string     `json:"message,omitempty"`
	CsrfToken  string     `json:"csrf_token,omitempty"`
	ValidUntil time.Time  `json:"valid_until,omitempty"`
	UserId     string     `json:"user_id,omitempty"`
	Role       model.Role `json:"role,omitempty"`
}

// userError returns the message of an identity failure the user can act on.
// Anything else is not handled here.
func userError(err error) (string, bool) {
	var ierr *identity.Error
	if errors.As(err, &ierr) && ierr.Code != identity.CodeInternal {
		return ierr.Error(), true
	}
	return "", false
}

func login_success_setCookie(w http.ResponseWriter, sessionId, csrfToken, domain string, validUntil time.Time) {
	http.SetCookie(w, &http.Cookie{
		Domain:   domain,
		SameSite: http.SameSiteLaxMode,
		HttpOnly: true,
		Name:     SessionCookie,
		Value:    sessionId,
		Path:     "/func",
		Expires:  validUntil,
	})

	http.SetCookie(w, &http.Cookie{
		Domain:   domain,
		SameSite: http.SameSiteLaxMode,
		HttpOnly: true,
		Name:     CsrfCookie,
		Value:    csrfToken,
		Path:     "/func",
		Expires:  validUntil,
	})
}

func clearSessionCookie(w http.ResponseWriter, domain string) {
	http.SetCookie(w, &http.Cookie{
		Domain:   domain,
		Secure:   true,
		HttpOnly: true,
		Name:     SessionCookie,
		Value:    "",
		Path:     "/func",
		Expires:  time.Unix(0, 0),
	})
}

func (api *Api) Login(w http.ResponseWriter, r *http.Request) {
	req_body := LoginRequest{}
	err := json.NewDecoder(r.Body).Decode(&req_body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = api.vld.Struct(req_body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c, err := api.identity.SignIn(r.Context(), req_body.Email, req_body.Password)
	if err != nil {
		msg, ok := userError(err)
		if !ok {
			panic(err)
		}
		util.JsonWrite(w, LoginResponse{Status: -1, Message: msg})
		return
	}
	login_success_setCookie(w, c.SessionId, c.CsrfToken, api.config.CookieDomain, c.ValidUntil)
	util.JsonWrite(w, LoginResponse{
		Status:     0,
		CsrfToken:  c.CsrfToken,
		ValidUntil: c.ValidUntil,
		UserId:     c.UserId,
		Role:       c.Role(),
	})
}
