package webapp

import (
	"encoding/json"
	"errors"
	"net/http"

	"nuha.dev/fleettrack/internal/store"
	"nuha.dev/fleettrack/internal/util"
	"nuha.dev/fleettrack/internal/webapp/common"
)

type changePwdRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

func (api *Api) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var err error
	ck, err := r.Cookie(SessionCookie)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req_body := changePwdRequest{}
	err = json.NewDecoder(r.Body).Decode(&req_body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = api.vld.Struct(req_body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = api.identity.ChangePassword(r.Context(), ck.Value, req_body.CurrentPassword, req_body.NewPassword)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	} else if err != nil {
		msg, ok := userError(err)
		if !ok {
			panic(err)
		}
		util.JsonWrite(w, common.BasicResponse{Status: -1, Message: msg})
		return
	}

	// every session of the user is gone, including this one
	clearSessionCookie(w, api.config.CookieDomain)
	util.JsonWrite(w, common.BasicResponse{Status: 0})
}
