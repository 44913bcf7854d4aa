package webapp

import (
	"encoding/json"
	"net/http"

	"nuha.dev/fleettrack/internal/identity"
	"nuha.dev/fleettrack/internal/util"
	"nuha.dev/fleettrack/internal/webapp/common"
)

type registerResponse struct {
	common.BasicResponse
	UserId string `json:"user_id,omitempty"`
}

// Register takes its input unvalidated, identity reports missing fields
// with the message the form shows.
func (api *Api) Register(w http.ResponseWriter, r *http.Request) {
	req_body := identity.RegisterRequest{}
	err := json.NewDecoder(r.Body).Decode(&req_body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	u, err := api.identity.Register(r.Context(), req_body)
	if err != nil {
		msg, ok := userError(err)
		if !ok {
			msg = identity.Message(identity.CodeInternal)
		}
		util.JsonWrite(w, registerResponse{BasicResponse: common.BasicResponse{Status: -1, Message: msg}})
		return
	}
	util.JsonWrite(w, registerResponse{
		BasicResponse: common.BasicResponse{Status: 0, Message: "Registration successful. Please verify your email before logging in."},
		UserId:        u.Id,
	})
}

func (api *Api) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	err := api.identity.VerifyEmail(r.Context(), token)
	if err != nil {
		msg, ok := userError(err)
		if !ok {
			panic(err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		util.JsonWrite(w, common.BasicResponse{Status: -1, Message: msg})
		return
	}
	util.JsonWrite(w, common.BasicResponse{Status: 0, Message: "Email verified. You can now log in."})
}
