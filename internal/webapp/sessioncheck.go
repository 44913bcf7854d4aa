package webapp

import (
	"encoding/json"
	"net/http"

	"nuha.dev/fleettrack/internal/model"
	"nuha.dev/fleettrack/internal/util"
)

type sessionCheckRequest struct {
	CsrfToken string `json:"csrf_token" validate:"required"`
}

type sessionCheckResponse struct {
	Status bool       `json:"status"`
	Role   model.Role `json:"role,omitempty"`
}

func (api *Api) SessionCheck(w http.ResponseWriter, r *http.Request) {
	req_body := sessionCheckRequest{}
	res_body := sessionCheckResponse{}
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
	ct, err := r.Cookie(CsrfCookie)
	if err != nil || ct.Value != req_body.CsrfToken {
		util.JsonWrite(w, res_body)
		return
	}

	ct, err = r.Cookie(SessionCookie)
	if err != nil {
		util.JsonWrite(w, res_body)
		return
	}

	c, err := api.reg.Get(r.Context(), ct.Value)
	if err != nil || c.CsrfToken != req_body.CsrfToken {
		util.JsonWrite(w, res_body)
		return
	}
	res_body.Status = true
	res_body.Role = c.Role()
	util.JsonWrite(w, res_body)
}
