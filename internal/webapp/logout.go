package webapp

import (
	"net/http"
)

func (api *Api) Logout(w http.ResponseWriter, r *http.Request) {
	clearSessionCookie(w, api.config.CookieDomain)
	ck, err := r.Cookie(SessionCookie)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = api.identity.SignOut(r.Context(), ck.Value)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
