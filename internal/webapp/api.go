package webapp

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"
	"nuha.dev/fleettrack/internal/identity"
	"nuha.dev/fleettrack/internal/model"
	"nuha.dev/fleettrack/internal/pairing"
	"nuha.dev/fleettrack/internal/session"
	"nuha.dev/fleettrack/internal/store"
	"nuha.dev/fleettrack/internal/webapp/fleet"
	"nuha.dev/fleettrack/internal/webapp/usermgmt"
)

type ApiConfig struct {
	ListenAddr   string
	VerifyCSRF   bool
	CookieDomain string
}

type Api struct {
	r        chi.Router
	s        *http.Server
	config   *ApiConfig
	log      log.Logger
	vld      *validator.Validate
	identity *identity.Service
	reg      *session.Registry
}

func NewApi(id *identity.Service, reg *session.Registry, st store.Store, codec *pairing.Codec, devices fleet.Devices, config *ApiConfig) *Api {
	api := &Api{config: config, identity: id, reg: reg}
	api.log = log.DefaultLogger
	api.log.Context = log.NewContext(nil).Str("module", "api-server").Value()
	api.vld = validator.New()
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-XSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.Recoverer)
	disp := NewDispatcher(reg)
	fleet_api := fleet.NewFleetApi(st, codec, devices)
	disp.Add("GetProfile", fleet_api.GetProfile)
	disp.Add("GetVehicle", fleet_api.GetVehicle)
	disp.Add("CreateWsToken", fleet_api.CreateWsToken)
	disp.Add("GetWsToken", fleet_api.GetWsToken)

	disp.Add("GetMyVehicle", fleet_api.GetMyVehicle, model.RoleDriver)
	disp.Add("StartTracking", fleet_api.StartTracking, model.RoleDriver)
	disp.Add("ResumeTracking", fleet_api.ResumeTracking, model.RoleDriver)

	disp.Add("GetVehicles", fleet_api.GetVehicles, model.RoleAdmin)
	disp.Add("GetVehicleConnInfo", fleet_api.GetVehicleConnInfo, model.RoleAdmin)

	user_api := usermgmt.NewUserMgmtApi(st, reg)
	disp.Add("GetUsers", user_api.GetUsers, model.RoleAdmin)
	disp.Add("SetUserRole", user_api.SetUserRole, model.RoleAdmin)
	disp.Add("PurgeSession", user_api.PurgeSession, model.RoleAdmin)

	r.Post("/func/register", api.Register)
	r.Get("/func/verify_email", api.VerifyEmail)
	r.Post("/func/login", api.Login)
	r.Post("/func/logout", api.Logout)
	r.Post("/func/sess_check", api.SessionCheck)
	var final_router chi.Router
	if config.VerifyCSRF {
		final_router = r.With(xsrf_verify)
	} else {
		final_router = r
	}
	final_router.Post("/func/{name}", func(w http.ResponseWriter, r *http.Request) {
		f := chi.URLParam(r, "name")
		if f == "ChangePassword" {
			api.ChangePassword(w, r)
		} else {
			disp.Call(f, w, r)
		}
	})

	api.r = r
	s := &http.Server{
		Addr:           api.config.ListenAddr,
		Handler:        api.r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	api.s = s

	return api
}

func (api *Api) Handler() http.Handler {
	return api.r
}

func (api *Api) Run() error {
	api.log.Info().Msgf("starting api-server on : %s", api.s.Addr)
	err := api.s.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		api.log.Error().Err(err).Msg("")
		return err
	}
	return nil
}

func (api *Api) Shutdown(ctx context.Context) error {
	return api.s.Shutdown(ctx)
}

func xsrf_verify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hsrf := r.Header.Get("X-XSRF-TOKEN")
		ct, err1 := r.Cookie(CsrfCookie)
		var cookie_token string
		if err1 == nil {
			cookie_token = ct.Value
		} else {
			cookie_token = ""
		}
		if err1 != nil || hsrf != cookie_token {
			log.Debug().Err(err1).Str("header_token", hsrf).Str("cookie_token", cookie_token).Msg("mismatched csrf token")
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
