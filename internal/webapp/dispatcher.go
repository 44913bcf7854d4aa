package webapp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"
	"nuha.dev/fleettrack/internal/model"
	"nuha.dev/fleettrack/internal/session"
	"nuha.dev/fleettrack/internal/webapp/common"
)

type Dispatcher struct {
	funcs     map[string]_function
	validator *validator.Validate
	log       log.Logger
	reg       *session.Registry
}

type _function struct {
	reqType reflect.Type
	resType reflect.Type
	handler reflect.Value
	roles   []model.Role
}

// has_role is true when roles is empty or holds the session's current role.
func has_role(s *session.Context, roles []model.Role) bool {
	if len(roles) == 0 {
		return true
	}
	return s.HasRole(roles...)
}

func NewDispatcher(reg *session.Registry) *Dispatcher {
	d := &Dispatcher{}
	d.funcs = make(map[string]_function)
	d.validator = validator.New()
	d.reg = reg
	d.log = log.DefaultLogger
	d.log.Context = log.NewContext(nil).Str("module", "dispatcher").Value()
	return d
}

func (disp *Dispatcher) Call(funcname string, w http.ResponseWriter, r *http.Request) {
	sid, err := r.Cookie(SessionCookie)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	user_session, err := disp.reg.Get(r.Context(), sid.Value)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	_func, ok := disp.funcs[funcname]
	if !ok {
		http.Error(w, fmt.Sprintf("function \"%s\" not found", funcname), http.StatusNotFound)
		return
	}
	if !has_role(user_session, _func.roles) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	disp.call(_func, user_session, r, w)
}

func (disp *Dispatcher) call(_func _function, user_session *session.Context, r *http.Request, w http.ResponseWriter) {
	var err error
	response := reflect.New(_func.resType)
	var err_ref []reflect.Value
	_ctx := common.WithSession(r.Context(), user_session)
	if _func.reqType != nil {
		request := reflect.New(_func.reqType)
		err := json.NewDecoder(r.Body).Decode(request.Interface())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = disp.validator.Struct(request.Interface())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err_ref = _func.handler.Call([]reflect.Value{reflect.ValueOf(_ctx), request, response})
	} else {
		err_ref = _func.handler.Call([]reflect.Value{reflect.ValueOf(_ctx), response})
	}
	if !err_ref[0].IsNil() {
		panic(err_ref[0].Interface())
	}

	w.Header().Set("Content-Type", "application/json")
	err = json.NewEncoder(w).Encode(response.Interface())
	if err != nil {
		disp.log.Error().Err(err).Msg("")
	}
}

// Add registers f as func(ctx, *Res) error or func(ctx, *Req, *Res) error.
// No roles means any signed-in user.
func (disp *Dispatcher) Add(funcname string, f interface{}, roles ...model.Role) {
	s := _function{}
	s.handler = reflect.ValueOf(f)
	t := s.handler.Type()
	if t.Kind() != reflect.Func || t.NumOut() != 1 || t.In(0) != reflect.TypeOf((*context.Context)(nil)).Elem() {
		panic(fmt.Sprintf("invalid handler for %s", funcname))
	}
	if t.NumIn() == 2 {
		s.reqType = nil
		s.resType = t.In(1).Elem()
	} else {
		s.reqType = t.In(1).Elem()
		s.resType = t.In(2).Elem()
	}
	s.roles = roles
	disp.funcs[funcname] = s
}
