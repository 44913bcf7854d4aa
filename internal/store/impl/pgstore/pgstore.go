package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
	"nuha.dev/fleettrack/internal/events"
	"nuha.dev/fleettrack/internal/model"
	"nuha.dev/fleettrack/internal/store"
)

type Store struct {
	db  *pgxpool.Pool
	ev  events.Emitter
	log log.Logger
}

func NewStore(db *pgxpool.Pool, ev events.Emitter) *Store {
	if ev == nil {
		ev = events.Discard{}
	}
	o := &Store{db: db, ev: ev}
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "pgstore").Value()
	return o
}

func (st *Store) ApplySchema(ctx context.Context) error {
	_, err := st.db.Exec(ctx, Schema)
	return err
}

const vehicleColumns = `vehicle_number,user_id,name,goods_type,goods_amount,current_location`

func scanVehicle(row pgx.Row) (model.Vehicle, error) {
	v := model.Vehicle{}
	var loc []byte
	err := row.Scan(&v.VehicleNumber, &v.UserId, &v.Name, &v.GoodsType, &v.GoodsAmount, &loc)
	if err != nil {
		return model.Vehicle{}, err
	}
	if loc != nil {
		v.CurrentLocation = &model.Location{}
		err = json.Unmarshal(loc, v.CurrentLocation)
		if err != nil {
			return model.Vehicle{}, err
		}
	}
	return v, nil
}

func (st *Store) queryVehicles(ctx context.Context, sql string, args ...interface{}) ([]model.Vehicle, error) {
	rows, err := st.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]model.Vehicle, 0)
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func (st *Store) GetVehicles(ctx context.Context) ([]model.Vehicle, error) {
	return st.queryVehicles(ctx, `SELECT `+vehicleColumns+` FROM vehicles ORDER BY vehicle_number`)
}

func (st *Store) GetVehiclesByUser(ctx context.Context, uid string) ([]model.Vehicle, error) {
	return st.queryVehicles(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE user_id = $1 ORDER BY vehicle_number`, uid)
}

func (st *Store) GetVehicle(ctx context.Context, number string) (model.Vehicle, error) {
	v, err := scanVehicle(st.db.QueryRow(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE vehicle_number = $1`, number))
	if err == pgx.ErrNoRows {
		return model.Vehicle{}, store.ErrNotFound
	}
	return v, err
}

func (st *Store) MergeVehicle(ctx context.Context, number string, p *model.VehiclePatch) (model.Vehicle, error) {
	check := model.Vehicle{VehicleNumber: number}
	p.Apply(&check)
	err := model.ValidateVehicle(&check)
	if err != nil {
		return model.Vehicle{}, err
	}
	var loc interface{}
	if p.CurrentLocation != nil {
		b, err := json.Marshal(p.CurrentLocation)
		if err != nil {
			return model.Vehicle{}, err
		}
		loc = string(b)
	}
	sqlStmt := `INSERT INTO vehicles (` + vehicleColumns + `)
	VALUES ($1,COALESCE($2::text,''),COALESCE($3::text,''),COALESCE($4::text,''),COALESCE($5::text,''),$6::jsonb)
	ON CONFLICT (vehicle_number) DO UPDATE SET
	user_id = COALESCE($2::text,vehicles.user_id),
	name = COALESCE($3::text,vehicles.name),
	goods_type = COALESCE($4::text,vehicles.goods_type),
	goods_amount = COALESCE($5::text,vehicles.goods_amount),
	current_location = COALESCE($6::jsonb,vehicles.current_location),
	updated_at = now()
	RETURNING ` + vehicleColumns
	v, err := scanVehicle(st.db.QueryRow(ctx, sqlStmt, number, p.UserId, p.Name, p.GoodsType, p.GoodsAmount, loc))
	if err != nil {
		return model.Vehicle{}, err
	}
	st.ev.Emit(ctx, events.VehicleChanged, v)
	return v, nil
}

func scanUser(row pgx.Row) (model.User, error) {
	u := model.User{}
	var role string
	err := row.Scan(&u.Id, &role, &u.Name, &u.Email, &u.CreatedAt)
	if err == pgx.ErrNoRows {
		return model.User{}, store.ErrNotFound
	} else if err != nil {
		return model.User{}, err
	}
	u.Role = model.Role(role)
	return u, nil
}

func (st *Store) GetUsers(ctx context.Context) ([]model.User, error) {
	rows, err := st.db.Query(ctx, `SELECT id,role,name,email,created_at FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (st *Store) GetUser(ctx context.Context, id string) (model.User, error) {
	return scanUser(st.db.QueryRow(ctx, `SELECT id,role,name,email,created_at FROM users WHERE id = $1`, id))
}

func (st *Store) SetUserRole(ctx context.Context, id string, role model.Role) (model.User, error) {
	if !role.Valid() {
		return model.User{}, errors.New("invalid role " + string(role))
	}
	u, err := scanUser(st.db.QueryRow(ctx, `UPDATE users SET role = $1 WHERE id = $2 RETURNING id,role,name,email,created_at`, string(role), id))
	if err != nil {
		return model.User{}, err
	}
	st.ev.Emit(ctx, events.UserChanged, u)
	return u, nil
}

func (st *Store) CreateAccount(ctx context.Context, acc store.Account, user model.User) error {
	err := model.ValidateUser(&user)
	if err != nil {
		return err
	}
	tx, err := st.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	_, err = tx.Exec(ctx, `INSERT INTO users (id,role,name,email,created_at) VALUES ($1,$2,$3,$4,$5)`,
		user.Id, string(user.Role), user.Name, user.Email, user.CreatedAt)
	if err != nil {
		return err
	}
	var token interface{}
	if acc.VerifyToken != "" {
		token = acc.VerifyToken
	}
	_, err = tx.Exec(ctx, `INSERT INTO account (user_id,email,password,verified,verify_token) VALUES ($1,$2,$3,$4,$5)`,
		acc.UserId, strings.ToLower(acc.Email), acc.PasswordHash, acc.Verified, token)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == "account_email_key" {
				return store.ErrEmailInUse
			}
		}
		return err
	}
	err = tx.Commit(ctx)
	if err != nil {
		return err
	}
	st.ev.Emit(ctx, events.UserChanged, user)
	return nil
}

func scanAccount(row pgx.Row) (store.Account, error) {
	acc := store.Account{}
	var token *string
	err := row.Scan(&acc.UserId, &acc.Email, &acc.PasswordHash, &acc.Verified, &token, &acc.CreatedAt)
	if err == pgx.ErrNoRows {
		return store.Account{}, store.ErrNotFound
	} else if err != nil {
		return store.Account{}, err
	}
	if token != nil {
		acc.VerifyToken = *token
	}
	return acc, nil
}

const accountColumns = `user_id,email,password,verified,verify_token,created_at`

func (st *Store) GetAccountByEmail(ctx context.Context, email string) (store.Account, error) {
	return scanAccount(st.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM account WHERE email = $1`, strings.ToLower(email)))
}

func (st *Store) VerifyEmail(ctx context.Context, token string) (store.Account, error) {
	return scanAccount(st.db.QueryRow(ctx, `UPDATE account SET verified = true, verify_token = NULL
	WHERE verify_token = $1 RETURNING `+accountColumns, token))
}

func (st *Store) SetPassword(ctx context.Context, uid string, hash string) error {
	ct, err := st.db.Exec(ctx, `UPDATE account SET password = $1 WHERE user_id = $2`, hash, uid)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return store.ErrNotFound
	}
	return nil
}

func (st *Store) CreateSession(ctx context.Context, s store.Session) error {
	_, err := st.db.Exec(ctx, `INSERT INTO session (session_id,user_id,csrf_token,valid_until) VALUES ($1,$2,$3,$4)`,
		s.Id, s.UserId, s.CsrfToken, s.ValidUntil)
	return err
}

func (st *Store) GetSession(ctx context.Context, sid string) (store.Session, error) {
	s := store.Session{}
	err := st.db.QueryRow(ctx, `SELECT session_id,user_id,csrf_token,valid_until FROM session
	WHERE session_id = $1 AND valid_until > now()`, sid).Scan(&s.Id, &s.UserId, &s.CsrfToken, &s.ValidUntil)
	if err == pgx.ErrNoRows {
		return store.Session{}, store.ErrNotFound
	}
	return s, err
}

func (st *Store) DeleteSession(ctx context.Context, sid string) error {
	ct, err := st.db.Exec(ctx, `DELETE FROM session WHERE session_id = $1`, sid)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return store.ErrNotFound
	}
	return nil
}

func (st *Store) DeleteUserSessions(ctx context.Context, uid string) error {
	_, err := st.db.Exec(ctx, `DELETE FROM session WHERE user_id = $1`, uid)
	return err
}

func (st *Store) PutWsToken(ctx context.Context, sid string, token string) error {
	_, err := st.db.Exec(ctx, `INSERT INTO websocket_session (ws_token,session_id) VALUES ($1,$2)
	ON CONFLICT (session_id) DO UPDATE SET ws_token = $1`, token, sid)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return store.ErrNotFound
		}
	}
	return err
}

func (st *Store) GetWsToken(ctx context.Context, sid string) (string, error) {
	var token string
	err := st.db.QueryRow(ctx, `SELECT ws_token FROM websocket_session WHERE session_id = $1`, sid).Scan(&token)
	if err == pgx.ErrNoRows {
		return "", store.ErrNotFound
	}
	return token, err
}

func (st *Store) SessionByWsToken(ctx context.Context, token string) (store.Session, error) {
	s := store.Session{}
	err := st.db.QueryRow(ctx, `SELECT session.session_id,session.user_id,session.csrf_token,session.valid_until
	FROM websocket_session INNER JOIN session ON websocket_session.session_id = session.session_id
	WHERE websocket_session.ws_token = $1
	AND session.valid_until > now()`, token).Scan(&s.Id, &s.UserId, &s.CsrfToken, &s.ValidUntil)
	if err == pgx.ErrNoRows {
		return store.Session{}, store.ErrNotFound
	}
	return s, err
}

func (st *Store) CreatePairing(ctx context.Context, p store.Pairing) (int64, error) {
	var id int64
	err := st.db.QueryRow(ctx, `INSERT INTO pairing (user_id,vehicle_number,name,goods_type,goods_amount,location_only)
	VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, p.UserId, p.VehicleNumber, p.Name, p.GoodsType, p.GoodsAmount, p.LocationOnly).Scan(&id)
	return id, err
}

func (st *Store) GetPairing(ctx context.Context, id int64) (store.Pairing, error) {
	p := store.Pairing{}
	err := st.db.QueryRow(ctx, `SELECT id,user_id,vehicle_number,name,goods_type,goods_amount,location_only,created_at FROM pairing WHERE id = $1`, id).
		Scan(&p.Id, &p.UserId, &p.VehicleNumber, &p.Name, &p.GoodsType, &p.GoodsAmount, &p.LocationOnly, &p.CreatedAt)
	if err == pgx.ErrNoRows {
		return store.Pairing{}, store.ErrNotFound
	}
	return p, err
}

var _ store.Store = (*Store)(nil)
