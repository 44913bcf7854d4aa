package main

import (
	"context"
	"flag"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
	"nuha.dev/fleettrack/internal/config"
	"nuha.dev/fleettrack/internal/model"
	"nuha.dev/fleettrack/internal/store"
	"nuha.dev/fleettrack/internal/store/impl/pgstore"
	"nuha.dev/fleettrack/internal/util"
)

var configFile = flag.String("config", "", "config file")
var email = flag.String("email", "", "admin email, no admin is created when empty")
var password = flag.String("password", "", "admin password")
var name = flag.String("name", "Admin", "admin display name")

func main() {
	flag.Parse()
	conf, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	ctx := context.Background()
	pool, err := pgxpool.Connect(ctx, conf.DbURL)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to connect to database")
	}
	defer pool.Close()
	st := pgstore.NewStore(pool, nil)
	err = st.ApplySchema(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to apply schema")
	}
	log.Info().Msg("schema applied")

	if *email == "" {
		return
	}
	if len(*password) < 6 {
		log.Fatal().Msg("admin password must be at least 6 characters")
	}
	u := model.User{Id: util.GenUUID(), Role: model.RoleAdmin, Name: *name, Email: *email, CreatedAt: time.Now().UTC()}
	acc := store.Account{
		UserId:       u.Id,
		Email:        *email,
		PasswordHash: util.CryptPwd(*password),
		Verified:     true,
		CreatedAt:    u.CreatedAt,
	}
	err = st.CreateAccount(ctx, acc, u)
	if err != nil {
		log.Fatal().Err(err).Str("email", *email).Msg("unable to create admin")
	}
	log.Info().Str("user_id", u.Id).Str("email", *email).Msg("admin created")
}
