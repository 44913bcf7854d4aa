package pgstore

// Schema creates every table the store uses. It is safe to apply twice.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id text PRIMARY KEY,
	role text NOT NULL,
	name text NOT NULL DEFAULT '',
	email text NOT NULL DEFAULT '',
	created_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS account (
	user_id text PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	email text NOT NULL,
	password text NOT NULL,
	verified boolean NOT NULL DEFAULT false,
	verify_token text,
	created_at timestamptz NOT NULL DEFAULT now(),
	CONSTRAINT account_email_key UNIQUE (email)
);

CREATE UNIQUE INDEX IF NOT EXISTS account_verify_token_idx ON account (verify_token);

CREATE TABLE IF NOT EXISTS session (
	session_id text PRIMARY KEY,
	user_id text NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	csrf_token text NOT NULL,
	valid_until timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS websocket_session (
	ws_token text NOT NULL UNIQUE,
	session_id text PRIMARY KEY REFERENCES session(session_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS vehicles (
	vehicle_number text PRIMARY KEY,
	user_id text NOT NULL DEFAULT '',
	name text NOT NULL DEFAULT '',
	goods_type text NOT NULL DEFAULT '',
	goods_amount text NOT NULL DEFAULT '',
	current_location jsonb,
	updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS vehicles_user_id_idx ON vehicles (user_id);

CREATE TABLE IF NOT EXISTS pairing (
	id bigserial PRIMARY KEY,
	user_id text NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	vehicle_number text NOT NULL,
	name text NOT NULL,
	goods_type text NOT NULL,
	goods_amount text NOT NULL,
	location_only boolean NOT NULL DEFAULT false,
	created_at timestamptz NOT NULL DEFAULT now()
);
`
