package common

import (
	"context"

	"nuha.dev/fleettrack/internal/session"
)

type ApiContextKeyType string

const SessionAttribute ApiContextKeyType = "session_attribute"

type BasicResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
}

type StringResponse struct {
	Value string `json:"value"`
}

func WithSession(ctx context.Context, s *session.Context) context.Context {
	return context.WithValue(ctx, SessionAttribute, s)
}

// Session returns the session the dispatcher attached to ctx.
func Session(ctx context.Context) *session.Context {
	s, _ := ctx.Value(SessionAttribute).(*session.Context)
	return s
}
