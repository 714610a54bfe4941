package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const userKey contextKey = "user"

func SetUser(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, userKey, username)
}

func GetUser(r *http.Request) (string, bool) {
	user, ok := r.Context().Value(userKey).(string)
	return user, ok && user != ""
}
