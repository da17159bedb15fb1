// Package auth guards the admin HTTP surface with a shared bearer token.
//
// Rendezvous clients are never authenticated; only operator endpoints are.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator validates a presented admin token.
type Validator interface {
	Validate(token string) error
}

// StaticToken accepts exactly one configured token. An empty Token denies everything.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(token string) error

func (f FuncValidator) Validate(token string) error {
	return f(token)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Require rejects requests whose bearer token v does not accept.
// Paths listed in open bypass the check.
func Require(v Validator, open ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(open))
	for _, p := range open {
		skip[p] = struct{}{}
	}
	return func(ctx *gin.Context) {
		if _, ok := skip[ctx.Request.URL.Path]; ok {
			ctx.Next()
			return
		}
		token, ok := BearerToken(ctx.GetHeader("Authorization"))
		if !ok || v.Validate(token) != nil {
			ctx.Header("WWW-Authenticate", `Bearer realm="matchctl"`)
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrUnauthorized.Error()})
			return
		}
		ctx.Next()
	}
}
