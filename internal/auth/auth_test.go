package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/matchctl/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

func TestStaticTokenValidate(t *testing.T) {
	testlog.Start(t)

	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "abc", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := (StaticToken{Token: tc.stored}).Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	testlog.Start(t)

	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{header: "Bearer s3cret", want: "s3cret", ok: true},
		{header: "bearer  s3cret ", want: "s3cret", ok: true},
		{header: "Basic dXNlcg==", ok: false},
		{header: "Bearer", ok: false},
		{header: "Bearer ", ok: false},
		{header: "", ok: false},
	}
	for _, tc := range tests {
		got, ok := BearerToken(tc.header)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("BearerToken(%q) = %q,%v want %q,%v", tc.header, got, ok, tc.want, tc.ok)
		}
	}
}

func TestRequireGuardsAllButOpenPaths(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)

	var seen string
	v := FuncValidator(func(token string) error {
		seen = token
		if token != "ok" {
			return ErrUnauthorized
		}
		return nil
	})

	r := gin.New()
	r.Use(Require(v, "/health"))
	r.GET("/health", func(ctx *gin.Context) { ctx.Status(http.StatusOK) })
	r.GET("/status", func(ctx *gin.Context) { ctx.Status(http.StatusOK) })

	do := func(path, header string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := do("/health", ""); code != http.StatusOK {
		t.Fatalf("open path should pass, got %d", code)
	}
	if code := do("/status", ""); code != http.StatusUnauthorized {
		t.Fatalf("missing token should be rejected, got %d", code)
	}
	if code := do("/status", "Bearer nope"); code != http.StatusUnauthorized {
		t.Fatalf("bad token should be rejected, got %d", code)
	}
	if seen != "nope" {
		t.Fatalf("validator saw %q", seen)
	}
	if code := do("/status", "Bearer ok"); code != http.StatusOK {
		t.Fatalf("good token should pass, got %d", code)
	}
}
