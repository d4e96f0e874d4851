package auth

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/deskwire/internal/testutil/testlog"
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
				t.Fatalf("Validate err got=%v want=%v", err, tc.wantErr)
			}
		})
	}
}

func TestRequestTokenSources(t *testing.T) {
	testlog.Start(t)

	r := httptest.NewRequest("GET", "/session", nil)
	r.Header.Set("Authorization", "Bearer tok-abc")
	if got := RequestToken(r); got != "tok-abc" {
		t.Fatalf("header token got=%q want=%q", got, "tok-abc")
	}

	r = httptest.NewRequest("GET", "/session?access_token=tok-query", nil)
	if got := RequestToken(r); got != "tok-query" {
		t.Fatalf("query token got=%q want=%q", got, "tok-query")
	}

	r = httptest.NewRequest("GET", "/session", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	if got := RequestToken(r); got != "" {
		t.Fatalf("non-bearer header token got=%q want empty", got)
	}
}

func TestAuthorize(t *testing.T) {
	testlog.Start(t)

	r := httptest.NewRequest("GET", "/session", nil)
	if err := Authorize(nil, r); err != nil {
		t.Fatalf("nil validator should authorize, got %v", err)
	}

	v := StaticToken{Token: "shared"}
	if err := Authorize(v, r); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("missing token err got=%v want=%v", err, ErrUnauthorized)
	}

	r.Header.Set("Authorization", "Bearer shared")
	if err := Authorize(v, r); err != nil {
		t.Fatalf("valid token should authorize, got %v", err)
	}
}

func TestFuncValidator(t *testing.T) {
	testlog.Start(t)

	validator := FuncValidator(func(token string) error {
		if token != "ok" {
			return ErrUnauthorized
		}
		return nil
	})

	if err := validator.Validate("bad"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("bad token err got=%v want=%v", err, ErrUnauthorized)
	}
	if err := validator.Validate("ok"); err != nil {
		t.Fatalf("ok token err got=%v want=nil", err)
	}
}
