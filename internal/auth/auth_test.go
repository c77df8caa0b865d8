package auth

import (
	"errors"
	"testing"

	"github.com/danmuck/lockstep/internal/testutil/testlog"
)

func TestStaticTokenValidate(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		stored  StaticToken
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.stored.Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	testlog.Start(t)
	if got, err := BearerToken("bearer  s3cret "); err != nil || got != "s3cret" {
		t.Fatalf("unexpected token=%q err=%v", got, err)
	}
	for _, header := range []string{"", "s3cret", "Basic s3cret", "Bearer "} {
		if _, err := BearerToken(header); !errors.Is(err, ErrMissingToken) {
			t.Fatalf("header=%q expected ErrMissingToken, got %v", header, err)
		}
	}
}

func TestCheck(t *testing.T) {
	testlog.Start(t)
	v := StaticToken("s3cret")
	if err := Check(v, "Bearer s3cret"); err != nil {
		t.Fatalf("unexpected err=%v", err)
	}
	if err := Check(v, "Bearer nope"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := Check(v, ""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
}
