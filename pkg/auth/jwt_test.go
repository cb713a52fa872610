package auth

import (
	"testing"
	"time"
)

func TestAccessToken_RoundTrip(t *testing.T) {
	token, err := NewAccessToken(42, "alice", "user", "secret", time.Hour)
	if err != nil {
		t.Fatalf("NewAccessToken: %v", err)
	}

	claims, err := Parse(token, "secret")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Sub != 42 || claims.Username != "alice" || claims.Role != "user" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParse_WrongSecret(t *testing.T) {
	token, err := NewAccessToken(1, "alice", "user", "secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(token, "other-secret"); err == nil {
		t.Fatal("expected signature verification to fail")
	}
}

func TestParse_Expired(t *testing.T) {
	token, err := NewAccessToken(1, "alice", "user", "secret", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(token, "secret"); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}
