package auth

import (
	"testing"
	"time"
)

func TestSignAndParseToken(t *testing.T) {
	now := time.Now()
	token, err := SignToken("secret", "alice", "alice@example.com", "Alice", time.Hour, now)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := ParseToken("secret", token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "alice" || claims.Email != "alice@example.com" || claims.Name != "Alice" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, err := ParseToken("other", token); err == nil {
		t.Fatalf("expected signature mismatch")
	}
}

func TestTokenRejectsExpiredAndEmptySecret(t *testing.T) {
	token, err := SignToken("secret", "alice", "", "", time.Minute, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseToken("secret", token); err == nil {
		t.Fatalf("expected expired token to fail")
	}
	if _, err := SignToken("", "alice", "", "", time.Hour, time.Now()); err == nil {
		t.Fatalf("expected empty secret to fail")
	}
	if _, err := SignToken("secret", " ", "", "", time.Hour, time.Now()); err == nil {
		t.Fatalf("expected empty subject to fail")
	}
}

func TestScopes(t *testing.T) {
	if !ServiceScope().Service || ServiceScope().ActorID != ServiceActor {
		t.Fatalf("service scope mismatch")
	}
	if UserScope("bob").Service {
		t.Fatalf("user scope must not be service")
	}
	if (Scope{}).Valid() {
		t.Fatalf("empty scope must be invalid")
	}
}
