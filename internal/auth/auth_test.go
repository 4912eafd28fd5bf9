package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func setSecret(t *testing.T, value string) {
	t.Helper()
	t.Setenv("WAPOS_AUTH_SECRET", value)
	ResetSecretCache()
	t.Cleanup(ResetSecretCache)
}

func TestGenerateAndParseRoundTrip(t *testing.T) {
	setSecret(t, "test-secret")

	token, err := GenerateToken("u1", " Admin ", time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "u1" {
		t.Fatalf("want subject u1, got %q", claims.Subject)
	}
	if claims.Role != "admin" {
		t.Fatalf("role must be normalized, got %q", claims.Role)
	}
	if claims.ID == "" {
		t.Fatal("token must carry a jti")
	}
}

func TestGenerateValidatesInput(t *testing.T) {
	setSecret(t, "test-secret")

	if _, err := GenerateToken("", "admin", time.Minute); err == nil {
		t.Fatal("empty user must be rejected")
	}
	if _, err := GenerateToken("u1", "admin", 0); err == nil {
		t.Fatal("zero ttl must be rejected")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	setSecret(t, "test-secret")

	for _, token := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: want ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestParseRejectsExpired(t *testing.T) {
	setSecret(t, "test-secret")

	token, err := GenerateToken("u1", "cashier", time.Millisecond)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token must fail, got %v", err)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	setSecret(t, "secret-a")
	token, err := GenerateToken("u1", "cashier", time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	setSecret(t, "secret-b")
	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign signature must fail, got %v", err)
	}
}

func TestMissingSecret(t *testing.T) {
	setSecret(t, "")

	if _, err := GenerateToken("u1", "cashier", time.Minute); err == nil {
		t.Fatal("missing secret must fail token generation")
	}
}

func TestActorContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := ActorFromContext(ctx); ok {
		t.Fatal("empty context must not carry an actor")
	}

	ctx = ContextWithActor(ctx, Actor{UserID: "u1", Role: "manager"})
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID != "u1" || actor.Role != "manager" {
		t.Fatalf("want stored actor, got %+v ok=%t", actor, ok)
	}
}

func TestTokenHasThreeSegments(t *testing.T) {
	setSecret(t, "test-secret")
	token, err := GenerateToken("u1", "cashier", time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Fatalf("want a compact jwt, got %d segments", len(parts))
	}
}
