package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const testSecret = "test-signing-secret"

func signToken(t *testing.T, secret, subject, name string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"name": name,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestVerify(t *testing.T) {
	authCtx, err := NewContext(testSecret)
	if err != nil {
		t.Fatalf("new context: %v", err)
	}

	t.Run("valid token", func(t *testing.T) {
		identity, err := authCtx.Verify(signToken(t, testSecret, "u1", "Jane"))
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		if identity.ID != "u1" || identity.Name != "Jane" {
			t.Fatalf("unexpected identity %+v", identity)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		if _, err := authCtx.Verify(signToken(t, "other-secret", "u1", "Jane")); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("want ErrInvalidToken, got %v", err)
		}
	})

	t.Run("missing subject", func(t *testing.T) {
		if _, err := authCtx.Verify(signToken(t, testSecret, "", "Jane")); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("want ErrInvalidToken, got %v", err)
		}
	})

	t.Run("empty token", func(t *testing.T) {
		if _, err := authCtx.Verify(""); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("want ErrInvalidToken, got %v", err)
		}
	})
}

func TestSessionLifecycle(t *testing.T) {
	authCtx, err := NewContext(testSecret)
	if err != nil {
		t.Fatalf("new context: %v", err)
	}

	if _, ok := authCtx.Identity(); ok {
		t.Fatal("fresh context should be signed out")
	}
	if _, ok := authCtx.UserID(); ok {
		t.Fatal("fresh context should have no user id")
	}

	raw := signToken(t, testSecret, "u1", "Jane")
	identity, err := authCtx.SetToken(raw)
	if err != nil {
		t.Fatalf("set token: %v", err)
	}
	if identity.ID != "u1" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if token, ok := authCtx.Token(); !ok || token != raw {
		t.Fatal("token not stored")
	}
	if id, ok := authCtx.UserID(); !ok || id != "u1" {
		t.Fatalf("user id not available, got %q %v", id, ok)
	}

	// invalid token must not clobber the current session
	if _, err := authCtx.SetToken("garbage"); err == nil {
		t.Fatal("want error for garbage token")
	}
	if _, ok := authCtx.Identity(); !ok {
		t.Fatal("session lost after rejected token")
	}

	authCtx.Clear()
	if _, ok := authCtx.Identity(); ok {
		t.Fatal("session survived clear")
	}
	if _, ok := authCtx.Token(); ok {
		t.Fatal("token survived clear")
	}
}
