package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/keygate/keygate/internal/model"
	sqlstore "github.com/keygate/keygate/internal/storage/sql"
)

func newTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	store, err := sqlstore.New("sqlite", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestAuth(t *testing.T) *AuthService {
	t.Helper()
	return NewAuthService(newTestStore(t), "test-secret-key-for-jwt", time.Hour)
}

func TestJWTRoundTrip(t *testing.T) {
	auth := newTestAuth(t)
	ctx := context.Background()

	// Issue a token
	token, err := auth.IssueJWT(ctx, 42, "admin@example.com", 1*time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	// Validate the token
	principal, err := auth.ValidateJWT(ctx, token)
	if err != nil {
		t.Fatalf("ValidateJWT: %v", err)
	}
	if principal.AdminID != 42 {
		t.Errorf("AdminID: got %d, want 42", principal.AdminID)
	}
	if principal.Email != "admin@example.com" {
		t.Errorf("Email: got %q, want %q", principal.Email, "admin@example.com")
	}
}

func TestJWTExpired(t *testing.T) {
	auth := newTestAuth(t)
	ctx := context.Background()

	// Issue a token with negative TTL (already expired)
	token, err := auth.IssueJWT(ctx, 1, "test@test.com", -1*time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}

	_, err = auth.ValidateJWT(ctx, token)
	if err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestJWTInvalidToken(t *testing.T) {
	auth := newTestAuth(t)
	ctx := context.Background()

	_, err := auth.ValidateJWT(ctx, "garbage.token.here")
	if err == nil {
		t.Fatal("expected error for invalid token")
	}
}

func TestJWTWrongSecret(t *testing.T) {
	auth := newTestAuth(t)
	other := NewAuthService(newTestStore(t), "a-different-secret", time.Hour)
	ctx := context.Background()

	token, err := other.IssueJWT(ctx, 1, "x@example.com", time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}
	if _, err := auth.ValidateJWT(ctx, token); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAdminLogin(t *testing.T) {
	auth := newTestAuth(t)
	ctx := context.Background()

	admin, err := auth.CreateAdmin(ctx, "  Ops@Example.com ", "correct-horse", "Ops")
	if err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	if admin.Email != "ops@example.com" {
		t.Errorf("email not normalized: %q", admin.Email)
	}
	if admin.PasswordHash == "correct-horse" {
		t.Fatal("password stored in plaintext")
	}

	token, got, err := auth.Login(ctx, "ops@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got.ID != admin.ID {
		t.Errorf("Login returned admin %d, want %d", got.ID, admin.ID)
	}
	principal, err := auth.ValidateJWT(ctx, token)
	if err != nil {
		t.Fatalf("ValidateJWT: %v", err)
	}
	if principal.AdminID != admin.ID {
		t.Errorf("AdminID: got %d, want %d", principal.AdminID, admin.ID)
	}

	if _, _, err := auth.Login(ctx, "ops@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := auth.Login(ctx, "nobody@example.com", "correct-horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown admin: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestCreateAdminValidation(t *testing.T) {
	auth := newTestAuth(t)
	ctx := context.Background()

	var ve *model.ValidationError
	if _, err := auth.CreateAdmin(ctx, "not-an-email", "long-enough", ""); !errors.As(err, &ve) {
		t.Errorf("bad email: expected ValidationError, got %v", err)
	}
	if _, err := auth.CreateAdmin(ctx, "a@example.com", "short", ""); !errors.As(err, &ve) {
		t.Errorf("short password: expected ValidationError, got %v", err)
	}
}
