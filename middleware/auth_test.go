package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, secret []byte, actor string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &ServiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Actor: actor,
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString() failed: %v", err)
	}
	return signed
}

func protected(t *testing.T) (http.Handler, *ServiceClaims) {
	t.Helper()
	claims := &ServiceClaims{}
	handler := AuthServiceToken(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := r.Context().Value(ClaimsContextKey).(*ServiceClaims)
		if !ok {
			t.Error("claims missing from request context")
			return
		}
		*claims = *got
		w.WriteHeader(http.StatusOK)
	}))
	return handler, claims
}

func TestAuthServiceToken_ValidToken(t *testing.T) {
	handler, claims := protected(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "automation"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if claims.Actor != "automation" {
		t.Errorf("Actor = %q, want %q", claims.Actor, "automation")
	}
}

func TestAuthServiceToken_MissingHeader(t *testing.T) {
	handler, _ := protected(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuthServiceToken_MalformedHeader(t *testing.T) {
	handler, _ := protected(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuthServiceToken_WrongSecret(t *testing.T) {
	handler, _ := protected(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, []byte("other-secret"), "automation"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestParseServiceToken_ExpiredToken(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &ServiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
		Actor: "automation",
	})
	signed, err := token.SignedString(testSecret)
	if err != nil {
		t.Fatalf("SignedString() failed: %v", err)
	}

	if _, err := ParseServiceToken(signed, testSecret); err == nil {
		t.Error("ParseServiceToken() accepted an expired token")
	}
}
