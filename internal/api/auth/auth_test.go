package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/register", h.Register)
	r.POST("/api/login", h.Login)
	r.POST("/api/verify", h.VerifyEmail)
	r.POST("/api/resend", h.ResendCode)
	return r
}

func post(t *testing.T, r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegister_ValidationRejectsBadPayloads(t *testing.T) {
	r := newRouter(NewHandler(nil, nil, nil))

	cases := []struct {
		name string
		body string
	}{
		{"empty body", `{}`},
		{"short name", `{"name":"ab","email":"a@b.com","password":"secreta"}`},
		{"bad email", `{"name":"Ana","email":"no-es-correo","password":"secreta"}`},
		{"short password", `{"name":"Ana","email":"a@b.com","password":"12345"}`},
		{"not json", `nombre=Ana`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := post(t, r, "/api/register", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), `"success":false`) {
				t.Fatalf("error responses must carry success=false: %s", w.Body.String())
			}
		})
	}
}

func TestLogin_ValidationRejectsBadPayloads(t *testing.T) {
	r := newRouter(NewHandler(nil, nil, nil))

	for _, body := range []string{`{}`, `{"email":"a@b.com"}`, `{"password":"secreta"}`} {
		w := post(t, r, "/api/login", body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", body, w.Code)
		}
	}
}

func TestVerify_ValidationRejectsBadPayloads(t *testing.T) {
	r := newRouter(NewHandler(nil, nil, nil))

	w := post(t, r, "/api/verify", `{"email":"a@b.com"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing code must be 400, got %d", w.Code)
	}
	w = post(t, r, "/api/resend", `{"email":"no-es-correo"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad email must be 400, got %d", w.Code)
	}
}

func TestGenerateCode(t *testing.T) {
	code, err := generateCode(6)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected 6 digits, got %q", code)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Fatalf("code must be numeric, got %q", code)
		}
	}

	if _, err := generateCode(0); err == nil {
		t.Fatal("expected error for zero length")
	}
}
