package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func authRouter(keys []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Auth(keys))
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"identity": c.GetString("api_key")})
	})
	return r
}

func TestAuthOpenAccessWhenNoKeys(t *testing.T) {
	r := authRouter(nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestAuthRejectsMissingAndInvalidKeys(t *testing.T) {
	r := authRouter([]string{"secret"})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no key: status = %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-API-Key", "wrong")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad key: status = %d, want 401", w.Code)
	}
}

func TestAuthAcceptsBothHeaderStyles(t *testing.T) {
	r := authRouter([]string{"secret"})

	for _, set := range []func(*http.Request){
		func(req *http.Request) { req.Header.Set("X-API-Key", "secret") },
		func(req *http.Request) { req.Header.Set("Authorization", "Bearer secret") },
		func(req *http.Request) { req.Header.Set("Authorization", "bearer secret") },
	} {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		set(req)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 (headers %v)", w.Code, req.Header)
		}
	}
}
