package devapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

func TestResolveOrigins(t *testing.T) {
	origins, allowAll, err := resolveOrigins([]string{"https://B.example.com/", " 8081", ":19006", "http://localhost:8081", ""})
	if err != nil || allowAll {
		t.Fatalf("unexpected result: %v allowAll=%t", err, allowAll)
	}
	expected := []string{"https://b.example.com", "http://localhost:8081", "http://localhost:19006"}
	if len(origins) != len(expected) {
		t.Fatalf("unexpected origins %v", origins)
	}
	for index := range expected {
		if origins[index] != expected[index] {
			t.Fatalf("unexpected origins %v", origins)
		}
	}

	if _, allowAll, err := resolveOrigins([]string{"https://a.example.com", "*"}); err != nil || !allowAll {
		t.Fatalf("expected wildcard to allow every origin, got %t %v", allowAll, err)
	}

	invalid := [][]string{
		{"example.com"},
		{"https://example.com/app"},
		{"https://example.com?x=1"},
		{"ftp://example.com"},
		{"70000"},
	}
	for _, entries := range invalid {
		if _, _, err := resolveOrigins(entries); !errors.Is(err, errInvalidOrigin) {
			t.Fatalf("expected invalid origin for %v, got %v", entries, err)
		}
	}
	if _, _, err := resolveOrigins([]string{" "}); !errors.Is(err, errEmptyAllowedOrigins) {
		t.Fatalf("expected empty origins error, got %v", err)
	}
}

func TestIsLoopbackOrigin(t *testing.T) {
	cases := map[string]bool{
		"http://localhost:8081": true,
		"http://127.0.0.1:3000": true,
		"http://[::1]:3000":     true,
		"https://app.example":   false,
	}
	for origin, expected := range cases {
		if isLoopbackOrigin(origin) != expected {
			t.Fatalf("isLoopbackOrigin(%q) != %t", origin, expected)
		}
	}
}

func TestConfigureCORSAllowsAuthorizationHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	middleware, err := ConfigureCORS(zaptest.NewLogger(t), []string{"http://localhost:3000"})
	if err != nil {
		t.Fatalf("configure error: %v", err)
	}
	router := gin.New()
	router.Use(middleware)
	router.GET("/api/stats", func(contextGin *gin.Context) { contextGin.Status(http.StatusOK) })

	request := httptest.NewRequest(http.MethodOptions, "/api/stats", nil)
	request.Header.Set("Origin", "http://localhost:3000")
	request.Header.Set("Access-Control-Request-Method", http.MethodGet)
	request.Header.Set("Access-Control-Request-Headers", "Authorization")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204, got %d", recorder.Code)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}
