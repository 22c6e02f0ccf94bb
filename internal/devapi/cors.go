package devapi

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errEmptyAllowedOrigins = errors.New("cors: no explicit origins provided")
	errInvalidOrigin       = errors.New("cors: invalid origin format")
)

// ConfigureCORS allows browser clients from allowedOrigins to call the API with bearer tokens.
// A "*" entry allows every origin; no cookies are involved, so credentials stay disabled.
func ConfigureCORS(logger *zap.Logger, allowedOrigins []string) (gin.HandlerFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	origins, allowAll, err := resolveOrigins(allowedOrigins)
	if err != nil {
		return nil, err
	}
	if allowAll {
		config.AllowAllOrigins = true
		return cors.New(config), nil
	}
	for _, origin := range origins {
		if !isLoopbackOrigin(origin) {
			logger.Warn("development backend accepts a non-loopback origin",
				zap.String("code", "devapi.cors.remote_origin"),
				zap.String("origin", origin))
		}
	}
	config.AllowOrigins = origins
	return cors.New(config), nil
}

// resolveOrigins normalizes entries in the order given and drops duplicates.
// A bare port such as "8081" or ":8081" stands for http://localhost:<port>,
// where local web bundlers serve the app.
func resolveOrigins(entries []string) ([]string, bool, error) {
	var origins []string
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			return nil, true, nil
		}
		origin, err := normalizeOrigin(entry)
		if err != nil {
			return nil, false, err
		}
		if !slices.Contains(origins, origin) {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return nil, false, errEmptyAllowedOrigins
	}
	return origins, false, nil
}

func normalizeOrigin(entry string) (string, error) {
	if port, err := strconv.Atoi(strings.TrimPrefix(entry, ":")); err == nil {
		if port < 1 || port > 65535 {
			return "", fmt.Errorf("%w: %s port out of range", errInvalidOrigin, entry)
		}
		return "http://localhost:" + strconv.Itoa(port), nil
	}
	parsed, err := url.Parse(entry)
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("%w: %s", errInvalidOrigin, entry)
	}
	if (parsed.Path != "" && parsed.Path != "/") || parsed.RawQuery != "" || parsed.Fragment != "" {
		return "", fmt.Errorf("%w: %s is not a bare origin", errInvalidOrigin, entry)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: %s uses unsupported scheme", errInvalidOrigin, entry)
	}
	return scheme + "://" + strings.ToLower(parsed.Host), nil
}

func isLoopbackOrigin(origin string) bool {
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
