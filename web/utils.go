package web

import (
	"encoding/json"
	"net"
	"net/http"
	"regexp"
	"strings"

	"obuoy/core"

	"go.uber.org/zap"
)

var (
	connectionStringPattern = regexp.MustCompile(`(?:mongodb(?:\+srv)?|redis)://[^\s"']+`)
	privateIPPattern        = regexp.MustCompile(`\b(?:10|127)(?:\.\d{1,3}){3}(?::\d{1,5})?\b|\b192\.168(?:\.\d{1,3}){2}(?::\d{1,5})?\b|\b172\.(?:1[6-9]|2[0-9]|3[01])(?:\.\d{1,3}){2}(?::\d{1,5})?\b`)
	secretPattern           = regexp.MustCompile(`(?i)(password|secret|token|key)[:=]\s*["']?[^"'\s]+["']?`)
	controlCharPattern      = regexp.MustCompile(`[\x00-\x1F\x7F]`)
)

// sanitizeErrorMessage removes sensitive information from error messages before sending to clients
func sanitizeErrorMessage(message string) string {
	message = connectionStringPattern.ReplaceAllString(message, "[DATABASE_CONNECTION]")
	message = privateIPPattern.ReplaceAllString(message, "[PRIVATE_IP]")
	message = secretPattern.ReplaceAllString(message, "$1=[REDACTED]")

	if len(message) > core.MaxErrorMessageLength {
		message = message[:core.MaxErrorMessageLength-3] + "..."
	}
	return message
}

// sanitizeLogValue prevents log injection from user supplied values
func sanitizeLogValue(value string) string {
	value = strings.ReplaceAll(value, "\n", "\\n")
	value = strings.ReplaceAll(value, "\r", "\\r")
	return controlCharPattern.ReplaceAllString(value, "")
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError logs the full error and writes a sanitized JSON error response
func writeError(w http.ResponseWriter, r *http.Request, statusCode int, message string, err error, logger *zap.SugaredLogger) {
	requestID := GetRequestID(r.Context())
	if logger != nil {
		fields := []interface{}{
			"status_code", statusCode,
			"request_id", requestID,
			"path", r.URL.Path,
		}
		if err != nil {
			fields = append(fields, "error", err.Error())
		}
		if statusCode >= http.StatusInternalServerError {
			logger.Errorw(message, fields...)
		} else {
			logger.Warnw(message, fields...)
		}
	}

	writeJSON(w, statusCode, errorResponse{
		Error:     sanitizeErrorMessage(message),
		RequestID: requestID,
	})
}

// writeJSON writes v as a JSON response
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// getRealIP extracts the client IP, honoring forwarding headers only from trusted proxies
func getRealIP(r *http.Request, trustProxy bool, trustedNetworks []string) string {
	directIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		directIP = r.RemoteAddr
	}
	if !trustProxy || !isTrustedProxy(directIP, trustedNetworks) {
		return directIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(ip) != nil {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" && net.ParseIP(xri) != nil {
		return xri
	}
	return directIP
}

// isTrustedProxy checks if an IP address is in the list of trusted proxy networks
func isTrustedProxy(ip string, trustedNetworks []string) bool {
	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return false
	}

	for _, network := range trustedNetworks {
		if strings.Contains(network, "/") {
			_, ipNet, err := net.ParseCIDR(network)
			if err == nil && ipNet.Contains(parsedIP) {
				return true
			}
		} else if network == ip {
			return true
		}
	}
	return false
}

// isHTTPS reports whether the client reached us over TLS, directly or via a
// trusted proxy
func isHTTPS(r *http.Request, trustProxy bool, trustedNetworks []string) bool {
	if r.TLS != nil {
		return true
	}
	if !trustProxy {
		return false
	}
	directIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		directIP = r.RemoteAddr
	}
	if !isTrustedProxy(directIP, trustedNetworks) {
		return false
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
