package bootstrap

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
)

// EnsureDirectory creates dir if needed and verifies it is writable
func EnsureDirectory(dir string, sugar *zap.SugaredLogger) error {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path for %s: %w", dir, err)
	}

	if err := os.MkdirAll(absPath, 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w\n"+
			"  Remediation: Ensure the parent directory exists and is writable\n"+
			"  For Docker: Check volume mount permissions", dir, err)
	}

	testFile := filepath.Join(absPath, ".obuoy_write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0600); err != nil {
		return fmt.Errorf("directory %s is not writable: %w\n"+
			"  Remediation: Check file system permissions\n"+
			"  For Docker: Ensure volume is mounted with write access", dir, err)
	}
	os.Remove(testFile)

	sugar.Infow("Data directory ready", "path", absPath)
	return nil
}

// ClassifyConnectionError provides specific error messages based on the type
// of connection failure
func ClassifyConnectionError(err error, service, addr string) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() || containsIgnoreCase(errStr, "server selection timeout") {
		return fmt.Sprintf("Connection to %s at %s timed out.\n"+
			"  Possible causes:\n"+
			"  - %s is starting up (wait and retry)\n"+
			"  - Network latency or firewall blocking the connection\n"+
			"  Remediation:\n"+
			"  - Check that %s is running\n"+
			"  - Set startup_mode: graceful to serve pages without it", service, addr, service, service)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) ||
			(opErr.Err != nil && (containsIgnoreCase(opErr.Err.Error(), "connection refused") ||
				containsIgnoreCase(opErr.Err.Error(), "actively refused"))) {
			return fmt.Sprintf("Connection refused by %s at %s.\n"+
				"  This usually means %s is not running.\n"+
				"  Remediation:\n"+
				"  - Start it: docker compose up -d\n"+
				"  - Verify the address in config.yaml", service, addr, service)
		}
	}
	if containsIgnoreCase(errStr, "connection refused") {
		return fmt.Sprintf("Connection refused by %s at %s.\n"+
			"  This usually means %s is not running.", service, addr, service)
	}

	if containsIgnoreCase(errStr, "no such host") || containsIgnoreCase(errStr, "lookup") {
		return fmt.Sprintf("Cannot resolve hostname in %s address %s.\n"+
			"  Remediation:\n"+
			"  - Verify the hostname is correct\n"+
			"  - Check DNS configuration", service, addr)
	}

	if containsIgnoreCase(errStr, "authentication") || containsIgnoreCase(errStr, "password") || containsIgnoreCase(errStr, "denied") {
		return fmt.Sprintf("Authentication failed for %s at %s.\n"+
			"  Remediation:\n"+
			"  - Verify the credentials in the connection string\n"+
			"  - Check the secrets provider configuration", service, addr)
	}

	return fmt.Sprintf("Failed to connect to %s at %s: %v\n"+
		"  Remediation:\n"+
		"  - Ensure %s is running and accessible\n"+
		"  - Verify network connectivity", service, addr, err, service)
}

// redactURI drops credentials from a connection string before it is printed
func redactURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "[unparseable uri]"
	}
	if u.User != nil {
		u.User = url.User("redacted")
	}
	return u.Redacted()
}

// containsIgnoreCase checks if a string contains a substring (case-insensitive)
func containsIgnoreCase(s, substr string) bool {
	if len(substr) == 0 {
		return true
	}
	if len(s) < len(substr) {
		return false
	}
	for i := 0; i <= len(s)-len(substr); i++ {
		if equalFoldAt(s, substr, i) {
			return true
		}
	}
	return false
}

func equalFoldAt(s, substr string, start int) bool {
	for i := 0; i < len(substr); i++ {
		c1, c2 := s[start+i], substr[i]
		if c1 == c2 {
			continue
		}
		if 'A' <= c1 && c1 <= 'Z' {
			c1 += 'a' - 'A'
		}
		if 'A' <= c2 && c2 <= 'Z' {
			c2 += 'a' - 'A'
		}
		if c1 != c2 {
			return false
		}
	}
	return true
}
