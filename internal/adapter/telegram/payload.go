package telegram

import (
	"fmt"
	"strconv"
	"strings"
)

const packagePrefix = "package:"

// PackagePayload encodes a package purchase for an invoice or callback.
// An empty session id means the package is bought without a pending request.
func PackagePayload(sessionID string, size int) string {
	return fmt.Sprintf("%s%s:%d", packagePrefix, sessionID, size)
}

// ParsePackagePayload decodes a payload built by PackagePayload.
func ParsePackagePayload(payload string) (sessionID string, size int, ok bool) {
	if !strings.HasPrefix(payload, packagePrefix) {
		return "", 0, false
	}
	rest := strings.TrimPrefix(payload, packagePrefix)
	i := strings.LastIndex(rest, ":")
	if i < 0 {
		return "", 0, false
	}
	size, err := strconv.Atoi(rest[i+1:])
	if err != nil || size <= 0 {
		return "", 0, false
	}
	return rest[:i], size, true
}
