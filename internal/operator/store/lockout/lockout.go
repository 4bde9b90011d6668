// Package lockout counts failed operator logins per username and client IP.
package lockout

import "strings"

const keyPrefix = "operator:lockout:"

// Key scopes failures to one username from one address, so a single noisy
// client cannot lock the operator out everywhere.
func Key(username, clientIP string) string {
	return keyPrefix + strings.ToLower(username) + ":" + clientIP
}
