package integration

import (
	"fmt"
	"strings"
	"time"
)

// TestUser generates unique test user credentials using a timestamp
func TestUser(suffix string) (email, username, password string) {
	ts := time.Now().UnixNano()
	email = fmt.Sprintf("test-%d-%s@example.com", ts, suffix)
	username = fmt.Sprintf("user%d%s", ts, suffix)
	password = "TestPassword123!"
	return
}

// ExtractToken pulls the token out of a captured email body.
// Bodies look like "Verification token: {token}".
func ExtractToken(emailBody string) string {
	idx := strings.LastIndex(emailBody, ": ")
	if idx < 0 {
		return ""
	}
	return emailBody[idx+2:]
}
