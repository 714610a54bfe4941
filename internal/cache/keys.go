package cache

import (
	"fmt"
	"time"
)

// RateLimitKey names the counter for one user in the window containing t.
func RateLimitKey(user string, t time.Time, window time.Duration) string {
	return fmt.Sprintf("ratelimit:%s:%d", user, t.Truncate(window).Unix())
}
