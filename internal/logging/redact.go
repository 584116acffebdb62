package logging

import (
	"net/url"
	"strconv"

	"go.uber.org/zap"
)

// RedactedString creates a zap field carrying only the value's length.
// Used for API keys and tokens.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// MaskURL strips userinfo and obvious credential query parameters from a URL
// before it reaches a log line. Unparseable input is returned as-is: a broken
// URL cannot carry structured credentials.
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	q := u.Query()
	for _, k := range []string{"api_key", "apikey", "token", "key", "secret"} {
		if q.Has(k) {
			q.Set(k, "***")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// URL creates a zap field with a masked URL value.
func URL(key, raw string) zap.Field {
	return zap.String(key, MaskURL(raw))
}
