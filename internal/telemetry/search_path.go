package telemetry

import (
	"net/url"
	"strings"
)

// withSearchPath adds search_path to a URL or keyword/value DSN. A plain
// "SET search_path" would only apply to whichever pooled connection ran it.
func withSearchPath(dsn, schema string) string {
	if schema == "" {
		return dsn
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return dsn
		}
		q := u.Query()
		q.Set("search_path", schema)
		u.RawQuery = q.Encode()
		return u.String()
	}
	return strings.TrimSpace(dsn) + " search_path=" + schema
}
