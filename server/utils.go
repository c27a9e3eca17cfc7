package server

import (
	"net/http"
	"strconv"
)

// parseIntQuery returns the integer value of a query parameter, or the
// default when the parameter is absent or malformed.
func parseIntQuery(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
