package mw

import (
	"net/http"
	"slices"
	"strings"

	"github.com/vango-go/vai-callgate/pkg/core"
)

const (
	apiVersionHeader = "X-Callgate-Version"
	apiVersion       = "1"
)

// APIVersion pins the /v1 surface. A request may name the version it speaks
// in X-Callgate-Version; anything other than "1" is refused. Media stream
// upgrades are exempt because carriers cannot set the header.
func APIVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isWebSocketUpgrade(r) || !isV1(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if bad := slices.IndexFunc(headerTokens(r.Header, apiVersionHeader), func(v string) bool { return v != apiVersion }); bad >= 0 {
			reqID, _ := RequestIDFrom(r.Context())
			writeJSONError(w, http.StatusBadRequest, &core.Error{
				Type:      core.ErrInvalidRequest,
				Message:   "this gateway only speaks API version " + apiVersion,
				Param:     apiVersionHeader,
				Code:      "unsupported_version",
				RequestID: reqID,
			})
			return
		}
		w.Header().Set(apiVersionHeader, apiVersion)
		next.ServeHTTP(w, r)
	})
}

func isV1(path string) bool {
	rest, ok := strings.CutPrefix(path, "/v1")
	return ok && (rest == "" || rest[0] == '/')
}

func isWebSocketUpgrade(r *http.Request) bool {
	return slices.ContainsFunc(headerTokens(r.Header, "Connection"), func(v string) bool {
		return strings.EqualFold(v, "upgrade")
	}) && strings.EqualFold(strings.TrimSpace(r.Header.Get("Upgrade")), "websocket")
}

// headerTokens splits every value of a comma-separated header into trimmed,
// non-empty tokens.
func headerTokens(h http.Header, name string) []string {
	var out []string
	for _, value := range h.Values(name) {
		for part := range strings.SplitSeq(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
