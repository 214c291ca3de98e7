package web

import (
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/draganm/lean-mustache/mustache"
)

// scopeFromRequest collects the ambient render data of a request: query and
// form parameters, the session cookie and the incoming flash cookie.
func scopeFromRequest(r *http.Request) mustache.RequestScope {
	scope := mustache.RequestScope{}

	err := r.ParseForm()
	if err == nil && len(r.Form) > 0 {
		scope.Parameters = map[string][]string(r.Form)
	} else if len(r.URL.Query()) > 0 {
		scope.Parameters = map[string][]string(r.URL.Query())
	}

	scope.Session = cookieValues(r, SessionCookie)
	scope.IncomingFlash = cookieValues(r, FlashCookie)

	return scope
}

func cookieValues(r *http.Request, name string) map[string]string {
	c, err := r.Cookie(name)
	if err != nil || c.Value == "" {
		return nil
	}

	values, err := url.ParseQuery(c.Value)
	if err != nil {
		return nil
	}

	res := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			res[k] = v[len(v)-1]
		}
	}
	return res
}

// EncodeCookieValues encodes a map into a cookie value understood by the
// render handler.
func EncodeCookieValues(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(values[k]))
	}
	return strings.Join(parts, "&")
}

// writeFlash hands the outgoing flash to the next request or clears the
// consumed incoming one.
func writeFlash(w http.ResponseWriter, incoming, outgoing map[string]string) {
	switch {
	case len(outgoing) > 0:
		http.SetCookie(w, &http.Cookie{
			Name:     FlashCookie,
			Value:    EncodeCookieValues(outgoing),
			Path:     "/",
			HttpOnly: true,
		})
	case len(incoming) > 0:
		http.SetCookie(w, &http.Cookie{
			Name:     FlashCookie,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
		})
	}
}
