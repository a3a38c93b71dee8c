package worker

import (
	"net/http"
	"strings"

	"github.com/roach88/hydroplante/internal/model"
)

// Classify decides which strategy serves req. It performs no I/O.
//
// Requests whose host equals apiHost route to the bypass strategy whatever
// their method; everything else is cacheable. ok is false when req cannot be
// intercepted at all: no URL, a non-HTTP scheme or no host. Such requests
// go to the network untouched.
func Classify(req *http.Request, apiHost string) (route model.Route, ok bool) {
	if req == nil || req.URL == nil {
		return 0, false
	}
	switch strings.ToLower(req.URL.Scheme) {
	case "http", "https":
	default:
		return 0, false
	}
	host := req.URL.Hostname()
	if host == "" {
		return 0, false
	}
	if apiHost != "" && strings.EqualFold(host, apiHost) {
		return model.RouteBypass, true
	}
	return model.RouteCacheable, true
}
