package supervise

import (
	"encoding/json"
	"net/http"
	"reflect"
	"runtime"

	"github.com/go-chi/chi/v5"
)

// RouteInfo represents a single registered route for debugging purposes.
type RouteInfo struct {
	Method      string   `json:"method"`
	Pattern     string   `json:"pattern"`
	Middlewares []string `json:"middlewares,omitempty"`
}

// RegisterDebugRoutes exposes GET /debug/routes when enabled. The endpoint
// lists every route currently registered on the router.
func RegisterDebugRoutes(r chi.Router, enabled bool) {
	if !enabled || r == nil {
		return
	}

	r.Get("/debug/routes", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(enumerateRoutes(r))
	})
}

func enumerateRoutes(r chi.Router) []RouteInfo {
	routes := make([]RouteInfo, 0)
	_ = chi.Walk(r, func(method string, route string, _ http.Handler, middlewares ...func(http.Handler) http.Handler) error {
		info := RouteInfo{Method: method, Pattern: route}
		for _, mw := range middlewares {
			info.Middlewares = append(info.Middlewares, funcName(mw))
		}
		routes = append(routes, info)
		return nil
	})
	return routes
}

func funcName(fn func(http.Handler) http.Handler) string {
	if fn == nil {
		return "<nil>"
	}
	return runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name()
}
