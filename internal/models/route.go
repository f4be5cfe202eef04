package models

import "strings"

// Route names the domain that owns a turn.
type Route string

const (
	RouteSales     Route = "sales"
	RouteMarketing Route = "marketing"
	RouteSupport   Route = "support"
	RouteOrders    Route = "orders"
	RoutePurchase  Route = "purchase"
)

// AllRoutes lists every valid route label in a stable order.
var AllRoutes = []Route{RouteSales, RouteMarketing, RouteSupport, RouteOrders, RoutePurchase}

// IsValid reports whether r is one of the known routes.
func (r Route) IsValid() bool {
	switch r {
	case RouteSales, RouteMarketing, RouteSupport, RouteOrders, RoutePurchase:
		return true
	default:
		return false
	}
}

// ParseRoute converts a free-form label to a Route. It trims whitespace,
// lower-cases and strips trailing punctuation a model may add.
func ParseRoute(s string) (Route, bool) {
	r := Route(strings.Trim(strings.ToLower(strings.TrimSpace(s)), ".!\"'`"))
	if r.IsValid() {
		return r, true
	}
	return "", false
}
