package session

import "github.com/TechSanzo/chaturbate/internal/domain"

// Route names the landing surface for a session state. Routing is pure:
// a mismatch between where a client is and where it belongs is resolved
// by redirecting, never by erroring.
type Route string

const (
	RouteSignIn    Route = "/signin"
	RouteSignUp    Route = "/signup"
	RouteBrowse    Route = "/browse"
	RouteDashboard Route = "/dashboard"
)

// RouteFor returns the home route for a snapshot: broadcasters land on
// their dashboard, viewers on the stream directory, everyone else on
// sign-in. An authenticated session with an incomplete profile goes
// back to sign-up to finish setup.
func RouteFor(snap Snapshot) Route {
	if snap.State != StateAuthenticated {
		return RouteSignIn
	}
	if snap.ProfileIncomplete || snap.User == nil {
		return RouteSignUp
	}
	if snap.User.Role == domain.RoleBroadcaster {
		return RouteDashboard
	}
	return RouteBrowse
}

// Authorize decides whether a snapshot may stay on the requested route.
// It returns the route to serve: the requested one when allowed, the
// session's home route otherwise.
func Authorize(snap Snapshot, requested Route) Route {
	switch requested {
	case RouteSignIn, RouteSignUp:
		// Signed-in users with a complete profile have no business on
		// the auth pages.
		if snap.State == StateAuthenticated && snap.User != nil && !snap.ProfileIncomplete {
			return RouteFor(snap)
		}
		return requested
	case RouteDashboard:
		if snap.State == StateAuthenticated && snap.User != nil && snap.User.Role == domain.RoleBroadcaster {
			return requested
		}
		return RouteFor(snap)
	case RouteBrowse:
		if snap.State == StateAuthenticated && snap.User != nil {
			return requested
		}
		return RouteFor(snap)
	default:
		return requested
	}
}
