package session

import (
	"testing"

	"github.com/TechSanzo/chaturbate/internal/domain"
)

func viewerSnap() Snapshot {
	return Snapshot{State: StateAuthenticated, User: &domain.User{ID: "v", Role: domain.RoleViewer}}
}

func broadcasterSnap() Snapshot {
	return Snapshot{State: StateAuthenticated, User: &domain.User{ID: "b", Role: domain.RoleBroadcaster}}
}

func TestRouteFor(t *testing.T) {
	cases := []struct {
		name string
		snap Snapshot
		want Route
	}{
		{"unauthenticated", Snapshot{State: StateUnauthenticated}, RouteSignIn},
		{"authenticating", Snapshot{State: StateAuthenticating}, RouteSignIn},
		{"signing out", Snapshot{State: StateSigningOut}, RouteSignIn},
		{"viewer", viewerSnap(), RouteBrowse},
		{"broadcaster", broadcasterSnap(), RouteDashboard},
		{"incomplete profile", Snapshot{State: StateAuthenticated, ProfileIncomplete: true}, RouteSignUp},
	}

	for _, tc := range cases {
		if got := RouteFor(tc.snap); got != tc.want {
			t.Errorf("%s: RouteFor = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestAuthorizeRedirectsInsteadOfErroring(t *testing.T) {
	cases := []struct {
		name      string
		snap      Snapshot
		requested Route
		want      Route
	}{
		{"viewer reaches browse", viewerSnap(), RouteBrowse, RouteBrowse},
		{"viewer blocked from dashboard", viewerSnap(), RouteDashboard, RouteBrowse},
		{"broadcaster reaches dashboard", broadcasterSnap(), RouteDashboard, RouteDashboard},
		{"broadcaster allowed in browse", broadcasterSnap(), RouteBrowse, RouteBrowse},
		{"unauthenticated sent to signin", Snapshot{}, RouteDashboard, RouteSignIn},
		{"unauthenticated sent to signin from browse", Snapshot{}, RouteBrowse, RouteSignIn},
		{"signed-in user leaves auth pages", viewerSnap(), RouteSignIn, RouteBrowse},
		{"incomplete profile stays on signup", Snapshot{State: StateAuthenticated, ProfileIncomplete: true}, RouteSignUp, RouteSignUp},
		{"anonymous reaches signup", Snapshot{}, RouteSignUp, RouteSignUp},
	}

	for _, tc := range cases {
		if got := Authorize(tc.snap, tc.requested); got != tc.want {
			t.Errorf("%s: Authorize(%s) = %s, want %s", tc.name, tc.requested, got, tc.want)
		}
	}
}
