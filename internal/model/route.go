package model

// Route names the screen a client should show next. The values are the
// client's own route paths so they can be passed to the router unchanged.
type Route string

const (
	RouteLogin        Route = "/(auth)/login"
	RouteHome         Route = "/(main)/home"
	RouteMain         Route = "/(main)"
	RouteOnboarding   Route = "/(onboarding)/domains"
	RouteTechnologies Route = "/(onboarding)/technologies"
	RouteAdminHome    Route = "/(admin)/home"
)
