package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/fleetops/console/internal/auth"
	"github.com/fleetops/console/internal/guard"
	"github.com/fleetops/console/internal/resources"
	"github.com/fleetops/console/internal/router"
)

// registerScreens fills the route table. Screens are thin listings
// over the REST API; all token handling happens in the transport.
func registerScreens(rt *router.Router, svc *auth.Service, listings *resources.Client, logger *slog.Logger) {
	rt.Handle(guard.LoginRoute, func(ctx context.Context, query string) error {
		fmt.Println("not authenticated; run: console login <username>")

		if q, err := url.ParseQuery(query); err == nil {
			if returnURL := q.Get("returnUrl"); returnURL != "" {
				fmt.Printf("after logging in you will land on %s\n", returnURL)
			}
		}

		return nil
	})

	rt.Handle(guard.DashboardRoute, func(ctx context.Context, query string) error {
		fmt.Println("dashboard")

		if user, ok := svc.CurrentUser(); ok {
			fmt.Printf("user: %s\n", user)
		}

		return nil
	})

	collections := map[string]string{
		resources.Sites:        "sites",
		resources.Services:     "services",
		resources.VehicleTypes: "vehicle types",
		resources.Terminals:    "terminals",
		resources.AdminUsers:   "admin users",
	}

	for route, name := range collections {
		rt.Handle(route, listingScreen(listings, route, name, logger))
	}
}

func listingScreen(listings *resources.Client, collection, name string, logger *slog.Logger) router.Screen {
	return func(ctx context.Context, query string) error {
		raw, err := listings.List(ctx, collection)
		if err != nil {
			return fmt.Errorf("loading %s: %w", name, err)
		}

		logger.Debug("listing loaded", slog.String("collection", collection))

		fmt.Printf("%s: %s\n", name, resources.Summarize(raw))
		fmt.Println(string(raw))

		return nil
	}
}
