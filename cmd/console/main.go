// Command console is a terminal client for the fleet-operations admin
// backend. It owns the session lifecycle: login, persistent or
// session-scoped token storage, silent refresh with single-flight
// coordination, and guarded navigation between screens.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fleetops/console/internal/api"
	"github.com/fleetops/console/internal/auth"
	"github.com/fleetops/console/internal/config"
	"github.com/fleetops/console/internal/guard"
	"github.com/fleetops/console/internal/logging"
	"github.com/fleetops/console/internal/resources"
	"github.com/fleetops/console/internal/router"
	"github.com/fleetops/console/internal/session"
	"github.com/fleetops/console/internal/transport"
)

var Version = "dev"

// logoutFlushTimeout bounds how long the process lingers at exit for
// the fire-and-forget backend logout call to reach the server.
const logoutFlushTimeout = 5 * time.Second

const usage = `usage: console <command>

commands:
  login <username> [--remember]   authenticate and store the session
  logout                          end the session locally and remotely
  register <username>             create an account
  status                          show session state
  open <route>                    navigate to a screen through the guard

routes: /dashboard /op/sites /op/services /op/vehicle-types
        /acl/terminals /acl/admin-users /auth/login
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(command string, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("console starting",
		slog.String("version", Version),
		slog.String("command", command),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Startup ordering is a hard dependency chain: the app-config
	// document must load before any HTTP client exists, and auth state
	// must hydrate before the router accepts a navigation.
	appCfg, err := config.LoadAppConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("loading app config: %w", err)
	}

	logger.Info("app config loaded",
		slog.String("api_base_url", appCfg.APIBaseURL),
		slog.String("app_version", appCfg.AppVersion),
	)

	store, err := session.Open(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	defer store.Close()

	state := session.NewState(store)

	rt := &routerHolder{}

	svc := auth.NewService(
		api.NewClient(appCfg.APIBaseURL, nil),
		store, state, logger,
		auth.WithRefreshTimeout(cfg.RefreshTimeout),
		auth.WithNavigateToLogin(func() { rt.toLogin(ctx) }),
	)

	httpClient := transport.New(nil, store, svc, logger).Client()

	listings := resources.NewClient(appCfg.APIBaseURL, httpClient)

	rt.Router = router.New(guard.New(svc, logger, cfg.GuardBypass), logger)
	registerScreens(rt.Router, svc, listings, logger)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.WatchAppConfig && !strings.HasPrefix(cfg.AppConfigPath, "http") {
		g.Go(func() error {
			err := config.WatchAppConfig(gctx, cfg.AppConfigPath, logger)
			if errors.Is(err, context.Canceled) {
				return nil
			}

			return err
		})
	}

	g.Go(func() error {
		defer stop()

		err := runCommand(gctx, command, args, svc, store, rt.Router)

		// A logout (explicit, or forced by a failed refresh) fires its
		// backend call on a goroutine; give it a chance to land before
		// the process exits.
		svc.Wait(logoutFlushTimeout)

		return err
	})

	return g.Wait()
}

// routerHolder breaks the construction cycle between the auth service
// (which navigates to login on logout) and the router (which guards
// navigation with the auth service).
type routerHolder struct {
	*router.Router
}

func (h *routerHolder) toLogin(ctx context.Context) {
	if h.Router == nil {
		return
	}

	_ = h.Navigate(ctx, guard.LoginRoute)
}

func runCommand(ctx context.Context, command string, args []string, svc *auth.Service, store *session.Store, rt *router.Router) error {
	switch command {
	case "login":
		return cmdLogin(ctx, args, svc, rt)
	case "logout":
		svc.Logout()
		return nil
	case "register":
		return cmdRegister(ctx, args, svc)
	case "status":
		return cmdStatus(svc, store)
	case "open":
		if len(args) != 1 {
			return errors.New("usage: console open <route>")
		}

		return rt.Navigate(ctx, args[0])
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func cmdLogin(ctx context.Context, args []string, svc *auth.Service, rt *router.Router) error {
	var username string
	var remember bool

	for _, arg := range args {
		if arg == "--remember" {
			remember = true
			continue
		}

		if username != "" {
			return errors.New("usage: console login <username> [--remember]")
		}

		username = arg
	}

	if username == "" {
		return errors.New("usage: console login <username> [--remember]")
	}

	password, err := readPassword()
	if err != nil {
		return err
	}

	if err := svc.Login(ctx, username, password, remember); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	return rt.Navigate(ctx, guard.DashboardRoute)
}

func cmdRegister(ctx context.Context, args []string, svc *auth.Service) error {
	if len(args) != 1 {
		return errors.New("usage: console register <username>")
	}

	password, err := readPassword()
	if err != nil {
		return err
	}

	if err := svc.Register(ctx, args[0], password); err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	fmt.Println("registered; log in with: console login", args[0])

	return nil
}

func cmdStatus(svc *auth.Service, store *session.Store) error {
	if !svc.IsLoggedIn() {
		fmt.Println("not logged in")
		return nil
	}

	fmt.Println("logged in")

	if user, ok := svc.CurrentUser(); ok {
		fmt.Printf("user: %s\n", user)
	}

	if exp, ok := store.ExpiryTime(); ok {
		fmt.Printf("token expires: %s\n", exp.Format("2006-01-02 15:04:05 MST"))
	}

	if store.IsExpired() {
		fmt.Println("token expired; it will refresh on the next request")
	}

	return nil
}

func readPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return "", errors.New("no password input")
	}

	password := scanner.Text()
	if password == "" {
		return "", errors.New("empty password")
	}

	return password, nil
}
