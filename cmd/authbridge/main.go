package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gcsewala/authbridge/internal/authsession"
	"github.com/gcsewala/authbridge/internal/config"
	"github.com/gcsewala/authbridge/internal/cookie"
	"github.com/gcsewala/authbridge/internal/envutil"
	"github.com/gcsewala/authbridge/internal/gotrue"
	"github.com/gcsewala/authbridge/internal/hostenv"
	"github.com/gcsewala/authbridge/internal/log"
	"github.com/gcsewala/authbridge/internal/navigation"
	"github.com/gcsewala/authbridge/internal/relay"
)

var BuildVersion = "dev"

const usage = `Usage: authbridge [flags] <command> [args]

Commands:
  status                          show the current session and cookie mirror
  signin  -email E [-password P]  sign in with email and password
  signup  -email E [-password P] [-name N]
  signout                         sign out everywhere
  reset   -email E                send a password reset email
  google                          print the Google sign-in URL
  callback <url>                  complete an OAuth redirect carrying #access_token=...

The password falls back to AUTHBRIDGE_PASSWORD.

Flags:
`

// app is one page load: a location, a profile and a controller over them.
type app struct {
	ctrl       *authsession.Controller
	location   *navigation.URLLocation
	cookies    *cookie.Store
	profile    *profile
	dispatcher *relay.Dispatcher
	out        io.Writer
}

func newApp(cfg config.Config, href, profileDir string, out io.Writer) (*app, error) {
	if cfg.Upstream == nil {
		return nil, fmt.Errorf("upstream section is required")
	}
	loc, err := navigation.NewURLLocation(href)
	if err != nil {
		return nil, err
	}
	env, err := hostenv.Resolve(loc.Hostname(), loc.Origin(), hostenv.HostConfig{
		ProductionDomain: cfg.Host.ProductionDomain,
		DashboardURL:     cfg.Host.DashboardURL,
		DashboardPath:    cfg.Host.DashboardPath,
	})
	if err != nil {
		return nil, err
	}

	prof, err := openProfile(profileDir, loc.Hostname())
	if err != nil {
		return nil, err
	}
	client, err := gotrue.New(gotrue.Options{
		URL:      cfg.Upstream.URL,
		AnonKey:  string(cfg.Upstream.AnonKey),
		Storage:  prof.sessionStorage(),
		Location: loc,
	})
	if err != nil {
		return nil, err
	}

	a := &app{location: loc, profile: prof, out: out}
	a.cookies = cookie.NewStore(prof.jar, env)

	var notifier relay.Notifier = relay.Discard{}
	if cfg.Upstream.RelayURL != "" {
		a.dispatcher = relay.NewDispatcher(
			relay.NewClient(cfg.Upstream.RelayURL, relay.WithAPIKey(string(cfg.Upstream.AnonKey))),
			relay.DefaultMaxInFlight,
		)
		notifier = a.dispatcher
	}

	a.ctrl, err = authsession.New(authsession.Config{
		Upstream:  client,
		Cookies:   a.cookies,
		Relay:     notifier,
		Location:  loc,
		Env:       env,
		Presenter: authsession.PresenterFunc(a.present),
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) present(n authsession.Notice) {
	if n.Variant == authsession.VariantDestructive {
		fmt.Fprintf(a.out, "! %s: %s\n", n.Title, n.Description)
		return
	}
	fmt.Fprintf(a.out, "%s %s\n", n.Title, n.Description)
}

// close waits for pending relay calls and persists the profile.
func (a *app) close() error {
	a.ctrl.Dispose()
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	return a.profile.save()
}

func (a *app) status() {
	st := a.ctrl.Snapshot()
	fmt.Fprintf(a.out, "status: %s\n", st.Status)
	if st.User != nil {
		fmt.Fprintf(a.out, "user:   %s (%s)\n", st.User.DisplayName(), st.User.ID)
	}
	if st.Session != nil && !st.Session.ExpiresAt.IsZero() {
		fmt.Fprintf(a.out, "expires: %s\n", st.Session.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
	}
	if token, user, err := a.cookies.Mirror(); err == nil {
		fmt.Fprintf(a.out, "mirror: %s=%s... %s=%s\n", cookie.TokenCookie, truncate(token, 12), cookie.UserCookie, user.Email)
	} else {
		fmt.Fprintf(a.out, "mirror: none\n")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func run(ctx context.Context, cfg config.Config, href, profileDir string, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("a command is required")
	}
	cmd, rest := args[0], args[1:]

	if cmd == "callback" {
		if len(rest) != 1 {
			return fmt.Errorf("callback takes exactly one URL")
		}
		href = rest[0]
		rest = nil
	}

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(out)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	name := fs.String("name", "", "full name for sign-up")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if *password == "" {
		*password = os.Getenv("AUTHBRIDGE_PASSWORD")
	}

	a, err := newApp(cfg, href, profileDir, out)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			log.LogWarnWithFields("main", "Failed to save profile", map[string]any{"error": err.Error()})
		}
	}()

	if err := a.ctrl.Init(ctx); err != nil {
		return err
	}
	start := a.location.Href()

	switch cmd {
	case "status", "callback":
		a.status()
	case "signin":
		if *email == "" {
			return fmt.Errorf("-email is required")
		}
		if _, err := a.ctrl.SignIn(ctx, *email, *password); err != nil {
			return err
		}
		a.status()
	case "signup":
		if *email == "" || *password == "" {
			return fmt.Errorf("-email and a password are required")
		}
		if _, err := a.ctrl.SignUp(ctx, *email, *password, *name); err != nil {
			return err
		}
	case "signout":
		if err := a.ctrl.SignOut(ctx); err != nil {
			return err
		}
	case "reset":
		if *email == "" {
			return fmt.Errorf("-email is required")
		}
		if err := a.ctrl.ResetPassword(ctx, *email); err != nil {
			return err
		}
	case "google":
		res, err := a.ctrl.SignInWithGoogle(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Open this URL in a browser to continue:\n%s\n", res.URL)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}

	if end := a.location.Href(); end != start {
		fmt.Fprintf(out, "navigated to %s\n", end)
	}
	return nil
}

func main() {
	conf := flag.String("config", "", "path to config file (required)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before config resolution")
	href := flag.String("url", "https://"+hostenv.DefaultProductionDomain+"/", "page URL the session runs on")
	profileDir := flag.String("profile", defaultProfileDir(), "directory holding cookies and the stored session")
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if *help {
		flag.Usage()
		return
	}
	if *version {
		fmt.Println(BuildVersion)
		return
	}
	if *conf == "" {
		fmt.Fprintf(os.Stderr, "Error: -config flag is required\n")
		fmt.Fprintf(os.Stderr, "Run with -help for usage information\n")
		os.Exit(1)
	}

	if _, err := envutil.LoadDotEnv(*envFile); err != nil {
		log.LogError("Failed to load env file: %v", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*conf)
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}

	if err := run(context.Background(), cfg, *href, *profileDir, flag.Args(), os.Stdout); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
