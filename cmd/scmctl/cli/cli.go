// Package cli implements the scmctl session commands.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/supplyline/supplyline/internal/authclient"
	"github.com/supplyline/supplyline/internal/console"
	"github.com/supplyline/supplyline/internal/rbac"
	"github.com/supplyline/supplyline/internal/session"
)

// Output formats.
const (
	FormatHuman = "human"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
	// ExitDenied reports a permission check that did not pass.
	ExitDenied = 3
)

// Options configures command IO.
type Options struct {
	Format string
	Stdout io.Writer
	Stderr io.Writer
	Stdin  io.Reader
}

func (o Options) withDefaults() Options {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Format == "" {
		o.Format = FormatHuman
	}
	return o
}

// SessionCLI runs session commands against a restored Store.
type SessionCLI struct {
	store     *session.Store
	backend   console.AuthBackend
	refresher *console.Refresher
}

// New constructs a SessionCLI. store must already be restored.
func New(store *session.Store, backend console.AuthBackend) *SessionCLI {
	return &SessionCLI{store: store, backend: backend, refresher: console.NewRefresher(store, backend, nil)}
}

// Usage is printed for unknown commands.
const Usage = `usage: scmctl [flags] <command> [args]

commands:
  login <email> [-password pw]     authenticate; reads password from stdin when omitted
  logout                           end the session
  whoami                           show the current session
  can [-any] <perm>...             check permissions (exit 3 when denied)
  perms                            list permissions of the current role
  nav                              list navigation items for the current role
  refresh                          reload the user profile from the backend
  register <email> [-name n] [-role USER|SUPPLIER] [-password pw]
  verify <email> <code>
`

// Run dispatches args to a command and returns the process exit code.
func (c *SessionCLI) Run(ctx context.Context, args []string, opts Options) int {
	opts = opts.withDefaults()
	switch opts.Format {
	case FormatHuman, FormatJSON, FormatYAML:
	default:
		fmt.Fprintf(opts.Stderr, "unknown output format %q\n", opts.Format)
		return ExitUsage
	}
	if len(args) == 0 {
		fmt.Fprint(opts.Stderr, Usage)
		return ExitUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "login":
		return c.login(ctx, rest, opts)
	case "logout":
		return c.logout(ctx, opts)
	case "whoami":
		return c.whoami(opts)
	case "can":
		return c.can(rest, opts)
	case "perms":
		return c.perms(opts)
	case "nav":
		return c.nav(opts)
	case "refresh":
		return c.refresh(ctx, opts)
	case "register":
		return c.register(ctx, rest, opts)
	case "verify":
		return c.verify(ctx, rest, opts)
	default:
		fmt.Fprintf(opts.Stderr, "unknown command %q\n\n%s", cmd, Usage)
		return ExitUsage
	}
}

func (c *SessionCLI) login(ctx context.Context, args []string, opts Options) int {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(opts.Stderr)
	password := fs.String("password", "", "account password")
	email, ok := parseWithPositional(fs, args, 1)
	if !ok {
		return ExitUsage
	}
	pw := *password
	if pw == "" {
		var err error
		if pw, err = readLine(opts.Stdin); err != nil {
			fmt.Fprintln(opts.Stderr, "password required")
			return ExitUsage
		}
	}
	resp, err := c.backend.Login(ctx, authclient.LoginRequest{Email: email[0], Password: pw})
	if err != nil {
		return fail(opts, loginMessage(err))
	}
	if err := c.store.Login(ctx, resp.Token, resp.User); err != nil {
		return fail(opts, fmt.Sprintf("persist session: %v", err))
	}
	return c.whoami(opts)
}

func (c *SessionCLI) logout(ctx context.Context, opts Options) int {
	if err := c.store.Logout(ctx); err != nil {
		return fail(opts, fmt.Sprintf("logout: %v", err))
	}
	if opts.Format == FormatHuman {
		fmt.Fprintln(opts.Stdout, "logged out")
		return ExitOK
	}
	return render(opts, c.store.Current(), nil)
}

func (c *SessionCLI) whoami(opts Options) int {
	snap := c.store.Current()
	if !snap.Authenticated {
		if opts.Format == FormatHuman {
			fmt.Fprintln(opts.Stdout, "not logged in")
			return ExitFailure
		}
		render(opts, snap, nil)
		return ExitFailure
	}
	return render(opts, snap, func(w io.Writer) {
		fmt.Fprintf(w, "%s <%s>\nrole: %s\nid:   %s\n", snap.User.DisplayName, snap.User.Email, snap.User.Role, snap.User.ID)
	})
}

type checkResult struct {
	Mode        string            `json:"mode" yaml:"mode"`
	Role        rbac.Role         `json:"role" yaml:"role"`
	Permissions []rbac.Permission `json:"permissions" yaml:"permissions"`
	Granted     bool              `json:"granted" yaml:"granted"`
}

func (c *SessionCLI) can(args []string, opts Options) int {
	fs := flag.NewFlagSet("can", flag.ContinueOnError)
	fs.SetOutput(opts.Stderr)
	anyMode := fs.Bool("any", false, "require any instead of all permissions")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(opts.Stderr, "can: at least one permission required")
		return ExitUsage
	}
	perms := make([]rbac.Permission, 0, fs.NArg())
	for _, raw := range fs.Args() {
		perm, ok := rbac.ParsePermission(raw)
		if !ok {
			fmt.Fprintf(opts.Stderr, "can: unknown permission %q\n", raw)
			return ExitUsage
		}
		perms = append(perms, perm)
	}
	role, ok := c.store.Current().Role()
	if !ok {
		return fail(opts, "not logged in")
	}
	result := checkResult{Mode: "all", Role: role, Permissions: perms}
	if *anyMode {
		result.Mode = "any"
		result.Granted = rbac.HasAnyPermission(role, perms)
	} else {
		result.Granted = rbac.HasAllPermissions(role, perms)
	}
	code := render(opts, result, func(w io.Writer) {
		verdict := "denied"
		if result.Granted {
			verdict = "granted"
		}
		fmt.Fprintf(w, "%s: %s (%s of %s)\n", role, verdict, result.Mode, joinPerms(perms))
	})
	if code == ExitOK && !result.Granted {
		return ExitDenied
	}
	return code
}

func (c *SessionCLI) perms(opts Options) int {
	role, ok := c.store.Current().Role()
	if !ok {
		return fail(opts, "not logged in")
	}
	perms := rbac.PermissionsFor(role)
	return render(opts, perms, func(w io.Writer) {
		for _, p := range perms {
			fmt.Fprintln(w, p)
		}
	})
}

func (c *SessionCLI) nav(opts Options) int {
	role, ok := c.store.Current().Role()
	if !ok {
		return fail(opts, "not logged in")
	}
	items := rbac.Navigation(role)
	return render(opts, items, func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, item := range items {
			fmt.Fprintf(tw, "%s\t%s\n", item.Title, item.Path)
		}
		_ = tw.Flush()
	})
}

func (c *SessionCLI) refresh(ctx context.Context, opts Options) int {
	snap, err := c.refresher.Refresh(ctx)
	switch {
	case errors.Is(err, console.ErrNoSession):
		return fail(opts, "not logged in")
	case errors.Is(err, console.ErrSessionExpired):
		return fail(opts, "session expired, please log in again")
	case err != nil:
		return fail(opts, fmt.Sprintf("refresh: %v", err))
	}
	return render(opts, snap, func(w io.Writer) {
		fmt.Fprintf(w, "refreshed %s <%s> role %s\n", snap.User.DisplayName, snap.User.Email, snap.User.Role)
	})
}

func (c *SessionCLI) register(ctx context.Context, args []string, opts Options) int {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(opts.Stderr)
	name := fs.String("name", "", "full name")
	role := fs.String("role", "", "USER or SUPPLIER")
	password := fs.String("password", "", "account password")
	email, ok := parseWithPositional(fs, args, 1)
	if !ok {
		return ExitUsage
	}
	pw := *password
	if pw == "" {
		var err error
		if pw, err = readLine(opts.Stdin); err != nil {
			fmt.Fprintln(opts.Stderr, "password required")
			return ExitUsage
		}
	}
	req := authclient.RegisterRequest{Email: email[0], Password: pw, FullName: *name}
	if *role != "" {
		req.Role = rbac.Role(strings.ToUpper(*role))
	}
	user, err := c.backend.Register(ctx, req)
	if err != nil {
		return fail(opts, fmt.Sprintf("register: %v", err))
	}
	return render(opts, user, func(w io.Writer) {
		fmt.Fprintf(w, "registered %s, check your inbox for the verification code\n", user.Email)
	})
}

func (c *SessionCLI) verify(ctx context.Context, args []string, opts Options) int {
	if len(args) != 2 {
		fmt.Fprintln(opts.Stderr, "verify: email and code required")
		return ExitUsage
	}
	user, err := c.backend.Verify(ctx, authclient.VerifyRequest{Email: args[0], Code: args[1]})
	if err != nil {
		return fail(opts, fmt.Sprintf("verify: %v", err))
	}
	return render(opts, user, func(w io.Writer) {
		fmt.Fprintf(w, "verified %s, you can log in now\n", user.Email)
	})
}

// parseWithPositional parses flags that may follow n leading positional args.
func parseWithPositional(fs *flag.FlagSet, args []string, n int) ([]string, bool) {
	if len(args) < n {
		fmt.Fprintf(fs.Output(), "%s: expected %d argument(s)\n", fs.Name(), n)
		return nil, false
	}
	positional := args[:n]
	if err := fs.Parse(args[n:]); err != nil {
		return nil, false
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(fs.Output(), "%s: unexpected arguments %v\n", fs.Name(), fs.Args())
		return nil, false
	}
	return positional, true
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		if err == nil {
			err = io.EOF
		}
		return "", err
	}
	return line, nil
}

func loginMessage(err error) string {
	switch {
	case errors.Is(err, authclient.ErrInvalidCredentials):
		return "invalid email or password"
	case errors.Is(err, authclient.ErrForbidden):
		return "account not verified"
	case errors.Is(err, authclient.ErrValidation):
		return err.Error()
	default:
		return fmt.Sprintf("login: %v", err)
	}
}

func fail(opts Options, msg string) int {
	fmt.Fprintln(opts.Stderr, msg)
	return ExitFailure
}

func render(opts Options, v any, human func(io.Writer)) int {
	switch opts.Format {
	case FormatJSON:
		enc := json.NewEncoder(opts.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fail(opts, err.Error())
		}
	case FormatYAML:
		enc := yaml.NewEncoder(opts.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fail(opts, err.Error())
		}
		if err := enc.Close(); err != nil {
			return fail(opts, err.Error())
		}
	default:
		if human != nil {
			human(opts.Stdout)
		}
	}
	return ExitOK
}

func joinPerms(perms []rbac.Permission) string {
	parts := make([]string, len(perms))
	for i, p := range perms {
		parts[i] = p.String()
	}
	return strings.Join(parts, ", ")
}
