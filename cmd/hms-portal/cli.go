package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/session"
)

// prompter reads answers line by line from the command's input.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(cmd *cobra.Command) *prompter {
	return &prompter{in: bufio.NewReader(cmd.InOrStdin()), out: cmd.OutOrStdout()}
}

// ask returns preset when set, else prompts for a line.
func (p *prompter) ask(label, preset string) (string, error) {
	if preset != "" {
		return preset, nil
	}
	fmt.Fprintf(p.out, "%s: ", label)
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// newPassword asks for a password twice.
func (p *prompter) newPassword(label string) (string, error) {
	pw, err := p.ask(label, "")
	if err != nil {
		return "", err
	}
	again, err := p.ask("Confirm "+strings.ToLower(label), "")
	if err != nil {
		return "", err
	}
	if pw != again {
		return "", &auth.Error{Kind: auth.ErrValidation, Op: "prompt", Message: "Passwords do not match."}
	}
	return pw, nil
}

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrompter(cmd)
			email, err := p.ask("Email", email)
			if err != nil {
				return err
			}
			password, err := p.ask("Password", password)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app) error {
				id, err := a.gw.SignIn(cmd.Context(), email, password)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", id.DisplayName(), joinRoles(id.Roles))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when empty)")
	return cmd
}

func registerCmd() *cobra.Command {
	var (
		email    string
		profile  auth.Profile
		roleName string
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrompter(cmd)
			var err error
			if email, err = p.ask("Email", email); err != nil {
				return err
			}
			if profile.FirstName, err = p.ask("First name", profile.FirstName); err != nil {
				return err
			}
			if profile.LastName, err = p.ask("Last name", profile.LastName); err != nil {
				return err
			}
			profile.Role = session.Role(strings.ToUpper(roleName))
			password, err := p.newPassword("Password")
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), func(a *app) error {
				res, err := a.gw.SignUp(cmd.Context(), email, password, profile)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if res.PendingConfirmation {
					fmt.Fprintln(out, "Account created. Check your email to confirm it, then run login.")
					return nil
				}
				fmt.Fprintf(out, "Account created. Signed in as %s\n", res.Identity.DisplayName())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&profile.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&profile.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&roleName, "role", string(session.RolePatient), "PATIENT or DOCTOR")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				cred, err := a.creds.Load(cmd.Context())
				if err != nil {
					return err
				}
				if cred == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "Not signed in.")
					return nil
				}
				a.gw.SignOut(cmd.Context(), cred)
				fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
				return nil
			})
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				return settled(cmd.Context(), a, func(s session.Session) error {
					printSession(cmd.OutOrStdout(), s)
					return nil
				})
			})
		},
	}
}

func passwordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Manage the account password",
	}

	var email string
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Reset a forgotten password with an emailed code",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrompter(cmd)
			out := cmd.OutOrStdout()
			email, err := p.ask("Email", email)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app) error {
				ctx := cmd.Context()
				if err := a.gw.RequestPasswordReset(ctx, email); err != nil {
					return err
				}
				fmt.Fprintf(out, "We sent a code to %s.\n", strings.TrimSpace(email))

				code, err := p.ask("Code", "")
				if err != nil {
					return err
				}
				if err := a.gw.VerifyPasswordReset(ctx, code); err != nil {
					return err
				}
				password, err := p.newPassword("New password")
				if err != nil {
					return err
				}
				if err := a.gw.ConfirmPasswordReset(ctx, password); err != nil {
					return err
				}
				fmt.Fprintln(out, "Your password has been reset. Sign in with your new password.")
				return nil
			})
		},
	}
	reset.Flags().StringVar(&email, "email", "", "account email")
	cmd.AddCommand(reset)
	return cmd
}

func visitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "visit <path>",
		Short: "Show what the route guard decides for a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				return settled(cmd.Context(), a, func(session.Session) error {
					d := auth.NewGuard(a.store, a.metrics).Check(args[0])
					printDecision(cmd.OutOrStdout(), args[0], d)
					return nil
				})
			})
		},
	}
}

// settled bootstraps the session, runs fn with it and releases the
// subscription.
func settled(ctx context.Context, a *app, fn func(session.Session) error) error {
	sub, err := a.bootstrap(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()
	return fn(a.store.Get())
}

func printSession(w io.Writer, s session.Session) {
	if !s.Authenticated() {
		fmt.Fprintln(w, "Not signed in.")
		if s.LastError != nil {
			fmt.Fprintln(w, auth.Message(s.LastError))
		}
		return
	}
	fmt.Fprintf(w, "%s <%s>\n", s.Identity.DisplayName(), s.Identity.Email)
	fmt.Fprintf(w, "roles: %s\n", joinRoles(s.Identity.Roles))
	if exp := s.Credential.ExpiresAt; !exp.IsZero() {
		fmt.Fprintf(w, "session expires: %s\n", exp.Local().Format("2006-01-02 15:04"))
	}
}

func printDecision(w io.Writer, path string, d auth.Decision) {
	switch d.Outcome {
	case auth.Allow:
		fmt.Fprintf(w, "%s: allowed\n", path)
	case auth.Wait:
		fmt.Fprintf(w, "%s: waiting for the session\n", path)
	default:
		fmt.Fprintf(w, "%s: %s -> %s\n", path, d.Outcome, d.Location)
	}
}

func joinRoles(roles []session.Role) string {
	if len(roles) == 0 {
		return "no roles"
	}
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}
