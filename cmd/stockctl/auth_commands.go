package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tyemirov/stockpilot/internal/apiclient"
	"github.com/tyemirov/stockpilot/internal/model"
)

var errNotLoggedIn = errors.New("not logged in; run stockctl login")

func newLoginCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the issued tokens",
		Args:  cobra.NoArgs,
		RunE: runWithApplication(func(command *cobra.Command, arguments []string, app *application) error {
			username, _ := command.Flags().GetString("username")
			user, err := app.session.Login(commandContext(command), model.LoginRequest{
				Username: username,
				Password: passwordFrom(command),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(command.OutOrStdout(), "Logged in as %s (%s)\n", user.Username, user.Email)
			return nil
		}),
	}
	command.Flags().String("username", "", "Account username")
	command.Flags().String("password", "", "Account password (or STOCKCTL_PASSWORD)")
	return command
}

func newRegisterCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log in",
		Args:  cobra.NoArgs,
		RunE: runWithApplication(func(command *cobra.Command, arguments []string, app *application) error {
			username, _ := command.Flags().GetString("username")
			email, _ := command.Flags().GetString("email")
			user, err := app.session.Register(commandContext(command), model.RegisterRequest{
				Username: username,
				Email:    email,
				Password: passwordFrom(command),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(command.OutOrStdout(), "Registered and logged in as %s (%s)\n", user.Username, user.Email)
			return nil
		}),
	}
	command.Flags().String("username", "", "Account username (3-50 letters, digits or underscores)")
	command.Flags().String("email", "", "Account email")
	command.Flags().String("password", "", "Account password, at least 8 characters (or STOCKCTL_PASSWORD)")
	return command
}

// passwordFrom prefers this command's --password flag over STOCKCTL_PASSWORD.
func passwordFrom(command *cobra.Command) string {
	if flag := command.Flags().Lookup("password"); flag != nil && flag.Changed {
		return flag.Value.String()
	}
	return viper.GetString("password")
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget stored tokens and the cached user",
		Args:  cobra.NoArgs,
		RunE: runWithApplication(func(command *cobra.Command, arguments []string, app *application) error {
			app.session.Logout(commandContext(command))
			fmt.Fprintln(command.OutOrStdout(), "Logged out")
			return nil
		}),
	}
}

func newWhoAmICommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Restore the session and revalidate the identity with the server",
		Args:  cobra.NoArgs,
		RunE: runWithApplication(func(command *cobra.Command, arguments []string, app *application) error {
			cached, revalidation := app.session.RestoreSession(commandContext(command))
			if cached == nil {
				return errNotLoggedIn
			}
			waitCtx, cancel := withTimeout(command, app.clientConfig.RequestTimeout+app.clientConfig.RefreshTimeout)
			defer cancel()
			current, err := revalidation.Wait(waitCtx)
			switch {
			case err == nil:
				printUser(command, current, "")
			case errors.Is(err, apiclient.ErrRefreshFailed):
				return err
			default:
				revalidation.Cancel()
				app.logger.Warn("identity revalidation failed", zap.String("code", "stockctl.whoami.stale"), zap.Error(err))
				printUser(command, cached, " (cached; server unreachable)")
			}
			return nil
		}),
	}
}

func printUser(command *cobra.Command, user *model.User, suffix string) {
	fmt.Fprintf(command.OutOrStdout(), "%s <%s> id=%d%s\n", user.Username, user.Email, user.ID, suffix)
}

// Credential read failures are shown as unavailable rather than failing the
// command; read paths treat storage failures as absent.
func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show stored credentials without contacting the server",
		Args:  cobra.NoArgs,
		RunE: runWithApplication(func(command *cobra.Command, arguments []string, app *application) error {
			ctx := commandContext(command)
			out := command.OutOrStdout()
			fmt.Fprintf(out, "API URL:       %s\n", app.config.BaseURL())
			fmt.Fprintf(out, "Store:         %s\n", app.clientConfig.StoreURL)

			user, userFound, err := app.credentials.User(ctx)
			switch {
			case err != nil:
				logUnavailable(app, "user", err)
				fmt.Fprintln(out, "User:          (unavailable)")
			case userFound:
				fmt.Fprintf(out, "User:          %s <%s>\n", user.Username, user.Email)
			default:
				fmt.Fprintln(out, "User:          (none)")
			}

			accessToken, tokenFound, err := app.credentials.AccessToken(ctx)
			fmt.Fprintf(out, "Access token:  %s\n", describeAccessToken(app, accessToken, tokenFound, err))

			_, refreshFound, err := app.credentials.RefreshToken(ctx)
			if err != nil {
				logUnavailable(app, "refresh_token", err)
				fmt.Fprintln(out, "Refresh token: (unavailable)")
				return nil
			}
			fmt.Fprintf(out, "Refresh token: %t\n", refreshFound)
			return nil
		}),
	}
}

func describeAccessToken(app *application, accessToken string, found bool, readErr error) string {
	switch {
	case readErr != nil:
		logUnavailable(app, "access_token", readErr)
		return "(unavailable)"
	case !found:
		return "(none)"
	}
	info, err := apiclient.PeekToken(accessToken)
	if err != nil {
		return "present (opaque)"
	}
	state := "valid"
	if info.Expired(time.Now()) {
		state = "expired; refreshed on next call"
	}
	return fmt.Sprintf("%s, expires %s", state, info.ExpiresAt.Local().Format(time.RFC1123))
}

func logUnavailable(app *application, entry string, err error) {
	app.logger.Warn("stored credential unreadable",
		zap.String("code", "stockctl.status.unavailable"),
		zap.String("entry", entry),
		zap.Error(err))
}

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or change the persisted API base URL",
	}
	configCmd.AddCommand(
		&cobra.Command{
			Use:   "get-base-url",
			Short: "Print the API base URL in effect",
			Args:  cobra.NoArgs,
			RunE: runWithApplication(func(command *cobra.Command, arguments []string, app *application) error {
				fmt.Fprintln(command.OutOrStdout(), app.config.BaseURL())
				return nil
			}),
		},
		&cobra.Command{
			Use:   "set-base-url <url>",
			Short: "Validate and persist a new API base URL",
			Args:  cobra.ExactArgs(1),
			RunE: runWithApplication(func(command *cobra.Command, arguments []string, app *application) error {
				if err := app.config.SetBaseURL(arguments[0]); err != nil {
					return err
				}
				if err := app.credentials.SaveBaseURL(commandContext(command), app.config.BaseURL()); err != nil {
					return err
				}
				fmt.Fprintln(command.OutOrStdout(), app.config.BaseURL())
				return nil
			}),
		},
		&cobra.Command{
			Use:   "reset-base-url",
			Short: "Forget the persisted API base URL",
			Args:  cobra.NoArgs,
			RunE: runWithApplication(func(command *cobra.Command, arguments []string, app *application) error {
				if err := app.credentials.ClearBaseURL(commandContext(command)); err != nil {
					return err
				}
				fmt.Fprintln(command.OutOrStdout(), apiclient.DefaultBaseURL)
				return nil
			}),
		},
	)
	return configCmd
}
