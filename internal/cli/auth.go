package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SvelteTick/Impostr/internal/services/auth"
)

func newAuthCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Account and credential commands",
	}

	cmd.AddCommand(newAuthRegisterCmd(st))
	cmd.AddCommand(newAuthLoginCmd(st))
	cmd.AddCommand(newAuthLogoutCmd(st))
	cmd.AddCommand(newAuthStatusCmd(st))
	cmd.AddCommand(newAuthWhoamiCmd(st))

	return cmd
}

func newAuthRegisterCmd(st *state) *cobra.Command {
	var in auth.RegisterInput

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := st.app.AuthService.Register(cmd.Context(), in)
			if err != nil {
				return err
			}
			st.out.Print(user)
			return nil
		},
	}

	cmd.Flags().StringVar(&in.Email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&in.Password, "password", "", "Password (required)")
	cmd.Flags().StringVar(&in.Name, "name", "", "Full name (required)")
	cmd.Flags().StringVar(&in.Nickname, "nickname", "", "Nickname shown to other players (required)")
	for _, name := range []string{"email", "password", "name", "nickname"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

func newAuthLoginCmd(st *state) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := st.app.AuthService.Login(cmd.Context(), email, password); err != nil {
				return err
			}
			user, err := st.app.AuthService.CurrentUser(cmd.Context())
			if err != nil {
				return err
			}
			st.out.PrintMessage(fmt.Sprintf("Signed in as %s", user.ID))
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (required)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

func newAuthLogoutCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := st.app.AuthService.Logout(cmd.Context()); err != nil {
				return err
			}
			st.out.PrintMessage("Signed out")
			return nil
		},
	}
}

func newAuthStatusCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored credential without contacting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := st.app.AuthService.Inspect(cmd.Context())
			if err != nil {
				return err
			}
			st.out.Print(newStatus(report))
			return nil
		},
	}
}

func newAuthWhoamiCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := st.app.AuthService.CurrentUser(cmd.Context())
			if err != nil {
				return err
			}
			st.out.Print(user)
			return nil
		},
	}
}
