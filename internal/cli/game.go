package cli

import (
	"github.com/spf13/cobra"

	"github.com/SvelteTick/Impostr/internal/api/apierr"
	"github.com/SvelteTick/Impostr/internal/model"
)

func newGameCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "game",
		Short: "Game session commands",
	}

	cmd.AddCommand(newGameCreateCmd(st))
	cmd.AddCommand(newGameJoinCmd(st))
	cmd.AddCommand(newGameGetCmd(st))

	return cmd
}

func newGameCreateCmd(st *state) *cobra.Command {
	cfg := model.DefaultSessionConfig()
	var timeLimit int

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a game session and become its host",
		RunE: func(cmd *cobra.Command, args []string) error {
			if timeLimit > 0 {
				cfg.TimeLimit = &timeLimit
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			token, err := st.app.AuthService.EnsureValid(cmd.Context())
			if err != nil {
				return err
			}
			session, err := st.app.API.CreateSession(cmd.Context(), token, cfg)
			if err != nil {
				return err
			}

			st.out.Print(session)
			return nil
		},
	}

	cmd.Flags().IntVar(&cfg.MaxPlayers, "max-players", cfg.MaxPlayers, "Maximum number of players")
	cmd.Flags().IntVar(&cfg.ImposterCount, "imposters", cfg.ImposterCount, "Number of imposters")
	cmd.Flags().IntVar(&timeLimit, "time-limit", 0, "Round time limit in seconds (0: unlimited)")

	return cmd
}

func newGameJoinCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "join <code>",
		Short: "Join a game session by room code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := model.NormalizeRoomCode(args[0])
			if err != nil {
				return err
			}

			token, err := st.app.AuthService.EnsureValid(cmd.Context())
			if err != nil {
				return err
			}
			session, err := st.app.API.JoinSession(cmd.Context(), token, code)
			if err != nil {
				if apierr.IsUnauthorized(err) {
					return err
				}
				return apierr.ClassifyJoin(err)
			}

			st.out.Print(session)
			return nil
		},
	}
}

func newGameGetCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "get <code>",
		Short: "Show a game session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := model.NormalizeRoomCode(args[0])
			if err != nil {
				return err
			}

			token, err := st.app.AuthService.EnsureValid(cmd.Context())
			if err != nil {
				return err
			}
			session, err := st.app.API.GetSession(cmd.Context(), token, code)
			if err != nil {
				return err
			}

			st.out.Print(session)
			return nil
		},
	}
}
