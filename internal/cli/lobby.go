package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SvelteTick/Impostr/internal/model"
	"github.com/SvelteTick/Impostr/internal/services/lobby"
)

func newLobbyCmd(st *state) *cobra.Command {
	var autoStart bool

	cmd := &cobra.Command{
		Use:   "lobby <code>",
		Short: "Join a room and follow the lobby until the game starts",
		Long: `Join the room over the event channel and print the lobby every time it
changes. When the host starts the game your role is printed and the command
exits.

While waiting, type a command and press enter:
  start   start the game (host only, needs 3 players)
  leave   leave the room

Press Ctrl+C to leave.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := model.NormalizeRoomCode(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			token, err := st.app.AuthService.EnsureValid(ctx)
			if err != nil {
				return err
			}

			syncer := st.app.NewSynchronizer()
			updates, err := syncer.Join(ctx, code, token)
			if err != nil {
				return err
			}
			defer func() { _ = syncer.Leave(context.Background()) }()

			return followLobby(ctx, syncer, updates, readCommands(ctx, cmd.InOrStdin()), st.out, autoStart)
		},
	}

	cmd.Flags().BoolVar(&autoStart, "auto-start", false, "Start the game as soon as enough players are present (host only)")

	return cmd
}

// lobbyControl is the part of the synchronizer the lobby command drives
type lobbyControl interface {
	Self() model.UserID
	StartGame(ctx context.Context) error
	Leave(ctx context.Context) error
}

// followLobby prints updates and applies typed commands until the game
// starts, the player leaves or the connection is lost
func followLobby(ctx context.Context, syncer lobbyControl, updates <-chan lobby.Update, commands <-chan string, out *Output, autoStart bool) error {
	startRequested := false

	for {
		select {
		case <-ctx.Done():
			_ = syncer.Leave(context.Background())
			out.PrintMessage("Left room")
			return nil

		case line, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			switch line {
			case "":
			case "start":
				if err := syncer.StartGame(ctx); err != nil {
					out.PrintError(err)
				}
			case "leave":
				_ = syncer.Leave(ctx)
				out.PrintMessage("Left room")
				return nil
			default:
				out.PrintError(fmt.Errorf("unknown command %q, use start or leave", line))
			}

		case u, ok := <-updates:
			if !ok {
				return nil
			}
			out.Print(newLobbyUpdate(u))

			switch {
			case u.Role != nil:
				return nil
			case u.State == lobby.StateClosed:
				return u.Err
			}

			if autoStart && !startRequested && u.Session != nil && u.Session.CanStart(syncer.Self()) {
				startRequested = true
				if err := syncer.StartGame(ctx); err != nil {
					out.PrintError(err)
					startRequested = false
				}
			}
		}
	}
}

// readCommands sends each trimmed, lowercased input line until EOF or
// until ctx is done
func readCommands(ctx context.Context, r io.Reader) <-chan string {
	commands := make(chan string)
	go func() {
		defer close(commands)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case commands <- strings.ToLower(strings.TrimSpace(scanner.Text())):
			case <-ctx.Done():
				return
			}
		}
	}()
	return commands
}
