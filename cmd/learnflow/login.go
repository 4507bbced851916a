package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/auth"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "sync",
	Short:   "Sign in as a user",
	Long: `Sign in on the background process. The new auth snapshot is persisted and
broadcast to every attached process, and remote changes for the user start
streaming into the local database.

Without flags on a terminal, prompts for the identity.`,
	Run: func(cmd *cobra.Command, args []string) {
		var id auth.Identity
		id.UID, _ = cmd.Flags().GetString("uid")
		id.Email, _ = cmd.Flags().GetString("email")
		id.DisplayName, _ = cmd.Flags().GetString("name")

		if id.UID == "" {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				fatal("signing in", errors.New("--uid is required when not running on a terminal"))
			}
			if err := promptIdentity(&id); err != nil {
				fatal("reading identity", err)
			}
		}

		ctx, cancel := requestContext()
		defer cancel()

		state, err := newClient().SignIn(ctx, id)
		if err != nil {
			fatal("signing in", err)
		}
		if jsonOutput {
			printJSON(state)
			return
		}
		fmt.Printf("%s Signed in as %s\n", ui.RenderPass("✓"), describe(state))
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "sync",
	Short:   "Sign out the current user",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := requestContext()
		defer cancel()

		state, err := newClient().SignOut(ctx)
		if err != nil {
			fatal("signing out", err)
		}
		if jsonOutput {
			printJSON(state)
			return
		}
		fmt.Printf("%s Signed out\n", ui.RenderPass("✓"))
	},
}

func promptIdentity(id *auth.Identity) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("User id").
				Value(&id.UID).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("user id is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Email").
				Value(&id.Email),
			huh.NewInput().
				Title("Display name").
				Value(&id.DisplayName),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}
	id.UID = strings.TrimSpace(id.UID)
	return nil
}

func describe(s *auth.State) string {
	name := s.UID
	if s.DisplayName != "" {
		name = fmt.Sprintf("%s (%s)", s.DisplayName, s.UID)
	}
	if s.Email != "" {
		name += " <" + s.Email + ">"
	}
	return name
}

func init() {
	loginCmd.Flags().String("uid", "", "User id")
	loginCmd.Flags().String("email", "", "Email address")
	loginCmd.Flags().String("name", "", "Display name")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}
