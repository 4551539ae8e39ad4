package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/persona-gateway/internal/client"
	chatModel "github.com/zhouzirui/persona-gateway/internal/model/chat"
	"github.com/zhouzirui/persona-gateway/internal/model/persona"
	"github.com/zhouzirui/persona-gateway/internal/service/chat"
)

func newChatCmd(opts *options) *cobra.Command {
	var personaID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation with a persona",
		Long: `Start an interactive conversation with a persona.

Commands inside the conversation:
  /history  show the conversation so far
  /reset    start over with a fresh conversation
  /quit     leave`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(opts.server, &http.Client{Timeout: opts.timeout})
			return runChat(cmd.Context(), opts, c, personaID)
		},
	}
	cmd.Flags().StringVarP(&personaID, "persona", "p", "zen", "Persona to talk to")
	return cmd
}

func runChat(ctx context.Context, opts *options, completer chat.Completer, personaID string) error {
	store := persona.NewMemoryStore(persona.Seed())
	p, err := store.Lookup(personaID)
	if err != nil {
		return fmt.Errorf("unknown persona %q", personaID)
	}

	session, err := chat.NewSession(store, p.ID, completer, chat.DefaultLimits)
	if err != nil {
		return err
	}
	opts.logger.Debug().Str("session", session.ID()).Str("persona", session.PersonaID()).Msg("session started")
	printf(opts.out, "%s · %s\n(type /history to review, /reset to start over, /quit to leave)\n", p.Title, p.Subtitle)

	scanner := bufio.NewScanner(opts.in)
	for {
		printf(opts.out, "> ")
		if !scanner.Scan() {
			printf(opts.out, "\n")
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/history":
			printHistory(opts, p, session)
			continue
		case "/reset":
			session, err = chat.NewSession(store, p.ID, completer, chat.DefaultLimits)
			if err != nil {
				return err
			}
			opts.logger.Debug().Str("session", session.ID()).Str("persona", session.PersonaID()).Msg("session reset")
			printf(opts.out, "(new conversation with %s)\n", p.Title)
			continue
		}

		outcome, err := session.SubmitUserText(ctx, line)
		switch {
		case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrSendInProgress):
			continue
		case outcome.Notice != "":
			if err != nil {
				opts.logger.Debug().Err(err).Msg("submission failed")
			}
			printf(opts.out, "[%s]\n", outcome.Notice)
		case err != nil:
			printf(opts.out, "[%s]\n", chat.ConnectionErrorNotice)
		default:
			printf(opts.out, "%s: %s\n", p.Title, outcome.Reply)
		}
	}
}

func printHistory(opts *options, p persona.Persona, session *chat.Session) {
	visible := session.Visible()
	if len(visible) == 0 {
		printf(opts.out, "(no messages yet)\n")
		return
	}
	for _, turn := range visible {
		switch {
		case turn.Notice:
			printf(opts.out, "[%s]\n", turn.Content)
		case turn.Role == chatModel.RoleUser:
			printf(opts.out, "you: %s\n", turn.Content)
		default:
			printf(opts.out, "%s: %s\n", p.Title, turn.Content)
		}
	}
}
