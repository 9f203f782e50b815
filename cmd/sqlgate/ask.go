package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"sqlgate/internal/di"
	"sqlgate/internal/domain/policy"
	"sqlgate/internal/usecase"
)

// asker is the part of the governance service the CLI drives.
type asker interface {
	Ask(ctx context.Context, req usecase.AskRequest) (usecase.Response, error)
	Resolve(ctx context.Context, sessionID, id, reply string) (usecase.Response, error)
	EndSession(sessionID string) bool
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Ask one question through the full governance flow",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := policy.ParseRole(opts.role)
			if err != nil {
				return err
			}
			if session == "" {
				session = uuid.New().String()
			}
			return withService(cmd.Context(), opts, func(svc asker) error {
				c := &console{svc: svc, role: role, session: session, in: bufio.NewReader(cmd.InOrStdin()), out: cmd.OutOrStdout()}
				return c.ask(cmd.Context(), strings.Join(args, " "))
			})
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "session id (random when empty)")
	return cmd
}

func newReplCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive session; follow-up questions see the recent conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := policy.ParseRole(opts.role)
			if err != nil {
				return err
			}
			return withService(cmd.Context(), opts, func(svc asker) error {
				c := &console{svc: svc, role: role, session: uuid.New().String(), in: bufio.NewReader(cmd.InOrStdin()), out: cmd.OutOrStdout()}
				return c.loop(cmd.Context())
			})
		},
	}
}

// withService starts the dependency graph without the HTTP server.
func withService(ctx context.Context, opts *rootOptions, run func(asker) error) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}

	var svc *usecase.GovernanceService
	var logger *logrus.Logger
	app := fx.New(
		di.Core,
		fx.Replace(cfg),
		fx.NopLogger,
		fx.Populate(&svc, &logger),
	)
	if err := app.Err(); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer app.Stop(context.WithoutCancel(ctx))

	// Логи не должны перемешиваться с диалогом
	logger.SetLevel(logrus.WarnLevel)
	return run(svc)
}

type console struct {
	svc     asker
	role    policy.Role
	session string
	in      *bufio.Reader
	out     io.Writer
}

// loop reads questions line by line until EOF, "exit" or "quit".
func (c *console) loop(ctx context.Context) error {
	fmt.Fprintf(c.out, "session %s (%s). Type exit to quit.\n", c.session, c.role)
	defer c.svc.EndSession(c.session)

	for {
		fmt.Fprint(c.out, "> ")
		line, err := c.in.ReadString('\n')
		question := strings.TrimSpace(line)
		switch {
		case question == "exit" || question == "quit":
			return nil
		case question != "":
			if askErr := c.ask(ctx, question); askErr != nil {
				fmt.Fprintln(c.out, "error:", askErr)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// ask runs one question and, for a pending privileged operation, prompts
// for the reply on the same input.
func (c *console) ask(ctx context.Context, question string) error {
	resp, err := c.svc.Ask(ctx, usecase.AskRequest{Question: question, Role: c.role, SessionID: c.session})
	if err != nil {
		return err
	}
	c.print(resp)

	if resp.Status() != usecase.StatusPendingConfirmation || resp.Admin.Confirmation == nil {
		return nil
	}

	fmt.Fprintf(c.out, "%s\nProceed? (yes/no) ", resp.Admin.Confirmation.Description)
	reply, err := c.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return err
	}
	// EOF without a reply cancels
	resp, err = c.svc.Resolve(ctx, c.session, resp.Admin.Confirmation.ID, strings.TrimSpace(reply))
	if err != nil {
		return err
	}
	c.print(resp)
	return nil
}

func (c *console) print(resp usecase.Response) {
	if resp.User != nil {
		fmt.Fprintln(c.out, resp.User.Answer)
		return
	}
	data, err := json.MarshalIndent(resp.Body(), "", "  ")
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}
	fmt.Fprintln(c.out, string(data))
}
