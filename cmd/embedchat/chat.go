package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/aixgo-dev/embedchat/pkg/chat"
	"github.com/aixgo-dev/embedchat/pkg/runpoller"
)

// prompter reads one line of user input at a time.
type prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
	Close() error
}

// scanPrompter reads lines from a non-interactive input.
type scanPrompter struct {
	scanner *bufio.Scanner
	out     io.Writer
}

func (p *scanPrompter) Prompt(prompt string) (string, error) {
	_, _ = fmt.Fprint(p.out, prompt)
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return p.scanner.Text(), nil
}

func (p *scanPrompter) AppendHistory(string) {}

func (p *scanPrompter) Close() error { return nil }

func newPrompter(in io.Reader, out io.Writer) prompter {
	if f, ok := in.(*os.File); ok && f == os.Stdin && liner.TerminalSupported() {
		l := liner.NewLiner()
		l.SetCtrlCAborts(true)
		return l
	}
	return &scanPrompter{scanner: bufio.NewScanner(in), out: out}
}

func newChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <config-id>",
		Short: "Chat with a configured assistant from the terminal",
		Long:  "chat runs the same session the widget runs: it opens a thread, then sends each line as a message and prints the assistant's replies. Type /quit to exit.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.chat(cmd.Context(), args[0], cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func (a *app) chat(ctx context.Context, configID string, in io.Reader, out io.Writer) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	cfg, err := store.Get(ctx, configID)
	if err != nil {
		return err
	}

	client := a.newClient(a.cfg)
	poller := runpoller.New(client,
		runpoller.WithInterval(a.cfg.Poller.Interval),
		runpoller.WithMaxWait(a.cfg.Poller.MaxWait),
		runpoller.WithMaxAttempts(a.cfg.Poller.MaxAttempts),
	)
	sess := chat.NewSession(chat.NewRunner(client, poller), cfg.Credentials(), chat.SessionOptions{
		ConfigID:      cfg.ID,
		Greeting:      a.cfg.Sessions.Greeting,
		CancelOnClose: true,
	})
	defer sess.Close(context.Background())

	greeting, _ := sess.Open(ctx)
	printMessages(out, cfg.Name, greeting)

	p := newPrompter(in, out)
	defer p.Close()

	for {
		line, err := p.Prompt("> ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				_, _ = fmt.Fprintln(out)
				return nil
			}
			return err
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "/quit" {
			return nil
		}
		p.AppendHistory(input)

		msgs, err := sess.Submit(ctx, input)
		printMessages(out, cfg.Name, msgs)
		if err != nil && errors.Is(err, context.Canceled) {
			return err
		}
	}
}

// printMessages prints the assistant side of msgs; the user already sees
// their own input.
func printMessages(w io.Writer, name string, msgs []chat.Message) {
	if name == "" {
		name = "assistant"
	}
	for _, m := range msgs {
		if m.Role != chat.RoleAssistant {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s: %s\n", name, m.Content)
	}
}
