package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/matchchat/internal/api"
	"github.com/matheus3301/matchchat/internal/session"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

type globals struct {
	session string
	json    bool
	timeout time.Duration
}

func newRootCommand() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:           "matchchatctl",
		Short:         "Control a running matchchat daemon",
		Example:       "matchchatctl inbox --section intros",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&g.session, "session", "", "session name (overrides config default)")
	cmd.PersistentFlags().BoolVar(&g.json, "json", false, "output in JSON format")
	cmd.PersistentFlags().DurationVar(&g.timeout, "timeout", 30*time.Second, "request timeout")

	cmd.AddCommand(
		newStatusCommand(g),
		newLoginCommand(g),
		newLogoutCommand(g),
		newPushTokenCommand(g),
		newSessionsCommand(g),
		newInboxCommand(g),
		newConversationCommand(g),
		newRefreshCommand(g),
		newMoreCommand(g),
		newSyncStatusCommand(g),
		newHistoryCommand(g),
		newMessagesCommand(g),
		newSearchCommand(g),
		newSendCommand(g),
		newTypingCommand(g),
		newMessageStatusCommand(g),
		newSkipCommand(g),
		newUnskipCommand(g),
		newDraftCommand(g),
		newPresenceCommand(g),
		newWatchCommand(g),
	)
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// connect dials the daemon for the selected session.
func (g *globals) connect() (*api.Client, error) {
	name := session.Resolve(g.session)
	if err := session.ValidateName(name); err != nil {
		return nil, err
	}
	c, err := api.Dial(session.SocketPath(name))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon for session %q: %w", name, err)
	}
	return c, nil
}

// call runs one unary request and prints the result, as JSON or through
// format when one is given.
func (g *globals) call(service, method string, args map[string]any, format func(*structpb.Struct)) error {
	c, err := g.connect()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	resp, err := c.Call(ctx, service, method, args)
	if err != nil {
		return err
	}
	if g.json || format == nil {
		return outputJSON(resp)
	}
	format(resp)
	return nil
}

// do runs one unary request that returns nothing and prints done.
func (g *globals) do(service, method string, args map[string]any, done string) error {
	c, err := g.connect()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	if err := c.Do(ctx, service, method, args); err != nil {
		return err
	}
	if !g.json {
		fmt.Println(done)
	}
	return nil
}

func outputJSON(s *structpb.Struct) error {
	b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(s)
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	fmt.Println(string(b))
	return nil
}
