package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/matheus3301/matchchat/internal/api"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

func newStatusCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session status",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return g.call(api.SessionServiceName, "GetSessionStatus", nil, func(s *structpb.Struct) {
				f := s.GetFields()
				fmt.Printf("Session:   %s\n", f["session"].GetStringValue())
				fmt.Printf("State:     %s\n", f["state"].GetStringValue())
				fmt.Printf("Uptime:    %s\n", time.Duration(f["uptime_ms"].GetNumberValue())*time.Millisecond)
				fmt.Printf("Logged in: %v\n", f["logged_in"].GetBoolValue())
				fmt.Printf("Online:    %v\n", f["online"].GetBoolValue())
				if id := f["person_uuid"].GetStringValue(); id != "" {
					fmt.Printf("Person:    %s\n", id)
				}
				fmt.Printf("Stored:    %.0f conversations, %.0f messages, %.0f queued\n",
					f["conversation_count"].GetNumberValue(),
					f["message_count"].GetNumberValue(),
					f["outbox_pending"].GetNumberValue())
			})
		},
	}
}

func newLoginCommand(g *globals) *cobra.Command {
	var personUUID, token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with a person uuid and session token",
		Example: `  matchchatctl login --person-uuid 1f0e... --token abc123
  MATCHCHAT_SESSION_TOKEN=abc123 matchchatctl login --person-uuid 1f0e...`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if token == "" {
				token = os.Getenv("MATCHCHAT_SESSION_TOKEN")
			}
			return g.do(api.SessionServiceName, "Login", map[string]any{
				"person_uuid":   personUUID,
				"session_token": token,
			}, "Logged in.")
		},
	}
	cmd.Flags().StringVar(&personUUID, "person-uuid", "", "person uuid to sign in as")
	cmd.Flags().StringVar(&token, "token", "", "session token (default $MATCHCHAT_SESSION_TOKEN)")
	_ = cmd.MarkFlagRequired("person-uuid")
	return cmd
}

func newLogoutCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the inbox",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return g.do(api.SessionServiceName, "Logout", nil, "Logged out.")
		},
	}
}

func newPushTokenCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "push-token [token]",
		Short: "Register a push token; no token clears it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			token := ""
			if len(args) == 1 {
				token = args[0]
			}
			return g.do(api.SessionServiceName, "SetPushToken", map[string]any{"token": token}, "Push token updated.")
		},
	}
}

func newSessionsCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List known sessions",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return g.call(api.SessionServiceName, "ListSessions", nil, func(s *structpb.Struct) {
				current := s.GetFields()["current"].GetStringValue()
				names := s.GetFields()["sessions"].GetListValue().GetValues()
				if len(names) == 0 {
					fmt.Println("No sessions found.")
					return
				}
				for _, v := range names {
					mark := " "
					if v.GetStringValue() == current {
						mark = "*"
					}
					fmt.Printf("%s %s\n", mark, v.GetStringValue())
				}
			})
		},
	}
}

func newInboxCommand(g *globals) *cobra.Command {
	var section, order string
	var limit int
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "List one inbox section",
		Example: `  matchchatctl inbox
  matchchatctl inbox --section intros --order match`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			args := map[string]any{"section": section, "order": order, "limit": limit}
			return g.call(api.ChatServiceName, "ListInbox", args, printInbox)
		},
	}
	cmd.Flags().StringVar(&section, "section", "chats", "chats, intros or archive")
	cmd.Flags().StringVar(&order, "order", "latest", "latest or match")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum conversations to show")
	return cmd
}

func printInbox(s *structpb.Struct) {
	f := s.GetFields()
	stats := f["stats"].GetStructValue().GetFields()
	fmt.Printf("chats %.0f (%.0f unread)  intros %.0f (%.0f unread)  archive %.0f\n\n",
		stats["chats"].GetNumberValue(), stats["unread_chats"].GetNumberValue(),
		stats["intros"].GetNumberValue(), stats["unread_intros"].GetNumberValue(),
		stats["archive"].GetNumberValue())
	convs := f["conversations"].GetListValue().GetValues()
	if len(convs) == 0 {
		fmt.Printf("No conversations in %s.\n", f["section"].GetStringValue())
		return
	}
	for _, v := range convs {
		c := v.GetStructValue().GetFields()
		unread := " "
		if !c["last_message_read"].GetBoolValue() {
			unread = "●"
		}
		at := time.UnixMilli(int64(c["last_message_at_ms"].GetNumberValue())).Format("Jan 02 15:04")
		fmt.Printf("%s %-36s  %-20s %3.0f%%  %s  %s\n", unread,
			c["person_uuid"].GetStringValue(),
			truncate(c["name"].GetStringValue(), 20),
			c["match_percentage"].GetNumberValue(),
			at,
			truncate(c["last_message"].GetStringValue(), 40))
	}
}

func newConversationCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "conversation <person-uuid>",
		Short: "Show one conversation summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.call(api.ChatServiceName, "GetConversation", map[string]any{"person_uuid": args[0]}, nil)
		},
	}
}

func newRefreshCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the inbox from the server",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return g.call(api.SyncServiceName, "RefreshInbox", nil, func(s *structpb.Struct) {
				stats := s.GetFields()["stats"].GetStructValue().GetFields()
				fmt.Printf("Inbox refreshed: %.0f chats, %.0f intros, %.0f archived.\n",
					stats["chats"].GetNumberValue(), stats["intros"].GetNumberValue(), stats["archive"].GetNumberValue())
			})
		},
	}
}

func newMoreCommand(g *globals) *cobra.Command {
	var pageSize int
	cmd := &cobra.Command{
		Use:   "more",
		Short: "Load the next page of older conversations",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return g.call(api.SyncServiceName, "LoadMoreInbox", map[string]any{"page_size": pageSize}, func(s *structpb.Struct) {
				fmt.Printf("Loaded %.0f more conversations.\n", s.GetFields()["added"].GetNumberValue())
			})
		},
	}
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "conversations per page (default from config)")
	return cmd
}

func newSyncStatusCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-status",
		Short: "Show inbox refresh checkpoints",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return g.call(api.SyncServiceName, "GetSyncStatus", nil, func(s *structpb.Struct) {
				f := s.GetFields()
				fmt.Printf("State:        %s\n", f["state"].GetStringValue())
				fmt.Printf("Last refresh: %s\n", formatMillis(f["last_refresh_ms"].GetNumberValue()))
				fmt.Printf("Watermark:    %s\n", formatMillis(f["watermark_ms"].GetNumberValue()))
			})
		},
	}
}

func newHistoryCommand(g *globals) *cobra.Command {
	var before string
	cmd := &cobra.Command{
		Use:   "history <person-uuid>",
		Short: "Fetch a page of conversation history from the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			req := map[string]any{"person_uuid": args[0], "before": before}
			return g.call(api.MessageServiceName, "FetchHistory", req, printMessages)
		},
	}
	cmd.Flags().StringVar(&before, "before", "", "archive id to page back from")
	return cmd
}

func newMessagesCommand(g *globals) *cobra.Command {
	var beforeMs int64
	var limit int
	cmd := &cobra.Command{
		Use:   "messages <person-uuid>",
		Short: "List stored messages with a person",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			req := map[string]any{"person_uuid": args[0], "before_ms": beforeMs, "limit": limit}
			return g.call(api.MessageServiceName, "ListMessages", req, printMessages)
		},
	}
	cmd.Flags().Int64Var(&beforeMs, "before-ms", 0, "only messages older than this unix millisecond time")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum messages to show")
	return cmd
}

func printMessages(s *structpb.Struct) {
	msgs := s.GetFields()["messages"].GetListValue().GetValues()
	if len(msgs) == 0 {
		fmt.Println("No messages.")
		return
	}
	for _, v := range msgs {
		printMessage(v.GetStructValue())
	}
	if s.GetFields()["has_more"].GetBoolValue() {
		fmt.Println("(more available)")
	}
}

func printMessage(m *structpb.Struct) {
	f := m.GetFields()
	who := "them"
	if f["from_me"].GetBoolValue() {
		who = "me"
	}
	body := f["body"].GetStringValue()
	if body == "" && f["audio_uuid"].GetStringValue() != "" {
		body = "[audio]"
	}
	at := time.UnixMilli(int64(f["timestamp_ms"].GetNumberValue())).Format("2006-01-02 15:04")
	fmt.Printf("[%s] %-4s %s\n", at, who, body)
}

func newSearchCommand(g *globals) *cobra.Command {
	var with string
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored messages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			req := map[string]any{"query": strings.Join(args, " "), "person_uuid": with, "limit": limit}
			return g.call(api.MessageServiceName, "SearchMessages", req, func(s *structpb.Struct) {
				results := s.GetFields()["results"].GetListValue().GetValues()
				if len(results) == 0 {
					fmt.Println("No matches.")
					return
				}
				for _, v := range results {
					r := v.GetStructValue().GetFields()
					msg := r["message"].GetStructValue().GetFields()
					fmt.Printf("%s  %s\n", msg["peer_uuid"].GetStringValue(), r["snippet"].GetStringValue())
				}
			})
		},
	}
	cmd.Flags().StringVar(&with, "with", "", "only search messages with this person uuid")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results")
	return cmd
}

func newSendCommand(g *globals) *cobra.Command {
	var queue bool
	var id string
	cmd := &cobra.Command{
		Use:   "send <person-uuid> <text>...",
		Short: "Send a text message",
		Example: `  matchchatctl send 1f0e... hello there
  matchchatctl send --queue 1f0e... see you tomorrow`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			req := map[string]any{
				"person_uuid":   args[0],
				"text":          strings.Join(args[1:], " "),
				"queue":         queue,
				"client_msg_id": id,
			}
			return g.call(api.MessageServiceName, "SendText", req, func(s *structpb.Struct) {
				f := s.GetFields()
				fmt.Printf("%s: %s\n", f["client_msg_id"].GetStringValue(), f["status"].GetStringValue())
			})
		},
	}
	cmd.Flags().BoolVar(&queue, "queue", false, "queue for background delivery instead of waiting")
	cmd.Flags().StringVar(&id, "id", "", "client message id (default random)")
	return cmd
}

func newTypingCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "typing <person-uuid>",
		Short: "Send a typing indicator",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.do(api.MessageServiceName, "SendTyping", map[string]any{"person_uuid": args[0]}, "Sent.")
		},
	}
}

func newMessageStatusCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "message-status <client-msg-id>",
		Short: "Show the delivery status of a sent message",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.call(api.MessageServiceName, "GetMessageStatus", map[string]any{"client_msg_id": args[0]}, func(s *structpb.Struct) {
				fmt.Println(s.GetFields()["status"].GetStringValue())
			})
		},
	}
}

func newSkipCommand(g *globals) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "skip <person-uuid>",
		Short: "Skip a person and archive the conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			req := map[string]any{"person_uuid": args[0], "report_reason": reason}
			return g.do(api.ChatServiceName, "Skip", req, "Skipped.")
		},
	}
	cmd.Flags().StringVar(&reason, "report", "", "report reason sent with the skip")
	return cmd
}

func newUnskipCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "unskip <person-uuid>",
		Short: "Undo a skip",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.do(api.ChatServiceName, "Unskip", map[string]any{"person_uuid": args[0]}, "Unskipped.")
		},
	}
}

func newDraftCommand(g *globals) *cobra.Command {
	var clearDraft bool
	cmd := &cobra.Command{
		Use:   "draft <person-uuid> [text]...",
		Short: "Show, save or clear the draft for a conversation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if clearDraft || len(args) > 1 {
				req := map[string]any{"person_uuid": args[0], "body": strings.Join(args[1:], " ")}
				return g.do(api.ChatServiceName, "SaveDraft", req, "Draft saved.")
			}
			return g.call(api.ChatServiceName, "GetDraft", map[string]any{"person_uuid": args[0]}, func(s *structpb.Struct) {
				fmt.Println(s.GetFields()["body"].GetStringValue())
			})
		},
	}
	cmd.Flags().BoolVar(&clearDraft, "clear", false, "clear the draft")
	return cmd
}

func newPresenceCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "presence <person-uuid>",
		Short: "Show the last known online status of a person",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.call(api.SyncServiceName, "GetPresence", map[string]any{"person_uuid": args[0]}, func(s *structpb.Struct) {
				fmt.Println(s.GetFields()["status"].GetStringValue())
			})
		},
	}
}

func newWatchCommand(g *globals) *cobra.Command {
	var prefix string
	var presence []string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream daemon events until interrupted",
		Example: `  matchchatctl watch
  matchchatctl watch --prefix message.
  matchchatctl watch --presence 1f0e...,2a9b...`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			c, err := g.connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			return c.Watch(ctx, prefix, presence, func(evt *structpb.Struct) error {
				if g.json {
					return outputJSON(evt)
				}
				f := evt.GetFields()
				at := time.UnixMilli(int64(f["occurred_at_unix_ms"].GetNumberValue())).Format("15:04:05.000")
				payload := ""
				if p := f["payload"].GetStructValue(); p != nil {
					b, _ := protojson.Marshal(p)
					payload = string(b)
				}
				fmt.Printf("%s %-22s %s\n", at, f["kind"].GetStringValue(), payload)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "only events whose kind starts with this")
	cmd.Flags().StringSliceVar(&presence, "presence", nil, "person uuids whose online status to follow")
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}

func formatMillis(ms float64) string {
	if ms == 0 {
		return "never"
	}
	return time.UnixMilli(int64(ms)).Format(time.RFC3339)
}
