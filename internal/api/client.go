package api

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the daemon's services over its unix socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon listening on socketPath. The connection is
// established lazily on the first call.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call invokes a unary method that returns a Struct. args may be nil.
func (c *Client) Call(ctx context.Context, service, method string, args map[string]any) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, service, method, args, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Do invokes a unary method that returns nothing.
func (c *Client) Do(ctx context.Context, service, method string, args map[string]any) error {
	return c.invoke(ctx, service, method, args, new(emptypb.Empty))
}

func (c *Client) invoke(ctx context.Context, service, method string, args map[string]any, out proto.Message) error {
	in, err := structpb.NewStruct(args)
	if err != nil {
		return err
	}
	return c.conn.Invoke(ctx, "/"+service+"/"+method, in, out)
}

// Watch streams events until ctx ends or the daemon goes away. prefix
// filters by kind; presence lists people whose online status to follow.
func (c *Client) Watch(ctx context.Context, prefix string, presence []string, fn func(*structpb.Struct) error) error {
	ids := make([]any, 0, len(presence))
	for _, id := range presence {
		ids = append(ids, id)
	}
	in, err := structpb.NewStruct(map[string]any{"prefix": prefix, "presence": ids})
	if err != nil {
		return err
	}

	desc := &SyncServiceDesc.Streams[0]
	stream, err := c.conn.NewStream(ctx, desc, "/"+SyncServiceName+"/"+desc.StreamName)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		evt := new(structpb.Struct)
		if err := stream.RecvMsg(evt); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}

// Typed helpers for the common calls.

// Status returns the session status.
func (c *Client) Status(ctx context.Context) (*structpb.Struct, error) {
	return c.Call(ctx, SessionServiceName, "GetSessionStatus", nil)
}

// Inbox lists one inbox section ("chats", "intros", "archive") in the given
// order ("latest" or "match").
func (c *Client) Inbox(ctx context.Context, section, order string) (*structpb.Struct, error) {
	return c.Call(ctx, ChatServiceName, "ListInbox", map[string]any{"section": section, "order": order})
}

// History fetches one page of a conversation from the server.
func (c *Client) History(ctx context.Context, personUUID, before string) (*structpb.Struct, error) {
	return c.Call(ctx, MessageServiceName, "FetchHistory", map[string]any{"person_uuid": personUUID, "before": before})
}

// SendText sends a message, or queues it for the outbox when queue is set.
func (c *Client) SendText(ctx context.Context, personUUID, text string, queue bool) (*structpb.Struct, error) {
	return c.Call(ctx, MessageServiceName, "SendText", map[string]any{
		"person_uuid": personUUID,
		"text":        text,
		"queue":       queue,
	})
}
