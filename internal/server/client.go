package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/dungeonforge/dungeon-server-go/internal/game/rules"
	"github.com/dungeonforge/dungeon-server-go/internal/lobby"
)

// Client calls the dungeon service over a gRPC connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, req, out any, opts ...grpc.CallOption) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, resp, opts...); err != nil {
		return err
	}
	return decodeStruct(resp, out)
}

// decodeStruct is fromStruct without the domain error wrapping.
func decodeStruct(s *structpb.Struct, out any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Execute runs one command.
func (c *Client) Execute(ctx context.Context, req CommandRequest, opts ...grpc.CallOption) (*ResultView, error) {
	var view ResultView
	if err := c.invoke(ctx, ExecuteMethod, req, &view, opts...); err != nil {
		return nil, err
	}
	return &view, nil
}

// Query decodes the answer to req into out.
func (c *Client) Query(ctx context.Context, req QueryRequest, out any, opts ...grpc.CallOption) error {
	return c.invoke(ctx, QueryMethod, req, out, opts...)
}

// ListGames returns the lobby listings, optionally filtered by status name.
func (c *Client) ListGames(ctx context.Context, statuses ...string) ([]lobby.ListingSnapshot, error) {
	var resp struct {
		Games []lobby.ListingSnapshot `json:"games"`
	}
	if err := c.invoke(ctx, ListGamesMethod, listGamesRequest{Statuses: statuses}, &resp); err != nil {
		return nil, err
	}
	return resp.Games, nil
}

// Ping returns the server clock.
func (c *Client) Ping(ctx context.Context) (time.Time, error) {
	out := new(timestamppb.Timestamp)
	if err := c.cc.Invoke(ctx, PingMethod, new(emptypb.Empty), out); err != nil {
		return time.Time{}, err
	}
	return out.AsTime(), nil
}

// Subscription is the client side of a Subscribe stream.
type Subscription struct {
	stream grpc.ClientStream
}

// Subscribe follows the events of gameID, or of every game when it is empty.
func (c *Client) Subscribe(ctx context.Context, gameID string) (*Subscription, error) {
	desc := &serviceDesc.Streams[0]
	stream, err := c.cc.NewStream(ctx, desc, SubscribeMethod)
	if err != nil {
		return nil, err
	}
	in, err := toStruct(subscribeRequest{GameID: gameID})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &Subscription{stream: stream}, nil
}

// Recv blocks for the next event.
func (s *Subscription) Recv() (rules.Event, error) {
	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		return rules.Event{}, err
	}
	var env struct {
		Type string      `json:"type"`
		Data rules.Event `json:"data"`
	}
	if err := decodeStruct(msg, &env); err != nil {
		return rules.Event{}, err
	}
	return env.Data, nil
}
