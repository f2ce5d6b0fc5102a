package server

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/dungeonforge/dungeon-server-go/internal/game"
	"github.com/dungeonforge/dungeon-server-go/internal/game/gameerr"
	"github.com/dungeonforge/dungeon-server-go/internal/lobby"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "dungeon.v1.DungeonService"

// Full method names.
const (
	ExecuteMethod   = "/" + ServiceName + "/Execute"
	QueryMethod     = "/" + ServiceName + "/Query"
	ListGamesMethod = "/" + ServiceName + "/ListGames"
	PingMethod      = "/" + ServiceName + "/Ping"
	SubscribeMethod = "/" + ServiceName + "/Subscribe"
)

// DungeonServiceServer is the server API of the dungeon service. Requests and
// responses are JSON objects carried as google.protobuf.Struct.
type DungeonServiceServer interface {
	Execute(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Query(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListGames(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Ping(context.Context, *emptypb.Empty) (*timestamppb.Timestamp, error)
	Subscribe(*structpb.Struct, SubscribeServer) error
}

// SubscribeServer is the server side of a Subscribe stream.
type SubscribeServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type subscribeServer struct {
	grpc.ServerStream
}

func (s *subscribeServer) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

// RegisterDungeonServiceServer registers srv on s.
func RegisterDungeonServiceServer(s grpc.ServiceRegistrar, srv DungeonServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

func structHandler(method string, call func(DungeonServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DungeonServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(DungeonServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func pingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DungeonServiceServer).Ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PingMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DungeonServiceServer).Ping(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(DungeonServiceServer).Subscribe(in, &subscribeServer{stream})
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DungeonServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: structHandler(ExecuteMethod, DungeonServiceServer.Execute)},
		{MethodName: "Query", Handler: structHandler(QueryMethod, DungeonServiceServer.Query)},
		{MethodName: "ListGames", Handler: structHandler(ListGamesMethod, DungeonServiceServer.ListGames)},
		{MethodName: "Ping", Handler: pingHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "dungeon/v1/dungeon.proto",
}

// Services bundles what the transports need.
type Services struct {
	Engine     *game.Engine
	Dispatcher *Dispatcher
	Lobby      *lobby.Manager
	Hub        *Hub
	Logger     *zap.Logger
	Version    string
}

type dungeonServer struct {
	svc   Services
	clock func() time.Time
}

// NewDungeonServer creates the gRPC implementation over svc.
func NewDungeonServer(svc Services) DungeonServiceServer {
	return &dungeonServer{svc: svc, clock: time.Now}
}

func (s *dungeonServer) Execute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req CommandRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, gameerr.ToStatus(err)
	}
	cmd, err := req.Command()
	if err != nil {
		return nil, gameerr.ToStatus(err)
	}
	res, err := s.svc.Dispatcher.Execute(ctx, cmd)
	if err != nil {
		return nil, gameerr.ToStatus(err)
	}
	out, err := toStruct(NewResultView(res))
	if err != nil {
		s.svc.Logger.Error("failed to encode result", zap.String("game_id", res.GameID), zap.Error(err))
		return nil, status.Error(codes.Internal, "encode result")
	}
	return out, nil
}

func (s *dungeonServer) Query(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req QueryRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, gameerr.ToStatus(err)
	}
	answer, err := req.Run(ctx, s.svc.Engine)
	if err != nil {
		return nil, gameerr.ToStatus(err)
	}
	out, err := toStruct(answer)
	if err != nil {
		s.svc.Logger.Error("failed to encode query answer", zap.String("kind", req.Kind), zap.Error(err))
		return nil, status.Error(codes.Internal, "encode answer")
	}
	return out, nil
}

type listGamesRequest struct {
	Statuses []string `json:"statuses,omitempty"`
}

func parseStatuses(names []string) ([]game.Status, error) {
	out := make([]game.Status, 0, len(names))
	for _, name := range names {
		st, err := game.ParseStatus(name)
		if err != nil {
			return nil, gameerr.Wrap(gameerr.CodeInvalidArgument, "unknown status", err)
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *dungeonServer) ListGames(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req listGamesRequest
	if in != nil {
		if err := fromStruct(in, &req); err != nil {
			return nil, gameerr.ToStatus(err)
		}
	}
	statuses, err := parseStatuses(req.Statuses)
	if err != nil {
		return nil, gameerr.ToStatus(err)
	}
	out, err := toStruct(map[string]any{"games": s.svc.Lobby.List(statuses...)})
	if err != nil {
		return nil, status.Error(codes.Internal, "encode listings")
	}
	return out, nil
}

func (s *dungeonServer) Ping(context.Context, *emptypb.Empty) (*timestamppb.Timestamp, error) {
	return timestamppb.New(s.clock()), nil
}

type subscribeRequest struct {
	GameID string `json:"game_id"`
}

// Subscribe streams the events of one game, or of every game when game_id is
// empty, until the client goes away or falls too far behind.
func (s *dungeonServer) Subscribe(in *structpb.Struct, stream SubscribeServer) error {
	var req subscribeRequest
	if err := fromStruct(in, &req); err != nil {
		return gameerr.ToStatus(err)
	}
	ctx := stream.Context()
	if req.GameID != "" {
		if _, err := s.svc.Engine.GetGame(ctx, req.GameID); err != nil {
			return gameerr.ToStatus(err)
		}
	}

	sub := s.svc.Hub.Subscribe(req.GameID)
	defer s.svc.Hub.Unsubscribe(sub)
	s.svc.Logger.Debug("subscriber attached", zap.String("game_id", req.GameID))

	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-sub.C():
			if !ok {
				return status.Error(codes.ResourceExhausted, "subscriber fell behind")
			}
			msg, err := toStruct(env)
			if err != nil {
				return status.Error(codes.Internal, "encode event")
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}
