package engine

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func dialEngine(t *testing.T, s *stack) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryAuthInterceptor(testTokens, MethodScopes, zap.NewNop())))
	NewGRPCServer(s.gateway).Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func withToken(token string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", token)
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func TestGRPC_TurnAndReject(t *testing.T) {
	conn := dialEngine(t, newStack(t, deleteAnnounce))

	req := mustStruct(t, map[string]any{
		"guild_id": testGuild, "thread_id": testThread, "actor_id": testOwner,
		"content": "delete the announcements channel",
	})
	out := &structpb.Struct{}
	require.NoError(t, conn.Invoke(withToken("Bearer transport"), MethodEngineRunTurn, req, out))
	assert.Equal(t, "deferred", out.Fields["outcome"].GetStringValue())
	id := out.Fields["confirmation_id"].GetStringValue()
	require.NotEmpty(t, id)

	req = mustStruct(t, map[string]any{"id": id, "guild_id": testGuild, "thread_id": testThread, "actor_id": testOwner})
	out = &structpb.Struct{}
	require.NoError(t, conn.Invoke(withToken("Bearer transport"), MethodEngineReject, req, out))
	assert.NotEmpty(t, out.Fields["message"].GetStringValue())
}

func TestGRPC_AuthInterceptor(t *testing.T) {
	conn := dialEngine(t, newStack(t, finishHello))
	req := mustStruct(t, map[string]any{"guild_id": testGuild, "thread_id": testThread, "actor_id": testOwner, "content": "hi"})

	err := conn.Invoke(context.Background(), MethodEngineRunTurn, req, &structpb.Struct{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	err = conn.Invoke(withToken("Bearer forged"), MethodEngineRunTurn, req, &structpb.Struct{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	err = conn.Invoke(withToken("Bearer reader"), MethodEngineRunTurn, req, &structpb.Struct{})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestGRPC_BadRequest(t *testing.T) {
	conn := dialEngine(t, newStack(t, finishHello))
	req := mustStruct(t, map[string]any{"guild_id": testGuild, "content": "hi"})

	err := conn.Invoke(withToken("Bearer transport"), MethodEngineRunTurn, req, &structpb.Struct{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
