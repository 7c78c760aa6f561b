package engine

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/xela07ax/guildops-agent/internal/infra/auth"
)

// UnaryAuthInterceptor проверяет JWT в метаданных gRPC вызова и скоуп метода.
func UnaryAuthInterceptor(v auth.TokenValidator, scopes map[string]string, logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		// 1. Извлекаем метаданные из контекста
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Errorf(codes.Unauthenticated, "missing metadata")
		}

		// 2. Ищем токен (в gRPC заголовки в нижнем регистре)
		tokens := md.Get("authorization")
		if len(tokens) == 0 {
			return nil, status.Errorf(codes.Unauthenticated, "missing access token")
		}

		claims, err := v.VerifyToken(tokens[0])
		if err != nil {
			logger.Warn("grpc auth failure", zap.String("method", info.FullMethod), zap.Error(err))
			return nil, status.Errorf(codes.Unauthenticated, "invalid access token")
		}

		// 3. Метод без записи в таблице закрыт
		scope, known := scopes[info.FullMethod]
		if !known || !claims.HasScope(scope) {
			return nil, status.Errorf(codes.PermissionDenied, "token does not grant %s", info.FullMethod)
		}

		// 4. Trace-ID как в HTTP: из метаданных или новый
		traceID := uuid.NewString()
		if ids := md.Get("x-trace-id"); len(ids) > 0 && ids[0] != "" {
			traceID = ids[0]
		}

		return handler(WithTraceID(auth.WithClaims(ctx, claims), traceID), req)
	}
}
