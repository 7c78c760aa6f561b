package connectors

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xela07ax/guildops-agent/internal/domain"
	"github.com/xela07ax/guildops-agent/internal/tools"
)

// Методы сервиса платформы. Сообщения — google.protobuf.Struct в обе стороны.
const (
	platformService = "/guildops.platform.v1.Platform/"

	MethodExecuteTool          = platformService + "ExecuteTool"
	MethodEffectivePermissions = platformService + "EffectivePermissions"
	MethodGetChannel           = platformService + "GetChannel"
	MethodListChannels         = platformService + "ListChannels"
	MethodGetRole              = platformService + "GetRole"
	MethodListRoles            = platformService + "ListRoles"
	MethodGetMember            = platformService + "GetMember"
)

const defaultPlatformTimeout = 15 * time.Second

// Breaker предохранитель вокруг удаленного вызова (gobreaker.CircuitBreaker).
type Breaker interface {
	Execute(req func() (interface{}, error)) (interface{}, error)
}

type PlatformOptions struct {
	Timeout time.Duration
	Breaker Breaker // nil — без предохранителя
}

// PlatformClient ходит в платформу чата по gRPC. Один клиент обслуживает исполнение
// инструментов (tools.Invoker), права (guardrail.PermissionOracle) и справочник (impact.Directory).
type PlatformClient struct {
	conn    grpc.ClientConnInterface
	breaker Breaker
	timeout time.Duration
	logger  *zap.Logger
}

func NewPlatformClient(conn grpc.ClientConnInterface, opts PlatformOptions, logger *zap.Logger) *PlatformClient {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultPlatformTimeout
	}
	return &PlatformClient{
		conn:    conn,
		breaker: opts.Breaker,
		timeout: opts.Timeout,
		logger:  logger.Named("platform"),
	}
}

// businessCode ответы, которые означают исправную платформу и не должны размыкать предохранитель.
func businessCode(err error) bool {
	switch status.Code(err) {
	case codes.NotFound, codes.InvalidArgument, codes.PermissionDenied, codes.FailedPrecondition, codes.AlreadyExists:
		return true
	}
	return false
}

func (c *PlatformClient) call(ctx context.Context, method string, req any, md ...string) (*structpb.Struct, error) {
	in, err := toStruct(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	// Защитный таймаут на уровне вызова
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if len(md) > 0 {
		ctx = metadata.AppendToOutgoingContext(ctx, md...)
	}

	out := new(structpb.Struct)
	var trailer metadata.MD
	var callErr error
	invoke := func() (interface{}, error) {
		callErr = c.conn.Invoke(ctx, method, in, out, grpc.Trailer(&trailer))
		if callErr != nil && !businessCode(callErr) {
			return nil, callErr
		}
		return nil, nil
	}

	if c.breaker == nil {
		_, _ = invoke()
	} else if _, err := c.breaker.Execute(invoke); err != nil && callErr == nil {
		// Предохранитель разомкнут: вызов не выполнялся
		return nil, fmt.Errorf("%s: %w: %v", method, ErrUnavailable, err)
	}
	if callErr != nil {
		return nil, classify(method, callErr, trailer)
	}
	return out, nil
}

// Invoke исполняет инструмент на платформе. Параметры мутаций проверяются до сети.
func (c *PlatformClient) Invoke(ctx context.Context, tc tools.Context, action domain.PlannedAction) (tools.Result, error) {
	if err := tools.Validate(action); err != nil {
		return tools.Result{OK: false, Message: err.Error()}, nil
	}
	params := action.Params
	if params == nil {
		params = map[string]any{}
	}
	req := map[string]any{
		"action": action.Action,
		"params": params,
		"context": map[string]any{
			"guild_id":  tc.GuildID,
			"thread_id": tc.ThreadID,
			"actor_id":  tc.ActorID,
			"lang":      string(tc.Lang),
		},
	}
	out, err := c.call(ctx, MethodExecuteTool, req, "x-guild-id", tc.GuildID, "x-actor-id", tc.ActorID)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return tools.Result{OK: false, Message: tc.Lang.T("Tool not implemented.", "未実装のツールです。")}, tools.ErrToolNotFound
		}
		c.logger.Warn("tool call failed", zap.String("action", action.Action), zap.String("guild_id", tc.GuildID), zap.Error(err))
		return tools.Result{OK: false, Message: tc.Lang.T("Tool execution failed.", "ツールの実行に失敗しました。")}, err
	}

	var res tools.Result
	if err := fromStruct(out, &res); err != nil {
		return tools.Result{OK: false, Message: tc.Lang.T("Tool execution failed.", "ツールの実行に失敗しました。")}, fmt.Errorf("%s: %w", MethodExecuteTool, err)
	}
	return res, nil
}

func (c *PlatformClient) EffectivePermissions(ctx context.Context, guildID, subjectID string) ([]string, error) {
	out, err := c.call(ctx, MethodEffectivePermissions, map[string]any{"guild_id": guildID, "subject_id": subjectID}, "x-guild-id", guildID)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Permissions []string `json:"permissions"`
	}
	if err := fromStruct(out, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", MethodEffectivePermissions, err)
	}
	return resp.Permissions, nil
}

// lookup общий путь для Get*-методов: NotFound означает отсутствие сущности, а не ошибку.
func (c *PlatformClient) lookup(ctx context.Context, method, guildID, id string, out any) (bool, error) {
	resp, err := c.call(ctx, method, map[string]any{"guild_id": guildID, "id": id}, "x-guild-id", guildID)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, err
	}
	if err := fromStruct(resp, out); err != nil {
		return false, fmt.Errorf("%s: %w", method, err)
	}
	return true, nil
}

func (c *PlatformClient) ChannelByID(ctx context.Context, guildID, id string) (domain.Channel, bool, error) {
	var resp struct {
		Channel domain.Channel `json:"channel"`
	}
	found, err := c.lookup(ctx, MethodGetChannel, guildID, id, &resp)
	return resp.Channel, found, err
}

func (c *PlatformClient) Channels(ctx context.Context, guildID string) ([]domain.Channel, error) {
	out, err := c.call(ctx, MethodListChannels, map[string]any{"guild_id": guildID}, "x-guild-id", guildID)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Channels []domain.Channel `json:"channels"`
	}
	if err := fromStruct(out, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", MethodListChannels, err)
	}
	return resp.Channels, nil
}

func (c *PlatformClient) RoleByID(ctx context.Context, guildID, id string) (domain.Role, bool, error) {
	var resp struct {
		Role domain.Role `json:"role"`
	}
	found, err := c.lookup(ctx, MethodGetRole, guildID, id, &resp)
	return resp.Role, found, err
}

func (c *PlatformClient) Roles(ctx context.Context, guildID string) ([]domain.Role, error) {
	out, err := c.call(ctx, MethodListRoles, map[string]any{"guild_id": guildID}, "x-guild-id", guildID)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Roles []domain.Role `json:"roles"`
	}
	if err := fromStruct(out, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", MethodListRoles, err)
	}
	return resp.Roles, nil
}

func (c *PlatformClient) MemberByID(ctx context.Context, guildID, id string) (domain.Member, bool, error) {
	var resp struct {
		Member domain.Member `json:"member"`
	}
	found, err := c.lookup(ctx, MethodGetMember, guildID, id, &resp)
	return resp.Member, found, err
}
