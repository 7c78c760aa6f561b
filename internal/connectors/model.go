package connectors

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xela07ax/guildops-agent/internal/domain"
)

// MethodGenerate единственный метод сервиса модели.
const MethodGenerate = "/guildops.model.v1.Model/Generate"

const defaultModelTimeout = 30 * time.Second

type ModelOptions struct {
	Model   string // имя модели у провайдера, пустое — по умолчанию сервиса
	Timeout time.Duration
}

// ModelClient адаптер модели поверх gRPC (plan.ModelAdapter).
// Ретраи и предохранитель живут уровнем выше.
type ModelClient struct {
	conn   grpc.ClientConnInterface
	opts   ModelOptions
	logger *zap.Logger
}

func NewModelClient(conn grpc.ClientConnInterface, opts ModelOptions, logger *zap.Logger) *ModelClient {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultModelTimeout
	}
	return &ModelClient{conn: conn, opts: opts, logger: logger.Named("model")}
}

// Generate отправляет сообщения и схему шага, возвращает сырой текст ответа.
func (m *ModelClient) Generate(ctx context.Context, messages []domain.ChatMessage, schema map[string]any) (string, error) {
	in, err := toStruct(map[string]any{
		"model":           m.opts.Model,
		"messages":        messages,
		"response_schema": schema,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", MethodGenerate, err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	out := new(structpb.Struct)
	var trailer metadata.MD
	if err := m.conn.Invoke(ctx, MethodGenerate, in, out, grpc.Trailer(&trailer)); err != nil {
		return "", classify(MethodGenerate, err, trailer)
	}

	var resp struct {
		Text string `json:"text"`
	}
	if err := fromStruct(out, &resp); err != nil {
		return "", fmt.Errorf("%s: %w", MethodGenerate, err)
	}
	m.logger.Debug("model replied", zap.Int("chars", len(resp.Text)))
	return resp.Text, nil
}
