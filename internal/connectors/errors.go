package connectors

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// defaultRetryAfter пауза, если сервер не прислал retry-after-ms.
const defaultRetryAfter = time.Second

// retryAfterKey трейлер, в котором удаленная сторона сообщает паузу до повтора.
const retryAfterKey = "retry-after-ms"

// ErrUnavailable удаленный сервис недоступен или разомкнут предохранитель.
var ErrUnavailable = errors.New("connectors: remote service unavailable")

type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// retryAfter читает паузу из трейлера ответа.
func retryAfter(trailer metadata.MD) time.Duration {
	for _, v := range trailer.Get(retryAfterKey) {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultRetryAfter
}

// classify переводит gRPC-статус в ошибки пакета: ResourceExhausted -> ThrottleError,
// Unavailable -> ErrUnavailable. Остальное оборачивается как есть.
func classify(method string, err error, trailer metadata.MD) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.ResourceExhausted:
		return &ThrottleError{RetryAfter: retryAfter(trailer), Cause: err}
	case codes.Unavailable:
		return fmt.Errorf("%s: %w: %v", method, ErrUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", method, err)
	}
}
