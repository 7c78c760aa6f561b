package tools

import (
	"context"
	"fmt"

	"github.com/xela07ax/guildops-agent/internal/domain"
)

// Invoker исполняет действия контроллера.
type Invoker interface {
	Invoke(ctx context.Context, tc Context, action domain.PlannedAction) (Result, error)
}

// DryRunInvoker перехватывает мутации в режиме песочницы: чтение идет в реальный реестр,
// изменения только валидируются и возвращают имитацию успеха.
type DryRunInvoker struct {
	next Invoker
}

func NewDryRunInvoker(next Invoker) *DryRunInvoker {
	return &DryRunInvoker{next: next}
}

func (d *DryRunInvoker) Invoke(ctx context.Context, tc Context, action domain.PlannedAction) (Result, error) {
	if domain.IsObservationAction(action.Action) {
		return d.next.Invoke(ctx, tc, action)
	}
	if err := Validate(action); err != nil {
		return Result{OK: false, Message: err.Error()}, nil
	}
	return Result{
		OK:      true,
		Message: tc.Lang.T(fmt.Sprintf("[dry-run] %s captured, no changes made.", action.Action), fmt.Sprintf("[dry-run] %s を記録しました（変更なし）。", action.Action)),
		Data:    map[string]any{"status": "simulated_success", "params": action.Params},
	}, nil
}
