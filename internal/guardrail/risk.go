package guardrail

import (
	"github.com/xela07ax/guildops-agent/internal/domain"
	"github.com/xela07ax/guildops-agent/internal/tools"
	"go.uber.org/zap"
)

// MetaSource откуда брать метаданные инструмента. Реализуется tools.Registry.
type MetaSource interface {
	Meta(name string) (tools.Meta, bool)
}

// Analyzer классифицирует риск действий. Флаг модели носит рекомендательный характер:
// он может только повысить риск, но не понизить.
type Analyzer struct {
	metas  MetaSource
	logger *zap.Logger
}

func NewAnalyzer(metas MetaSource, logger *zap.Logger) *Analyzer {
	return &Analyzer{metas: metas, logger: logger.Named("analyzer")}
}

// ClassifyRisk возвращает итоговый класс риска действия.
func (a *Analyzer) ClassifyRisk(action domain.PlannedAction) tools.Risk {
	meta, hasMeta := a.metas.Meta(action.Action)

	// 1. Любой из трех источников объявляет действие разрушительным
	if action.Destructive || domain.IsDestructiveAction(action.Action) || (hasMeta && meta.Risk == tools.RiskDestructive) {
		return tools.RiskDestructive
	}

	// 2. Чтение
	if action.Action == domain.ActionNone || domain.IsObservationAction(action.Action) {
		return tools.RiskRead
	}

	// 3. Явно разрешенные неразрушительные мутации
	if domain.IsNonDestructiveMutation(action.Action) {
		if hasMeta && meta.Risk != "" {
			return meta.Risk
		}
		return tools.RiskLow
	}

	// 4. Мутация вне явного списка: fail-closed
	a.logger.Warn("unclassified mutation treated as destructive",
		zap.String("action", action.Action),
		zap.Bool("has_meta", hasMeta),
	)
	return tools.RiskDestructive
}

// IsDestructive действие требует подтверждения человеком.
func (a *Analyzer) IsDestructive(action domain.PlannedAction) bool {
	return a.ClassifyRisk(action) == tools.RiskDestructive
}

// SplitDestructive возвращает разрушительные действия пакета в исходном порядке.
func (a *Analyzer) SplitDestructive(actions []domain.PlannedAction) []domain.PlannedAction {
	var out []domain.PlannedAction
	for _, act := range actions {
		if a.IsDestructive(act) {
			out = append(out, act)
		}
	}
	return out
}
