package guardrail

import (
	"context"
	"fmt"
	"strings"

	"github.com/xela07ax/guildops-agent/internal/domain"
)

// BotSubject субъект "сам бот" для PermissionOracle.
const BotSubject = "@bot"

// PermAdministrator перекрывает любые другие права.
const PermAdministrator = "Administrator"

// PermissionOracle эффективные права субъекта (бота или участника) в гильдии.
type PermissionOracle interface {
	EffectivePermissions(ctx context.Context, guildID, subjectID string) ([]string, error)
}

// RequiredPermissions объединение прав, нужных пакету, в порядке первого появления.
func RequiredPermissions(metas MetaSource, actions []domain.PlannedAction) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, a := range actions {
		meta, ok := metas.Meta(a.Action)
		if !ok {
			continue
		}
		for _, perm := range meta.RequiredBotPerms {
			if _, dup := seen[perm]; dup {
				continue
			}
			seen[perm] = struct{}{}
			out = append(out, perm)
		}
	}
	return out
}

// MissingPermissions сверяет нужные права с эффективными правами бота.
func MissingPermissions(ctx context.Context, oracle PermissionOracle, metas MetaSource, guildID string, actions []domain.PlannedAction) ([]string, error) {
	required := RequiredPermissions(metas, actions)
	if len(required) == 0 {
		return nil, nil
	}
	granted, err := oracle.EffectivePermissions(ctx, guildID, BotSubject)
	if err != nil {
		return nil, fmt.Errorf("guardrail: bot permissions: %w", err)
	}
	have := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		have[p] = struct{}{}
	}
	if _, admin := have[PermAdministrator]; admin {
		return nil, nil
	}
	var missing []string
	for _, p := range required {
		if _, ok := have[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing, nil
}

// MissingPermissionsMessage текст для пользователя и аудита.
func MissingPermissionsMessage(missing []string, lang domain.Language) string {
	list := strings.Join(missing, ", ")
	return lang.T("Missing bot permissions: "+list, "Botに必要な権限がありません: "+list)
}
