package domain

// Impact — человекочитаемые дескрипторы затрагиваемых сущностей ("#name (id)"), не сырые id.
type Impact struct {
	Channels    []string `json:"channels,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Members     []string `json:"members,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// IsEmpty сообщает, что ни одно поле не заполнено.
func (i Impact) IsEmpty() bool {
	return len(i.Channels) == 0 && len(i.Roles) == 0 && len(i.Members) == 0 && len(i.Permissions) == 0
}

// MergeImpact объединяет поля с дедупликацией, сохраняя порядок первого появления.
// Пустые поля остаются nil.
func MergeImpact(a, b Impact) Impact {
	return Impact{
		Channels:    unionDedupe(a.Channels, b.Channels),
		Roles:       unionDedupe(a.Roles, b.Roles),
		Members:     unionDedupe(a.Members, b.Members),
		Permissions: unionDedupe(a.Permissions, b.Permissions),
	}
}

func unionDedupe(a, b []string) []string {
	if len(a)+len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
