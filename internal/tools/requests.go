package tools

import "github.com/xela07ax/guildops-agent/internal/domain"

// Типизированные запросы мутаций. Обработчик сразу сужает map параметров до своей структуры;
// нетипизированная map живет только до точки диспетчеризации реестра.

type CreateChannelRequest struct {
	Name      string
	Type      string // text | voice | category | forum
	ParentID  string
	UserLimit int
}

type RenameChannelRequest struct {
	Channel ChannelRef
	NewName string
}

type DeleteChannelRequest struct {
	Channel ChannelRef
}

type CreateThreadRequest struct {
	Channel ChannelRef
	Name    string
}

type PinMessageRequest struct {
	Channel   ChannelRef
	MessageID string
}

type CreateRoleRequest struct {
	Name        string
	Color       string
	Mentionable bool
}

type DeleteRoleRequest struct {
	Role RoleRef
}

type RoleMembershipRequest struct {
	Role     RoleRef
	MemberID string
}

type OverwritesRequest struct {
	Channel  ChannelRef
	Role     RoleRef
	MemberID string
	Allow    []string
	Deny     []string
}

func required(action, field string) *ValidationError {
	return &ValidationError{Action: action, Field: field, Reason: "required"}
}

func DecodeCreateChannel(p map[string]any) (CreateChannelRequest, error) {
	req := CreateChannelRequest{Type: "text"}
	if t, ok := GetString(p, "type"); ok {
		req.Type = t
	}
	switch req.Type {
	case "text", "voice", "category", "forum":
	default:
		return req, &ValidationError{Action: domain.ActionCreateChannel, Field: "type", Reason: "must be text, voice, category or forum"}
	}
	name, ok := GetString(p, "name")
	if !ok {
		return req, required(domain.ActionCreateChannel, "name")
	}
	req.Name = name
	req.ParentID, _ = GetString(p, "parent_id")
	req.UserLimit, _ = GetInt(p, "user_limit")
	return req, nil
}

func DecodeRenameChannel(p map[string]any) (RenameChannelRequest, error) {
	req := RenameChannelRequest{Channel: ChannelRefFrom(p)}
	if req.Channel.IsZero() {
		return req, required(domain.ActionRenameChannel, "channel_id")
	}
	newName, ok := GetString(p, "new_name")
	if !ok {
		return req, required(domain.ActionRenameChannel, "new_name")
	}
	req.NewName = newName
	return req, nil
}

func DecodeDeleteChannel(p map[string]any) (DeleteChannelRequest, error) {
	req := DeleteChannelRequest{Channel: ChannelRefFrom(p)}
	if req.Channel.IsZero() {
		return req, required(domain.ActionDeleteChannel, "channel_id")
	}
	return req, nil
}

func DecodeCreateThread(p map[string]any) (CreateThreadRequest, error) {
	req := CreateThreadRequest{Channel: ChannelRefFrom(p)}
	name, ok := GetString(p, "name")
	if !ok {
		return req, required(domain.ActionCreateThread, "name")
	}
	req.Name = name
	return req, nil
}

func DecodePinMessage(p map[string]any) (PinMessageRequest, error) {
	req := PinMessageRequest{Channel: ChannelRefFrom(p)}
	id, ok := GetString(p, "message_id")
	if !ok {
		return req, required(domain.ActionPinMessage, "message_id")
	}
	req.MessageID = id
	return req, nil
}

func DecodeCreateRole(p map[string]any) (CreateRoleRequest, error) {
	name, ok := GetString(p, "name")
	if !ok {
		return CreateRoleRequest{}, required(domain.ActionCreateRole, "name")
	}
	req := CreateRoleRequest{Name: name, Mentionable: GetBool(p, "mentionable")}
	req.Color, _ = GetString(p, "color")
	return req, nil
}

func DecodeDeleteRole(p map[string]any) (DeleteRoleRequest, error) {
	req := DeleteRoleRequest{Role: RoleRefFrom(p)}
	if req.Role.IsZero() {
		return req, required(domain.ActionDeleteRole, "role_id")
	}
	return req, nil
}

// DecodeRoleMembership обслуживает assign_role и remove_role.
func DecodeRoleMembership(action string, p map[string]any) (RoleMembershipRequest, error) {
	req := RoleMembershipRequest{Role: RoleRefFrom(p), MemberID: MemberIDFrom(p)}
	if req.Role.IsZero() {
		return req, required(action, "role_id")
	}
	if req.MemberID == "" {
		return req, required(action, "user_id")
	}
	return req, nil
}

func DecodeOverwrites(p map[string]any) (OverwritesRequest, error) {
	req := OverwritesRequest{
		Channel:  ChannelRefFrom(p),
		Role:     RoleRefFrom(p),
		MemberID: MemberIDFrom(p),
		Allow:    GetStrings(p, "allow"),
		Deny:     GetStrings(p, "deny"),
	}
	if req.Channel.IsZero() {
		return req, required(domain.ActionUpdateOverwrites, "channel_id")
	}
	if req.Role.IsZero() && req.MemberID == "" {
		return req, required(domain.ActionUpdateOverwrites, "role_id")
	}
	if len(req.Allow) == 0 && len(req.Deny) == 0 {
		return req, &ValidationError{Action: domain.ActionUpdateOverwrites, Field: "allow", Reason: "allow or deny must list at least one permission"}
	}
	return req, nil
}

// Validate прогоняет параметры мутации через соответствующий декодер.
// Для действий без декодера (чтение, внешние инструменты) возвращает nil.
func Validate(action domain.PlannedAction) error {
	p := action.Params
	if p == nil {
		p = map[string]any{}
	}
	var err error
	switch action.Action {
	case domain.ActionCreateChannel:
		_, err = DecodeCreateChannel(p)
	case domain.ActionRenameChannel:
		_, err = DecodeRenameChannel(p)
	case domain.ActionDeleteChannel:
		_, err = DecodeDeleteChannel(p)
	case domain.ActionCreateThread:
		_, err = DecodeCreateThread(p)
	case domain.ActionPinMessage:
		_, err = DecodePinMessage(p)
	case domain.ActionCreateRole:
		_, err = DecodeCreateRole(p)
	case domain.ActionDeleteRole:
		_, err = DecodeDeleteRole(p)
	case domain.ActionAssignRole, domain.ActionRemoveRole:
		_, err = DecodeRoleMembership(action.Action, p)
	case domain.ActionUpdateOverwrites:
		_, err = DecodeOverwrites(p)
	}
	return err
}
