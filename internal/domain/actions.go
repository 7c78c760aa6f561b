package domain

// Каталог действий. Наборы неизменяемы после инициализации пакета.

const ActionNone = "none"

const (
	ActionListChannels        = "list_channels"
	ActionGetChannelDetails   = "get_channel_details"
	ActionCreateChannel       = "create_channel"
	ActionRenameChannel       = "rename_channel"
	ActionDeleteChannel       = "delete_channel"
	ActionCreateThread        = "create_thread"
	ActionPinMessage          = "pin_message"
	ActionListRoles           = "list_roles"
	ActionGetRoleDetails      = "get_role_details"
	ActionCreateRole          = "create_role"
	ActionDeleteRole          = "delete_role"
	ActionAssignRole          = "assign_role"
	ActionRemoveRole          = "remove_role"
	ActionUpdateOverwrites    = "update_permission_overwrites"
	ActionGetGuildPermissions = "get_guild_permissions"
	ActionGetBotPermissions   = "get_bot_permissions"
	ActionListThreads         = "list_threads"
	ActionFindMembers         = "find_members"
	ActionGetMemberDetails    = "get_member_details"
	ActionDiagnoseGuild       = "diagnose_guild"

	ActionDeleteGuild   = "delete_guild"
	ActionBanMember     = "ban_member"
	ActionKickMember    = "kick_member"
	ActionTimeoutMember = "timeout_member"

	// ActionBatch имя действия в аудите для записей из нескольких действий.
	ActionBatch = "batch"
)

const (
	MaxActionsPerRequest      = 12
	DefaultRateLimitPerMin    = 10
	DestructiveLimitPerMin    = 2
	DefaultAuditRetentionDays = 7

	destructiveBucketKeyPrefix = "destructive:"
)

type actionSet map[string]struct{}

func newActionSet(names ...string) actionSet {
	s := make(actionSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func (s actionSet) has(name string) bool {
	_, ok := s[name]
	return ok
}

var (
	allowedActions = newActionSet(
		ActionNone,
		ActionListChannels, ActionGetChannelDetails, ActionCreateChannel, ActionRenameChannel, ActionDeleteChannel,
		ActionCreateThread, ActionPinMessage,
		ActionListRoles, ActionGetRoleDetails, ActionCreateRole, ActionDeleteRole, ActionAssignRole, ActionRemoveRole,
		ActionUpdateOverwrites, ActionGetGuildPermissions, ActionGetBotPermissions,
		ActionListThreads, ActionFindMembers, ActionGetMemberDetails, ActionDiagnoseGuild,
	)

	destructiveActions = newActionSet(
		ActionDeleteChannel, ActionDeleteRole, ActionUpdateOverwrites, ActionRemoveRole, ActionRenameChannel,
	)

	bannedActions = newActionSet(
		ActionDeleteGuild, ActionBanMember, ActionKickMember, ActionTimeoutMember,
	)

	observationActions = newActionSet(
		ActionDiagnoseGuild, ActionListThreads, ActionListChannels, ActionGetChannelDetails,
		ActionListRoles, ActionGetRoleDetails, ActionGetGuildPermissions, ActionGetBotPermissions,
		ActionFindMembers, ActionGetMemberDetails,
	)

	// Явный список мутаций, которые не требуют подтверждения (fail-closed: всё остальное — destructive).
	nonDestructiveMutations = newActionSet(
		ActionCreateChannel, ActionCreateThread, ActionPinMessage, ActionCreateRole, ActionAssignRole,
	)
)

func IsAllowedAction(name string) bool     { return allowedActions.has(name) }
func IsBannedAction(name string) bool      { return bannedActions.has(name) }
func IsDestructiveAction(name string) bool { return destructiveActions.has(name) }
func IsObservationAction(name string) bool { return observationActions.has(name) }
func IsNonDestructiveMutation(name string) bool {
	return nonDestructiveMutations.has(name)
}

// AllowedActionNames возвращает разрешенные действия в стабильном порядке (для системного промпта).
func AllowedActionNames() []string {
	return []string{
		ActionNone,
		ActionListChannels, ActionGetChannelDetails, ActionCreateChannel, ActionRenameChannel, ActionDeleteChannel,
		ActionCreateThread, ActionPinMessage,
		ActionListRoles, ActionGetRoleDetails, ActionCreateRole, ActionDeleteRole, ActionAssignRole, ActionRemoveRole,
		ActionUpdateOverwrites, ActionGetGuildPermissions, ActionGetBotPermissions,
		ActionListThreads, ActionFindMembers, ActionGetMemberDetails, ActionDiagnoseGuild,
	}
}

func BannedActionNames() []string {
	return []string{ActionDeleteGuild, ActionBanMember, ActionKickMember, ActionTimeoutMember}
}

// DestructiveBucketKey ключ отдельного бакета для разрушительных операций гильдии.
func DestructiveBucketKey(guildID string) string {
	return destructiveBucketKeyPrefix + guildID
}
