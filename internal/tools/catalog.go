package tools

import "github.com/xela07ax/guildops-agent/internal/domain"

// Права бота (имена флагов платформы).
const (
	PermViewChannel         = "ViewChannel"
	PermManageChannels      = "ManageChannels"
	PermManageRoles         = "ManageRoles"
	PermManageMessages      = "ManageMessages"
	PermCreatePublicThreads = "CreatePublicThreads"
	PermSendMessages        = "SendMessages"
	PermManageThreads       = "ManageThreads"
)

// catalog — статические метаданные встроенных действий.
var catalog = map[string]Meta{
	domain.ActionListChannels:        {Risk: RiskRead, RequiredBotPerms: []string{PermViewChannel}},
	domain.ActionGetChannelDetails:   {Risk: RiskRead, RequiredBotPerms: []string{PermViewChannel}},
	domain.ActionListRoles:           {Risk: RiskRead},
	domain.ActionGetRoleDetails:      {Risk: RiskRead},
	domain.ActionGetGuildPermissions: {Risk: RiskRead},
	domain.ActionGetBotPermissions:   {Risk: RiskRead},
	domain.ActionListThreads:         {Risk: RiskRead, RequiredBotPerms: []string{PermViewChannel}},
	domain.ActionFindMembers:         {Risk: RiskRead},
	domain.ActionGetMemberDetails:    {Risk: RiskRead},
	domain.ActionDiagnoseGuild:       {Risk: RiskRead},

	domain.ActionCreateChannel: {Risk: RiskLow, RequiredBotPerms: []string{PermManageChannels}},
	domain.ActionCreateThread:  {Risk: RiskLow, RequiredBotPerms: []string{PermCreatePublicThreads, PermSendMessages}},
	domain.ActionPinMessage:    {Risk: RiskLow, RequiredBotPerms: []string{PermManageMessages}},
	domain.ActionCreateRole:    {Risk: RiskLow, RequiredBotPerms: []string{PermManageRoles}},
	domain.ActionAssignRole:    {Risk: RiskHigh, RequiredBotPerms: []string{PermManageRoles}},

	domain.ActionRenameChannel:    {Risk: RiskDestructive, RequiredBotPerms: []string{PermManageChannels}},
	domain.ActionDeleteChannel:    {Risk: RiskDestructive, RequiredBotPerms: []string{PermManageChannels}},
	domain.ActionDeleteRole:       {Risk: RiskDestructive, RequiredBotPerms: []string{PermManageRoles}},
	domain.ActionRemoveRole:       {Risk: RiskDestructive, RequiredBotPerms: []string{PermManageRoles}},
	domain.ActionUpdateOverwrites: {Risk: RiskDestructive, RequiredBotPerms: []string{PermManageRoles, PermManageChannels}},
}

// CatalogMeta возвращает метаданные встроенного действия.
func CatalogMeta(name string) (Meta, bool) {
	m, ok := catalog[name]
	return m, ok
}
