package permission

type Action string

const (
	ActionView             Action = "view"
	ActionJoin             Action = "join_session"
	ActionUpdateCursor     Action = "update_cursor"
	ActionSetPresence      Action = "set_presence"
	ActionSendChat         Action = "send_chat"
	ActionReact            Action = "react"
	ActionAnnotate         Action = "annotate"
	ActionPublishMedia     Action = "publish_media"
	ActionShareScreen      Action = "share_screen"
	ActionShareContent     Action = "share_content"
	ActionEditContent      Action = "edit_content"
	ActionDeleteContent    Action = "delete_content"
	ActionDownload         Action = "download"
	ActionPrint            Action = "print"
	ActionExport           Action = "export"
	ActionChangePermission Action = "change_permissions"
	ActionApprove          Action = "approve"
	ActionSign             Action = "sign"
	ActionRequestInsight   Action = "request_insight"
	ActionPublishInsight   Action = "publish_insight"
	ActionInvite           Action = "invite_participant"
	ActionRemove           Action = "remove_participant"
	ActionStartRecording   Action = "start_recording"
	ActionChangeStatus     Action = "change_status"
	ActionEndSession       Action = "end_session"
	ActionViewAudit        Action = "view_audit"
	ActionSetRetention     Action = "set_retention"
)

// requiredCapability is the fixed action to capability table. An action that
// is not listed here can never be allowed for a non-owner.
var requiredCapability = map[Action]Capability{
	ActionView:             CanView,
	ActionJoin:             CanView,
	ActionUpdateCursor:     CanView,
	ActionSetPresence:      CanView,
	ActionSendChat:         CanComment,
	ActionReact:            CanComment,
	ActionAnnotate:         CanAnnotate,
	ActionPublishMedia:     CanPublish,
	ActionShareScreen:      CanShare,
	ActionShareContent:     CanShare,
	ActionEditContent:      CanEdit,
	ActionDeleteContent:    CanDelete,
	ActionDownload:         CanDownload,
	ActionPrint:            CanPrint,
	ActionExport:           CanExport,
	ActionChangePermission: CanChangePermissions,
	ActionApprove:          CanApprove,
	ActionSign:             CanSign,
	ActionRequestInsight:   CanViewHistory,
	ActionPublishInsight:   CanAssist,
	ActionInvite:           CanModerate,
	ActionRemove:           CanModerate,
	ActionStartRecording:   CanModerate,
	ActionChangeStatus:     CanModerate,
	ActionEndSession:       CanModerate,
	ActionViewAudit:        CanAudit,
	ActionSetRetention:     CanSetRetention,
}

// RequiredCapability reports the capability guarding action.
func RequiredCapability(action Action) (Capability, bool) {
	c, ok := requiredCapability[action]
	return c, ok
}
