package telegram

import (
	"errors"
	"strings"
)

// ErrUnknownAction is returned for callback data no handler recognises.
var ErrUnknownAction = errors.New("telegram: unknown callback action")

// Action is the verb encoded in an inline button.
type Action string

const (
	ActionApprove       Action = "approve"
	ActionReject        Action = "reject"
	ActionView          Action = "view"
	ActionSuspend       Action = "suspend"
	ActionReactivate    Action = "reactivate"
	ActionDelete        Action = "delete"
	ActionConfirmDelete Action = "confirm_delete"
)

// actions is ordered longest prefix first so confirm_delete wins over delete.
var actions = []Action{
	ActionConfirmDelete,
	ActionReactivate,
	ActionApprove,
	ActionSuspend,
	ActionReject,
	ActionDelete,
	ActionView,
}

// Callback is parsed callback data: an action on one association.
type Callback struct {
	Action        Action
	AssociationID string
}

// Data encodes c as "<action>_<id>". Telegram caps callback data at 64 bytes,
// which fits the longest action plus a uuid.
func (c Callback) Data() string {
	return string(c.Action) + "_" + c.AssociationID
}

// ParseCallback decodes data produced by Callback.Data.
func ParseCallback(data string) (Callback, error) {
	for _, a := range actions {
		prefix := string(a) + "_"
		if strings.HasPrefix(data, prefix) {
			id := strings.TrimPrefix(data, prefix)
			if id == "" {
				return Callback{}, ErrUnknownAction
			}
			return Callback{Action: a, AssociationID: id}, nil
		}
	}
	return Callback{}, ErrUnknownAction
}

func button(text string, a Action, id string) InlineKeyboardButton {
	return InlineKeyboardButton{Text: text, CallbackData: Callback{Action: a, AssociationID: id}.Data()}
}
