package domain

type Action string

const (
	ActionStart    Action = "start"
	ActionPause    Action = "pause"
	ActionResume   Action = "resume"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"

	// Non-transition operations that are still gated on status.
	ActionUpdate         Action = "update"
	ActionUpdateSequence Action = "update the sequence of"
	ActionAddRecipients  Action = "add recipients to"
	ActionDelete         Action = "delete"
)

var transitions = map[CampaignStatus]map[Action]CampaignStatus{
	StatusDraft: {
		ActionStart:  StatusActive,
		ActionCancel: StatusCancelled,
	},
	StatusActive: {
		ActionPause:    StatusPaused,
		ActionComplete: StatusCompleted,
		ActionCancel:   StatusCancelled,
	},
	StatusPaused: {
		ActionResume:   StatusActive,
		ActionComplete: StatusCompleted,
		ActionCancel:   StatusCancelled,
	},
}

// NextStatus looks up the status reached by applying a to a campaign in from.
// Guards (recipients present, sequence complete) are checked by the caller.
func NextStatus(from CampaignStatus, a Action) (CampaignStatus, error) {
	to, ok := transitions[from][a]
	if !ok {
		return "", &InvalidTransitionError{From: from, Action: a}
	}
	return to, nil
}

// Editable reports whether the campaign's definition may still change.
func Editable(s CampaignStatus) bool {
	return s == StatusDraft || s == StatusActive || s == StatusPaused
}
