package model

// Action is an operator or engine request to move a campaign between states.
type Action string

const (
	ActionStart    Action = "start"
	ActionSchedule Action = "schedule"
	ActionActivate Action = "activate" // scheduled_at elapsed
	ActionPause    Action = "pause"
	ActionResume   Action = "resume"
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete"
)

var transitions = map[CampaignStatus]map[Action]CampaignStatus{
	CampaignStatusDraft: {
		ActionStart:    CampaignStatusRunning,
		ActionSchedule: CampaignStatusScheduled,
	},
	CampaignStatusScheduled: {
		ActionStart:    CampaignStatusRunning,
		ActionActivate: CampaignStatusRunning,
		ActionSchedule: CampaignStatusScheduled,
		ActionCancel:   CampaignStatusCancelled,
	},
	CampaignStatusRunning: {
		ActionSchedule: CampaignStatusScheduled,
		ActionPause:    CampaignStatusPaused,
		ActionCancel:   CampaignStatusCancelled,
		ActionComplete: CampaignStatusCompleted,
	},
	CampaignStatusPaused: {
		ActionResume: CampaignStatusRunning,
		ActionCancel: CampaignStatusCancelled,
	},
}

// NextStatus is the single place where transition legality is decided.
// Terminal states have no outgoing transitions.
func NextStatus(from CampaignStatus, action Action) (CampaignStatus, bool) {
	to, ok := transitions[from][action]
	return to, ok
}
