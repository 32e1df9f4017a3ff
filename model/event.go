package model

import "time"

// EventKind is the closed set of inbound event kinds.
type EventKind string

const (
	EventText     EventKind = "text"
	EventPhoto    EventKind = "photo"
	EventCallback EventKind = "callback"
	EventTimer    EventKind = "timer"
)

// TimerJob names a scheduled job carried by an EventTimer.
type TimerJob string

const (
	JobDailyPick  TimerJob = "daily_pick"
	JobAIGenerate TimerJob = "ai_generate"
)

// Event is one inbound unit of work for a chat.
type Event struct {
	ID         string
	Kind       EventKind
	ChatID     ChatID
	UserID     int64
	Text       string
	PhotoRef   string
	Callback   *CallbackQuery
	Job        TimerJob
	ReceivedAt time.Time
}

// CallbackQuery is a button press.
type CallbackQuery struct {
	ID        string
	MessageID int64
	Action    Action
}

// ActionKind is the decoded namespace of a button payload.
type ActionKind string

const (
	ActionUnknown           ActionKind = ""
	ActionCategoryChoice    ActionKind = "category-choice"
	ActionTagToggle         ActionKind = "tag-toggle"
	ActionTagsDone          ActionKind = "tags-done"
	ActionScheduledDecision ActionKind = "scheduled-post-decision"
	ActionAIDraftDecision   ActionKind = "ai-draft-decision"
	ActionSettings          ActionKind = "ai-settings-action"
	ActionTrend             ActionKind = "ai-trend-action"
)

// Decision is the answer to a proposal.
type Decision string

const (
	DecisionAccept     Decision = "accept"
	DecisionReject     Decision = "reject"
	DecisionRegenerate Decision = "regenerate"
)

// SettingsAction is a button of the AI settings menu.
type SettingsAction string

const (
	SettingsMenu         SettingsAction = "menu"
	SettingsInstructions SettingsAction = "instructions"
	SettingsTopics       SettingsAction = "topics"
	SettingsTrends       SettingsAction = "trends"
	SettingsGenerate     SettingsAction = "generate"
	SettingsClose        SettingsAction = "close"
)

// TrendAction is a button of the trends view.
type TrendAction string

const (
	TrendAdd    TrendAction = "add"
	TrendRemove TrendAction = "remove"
	TrendClear  TrendAction = "clear"
)

// Action is a decoded button payload. Only the fields relevant to Kind
// are set.
type Action struct {
	Kind     ActionKind
	Slug     string
	Decision Decision
	ID       int64
	Setting  SettingsAction
	Trend    TrendAction
	Index    int
	Check    string
	Raw      string
}

// AdminOnly reports whether the action namespace is gated to the
// administrator destination.
func (a Action) AdminOnly() bool {
	switch a.Kind {
	case ActionScheduledDecision, ActionAIDraftDecision, ActionSettings, ActionTrend:
		return true
	}
	return false
}
