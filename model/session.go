package model

import (
	"slices"
	"strconv"
	"time"
)

// ChatID identifies the chat a session belongs to.
type ChatID int64

func (c ChatID) String() string {
	return strconv.FormatInt(int64(c), 10)
}

// Workflow names the top-level flow that currently owns a chat.
type Workflow string

const (
	WorkflowNone      Workflow = ""
	WorkflowManual    Workflow = "manual"
	WorkflowAIDraft   Workflow = "ai_draft"
	WorkflowDailyPick Workflow = "daily_pick"
	WorkflowSettings  Workflow = "settings"
)

// Title is the human-readable workflow name used in guidance messages.
func (w Workflow) Title() string {
	switch w {
	case WorkflowManual:
		return "writing an article"
	case WorkflowAIDraft:
		return "publishing an AI draft"
	case WorkflowDailyPick:
		return "a daily pick decision"
	case WorkflowSettings:
		return "editing AI settings"
	default:
		return "another action"
	}
}

// Step is a position inside the authoring steps shared by the manual
// wizard and the AI draft flow.
type Step string

const (
	StepTitle       Step = "title"
	StepBody        Step = "body"
	StepDescription Step = "description"
	StepImage       Step = "image"
	StepCategory    Step = "category"
	StepTags        Step = "tags"
	StepDone        Step = "done"
)

// Session is the per-chat conversation state. Exactly one of the workflow
// payloads is non-nil, selected by Workflow.
type Session struct {
	ChatID    ChatID          `json:"chat_id"`
	Workflow  Workflow        `json:"workflow,omitempty"`
	Manual    *ManualDraft    `json:"manual,omitempty"`
	AIDraft   *AIDraftState   `json:"ai_draft,omitempty"`
	DailyPick *DailyPickState `json:"daily_pick,omitempty"`
	Settings  *SettingsState  `json:"settings,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ManualDraft holds the fields accumulated by the manual authoring wizard.
type ManualDraft struct {
	Step         Step     `json:"step"`
	Title        string   `json:"title,omitempty"`
	Body         string   `json:"body,omitempty"`
	Description  string   `json:"description,omitempty"`
	ImageRef     string   `json:"image_ref,omitempty"`
	CategorySlug string   `json:"category_slug,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Catalog      *Catalog `json:"catalog,omitempty"`
}

// AIDraftState holds the fields of an accepted AI draft while the editor
// picks its image, category and tags.
type AIDraftState struct {
	DraftID      int64    `json:"draft_id"`
	Step         Step     `json:"step"`
	Title        string   `json:"title,omitempty"`
	Description  string   `json:"description,omitempty"`
	Preview      string   `json:"preview,omitempty"`
	ImageRef     string   `json:"image_ref,omitempty"`
	CategorySlug string   `json:"category_slug,omitempty"`
	CategoryID   int64    `json:"category_id,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Catalog      *Catalog `json:"catalog,omitempty"`
}

// DailyPickState echoes the pick being decided on.
type DailyPickState struct {
	PickID int64 `json:"pick_id"`
}

// PromptKind is a one-shot question awaiting a free-text reply.
type PromptKind string

const (
	PromptNone         PromptKind = ""
	PromptAITopic      PromptKind = "ai_topic"
	PromptSettingsEdit PromptKind = "settings_edit"
	PromptTrendAdd     PromptKind = "trend_add"
)

// SettingsField is an editable AI settings field.
type SettingsField string

const (
	FieldInstructions SettingsField = "instructions"
	FieldTopics       SettingsField = "topics"
)

// SettingsState tracks the AI settings sub-workflow.
type SettingsState struct {
	Prompt PromptKind    `json:"prompt,omitempty"`
	Field  SettingsField `json:"field,omitempty"`
}

// NewSession returns the empty session of a chat.
func NewSession(chatID ChatID) Session {
	return Session{ChatID: chatID}
}

// Active reports whether a workflow owns the session.
func (s Session) Active() bool {
	return s.Workflow != WorkflowNone
}

// CurrentStep returns the authoring step of the active workflow, or
// StepTitle when no authoring workflow is running.
func (s Session) CurrentStep() Step {
	switch {
	case s.Workflow == WorkflowManual && s.Manual != nil:
		return s.Manual.Step
	case s.Workflow == WorkflowAIDraft && s.AIDraft != nil:
		return s.AIDraft.Step
	}
	return StepTitle
}

// PendingPrompt returns the awaiting prompt, if any.
func (s Session) PendingPrompt() PromptKind {
	if s.Workflow != WorkflowSettings || s.Settings == nil {
		return PromptNone
	}
	return s.Settings.Prompt
}

// PopPrompt removes the pending prompt and returns it together with the
// settings field it targets. The settings workflow ends with it.
func (s *Session) PopPrompt() (PromptKind, SettingsField) {
	kind, field := s.PendingPrompt(), SettingsField("")
	if s.Settings != nil {
		field = s.Settings.Field
	}
	s.Reset()
	return kind, field
}

// Reset removes every key of the session, discriminator included.
func (s *Session) Reset() {
	*s = Session{ChatID: s.ChatID}
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	out := s
	if s.Manual != nil {
		m := *s.Manual
		m.Tags = slices.Clone(s.Manual.Tags)
		m.Catalog = s.Manual.Catalog.Clone()
		out.Manual = &m
	}
	if s.AIDraft != nil {
		a := *s.AIDraft
		a.Tags = slices.Clone(s.AIDraft.Tags)
		a.Catalog = s.AIDraft.Catalog.Clone()
		out.AIDraft = &a
	}
	if s.DailyPick != nil {
		d := *s.DailyPick
		out.DailyPick = &d
	}
	if s.Settings != nil {
		st := *s.Settings
		out.Settings = &st
	}
	return out
}
