// Package wizard encodes the authoring step machine shared by the manual
// wizard and the AI draft flow as a declarative transition table.
package wizard

import (
	"fmt"
	"slices"

	"github.com/pitabwire/quill/model"
)

// InputKind is the kind of input offered to a step.
type InputKind string

const (
	InputText   InputKind = "text"
	InputFinish InputKind = "finish"
	InputPhoto  InputKind = "photo"
	InputSkip   InputKind = "skip"
	InputChoice InputKind = "choice"
	InputToggle InputKind = "toggle"
	InputDone   InputKind = "done"
)

// Input is one step input.
type Input struct {
	Kind     InputKind
	Text     string
	PhotoRef string
	Slug     string
}

// Effect is the I/O the caller must perform before committing a transition.
type Effect string

const (
	EffectNone            Effect = ""
	EffectFetchCategories Effect = "fetch_categories"
	EffectFetchTags       Effect = "fetch_tags"
	EffectPublish         Effect = "publish"
)

// Transition is one row of the step table.
type Transition struct {
	From   model.Step
	Input  InputKind
	To     model.Step
	Effect Effect
}

// Machine is an ordered step sequence plus its transition table.
type Machine struct {
	name        string
	steps       []model.Step
	transitions []Transition
}

var stepNames = map[model.Step]string{
	model.StepTitle:       "Title",
	model.StepBody:        "Body",
	model.StepDescription: "Description",
	model.StepImage:       "Image",
	model.StepCategory:    "Category",
	model.StepTags:        "Tags",
}

var expected = map[model.Step]string{
	model.StepTitle:       "Send the article title.",
	model.StepBody:        "Send the article text. Press ✅ Finish text when you are done.",
	model.StepDescription: "Send a short description.",
	model.StepImage:       "Send a photo or press ⏭️ Skip image.",
	model.StepCategory:    "Pick a category with the buttons.",
	model.StepTags:        "Toggle tags with the buttons and press Done.",
}

// imagePickTransitions are the rows shared by both flows.
var imagePickTransitions = []Transition{
	{From: model.StepImage, Input: InputPhoto, To: model.StepCategory, Effect: EffectFetchCategories},
	{From: model.StepImage, Input: InputSkip, To: model.StepCategory, Effect: EffectFetchCategories},
	{From: model.StepCategory, Input: InputChoice, To: model.StepTags, Effect: EffectFetchTags},
	{From: model.StepTags, Input: InputToggle, To: model.StepTags},
	{From: model.StepTags, Input: InputDone, To: model.StepDone, Effect: EffectPublish},
}

// Manual returns the machine of the manual authoring wizard.
func Manual() *Machine {
	return &Machine{
		name: "manual",
		steps: []model.Step{
			model.StepTitle, model.StepBody, model.StepDescription,
			model.StepImage, model.StepCategory, model.StepTags,
		},
		transitions: append([]Transition{
			{From: model.StepTitle, Input: InputText, To: model.StepBody},
			{From: model.StepBody, Input: InputText, To: model.StepBody},
			{From: model.StepBody, Input: InputFinish, To: model.StepDescription},
			{From: model.StepDescription, Input: InputText, To: model.StepImage},
		}, imagePickTransitions...),
	}
}

// AIDraft returns the machine used after an AI draft is accepted. The
// draft already carries its text, so it starts at the image step.
func AIDraft() *Machine {
	return &Machine{
		name:        "ai_draft",
		steps:       []model.Step{model.StepImage, model.StepCategory, model.StepTags},
		transitions: slices.Clone(imagePickTransitions),
	}
}

// Name identifies the machine in logs and metrics.
func (m *Machine) Name() string { return m.name }

// First returns the initial step.
func (m *Machine) First() model.Step { return m.steps[0] }

// Steps returns the ordered step sequence.
func (m *Machine) Steps() []model.Step { return slices.Clone(m.steps) }

// Find returns the transition leaving from on input.
func (m *Machine) Find(from model.Step, input InputKind) (Transition, bool) {
	for _, t := range m.transitions {
		if t.From == from && t.Input == input {
			return t, true
		}
	}
	return Transition{}, false
}

// Back returns the step before step, clamped at the first one. Steps
// outside the sequence map to the first step.
func (m *Machine) Back(step model.Step) model.Step {
	idx := slices.Index(m.steps, step)
	return m.steps[max(idx-1, 0)]
}

// Label renders a step position such as "2/6 Body".
func (m *Machine) Label(step model.Step) string {
	idx := slices.Index(m.steps, step)
	if idx < 0 {
		return string(step)
	}
	return fmt.Sprintf("%d/%d %s", idx+1, len(m.steps), stepNames[step])
}

// Expected is the guidance text for a step.
func Expected(step model.Step) string {
	if e, ok := expected[step]; ok {
		return e
	}
	return "Press 🆕 New article to start."
}
