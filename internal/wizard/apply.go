package wizard

import (
	"strings"

	"github.com/pitabwire/quill/internal/selection"
	"github.com/pitabwire/quill/model"
)

// ApplyManual runs in against a manual draft. It returns the advanced copy
// and the effect to perform before the copy may be committed. The input
// draft is never modified.
func (m *Machine) ApplyManual(d model.ManualDraft, in Input) (model.ManualDraft, Effect, error) {
	t, ok := m.Find(d.Step, in.Kind)
	if !ok {
		return d, EffectNone, model.NewWrongStepError(Expected(d.Step))
	}

	next := d
	next.Tags = selection.Order(d.Tags)
	text := strings.TrimSpace(in.Text)

	switch {
	case d.Step == model.StepTitle:
		if text == "" {
			return d, EffectNone, model.NewEmptyInputError()
		}
		next.Title = text
	case d.Step == model.StepBody && in.Kind == InputText:
		if text == "" {
			return d, EffectNone, model.NewEmptyInputError()
		}
		if next.Body == "" {
			next.Body = text
		} else {
			next.Body += "\n\n" + text
		}
	case d.Step == model.StepBody && in.Kind == InputFinish:
		if strings.TrimSpace(d.Body) == "" {
			return d, EffectNone, model.NewEmptyInputError()
		}
	case d.Step == model.StepDescription:
		if text == "" {
			return d, EffectNone, model.NewEmptyInputError()
		}
		next.Description = text
	default:
		var err error
		if next.ImageRef, next.CategorySlug, next.Tags, err = pick(d.Catalog, d.ImageRef, d.CategorySlug, next.Tags, in); err != nil {
			return d, EffectNone, err
		}
	}

	next.Step = t.To
	return next, t.Effect, nil
}

// ApplyAIDraft runs in against an accepted AI draft.
func (m *Machine) ApplyAIDraft(d model.AIDraftState, in Input) (model.AIDraftState, Effect, error) {
	t, ok := m.Find(d.Step, in.Kind)
	if !ok {
		return d, EffectNone, model.NewWrongStepError(Expected(d.Step))
	}

	next := d
	var err error
	next.ImageRef, next.CategorySlug, next.Tags, err = pick(d.Catalog, d.ImageRef, d.CategorySlug, selection.Order(d.Tags), in)
	if err != nil {
		return d, EffectNone, err
	}
	if in.Kind == InputChoice {
		cat, _ := d.Catalog.Category(in.Slug)
		next.CategoryID = cat.ID
	}

	next.Step = t.To
	return next, t.Effect, nil
}

// pick applies the image, category and tag inputs shared by both flows.
func pick(catalog *model.Catalog, imageRef, categorySlug string, tags []string, in Input) (string, string, []string, error) {
	switch in.Kind {
	case InputPhoto:
		imageRef = in.PhotoRef
	case InputSkip:
		imageRef = ""
	case InputChoice:
		if _, ok := catalog.Category(in.Slug); !ok {
			return "", "", nil, model.NewStaleSelectionError("That category is no longer offered. Pick one from the latest list.")
		}
		// Choosing a category starts a fresh tag selection.
		categorySlug, tags = in.Slug, nil
	case InputToggle:
		if _, ok := catalog.Tag(in.Slug); !ok {
			return "", "", nil, model.NewStaleSelectionError("That tag is no longer offered. Use the latest tag list.")
		}
		tags = selection.Toggle(tags, in.Slug)
	}
	return imageRef, categorySlug, tags, nil
}
