package orchestrator

import (
	"fmt"
	"strings"

	"github.com/pitabwire/quill/internal/selection"
	"github.com/pitabwire/quill/model"
)

// Command is a fixed user command, typed as a slash command or pressed on
// the reply keyboard.
type Command string

const (
	CmdNone     Command = ""
	CmdStart    Command = "start"
	CmdNew      Command = "new"
	CmdStatus   Command = "status"
	CmdCancel   Command = "cancel"
	CmdBack     Command = "back"
	CmdSkip     Command = "skip"
	CmdFinish   Command = "done"
	CmdRecent   Command = "recent"
	CmdAI       Command = "ai"
	CmdGenerate Command = "generate"
	CmdDaily    Command = "daily"
)

// Reply keyboard labels.
const (
	LabelNew    = "🆕 New article"
	LabelStatus = "📍 Status"
	LabelBack   = "⬅️ Back"
	LabelSkip   = "⏭️ Skip image"
	LabelFinish = "✅ Finish text"
	LabelRecent = "📰 Recent"
	LabelCancel = "❌ Cancel"
)

var labels = map[string]Command{
	LabelNew:    CmdNew,
	LabelStatus: CmdStatus,
	LabelBack:   CmdBack,
	LabelSkip:   CmdSkip,
	LabelFinish: CmdFinish,
	LabelRecent: CmdRecent,
	LabelCancel: CmdCancel,
}

var slashCommands = map[string]Command{
	"start":    CmdStart,
	"help":     CmdStart,
	"new":      CmdNew,
	"status":   CmdStatus,
	"cancel":   CmdCancel,
	"back":     CmdBack,
	"skip":     CmdSkip,
	"done":     CmdFinish,
	"recent":   CmdRecent,
	"ai":       CmdAI,
	"generate": CmdGenerate,
	"daily":    CmdDaily,
}

// adminCommands may only be used from the administrator chat.
var adminCommands = map[Command]bool{
	CmdAI:       true,
	CmdGenerate: true,
	CmdDaily:    true,
}

// ParseCommand matches exact reply-keyboard labels and slash commands.
// "/new@quill_bot" style mentions are accepted. Any other text is not a
// command.
func ParseCommand(text string) Command {
	text = strings.TrimSpace(text)
	if cmd, ok := labels[text]; ok {
		return cmd
	}
	name, ok := strings.CutPrefix(text, "/")
	if !ok {
		return CmdNone
	}
	name, _, _ = strings.Cut(name, " ")
	name, _, _ = strings.Cut(name, "@")
	return slashCommands[strings.ToLower(name)]
}

// mainKeyboard is the persistent reply keyboard.
func mainKeyboard() model.ReplyKeyboard {
	return model.ReplyKeyboard{
		{LabelNew, LabelStatus},
		{LabelFinish, LabelSkip},
		{LabelBack, LabelRecent},
		{LabelCancel},
	}
}

func withKeyboard(text string) model.Message {
	return model.Message{Text: text, Reply: mainKeyboard()}
}

const buttonsPerRow = 2

func rows(buttons []model.Button) model.InlineKeyboard {
	var kb model.InlineKeyboard
	for i := 0; i < len(buttons); i += buttonsPerRow {
		kb = append(kb, buttons[i:min(i+buttonsPerRow, len(buttons))])
	}
	return kb
}

func categoryKeyboard(c *model.Catalog) model.InlineKeyboard {
	buttons := make([]model.Button, 0, len(c.Categories))
	for _, cat := range c.Categories {
		buttons = append(buttons, model.Button{
			Text:   cat.Title,
			Action: model.Action{Kind: model.ActionCategoryChoice, Slug: cat.Slug},
		})
	}
	return rows(buttons)
}

// tagKeyboard marks selected tags and ends with a Done row.
func tagKeyboard(c *model.Catalog, selected []string) model.InlineKeyboard {
	buttons := make([]model.Button, 0, len(c.Tags))
	for _, t := range c.Tags {
		text := t.Title
		if selection.Contains(selected, t.Slug) {
			text = "✅ " + text
		}
		buttons = append(buttons, model.Button{
			Text:   text,
			Action: model.Action{Kind: model.ActionTagToggle, Slug: t.Slug},
		})
	}
	kb := rows(buttons)
	return append(kb, []model.Button{{Text: "Done ✔️", Action: model.Action{Kind: model.ActionTagsDone}}})
}

func categoryPrompt(c *model.Catalog) model.Message {
	return model.Message{Text: "Pick a category:", Inline: categoryKeyboard(c)}
}

func tagPrompt(c *model.Catalog, selected []string) model.Message {
	text := "Pick tags, then press Done."
	if len(selected) > 0 {
		text = fmt.Sprintf("Selected: %s\nPick more tags or press Done.", tagTitles(c, selected))
	}
	return model.Message{Text: text, Inline: tagKeyboard(c, selected)}
}

func tagTitles(c *model.Catalog, slugs []string) string {
	if len(slugs) == 0 {
		return "none"
	}
	titles := make([]string, 0, len(slugs))
	for _, s := range selection.Order(slugs) {
		if t, ok := c.Tag(s); ok {
			titles = append(titles, t.Title)
		} else {
			titles = append(titles, s)
		}
	}
	return strings.Join(titles, ", ")
}

func categoryTitle(c *model.Catalog, slug string) string {
	if cat, ok := c.Category(slug); ok {
		return cat.Title
	}
	return slug
}

func decisionKeyboard(kind model.ActionKind, id int64, decisions ...model.Decision) model.InlineKeyboard {
	titles := map[model.Decision]string{
		model.DecisionAccept:     "✅ Accept",
		model.DecisionReject:     "❌ Reject",
		model.DecisionRegenerate: "🔄 Regenerate",
	}
	row := make([]model.Button, 0, len(decisions))
	for _, d := range decisions {
		row = append(row, model.Button{
			Text:   titles[d],
			Action: model.Action{Kind: kind, Decision: d, ID: id},
		})
	}
	return model.InlineKeyboard{row}
}

const helpText = `Hi! I help you write and publish articles.

🆕 New article starts the wizard: title, text, description, image, category and tags.
✅ Finish text ends the article text, ⏭️ Skip image continues without a picture.
⬅️ Back returns to the previous step, ❌ Cancel drops the draft.
📍 Status shows where you are, 📰 Recent lists the latest posts.`

const adminHelpText = `

Administrator commands:
/ai AI generation settings
/generate create an AI draft now
/daily propose the next daily pick`
