package model

// Button is an inline keyboard button. The action is encoded into the
// transport payload by the callback codec.
type Button struct {
	Text   string
	Action Action
}

// InlineKeyboard is a grid of buttons attached to a message.
type InlineKeyboard [][]Button

// ReplyKeyboard is a grid of persistent reply labels.
type ReplyKeyboard [][]string

// Message is an outbound chat message. Photo messages carry PhotoRef and
// use Text as the caption.
type Message struct {
	Text     string
	PhotoRef string
	Inline   InlineKeyboard
	Reply    ReplyKeyboard
}
