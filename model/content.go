package model

import "slices"

// Category is a content category offered by the backend catalog.
type Category struct {
	ID    int64  `json:"id"`
	Slug  string `json:"slug"`
	Title string `json:"title"`
}

// Tag is a content tag offered by the backend catalog.
type Tag struct {
	ID    int64  `json:"id"`
	Slug  string `json:"slug"`
	Title string `json:"title"`
}

// Catalog is the category and tag snapshot returned by the meta endpoint.
type Catalog struct {
	Categories []Category `json:"categories"`
	Tags       []Tag      `json:"tags"`
}

// Clone deep-copies the catalog. A nil catalog clones to nil.
func (c *Catalog) Clone() *Catalog {
	if c == nil {
		return nil
	}
	return &Catalog{
		Categories: slices.Clone(c.Categories),
		Tags:       slices.Clone(c.Tags),
	}
}

// Category looks a category up by slug.
func (c *Catalog) Category(slug string) (Category, bool) {
	if c == nil {
		return Category{}, false
	}
	for _, cat := range c.Categories {
		if cat.Slug == slug {
			return cat, true
		}
	}
	return Category{}, false
}

// Tag looks a tag up by slug.
func (c *Catalog) Tag(slug string) (Tag, bool) {
	if c == nil {
		return Tag{}, false
	}
	for _, t := range c.Tags {
		if t.Slug == slug {
			return t, true
		}
	}
	return Tag{}, false
}

// TagIDs maps slugs to catalog ids, skipping slugs the catalog lacks.
func (c *Catalog) TagIDs(slugs []string) []int64 {
	ids := make([]int64, 0, len(slugs))
	for _, s := range slugs {
		if t, ok := c.Tag(s); ok {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// Post is a published article as listed by the backend.
type Post struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	URL         string `json:"url"`
	Excerpt     string `json:"excerpt"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

// DailyPick is the next queued article proposed for re-broadcast.
type DailyPick struct {
	PickID int64 `json:"pick_id"`
	Post   *Post `json:"post"`
}

// DailyMark values.
const (
	MarkAccepted = "accepted"
	MarkRejected = "rejected"
)

// Upload is a binary attachment sent to the backend.
type Upload struct {
	Filename string
	Data     []byte
}

// PostInput is the payload of a manually authored article.
type PostInput struct {
	Title        string
	Body         string
	BodyHTML     string
	Description  string
	CategorySlug string
	TagSlugs     []string
	Image        *Upload
}

// PublishResult is returned by create-post and ai-draft-approve.
type PublishResult struct {
	OK    bool   `json:"ok"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// DraftRequest asks the backend to generate a new AI draft.
type DraftRequest struct {
	Topic        string `json:"topic"`
	Instructions string `json:"instructions"`
}

// Draft statuses tracked by the backend.
const (
	DraftPending  = "pending"
	DraftAccepted = "accepted"
	DraftRejected = "rejected"
)

// Draft is an AI-generated article proposal.
type Draft struct {
	ID          int64  `json:"draft_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Body        string `json:"body"`
	Status      string `json:"status,omitempty"`
}

// ApproveInput finalises an AI draft.
type ApproveInput struct {
	DraftID    int64
	CategoryID int64
	TagIDs     []int64
	Image      *Upload
}
