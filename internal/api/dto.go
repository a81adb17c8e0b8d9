package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/stash/internal/stashservice"
)

// CreateCategoryRequest is the request body for creating a category.
type CreateCategoryRequest struct {
	Title       string `json:"title" example:"Inbox" validate:"required"`
	Description string `json:"description" example:"Things to sort later"`
}

func (r CreateCategoryRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required.Error("title is required")),
	)
}

// UpdateCategoryRequest is the request body for updating a category. At
// least one field must be present.
type UpdateCategoryRequest struct {
	Title       *string `json:"title,omitempty" example:"Inbox"`
	Description *string `json:"description,omitempty" example:"Things to sort later"`
}

func (r UpdateCategoryRequest) Validate() error {
	if r.Title == nil && r.Description == nil {
		return validation.NewError("validation_update_empty",
			"at least one field (title or description) must be provided")
	}
	return nil
}

// NoteRequest is the request body for adding or updating a note.
type NoteRequest struct {
	Content string `json:"content" example:"# Title\n\nbody" validate:"required"`
}

func (r NoteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Content, validation.Required.Error("content is required")),
	)
}

// CategorySummary is a category list item (aliased from the domain layer).
type CategorySummary = stashservice.CategorySummary

// Note is a note as returned by the API (aliased from the domain layer).
type Note = stashservice.NoteDTO

// CategoryWithNotes pairs a category with its notes (aliased from the domain layer).
type CategoryWithNotes = stashservice.CategoryWithNotes

// SearchResponse wraps search hits.
type SearchResponse struct {
	Results []stashservice.SearchHit `json:"results" validate:"required"`
}

// ConflictResponse is returned with 409 when a note mutation was rejected.
// CurrentNoteID and CurrentContent describe the note now stored at the
// requested index, when there is one.
type ConflictResponse struct {
	OK             bool   `json:"ok"`
	Conflict       bool   `json:"conflict"`
	Error          string `json:"error"`
	ConflictCode   string `json:"conflictCode"`
	CategoryID     string `json:"categoryId"`
	CurrentNoteID  string `json:"currentNoteId,omitempty"`
	CurrentContent string `json:"currentContent,omitempty"`
}

func conflictBody(c *stashservice.Conflict) ConflictResponse {
	resp := ConflictResponse{
		Conflict:     true,
		Error:        c.Message,
		ConflictCode: string(c.Code),
		CategoryID:   c.CategoryID,
	}
	if c.Current != nil {
		resp.CurrentNoteID = c.Current.ID
		resp.CurrentContent = c.Current.Content
	}
	return resp
}
