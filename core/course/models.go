package course

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/academia/core"
)

// Statuses
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

var Statuses = []string{StatusDraft, StatusPublished, StatusArchived}

type Course struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	InstructorID string    `json:"instructor_id"`
	Title        string    `json:"title"`
	Slug         string    `json:"slug"`
	Description  string    `json:"description"`
	Price        int64     `json:"price"` // cents
	Currency     string    `json:"currency"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
}

func (c Course) IsPublished() bool { return c.Status == StatusPublished }
func (c Course) IsFree() bool      { return c.Price == 0 }

// Batch is a scheduled cohort of a Course.
type Batch struct {
	ID       string    `json:"id"`
	CourseID string    `json:"course_id"`
	Name     string    `json:"name"`
	StartsAt time.Time `json:"starts_at"` // UTC
	EndsAt   time.Time `json:"ends_at"`   // UTC
	Capacity int       `json:"capacity"`  // 0: unlimited
	Enrolled int       `json:"enrolled"`
}

func (b Batch) HasEnded(now time.Time) bool { return !b.EndsAt.After(now) }
func (b Batch) IsFull() bool                { return b.Capacity > 0 && b.Enrolled >= b.Capacity }

type NewCourse struct {
	Title        string `json:"title" validate:"required,max=255"`
	Slug         string `json:"slug" validate:"omitempty,max=100,slug"`
	Description  string `json:"description"`
	Price        int64  `json:"price" validate:"min=0,max=100000000"`
	InstructorID string `json:"instructor_id"` // admins only; defaults to the creator
}

func (nc *NewCourse) Validate(validate *validator.Validate) error {
	nc.Title = core.CleanString(nc.Title)
	nc.Slug = core.CleanString(nc.Slug, true /* lower */)
	if nc.Slug == "" {
		nc.Slug = core.Slugify(nc.Title)
	}
	nc.Description = strings.TrimSpace(nc.Description)
	return validate.Struct(nc)
}

// UpdateCourse defines what information may be provided to modify an existing Course.
// Nil fields leave the current values untouched.
type UpdateCourse struct {
	Title       *string `json:"title" validate:"omitempty,max=255"`
	Description *string `json:"description"`
	Price       *int64  `json:"price" validate:"omitempty,min=0,max=100000000"`
}

func (uc *UpdateCourse) Validate(validate *validator.Validate) error {
	if uc.Title != nil {
		title := core.CleanString(*uc.Title)
		uc.Title = &title
	}
	return validate.Struct(uc)
}

func (uc UpdateCourse) Apply(c Course) Course {
	if uc.Title != nil && *uc.Title != "" {
		c.Title = *uc.Title
	}
	if uc.Description != nil {
		c.Description = strings.TrimSpace(*uc.Description)
	}
	if uc.Price != nil {
		c.Price = *uc.Price
	}
	return c
}

type NewBatch struct {
	Name     string    `json:"name" validate:"required,max=100"`
	StartsAt time.Time `json:"starts_at" validate:"required"`
	EndsAt   time.Time `json:"ends_at" validate:"required,gtfield=StartsAt"`
	Capacity int       `json:"capacity" validate:"min=0"`
}

func (nb *NewBatch) Validate(validate *validator.Validate) error {
	nb.Name = core.CleanString(nb.Name)
	return validate.Struct(nb)
}

type QueryFilter struct {
	TenantID     string   `query:"-"`
	Search       string   `query:"search"`
	Statuses     []string `query:"status"`
	InstructorID string   `query:"instructor"`
	IDs          []string `query:"-"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

// OrderingFields are the fields courses may be ordered by.
var OrderingFields = []string{"title", "price", "status", "created_at", "updated_at"}

type MaterialUpload struct {
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expires_at"`
}
