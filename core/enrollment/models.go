package enrollment

import "time"

// Statuses
const (
	StatusActive    = "active"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

const EventCreated = "enrollment.created"

type Enrollment struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	CourseID  string    `json:"course_id"`
	BatchID   string    `json:"batch_id,omitempty"`
	OrderID   string    `json:"order_id,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

func (e Enrollment) IsActive() bool { return e.Status == StatusActive }

type NewEnrollment struct {
	CourseID string `json:"course_id" validate:"required"`
	BatchID  string `json:"batch_id"`
}

type QueryFilter struct {
	TenantID  string   `query:"-"`
	UserID    string   `query:"-"`
	CourseIDs []string `query:"course"`
	Statuses  []string `query:"status"`
}
