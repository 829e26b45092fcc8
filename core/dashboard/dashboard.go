// Package dashboard aggregates the per role home page figures.
package dashboard

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/enrollment"
	"github.com/trezcool/academia/core/exam"
	"github.com/trezcool/academia/core/referral"
	"github.com/trezcool/academia/core/user"
)

const (
	topCoursesLimit     = 5
	recentAttemptsLimit = 5
)

type (
	CourseStat struct {
		CourseID          string `json:"course_id"`
		Title             string `json:"title"`
		Status            string `json:"status"`
		ActiveEnrollments int    `json:"active_enrollments"`
	}

	Admin struct {
		UsersByRole       map[string]int `json:"users_by_role"`
		ActiveUsers       int            `json:"active_users"`
		CoursesByStatus   map[string]int `json:"courses_by_status"`
		ActiveEnrollments int            `json:"active_enrollments"`
		PaidOrders        int            `json:"paid_orders"`
		Revenue           int64          `json:"revenue"` // cents
		Currency          string         `json:"currency"`
		TopCourses        []CourseStat   `json:"top_courses"`
	}

	Instructor struct {
		Courses       []CourseStat `json:"courses"`
		TotalStudents int          `json:"total_students"`
		PendingReview int          `json:"pending_review"`
	}

	Student struct {
		ActiveEnrollments    int              `json:"active_enrollments"`
		CompletedEnrollments int              `json:"completed_enrollments"`
		UpcomingBatches      []course.Batch   `json:"upcoming_batches"`
		RecentAttempts       []exam.Attempt   `json:"recent_attempts"`
		Orders               int              `json:"orders"`
		Credit               int64            `json:"credit"` // cents
		Referral             referral.Summary `json:"referral"`
	}

	// Dashboard holds the dashboard of the highest role of a user.
	Dashboard struct {
		Role       string      `json:"role"`
		Admin      *Admin      `json:"admin,omitempty"`
		Instructor *Instructor `json:"instructor,omitempty"`
		Student    *Student    `json:"student,omitempty"`
	}
)

type (
	// Stats runs the aggregate queries of the dashboards.
	Stats interface {
		CountUsersByRole(ctx context.Context, tenantID string) (map[string]int, error)
		CountActiveUsers(ctx context.Context, tenantID string) (int, error)
		CountCoursesByStatus(ctx context.Context, tenantID string) (map[string]int, error)
		CountActiveEnrollments(ctx context.Context, tenantID string) (int, error)
		// PaidOrders returns the number of paid orders and the sum of their totals.
		PaidOrders(ctx context.Context, tenantID string) (int, int64, error)
		TopCourses(ctx context.Context, tenantID string, limit int) ([]CourseStat, error)
		InstructorCourses(ctx context.Context, tenantID, instructorID string) ([]CourseStat, error)
		// CountStudents counts the distinct users actively enrolled in the courses of an instructor.
		CountStudents(ctx context.Context, tenantID, instructorID string) (int, error)
		CountUserOrders(ctx context.Context, userID string) (int, error)
	}

	Enrollments interface {
		ListForUser(ctx context.Context, actor user.Actor, filter *enrollment.QueryFilter) ([]enrollment.Enrollment, error)
	}

	Catalog interface {
		ListBatchesOf(ctx context.Context, courseIDs ...string) ([]course.Batch, error)
	}

	Exams interface {
		MyAttempts(ctx context.Context, actor user.Actor, limit int) ([]exam.Attempt, error)
		PendingReview(ctx context.Context, actor user.Actor) ([]exam.Attempt, error)
	}

	Users interface {
		GetByID(ctx context.Context, id string) (user.User, error)
	}

	Referrals interface {
		Summary(ctx context.Context, actor user.Actor) (referral.Summary, error)
	}

	Service struct {
		stats       Stats
		enrollments Enrollments
		catalog     Catalog
		exams       Exams
		users       Users
		referrals   Referrals
		currency    string
		now         func() time.Time // mockable
	}
)

func NewService(
	stats Stats,
	enrollments Enrollments,
	catalog Catalog,
	exams Exams,
	users Users,
	referrals Referrals,
	currency string,
) *Service {
	return &Service{
		stats:       stats,
		enrollments: enrollments,
		catalog:     catalog,
		exams:       exams,
		users:       users,
		referrals:   referrals,
		currency:    currency,
		now:         time.Now,
	}
}

// For returns the dashboard matching the highest role of the actor.
func (svc *Service) For(ctx context.Context, actor user.Actor) (Dashboard, error) {
	switch {
	case actor.IsAdmin():
		d, err := svc.Admin(ctx, actor)
		return Dashboard{Role: "admin", Admin: &d}, err
	case actor.IsInstructor():
		d, err := svc.Instructor(ctx, actor)
		return Dashboard{Role: "instructor", Instructor: &d}, err
	default:
		d, err := svc.Student(ctx, actor)
		return Dashboard{Role: "student", Student: &d}, err
	}
}

func (svc *Service) Admin(ctx context.Context, actor user.Actor) (Admin, error) {
	if !actor.IsAdmin() {
		return Admin{}, core.ErrPermissionDenied
	}
	tid := actor.TenantID
	d := Admin{Currency: svc.currency}
	var err error

	if d.UsersByRole, err = svc.stats.CountUsersByRole(ctx, tid); err != nil {
		return Admin{}, errors.Wrap(err, "counting users by role")
	}
	if d.ActiveUsers, err = svc.stats.CountActiveUsers(ctx, tid); err != nil {
		return Admin{}, errors.Wrap(err, "counting active users")
	}
	if d.CoursesByStatus, err = svc.stats.CountCoursesByStatus(ctx, tid); err != nil {
		return Admin{}, errors.Wrap(err, "counting courses by status")
	}
	if d.ActiveEnrollments, err = svc.stats.CountActiveEnrollments(ctx, tid); err != nil {
		return Admin{}, errors.Wrap(err, "counting active enrollments")
	}
	if d.PaidOrders, d.Revenue, err = svc.stats.PaidOrders(ctx, tid); err != nil {
		return Admin{}, errors.Wrap(err, "summing paid orders")
	}
	if d.TopCourses, err = svc.stats.TopCourses(ctx, tid, topCoursesLimit); err != nil {
		return Admin{}, errors.Wrap(err, "getting top courses")
	}
	return d, nil
}

func (svc *Service) Instructor(ctx context.Context, actor user.Actor) (Instructor, error) {
	var (
		d   Instructor
		err error
	)
	if d.Courses, err = svc.stats.InstructorCourses(ctx, actor.TenantID, actor.UserID); err != nil {
		return Instructor{}, errors.Wrap(err, "getting instructor courses")
	}
	if d.TotalStudents, err = svc.stats.CountStudents(ctx, actor.TenantID, actor.UserID); err != nil {
		return Instructor{}, errors.Wrap(err, "counting students")
	}
	pending, err := svc.exams.PendingReview(ctx, actor)
	if err != nil {
		return Instructor{}, errors.Wrap(err, "listing attempts pending review")
	}
	d.PendingReview = len(pending)
	return d, nil
}

func (svc *Service) Student(ctx context.Context, actor user.Actor) (Student, error) {
	var d Student

	enrollments, err := svc.enrollments.ListForUser(ctx, actor, nil)
	if err != nil {
		return Student{}, errors.Wrap(err, "listing enrollments")
	}
	var courseIDs []string
	for _, e := range enrollments {
		switch e.Status {
		case enrollment.StatusActive:
			d.ActiveEnrollments++
			courseIDs = append(courseIDs, e.CourseID)
		case enrollment.StatusCompleted:
			d.CompletedEnrollments++
		}
	}

	d.UpcomingBatches = []course.Batch{}
	if len(courseIDs) > 0 {
		batches, err := svc.catalog.ListBatchesOf(ctx, courseIDs...)
		if err != nil {
			return Student{}, errors.Wrap(err, "listing batches")
		}
		now := svc.now()
		for _, b := range batches {
			if b.StartsAt.After(now) {
				d.UpcomingBatches = append(d.UpcomingBatches, b)
			}
		}
	}

	if d.RecentAttempts, err = svc.exams.MyAttempts(ctx, actor, recentAttemptsLimit); err != nil {
		return Student{}, errors.Wrap(err, "listing attempts")
	}
	if d.Orders, err = svc.stats.CountUserOrders(ctx, actor.UserID); err != nil {
		return Student{}, errors.Wrap(err, "counting orders")
	}
	usr, err := svc.users.GetByID(ctx, actor.UserID)
	if err != nil {
		return Student{}, errors.Wrap(err, "getting user")
	}
	d.Credit = usr.Credit
	if d.Referral, err = svc.referrals.Summary(ctx, actor); err != nil {
		return Student{}, errors.Wrap(err, "getting referral summary")
	}
	return d, nil
}
