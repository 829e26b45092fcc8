package enrollment

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/user"
)

var (
	// errors
	ErrNotFound         = errors.New("enrollment not found")
	ErrAlreadyEnrolled  = errors.New("already enrolled in this course")
	ErrPaymentRequired  = errors.New("this course must be purchased")
	ErrNotActive        = errors.New("enrollment is not active")
	ErrUserInactive     = errors.New("user account is deactivated")
	ErrBatchMismatch    = errors.New("batch does not belong to this course")
	ErrStatusConflict   = errors.New("enrollment was modified concurrently")
	errCourseNotInScope = course.ErrNotFound
)

type (
	Repository interface {
		// CreateEnrollment fails with ErrAlreadyEnrolled if the user already has an active enrollment for the course.
		CreateEnrollment(ctx context.Context, e Enrollment) (Enrollment, error)
		GetEnrollment(ctx context.Context, id string) (Enrollment, error)
		FindActive(ctx context.Context, userID, courseID string) (Enrollment, error)
		FindByOrderCourse(ctx context.Context, orderID, courseID string) (Enrollment, error)
		QueryEnrollments(ctx context.Context, filter *QueryFilter) ([]Enrollment, error)
		// UpdateEnrollment only saves `e` if its stored status is still `fromStatus`, else fails with ErrStatusConflict.
		UpdateEnrollment(ctx context.Context, e Enrollment, fromStatus string) (Enrollment, error)
	}

	Catalog interface {
		Find(ctx context.Context, id string) (course.Course, error)
		GetBatch(ctx context.Context, id string) (course.Batch, error)
		ReserveSeat(ctx context.Context, batchID string) error
		ReleaseSeat(ctx context.Context, batchID string) error
	}

	Users interface {
		GetByID(ctx context.Context, id string) (user.User, error)
	}

	Service struct {
		repo    Repository
		catalog Catalog
		users   Users
		mailSvc core.EmailService
		events  core.EventPublisher
		logger  core.Logger
		now     func() time.Time // mockable
	}
)

func NewService(
	repo Repository,
	catalog Catalog,
	users Users,
	mailSvc core.EmailService,
	events core.EventPublisher,
	logger core.Logger,
) *Service {
	return &Service{
		repo:    repo,
		catalog: catalog,
		users:   users,
		mailSvc: mailSvc,
		events:  events,
		logger:  logger,
		now:     time.Now,
	}
}

func (ne *NewEnrollment) Validate(validate *validator.Validate) error {
	ne.CourseID = core.CleanString(ne.CourseID)
	ne.BatchID = core.CleanString(ne.BatchID)
	return validate.Struct(ne)
}

// Enroll enrolls the actor in a free published course.
func (svc *Service) Enroll(ctx context.Context, actor user.Actor, ne NewEnrollment) (Enrollment, error) {
	c, err := svc.catalog.Find(ctx, ne.CourseID)
	if err != nil {
		return Enrollment{}, err
	}
	if c.TenantID != actor.TenantID {
		return Enrollment{}, errCourseNotInScope
	}
	if !c.IsPublished() {
		return Enrollment{}, course.ErrCourseNotPublished
	}
	if !c.IsFree() {
		return Enrollment{}, ErrPaymentRequired
	}
	return svc.enroll(ctx, actor.UserID, c, ne.BatchID, "")
}

// EnrollFromOrder enrolls the buyer of a paid order; it is idempotent per (order, course).
func (svc *Service) EnrollFromOrder(ctx context.Context, tenantID, userID, orderID, courseID string) (Enrollment, error) {
	if e, err := svc.repo.FindByOrderCourse(ctx, orderID, courseID); err == nil {
		return e, nil
	} else if errors.Cause(err) != ErrNotFound {
		return Enrollment{}, errors.Wrap(err, "finding order enrollment")
	}

	c, err := svc.catalog.Find(ctx, courseID)
	if err != nil {
		return Enrollment{}, err
	}
	if c.TenantID != tenantID {
		return Enrollment{}, errCourseNotInScope
	}
	e, err := svc.enroll(ctx, userID, c, "", orderID)
	if errors.Cause(err) == ErrAlreadyEnrolled {
		return svc.repo.FindActive(ctx, userID, courseID)
	}
	return e, err
}

func (svc *Service) enroll(ctx context.Context, userID string, c course.Course, batchID, orderID string) (Enrollment, error) {
	usr, err := svc.users.GetByID(ctx, userID)
	if err != nil {
		return Enrollment{}, errors.Wrap(err, "finding user")
	}
	if !usr.IsActive {
		return Enrollment{}, ErrUserInactive
	}
	if _, err = svc.repo.FindActive(ctx, userID, c.ID); err == nil {
		return Enrollment{}, ErrAlreadyEnrolled
	} else if errors.Cause(err) != ErrNotFound {
		return Enrollment{}, errors.Wrap(err, "finding active enrollment")
	}

	now := svc.now().UTC()
	if batchID != "" {
		b, err := svc.catalog.GetBatch(ctx, batchID)
		if err != nil {
			return Enrollment{}, err
		}
		if b.CourseID != c.ID {
			return Enrollment{}, core.NewFieldError("batch_id", ErrBatchMismatch)
		}
		if b.HasEnded(now) {
			return Enrollment{}, course.ErrBatchEnded
		}
		if err = svc.catalog.ReserveSeat(ctx, b.ID); err != nil {
			return Enrollment{}, err
		}
	}

	e, err := svc.repo.CreateEnrollment(ctx, Enrollment{
		TenantID:  c.TenantID,
		UserID:    userID,
		CourseID:  c.ID,
		BatchID:   batchID,
		OrderID:   orderID,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		if batchID != "" {
			if rErr := svc.catalog.ReleaseSeat(ctx, batchID); rErr != nil {
				svc.logger.Error(fmt.Sprintf("releasing seat: %v", rErr), rErr)
			}
		}
		if errors.Cause(err) == ErrAlreadyEnrolled {
			return Enrollment{}, ErrAlreadyEnrolled
		}
		return Enrollment{}, errors.Wrap(err, "creating enrollment")
	}

	svc.welcome(usr, c)
	if err = svc.events.Publish(ctx, core.NewEvent(EventCreated, e.TenantID, e)); err != nil {
		svc.logger.Warn(fmt.Sprintf("publishing %s: %v", EventCreated, err), err)
	}
	return e, nil
}

func (svc *Service) welcome(usr user.User, c course.Course) {
	if usr.Email == "" {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Welcome to " + c.Title,
		TemplateName: "enrollment_welcome",
		TemplateData: map[string]interface{}{
			"Name":        usr.Name,
			"CourseTitle": c.Title,
			"CourseID":    c.ID,
		},
	})
}

func (svc *Service) Get(ctx context.Context, actor user.Actor, id string) (Enrollment, error) {
	e, err := svc.repo.GetEnrollment(ctx, id)
	if err != nil {
		return Enrollment{}, err
	}
	if e.TenantID != actor.TenantID {
		return Enrollment{}, ErrNotFound
	}
	if actor.CanManage(e.TenantID, e.UserID) {
		return e, nil
	}
	if actor.IsInstructor() {
		if c, err := svc.catalog.Find(ctx, e.CourseID); err == nil && c.InstructorID == actor.UserID {
			return e, nil
		}
	}
	return Enrollment{}, ErrNotFound
}

// Cancel cancels an active enrollment of its owner, releasing its batch seat.
func (svc *Service) Cancel(ctx context.Context, actor user.Actor, id string) (Enrollment, error) {
	e, err := svc.Get(ctx, actor, id)
	if err != nil {
		return Enrollment{}, err
	}
	if !actor.CanManage(e.TenantID, e.UserID) {
		return Enrollment{}, core.ErrPermissionDenied
	}
	e, err = svc.transition(ctx, e, StatusCancelled)
	if err != nil {
		return Enrollment{}, err
	}
	if e.BatchID != "" {
		if err = svc.catalog.ReleaseSeat(ctx, e.BatchID); err != nil {
			return Enrollment{}, errors.Wrap(err, "releasing seat")
		}
	}
	return e, nil
}

// Complete marks an active enrollment as completed; only the course instructor or an admin may do so.
func (svc *Service) Complete(ctx context.Context, actor user.Actor, id string) (Enrollment, error) {
	e, err := svc.Get(ctx, actor, id)
	if err != nil {
		return Enrollment{}, err
	}
	c, err := svc.catalog.Find(ctx, e.CourseID)
	if err != nil {
		return Enrollment{}, err
	}
	if !actor.CanManage(c.TenantID, c.InstructorID) {
		return Enrollment{}, core.ErrPermissionDenied
	}
	return svc.transition(ctx, e, StatusCompleted)
}

func (svc *Service) transition(ctx context.Context, e Enrollment, status string) (Enrollment, error) {
	if !e.IsActive() {
		return Enrollment{}, ErrNotActive
	}
	e.Status = status
	e.UpdatedAt = svc.now().UTC()
	e, err := svc.repo.UpdateEnrollment(ctx, e, StatusActive)
	if errors.Cause(err) == ErrStatusConflict {
		return Enrollment{}, ErrNotActive
	}
	return e, errors.Wrap(err, "updating enrollment")
}

func (svc *Service) ListForUser(ctx context.Context, actor user.Actor, filter *QueryFilter) ([]Enrollment, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	filter.TenantID = actor.TenantID
	filter.UserID = actor.UserID
	return svc.repo.QueryEnrollments(ctx, filter)
}

func (svc *Service) ListForCourse(ctx context.Context, actor user.Actor, courseID string) ([]Enrollment, error) {
	c, err := svc.catalog.Find(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if c.TenantID != actor.TenantID {
		return nil, errCourseNotInScope
	}
	if !actor.CanManage(c.TenantID, c.InstructorID) {
		return nil, core.ErrPermissionDenied
	}
	return svc.repo.QueryEnrollments(ctx, &QueryFilter{TenantID: c.TenantID, CourseIDs: []string{c.ID}})
}

// IsEnrolled reports whether the user has an active enrollment for the course.
func (svc *Service) IsEnrolled(ctx context.Context, userID, courseID string) (bool, error) {
	if _, err := svc.repo.FindActive(ctx, userID, courseID); err == nil {
		return true, nil
	} else if errors.Cause(err) != ErrNotFound {
		return false, errors.Wrap(err, "finding active enrollment")
	}
	return false, nil
}
