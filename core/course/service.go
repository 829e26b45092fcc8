package course

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/user"
)

const materialURLTTL = 15 * time.Minute

var (
	// errors
	ErrNotFound           = errors.New("course not found")
	ErrBatchNotFound      = errors.New("batch not found")
	ErrSlugExists         = errors.New("a course with this slug already exists")
	ErrCourseNotPublished = errors.New("course is not published")
	ErrCourseArchived     = errors.New("course is archived")
	ErrBatchFull          = errors.New("batch is full")
	ErrBatchEnded         = errors.New("batch has ended")
	ErrUploadsDisabled    = errors.New("material uploads are not configured")

	unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

type (
	Repository interface {
		CreateCourse(ctx context.Context, c Course) (Course, error)
		UpdateCourse(ctx context.Context, c Course) (Course, error)
		GetCourse(ctx context.Context, id string) (Course, error)
		QueryCourses(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Course, error)
		SlugExists(ctx context.Context, tenantID, slug string) (bool, error)

		CreateBatch(ctx context.Context, b Batch) (Batch, error)
		GetBatch(ctx context.Context, id string) (Batch, error)
		ListBatches(ctx context.Context, courseIDs ...string) ([]Batch, error)
		// ReserveSeat increments Batch.Enrolled only while below capacity, else fails with ErrBatchFull.
		ReserveSeat(ctx context.Context, batchID string) error
		ReleaseSeat(ctx context.Context, batchID string) error
	}

	// Presigner issues time limited upload URLs to the blob storage.
	Presigner interface {
		PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error)
	}

	Service struct {
		repo      Repository
		presigner Presigner
		currency  string
		now       func() time.Time // mockable
	}
)

func NewService(repo Repository, presigner Presigner, currency string) *Service {
	return &Service{repo: repo, presigner: presigner, currency: currency, now: time.Now}
}

func (svc *Service) Create(ctx context.Context, actor user.Actor, nc NewCourse) (Course, error) {
	if !(actor.IsAdmin() || actor.IsInstructor()) {
		return Course{}, core.ErrPermissionDenied
	}
	instructorID := actor.UserID
	if nc.InstructorID != "" && actor.IsAdmin() {
		instructorID = nc.InstructorID
	}

	exists, err := svc.repo.SlugExists(ctx, actor.TenantID, nc.Slug)
	if err != nil {
		return Course{}, errors.Wrap(err, "checking slug")
	}
	if exists {
		return Course{}, core.NewFieldError("slug", ErrSlugExists)
	}

	now := svc.now().UTC()
	c := Course{
		TenantID:     actor.TenantID,
		InstructorID: instructorID,
		Title:        nc.Title,
		Slug:         nc.Slug,
		Description:  nc.Description,
		Price:        nc.Price,
		Currency:     svc.currency,
		Status:       StatusDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	c, err = svc.repo.CreateCourse(ctx, c)
	if errors.Cause(err) == ErrSlugExists {
		return Course{}, core.NewFieldError("slug", ErrSlugExists)
	}
	return c, errors.Wrap(err, "creating course")
}

// Find returns any course by ID, whatever its status.
func (svc *Service) Find(ctx context.Context, id string) (Course, error) {
	return svc.repo.GetCourse(ctx, id)
}

// Get returns a course visible to `actor`: unpublished courses are only visible to their managers.
func (svc *Service) Get(ctx context.Context, actor user.Actor, id string) (Course, error) {
	c, err := svc.repo.GetCourse(ctx, id)
	if err != nil {
		return Course{}, err
	}
	if c.TenantID != actor.TenantID {
		return Course{}, ErrNotFound
	}
	if !c.IsPublished() && !(actor.IsInstructor() || actor.CanManage(c.TenantID, c.InstructorID)) {
		return Course{}, ErrNotFound
	}
	return c, nil
}

func (svc *Service) getManaged(ctx context.Context, actor user.Actor, id string) (Course, error) {
	c, err := svc.Get(ctx, actor, id)
	if err != nil {
		return Course{}, err
	}
	if !actor.CanManage(c.TenantID, c.InstructorID) {
		return Course{}, core.ErrPermissionDenied
	}
	return c, nil
}

func (svc *Service) Update(ctx context.Context, actor user.Actor, id string, uc UpdateCourse) (Course, error) {
	c, err := svc.getManaged(ctx, actor, id)
	if err != nil {
		return Course{}, err
	}
	c = uc.Apply(c)
	c.UpdatedAt = svc.now().UTC()
	c, err = svc.repo.UpdateCourse(ctx, c)
	return c, errors.Wrap(err, "updating course")
}

func (svc *Service) Publish(ctx context.Context, actor user.Actor, id string) (Course, error) {
	c, err := svc.getManaged(ctx, actor, id)
	if err != nil {
		return Course{}, err
	}
	if c.IsPublished() {
		return c, nil
	}
	if strings.TrimSpace(c.Title) == "" {
		return Course{}, core.NewFieldError("title", errors.New("a course needs a title to be published"))
	}
	if c.Price < 0 {
		return Course{}, core.NewFieldError("price", errors.New("a course needs a valid price to be published"))
	}
	return svc.setStatus(ctx, c, StatusPublished)
}

func (svc *Service) Archive(ctx context.Context, actor user.Actor, id string) (Course, error) {
	c, err := svc.getManaged(ctx, actor, id)
	if err != nil {
		return Course{}, err
	}
	if c.Status == StatusArchived {
		return c, nil
	}
	return svc.setStatus(ctx, c, StatusArchived)
}

func (svc *Service) setStatus(ctx context.Context, c Course, status string) (Course, error) {
	c.Status = status
	c.UpdatedAt = svc.now().UTC()
	c, err := svc.repo.UpdateCourse(ctx, c)
	return c, errors.Wrap(err, "updating course status")
}

// Query lists the courses of the actor's tenant; students only see published courses.
func (svc *Service) Query(ctx context.Context, actor user.Actor, filter *QueryFilter, ordering []core.DBOrdering) ([]Course, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	filter.TenantID = actor.TenantID
	if !(actor.IsAdmin() || actor.IsInstructor()) {
		filter.Statuses = []string{StatusPublished}
	}
	return svc.repo.QueryCourses(ctx, filter, ordering)
}

func (svc *Service) CreateBatch(ctx context.Context, actor user.Actor, courseID string, nb NewBatch) (Batch, error) {
	c, err := svc.getManaged(ctx, actor, courseID)
	if err != nil {
		return Batch{}, err
	}
	if c.Status == StatusArchived {
		return Batch{}, ErrCourseArchived
	}
	if !nb.EndsAt.After(nb.StartsAt) {
		return Batch{}, core.NewFieldError("ends_at", errors.New("ends_at must be after starts_at"))
	}
	b := Batch{
		CourseID: c.ID,
		Name:     nb.Name,
		StartsAt: nb.StartsAt.UTC(),
		EndsAt:   nb.EndsAt.UTC(),
		Capacity: nb.Capacity,
	}
	b, err = svc.repo.CreateBatch(ctx, b)
	return b, errors.Wrap(err, "creating batch")
}

func (svc *Service) ListBatches(ctx context.Context, actor user.Actor, courseID string) ([]Batch, error) {
	c, err := svc.Get(ctx, actor, courseID)
	if err != nil {
		return nil, err
	}
	return svc.repo.ListBatches(ctx, c.ID)
}

// ListBatchesOf returns the batches of the given courses.
func (svc *Service) ListBatchesOf(ctx context.Context, courseIDs ...string) ([]Batch, error) {
	if len(courseIDs) == 0 {
		return []Batch{}, nil
	}
	return svc.repo.ListBatches(ctx, courseIDs...)
}

func (svc *Service) GetBatch(ctx context.Context, id string) (Batch, error) {
	return svc.repo.GetBatch(ctx, id)
}

func (svc *Service) ReserveSeat(ctx context.Context, batchID string) error {
	return svc.repo.ReserveSeat(ctx, batchID)
}

func (svc *Service) ReleaseSeat(ctx context.Context, batchID string) error {
	return svc.repo.ReleaseSeat(ctx, batchID)
}

// MaterialUploadURL returns a presigned PUT URL for a course material file.
func (svc *Service) MaterialUploadURL(ctx context.Context, actor user.Actor, courseID, filename string) (MaterialUpload, error) {
	if svc.presigner == nil {
		return MaterialUpload{}, ErrUploadsDisabled
	}
	c, err := svc.getManaged(ctx, actor, courseID)
	if err != nil {
		return MaterialUpload{}, err
	}

	filename = unsafeFilenameChars.ReplaceAllString(path.Base(strings.TrimSpace(filename)), "_")
	if filename == "" || filename == "." || filename == "_" {
		return MaterialUpload{}, core.NewFieldError("filename", errors.New("invalid filename"))
	}
	key := fmt.Sprintf("tenants/%s/courses/%s/%s-%s", c.TenantID, c.ID, uuid.New().String(), filename)

	url, err := svc.presigner.PresignPut(ctx, key, materialURLTTL)
	if err != nil {
		return MaterialUpload{}, errors.Wrap(err, "presigning upload")
	}
	return MaterialUpload{
		URL:       url,
		Key:       key,
		Method:    "PUT",
		ExpiresAt: svc.now().UTC().Add(materialURLTTL),
	}, nil
}
