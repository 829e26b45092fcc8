package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/course"
)

const (
	courseColumns = "id, tenant_id, instructor_id, title, slug, description, price, currency, status, created_at, updated_at"
	batchColumns  = "id, course_id, name, starts_at, ends_at, capacity, enrolled"
)

type courseRow struct {
	ID           string    `db:"id"`
	TenantID     string    `db:"tenant_id"`
	InstructorID string    `db:"instructor_id"`
	Title        string    `db:"title"`
	Slug         string    `db:"slug"`
	Description  string    `db:"description"`
	Price        int64     `db:"price"`
	Currency     string    `db:"currency"`
	Status       string    `db:"status"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r courseRow) course() course.Course {
	return course.Course{
		ID:           r.ID,
		TenantID:     r.TenantID,
		InstructorID: r.InstructorID,
		Title:        r.Title,
		Slug:         r.Slug,
		Description:  r.Description,
		Price:        r.Price,
		Currency:     r.Currency,
		Status:       r.Status,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

type batchRow struct {
	ID       string    `db:"id"`
	CourseID string    `db:"course_id"`
	Name     string    `db:"name"`
	StartsAt time.Time `db:"starts_at"`
	EndsAt   time.Time `db:"ends_at"`
	Capacity int       `db:"capacity"`
	Enrolled int       `db:"enrolled"`
}

func (r batchRow) batch() course.Batch {
	return course.Batch{
		ID:       r.ID,
		CourseID: r.CourseID,
		Name:     r.Name,
		StartsAt: r.StartsAt.UTC(),
		EndsAt:   r.EndsAt.UTC(),
		Capacity: r.Capacity,
		Enrolled: r.Enrolled,
	}
}

type courseRepository struct {
	base
}

var _ course.Repository = (*courseRepository)(nil)

func NewCourseRepository(db *sqlx.DB) *courseRepository {
	return &courseRepository{base{db: db}}
}

func (repo courseRepository) CreateCourse(ctx context.Context, c course.Course) (course.Course, error) {
	c.ID = newID()
	_, err := repo.db.ExecContext(ctx,
		"INSERT INTO courses ("+courseColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)",
		c.ID, c.TenantID, c.InstructorID, c.Title, c.Slug, c.Description, c.Price, c.Currency, c.Status,
		c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err, "courses_tenant_id_slug_key") {
			return course.Course{}, course.ErrSlugExists
		}
		return course.Course{}, errors.Wrap(err, "inserting course")
	}
	return c, nil
}

func (repo courseRepository) UpdateCourse(ctx context.Context, c course.Course) (course.Course, error) {
	if !validUUID(c.ID) {
		return course.Course{}, course.ErrNotFound
	}
	res, err := repo.db.ExecContext(ctx, `UPDATE courses SET
		instructor_id = $1, title = $2, description = $3, price = $4, status = $5, updated_at = $6
		WHERE id = $7`,
		c.InstructorID, c.Title, c.Description, c.Price, c.Status, c.UpdatedAt.UTC(), c.ID)
	if err != nil {
		return course.Course{}, errors.Wrap(err, "updating course")
	}
	return c, checkAffected(res, course.ErrNotFound)
}

func (repo courseRepository) GetCourse(ctx context.Context, id string) (course.Course, error) {
	if !validUUID(id) {
		return course.Course{}, course.ErrNotFound
	}
	var row courseRow
	if err := repo.db.GetContext(ctx, &row, "SELECT "+courseColumns+" FROM courses WHERE id = $1", id); err != nil {
		return course.Course{}, trapNoRowsErr(err, course.ErrNotFound, "getting course")
	}
	return row.course(), nil
}

func (repo courseRepository) QueryCourses(ctx context.Context, filter *course.QueryFilter, ordering []core.DBOrdering) ([]course.Course, error) {
	var w where
	if filter != nil {
		if filter.TenantID != "" {
			w.add("tenant_id = ?", filter.TenantID)
		}
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			w.add("(title ILIKE ? OR description ILIKE ?)", val, val)
		}
		if len(filter.Statuses) > 0 {
			w.add("status IN (?)", filter.Statuses)
		}
		if filter.InstructorID != "" {
			w.add("instructor_id = ?", filter.InstructorID)
		}
		if filter.IDs != nil {
			ids := validUUIDs(filter.IDs)
			if len(ids) == 0 {
				return []course.Course{}, nil
			}
			w.add("id IN (?)", ids)
		}
	}

	var rows []courseRow
	q := "SELECT " + courseColumns + " FROM courses" + w.String() + " ORDER BY " + core.OrderByClause(ordering, "created_at DESC")
	if err := repo.selectIn(ctx, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}
	courses := make([]course.Course, 0, len(rows))
	for _, r := range rows {
		courses = append(courses, r.course())
	}
	return courses, nil
}

func (repo courseRepository) SlugExists(ctx context.Context, tenantID, slug string) (bool, error) {
	var exists bool
	err := repo.db.GetContext(ctx, &exists,
		"SELECT EXISTS (SELECT 1 FROM courses WHERE tenant_id = $1 AND slug = $2)", tenantID, slug)
	return exists, errors.Wrap(err, "checking course slug")
}

func (repo courseRepository) CreateBatch(ctx context.Context, b course.Batch) (course.Batch, error) {
	b.ID = newID()
	_, err := repo.db.ExecContext(ctx,
		"INSERT INTO batches ("+batchColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7)",
		b.ID, b.CourseID, b.Name, b.StartsAt.UTC(), b.EndsAt.UTC(), b.Capacity, b.Enrolled)
	if err != nil {
		return course.Batch{}, errors.Wrap(err, "inserting batch")
	}
	return b, nil
}

func (repo courseRepository) GetBatch(ctx context.Context, id string) (course.Batch, error) {
	if !validUUID(id) {
		return course.Batch{}, course.ErrBatchNotFound
	}
	var row batchRow
	if err := repo.db.GetContext(ctx, &row, "SELECT "+batchColumns+" FROM batches WHERE id = $1", id); err != nil {
		return course.Batch{}, trapNoRowsErr(err, course.ErrBatchNotFound, "getting batch")
	}
	return row.batch(), nil
}

func (repo courseRepository) ListBatches(ctx context.Context, courseIDs ...string) ([]course.Batch, error) {
	courseIDs = validUUIDs(courseIDs)
	if len(courseIDs) == 0 {
		return []course.Batch{}, nil
	}
	var rows []batchRow
	q := "SELECT " + batchColumns + " FROM batches WHERE course_id IN (?) ORDER BY starts_at ASC"
	if err := repo.selectIn(ctx, &rows, q, courseIDs); err != nil {
		return nil, errors.Wrap(err, "listing batches")
	}
	batches := make([]course.Batch, 0, len(rows))
	for _, r := range rows {
		batches = append(batches, r.batch())
	}
	return batches, nil
}

func (repo courseRepository) ReserveSeat(ctx context.Context, batchID string) error {
	if !validUUID(batchID) {
		return course.ErrBatchNotFound
	}
	res, err := repo.db.ExecContext(ctx, `UPDATE batches SET enrolled = enrolled + 1
		WHERE id = $1 AND (capacity = 0 OR enrolled < capacity)`, batchID)
	if err != nil {
		return errors.Wrap(err, "reserving seat")
	}
	if err = checkAffected(res, course.ErrBatchFull); err != nil {
		if _, getErr := repo.GetBatch(ctx, batchID); getErr != nil {
			return getErr
		}
		return err
	}
	return nil
}

func (repo courseRepository) ReleaseSeat(ctx context.Context, batchID string) error {
	if !validUUID(batchID) {
		return course.ErrBatchNotFound
	}
	_, err := repo.db.ExecContext(ctx, "UPDATE batches SET enrolled = enrolled - 1 WHERE id = $1 AND enrolled > 0", batchID)
	return errors.Wrap(err, "releasing seat")
}
