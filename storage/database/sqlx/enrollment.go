package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/academia/core/enrollment"
)

const enrollmentColumns = "id, tenant_id, user_id, course_id, batch_id, order_id, status, created_at, updated_at"

type enrollmentRow struct {
	ID        string      `db:"id"`
	TenantID  string      `db:"tenant_id"`
	UserID    string      `db:"user_id"`
	CourseID  string      `db:"course_id"`
	BatchID   null.String `db:"batch_id"`
	OrderID   null.String `db:"order_id"`
	Status    string      `db:"status"`
	CreatedAt time.Time   `db:"created_at"`
	UpdatedAt time.Time   `db:"updated_at"`
}

func newEnrollmentRow(e enrollment.Enrollment) enrollmentRow {
	return enrollmentRow{
		ID:        e.ID,
		TenantID:  e.TenantID,
		UserID:    e.UserID,
		CourseID:  e.CourseID,
		BatchID:   null.NewString(e.BatchID, e.BatchID != ""),
		OrderID:   null.NewString(e.OrderID, e.OrderID != ""),
		Status:    e.Status,
		CreatedAt: e.CreatedAt.UTC(),
		UpdatedAt: e.UpdatedAt.UTC(),
	}
}

func (r enrollmentRow) enrollment() enrollment.Enrollment {
	return enrollment.Enrollment{
		ID:        r.ID,
		TenantID:  r.TenantID,
		UserID:    r.UserID,
		CourseID:  r.CourseID,
		BatchID:   r.BatchID.String,
		OrderID:   r.OrderID.String,
		Status:    r.Status,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

type enrollmentRepository struct {
	base
}

var _ enrollment.Repository = (*enrollmentRepository)(nil)

func NewEnrollmentRepository(db *sqlx.DB) *enrollmentRepository {
	return &enrollmentRepository{base{db: db}}
}

func (repo enrollmentRepository) CreateEnrollment(ctx context.Context, e enrollment.Enrollment) (enrollment.Enrollment, error) {
	e.ID = newID()
	row := newEnrollmentRow(e)
	_, err := repo.db.NamedExecContext(ctx, `INSERT INTO enrollments (`+enrollmentColumns+`) VALUES (
		:id, :tenant_id, :user_id, :course_id, :batch_id, :order_id, :status, :created_at, :updated_at)`, row)
	if err != nil {
		if isUniqueViolation(err, "enrollments_active_key") {
			return enrollment.Enrollment{}, enrollment.ErrAlreadyEnrolled
		}
		return enrollment.Enrollment{}, errors.Wrap(err, "inserting enrollment")
	}
	return row.enrollment(), nil
}

func (repo enrollmentRepository) get(ctx context.Context, cond string, args ...interface{}) (enrollment.Enrollment, error) {
	var row enrollmentRow
	q := "SELECT " + enrollmentColumns + " FROM enrollments WHERE " + cond + " ORDER BY created_at DESC LIMIT 1"
	if err := repo.db.GetContext(ctx, &row, q, args...); err != nil {
		return enrollment.Enrollment{}, trapNoRowsErr(err, enrollment.ErrNotFound, "getting enrollment")
	}
	return row.enrollment(), nil
}

func (repo enrollmentRepository) GetEnrollment(ctx context.Context, id string) (enrollment.Enrollment, error) {
	if !validUUID(id) {
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}
	return repo.get(ctx, "id = $1", id)
}

func (repo enrollmentRepository) FindActive(ctx context.Context, userID, courseID string) (enrollment.Enrollment, error) {
	if !validUUID(userID) || !validUUID(courseID) {
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}
	return repo.get(ctx, "user_id = $1 AND course_id = $2 AND status = $3", userID, courseID, enrollment.StatusActive)
}

func (repo enrollmentRepository) FindByOrderCourse(ctx context.Context, orderID, courseID string) (enrollment.Enrollment, error) {
	if !validUUID(orderID) || !validUUID(courseID) {
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}
	return repo.get(ctx, "order_id = $1 AND course_id = $2", orderID, courseID)
}

func (repo enrollmentRepository) QueryEnrollments(ctx context.Context, filter *enrollment.QueryFilter) ([]enrollment.Enrollment, error) {
	var w where
	if filter != nil {
		if filter.TenantID != "" {
			w.add("tenant_id = ?", filter.TenantID)
		}
		if filter.UserID != "" {
			w.add("user_id = ?", filter.UserID)
		}
		if len(filter.CourseIDs) > 0 {
			ids := validUUIDs(filter.CourseIDs)
			if len(ids) == 0 {
				return []enrollment.Enrollment{}, nil
			}
			w.add("course_id IN (?)", ids)
		}
		if len(filter.Statuses) > 0 {
			w.add("status IN (?)", filter.Statuses)
		}
	}

	var rows []enrollmentRow
	q := "SELECT " + enrollmentColumns + " FROM enrollments" + w.String() + " ORDER BY created_at DESC"
	if err := repo.selectIn(ctx, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	enrollments := make([]enrollment.Enrollment, 0, len(rows))
	for _, r := range rows {
		enrollments = append(enrollments, r.enrollment())
	}
	return enrollments, nil
}

func (repo enrollmentRepository) UpdateEnrollment(ctx context.Context, e enrollment.Enrollment, fromStatus string) (enrollment.Enrollment, error) {
	if !validUUID(e.ID) {
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}
	res, err := repo.db.ExecContext(ctx,
		"UPDATE enrollments SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4",
		e.Status, e.UpdatedAt.UTC(), e.ID, fromStatus)
	if err != nil {
		if isUniqueViolation(err, "enrollments_active_key") {
			return enrollment.Enrollment{}, enrollment.ErrAlreadyEnrolled
		}
		return enrollment.Enrollment{}, errors.Wrap(err, "updating enrollment")
	}
	if err = checkAffected(res, enrollment.ErrStatusConflict); err != nil {
		if _, getErr := repo.GetEnrollment(ctx, e.ID); errors.Cause(getErr) == enrollment.ErrNotFound {
			return enrollment.Enrollment{}, getErr
		}
		return enrollment.Enrollment{}, err
	}
	return e, nil
}

