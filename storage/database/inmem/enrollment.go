package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/academia/core/enrollment"
)

type enrollmentRepository struct {
	db *enrollmentTable
}

var _ enrollment.Repository = (*enrollmentRepository)(nil)

func NewEnrollmentRepository(db *DB) enrollment.Repository {
	return &enrollmentRepository{db: db.enrollment}
}

func (repo *enrollmentRepository) findActive(userID, courseID string) (*enrollment.Enrollment, bool) {
	for _, e := range repo.db.table {
		if e.UserID == userID && e.CourseID == courseID && e.IsActive() {
			return e, true
		}
	}
	return nil, false
}

func (repo *enrollmentRepository) CreateEnrollment(_ context.Context, e enrollment.Enrollment) (enrollment.Enrollment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.findActive(e.UserID, e.CourseID); ok && e.IsActive() {
		return enrollment.Enrollment{}, enrollment.ErrAlreadyEnrolled
	}
	e.ID = newID()
	repo.db.table[e.ID] = &e
	return e, nil
}

func (repo *enrollmentRepository) GetEnrollment(_ context.Context, id string) (enrollment.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if e, ok := repo.db.table[id]; ok {
		return *e, nil
	}
	return enrollment.Enrollment{}, enrollment.ErrNotFound
}

func (repo *enrollmentRepository) FindActive(_ context.Context, userID, courseID string) (enrollment.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if e, ok := repo.findActive(userID, courseID); ok {
		return *e, nil
	}
	return enrollment.Enrollment{}, enrollment.ErrNotFound
}

func (repo *enrollmentRepository) FindByOrderCourse(_ context.Context, orderID, courseID string) (enrollment.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, e := range repo.db.table {
		if orderID != "" && e.OrderID == orderID && e.CourseID == courseID {
			return *e, nil
		}
	}
	return enrollment.Enrollment{}, enrollment.ErrNotFound
}

func (repo *enrollmentRepository) QueryEnrollments(_ context.Context, filter *enrollment.QueryFilter) ([]enrollment.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	enrollments := make([]enrollment.Enrollment, 0)
	for _, e := range repo.db.table {
		if filter != nil {
			if filter.TenantID != "" && e.TenantID != filter.TenantID {
				continue
			}
			if filter.UserID != "" && e.UserID != filter.UserID {
				continue
			}
			if len(filter.CourseIDs) > 0 && !contains(filter.CourseIDs, e.CourseID) {
				continue
			}
			if len(filter.Statuses) > 0 && !contains(filter.Statuses, e.Status) {
				continue
			}
		}
		enrollments = append(enrollments, *e)
	}
	sort.SliceStable(enrollments, func(i, j int) bool { return enrollments[i].CreatedAt.After(enrollments[j].CreatedAt) })
	return enrollments, nil
}

func (repo *enrollmentRepository) UpdateEnrollment(_ context.Context, e enrollment.Enrollment, fromStatus string) (enrollment.Enrollment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.table[e.ID]
	if !ok {
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}
	if orig.Status != fromStatus {
		return enrollment.Enrollment{}, enrollment.ErrStatusConflict
	}
	if e.IsActive() && !orig.IsActive() {
		if _, exists := repo.findActive(e.UserID, e.CourseID); exists {
			return enrollment.Enrollment{}, enrollment.ErrAlreadyEnrolled
		}
	}
	orig.Status = e.Status
	orig.UpdatedAt = e.UpdatedAt
	return *orig, nil
}
