package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/course"
)

type courseRepository struct {
	db *courseTable
}

var _ course.Repository = (*courseRepository)(nil)

func NewCourseRepository(db *DB) course.Repository {
	return &courseRepository{db: db.course}
}

func (repo *courseRepository) slugExists(tenantID, slug string) bool {
	for _, c := range repo.db.table {
		if c.TenantID == tenantID && c.Slug == slug {
			return true
		}
	}
	return false
}

func (repo *courseRepository) CreateCourse(_ context.Context, c course.Course) (course.Course, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if repo.slugExists(c.TenantID, c.Slug) {
		return course.Course{}, course.ErrSlugExists
	}
	c.ID = newID()
	repo.db.table[c.ID] = &c
	return c, nil
}

func (repo *courseRepository) UpdateCourse(_ context.Context, c course.Course) (course.Course, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.table[c.ID]
	if !ok {
		return course.Course{}, course.ErrNotFound
	}
	c.TenantID, c.Slug, c.Currency, c.CreatedAt = orig.TenantID, orig.Slug, orig.Currency, orig.CreatedAt
	repo.db.table[c.ID] = &c
	return c, nil
}

func (repo *courseRepository) GetCourse(_ context.Context, id string) (course.Course, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if c, ok := repo.db.table[id]; ok {
		return *c, nil
	}
	return course.Course{}, course.ErrNotFound
}

func (repo *courseRepository) QueryCourses(_ context.Context, filter *course.QueryFilter, ordering []core.DBOrdering) ([]course.Course, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	courses := make([]course.Course, 0)
	for _, c := range repo.db.table {
		if filter != nil {
			if filter.TenantID != "" && c.TenantID != filter.TenantID {
				continue
			}
			if filter.Search != "" && !matches(filter.Search, c.Title, c.Description) {
				continue
			}
			if len(filter.Statuses) > 0 && !contains(filter.Statuses, c.Status) {
				continue
			}
			if filter.InstructorID != "" && c.InstructorID != filter.InstructorID {
				continue
			}
			if filter.IDs != nil && !contains(filter.IDs, c.ID) {
				continue
			}
		}
		courses = append(courses, *c)
	}

	sortSlice(courses, ordering, comparers{
		"title":      func(i, j int) int { return strings.Compare(courses[i].Title, courses[j].Title) },
		"price":      func(i, j int) int { return cmpInt64(courses[i].Price, courses[j].Price) },
		"status":     func(i, j int) int { return strings.Compare(courses[i].Status, courses[j].Status) },
		"created_at": func(i, j int) int { return courses[i].CreatedAt.Compare(courses[j].CreatedAt) },
		"updated_at": func(i, j int) int { return courses[i].UpdatedAt.Compare(courses[j].UpdatedAt) },
	}, core.DBOrdering{Field: "created_at"})
	return courses, nil
}

func (repo *courseRepository) SlugExists(_ context.Context, tenantID, slug string) (bool, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return repo.slugExists(tenantID, slug), nil
}

func (repo *courseRepository) CreateBatch(_ context.Context, b course.Batch) (course.Batch, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	b.ID = newID()
	repo.db.batches[b.ID] = &b
	return b, nil
}

func (repo *courseRepository) GetBatch(_ context.Context, id string) (course.Batch, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if b, ok := repo.db.batches[id]; ok {
		return *b, nil
	}
	return course.Batch{}, course.ErrBatchNotFound
}

func (repo *courseRepository) ListBatches(_ context.Context, courseIDs ...string) ([]course.Batch, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	batches := make([]course.Batch, 0)
	for _, b := range repo.db.batches {
		if contains(courseIDs, b.CourseID) {
			batches = append(batches, *b)
		}
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i].StartsAt.Before(batches[j].StartsAt) })
	return batches, nil
}

func (repo *courseRepository) ReserveSeat(_ context.Context, batchID string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	b, ok := repo.db.batches[batchID]
	if !ok {
		return course.ErrBatchNotFound
	}
	if b.IsFull() {
		return course.ErrBatchFull
	}
	b.Enrolled++
	return nil
}

func (repo *courseRepository) ReleaseSeat(_ context.Context, batchID string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if b, ok := repo.db.batches[batchID]; ok && b.Enrolled > 0 {
		b.Enrolled--
	}
	return nil
}
