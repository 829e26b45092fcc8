package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/trezcool/academia/core/dashboard"
	"github.com/trezcool/academia/core/enrollment"
	"github.com/trezcool/academia/core/order"
	"github.com/trezcool/academia/core/user"
)

type statsRepository struct {
	db *DB
}

var _ dashboard.Stats = (*statsRepository)(nil)

func NewStatsRepository(db *DB) dashboard.Stats {
	return &statsRepository{db: db}
}

func (repo *statsRepository) CountUsersByRole(_ context.Context, tenantID string) (map[string]int, error) {
	repo.db.user.RLock()
	defer repo.db.user.RUnlock()

	families := []string{user.RoleAdmin, user.RoleInstructor, user.RoleStudent}
	counts := make(map[string]int, len(families))
	for _, family := range families {
		counts[family] = 0
	}
	for _, usr := range repo.db.user.table {
		if usr.TenantID != tenantID {
			continue
		}
		seen := make(map[string]bool)
		for _, role := range usr.Roles {
			family := strings.SplitN(role, ":", 2)[0] + ":"
			if !seen[family] {
				seen[family] = true
				counts[family]++
			}
		}
	}
	return counts, nil
}

func (repo *statsRepository) CountActiveUsers(_ context.Context, tenantID string) (int, error) {
	repo.db.user.RLock()
	defer repo.db.user.RUnlock()

	var n int
	for _, usr := range repo.db.user.table {
		if usr.TenantID == tenantID && usr.IsActive {
			n++
		}
	}
	return n, nil
}

func (repo *statsRepository) CountCoursesByStatus(_ context.Context, tenantID string) (map[string]int, error) {
	repo.db.course.RLock()
	defer repo.db.course.RUnlock()

	counts := make(map[string]int)
	for _, c := range repo.db.course.table {
		if c.TenantID == tenantID {
			counts[c.Status]++
		}
	}
	return counts, nil
}

func (repo *statsRepository) CountActiveEnrollments(_ context.Context, tenantID string) (int, error) {
	repo.db.enrollment.RLock()
	defer repo.db.enrollment.RUnlock()

	var n int
	for _, e := range repo.db.enrollment.table {
		if e.TenantID == tenantID && e.Status == enrollment.StatusActive {
			n++
		}
	}
	return n, nil
}

func (repo *statsRepository) PaidOrders(_ context.Context, tenantID string) (int, int64, error) {
	repo.db.order.RLock()
	defer repo.db.order.RUnlock()

	var (
		n       int
		revenue int64
	)
	for _, o := range repo.db.order.table {
		if o.TenantID == tenantID && o.Status == order.StatusPaid {
			n++
			revenue += o.Total
		}
	}
	return n, revenue, nil
}

// courseStats returns the stats of the courses of a tenant, of one instructor if `instructorID` is set.
func (repo *statsRepository) courseStats(tenantID, instructorID string) []dashboard.CourseStat {
	repo.db.course.RLock()
	defer repo.db.course.RUnlock()
	repo.db.enrollment.RLock()
	defer repo.db.enrollment.RUnlock()

	active := make(map[string]int)
	for _, e := range repo.db.enrollment.table {
		if e.Status == enrollment.StatusActive {
			active[e.CourseID]++
		}
	}

	stats := make([]dashboard.CourseStat, 0)
	created := make(map[string]int64)
	for _, c := range repo.db.course.table {
		if c.TenantID != tenantID || (instructorID != "" && c.InstructorID != instructorID) {
			continue
		}
		created[c.ID] = c.CreatedAt.UnixNano()
		stats = append(stats, dashboard.CourseStat{
			CourseID:          c.ID,
			Title:             c.Title,
			Status:            c.Status,
			ActiveEnrollments: active[c.ID],
		})
	}
	if instructorID != "" {
		sort.SliceStable(stats, func(i, j int) bool { return created[stats[i].CourseID] > created[stats[j].CourseID] })
	}
	return stats
}

func (repo *statsRepository) TopCourses(_ context.Context, tenantID string, limit int) ([]dashboard.CourseStat, error) {
	stats := repo.courseStats(tenantID, "")
	sort.SliceStable(stats, func(i, j int) bool {
		if stats[i].ActiveEnrollments != stats[j].ActiveEnrollments {
			return stats[i].ActiveEnrollments > stats[j].ActiveEnrollments
		}
		return stats[i].Title < stats[j].Title
	})
	if limit > 0 && len(stats) > limit {
		stats = stats[:limit]
	}
	return stats, nil
}

func (repo *statsRepository) InstructorCourses(_ context.Context, tenantID, instructorID string) ([]dashboard.CourseStat, error) {
	if instructorID == "" {
		return []dashboard.CourseStat{}, nil
	}
	return repo.courseStats(tenantID, instructorID), nil
}

func (repo *statsRepository) CountStudents(_ context.Context, tenantID, instructorID string) (int, error) {
	repo.db.course.RLock()
	defer repo.db.course.RUnlock()
	repo.db.enrollment.RLock()
	defer repo.db.enrollment.RUnlock()

	students := make(map[string]bool)
	for _, e := range repo.db.enrollment.table {
		if e.Status != enrollment.StatusActive {
			continue
		}
		if c, ok := repo.db.course.table[e.CourseID]; ok && c.TenantID == tenantID && c.InstructorID == instructorID {
			students[e.UserID] = true
		}
	}
	return len(students), nil
}

func (repo *statsRepository) CountUserOrders(_ context.Context, userID string) (int, error) {
	repo.db.order.RLock()
	defer repo.db.order.RUnlock()

	var n int
	for _, o := range repo.db.order.table {
		if o.UserID == userID {
			n++
		}
	}
	return n, nil
}
