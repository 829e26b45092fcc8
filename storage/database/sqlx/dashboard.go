package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core/dashboard"
	"github.com/trezcool/academia/core/enrollment"
	"github.com/trezcool/academia/core/order"
	"github.com/trezcool/academia/core/user"
)

type statsRepository struct {
	base
}

var _ dashboard.Stats = (*statsRepository)(nil)

func NewStatsRepository(db *sqlx.DB) *statsRepository {
	return &statsRepository{base{db: db}}
}

type countRow struct {
	Key   string `db:"key"`
	Count int    `db:"count"`
}

func (repo statsRepository) countBy(ctx context.Context, q string, args ...interface{}) (map[string]int, error) {
	var rows []countRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Key] = r.Count
	}
	return counts, nil
}

// CountUsersByRole counts each user once per role family (admin, instructor, student).
func (repo statsRepository) CountUsersByRole(ctx context.Context, tenantID string) (map[string]int, error) {
	counts, err := repo.countBy(ctx, `SELECT family AS key, COUNT(DISTINCT id) AS count FROM (
			SELECT id, split_part(user_role, ':', 1) || ':' AS family FROM users, unnest(roles) user_role
			WHERE tenant_id = $1
		) families
		GROUP BY family`, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "counting users by role")
	}
	for _, role := range []string{user.RoleAdmin, user.RoleInstructor, user.RoleStudent} {
		if _, ok := counts[role]; !ok {
			counts[role] = 0
		}
	}
	return counts, nil
}

func (repo statsRepository) CountActiveUsers(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := repo.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM users WHERE tenant_id = $1 AND is_active", tenantID)
	return n, errors.Wrap(err, "counting active users")
}

func (repo statsRepository) CountCoursesByStatus(ctx context.Context, tenantID string) (map[string]int, error) {
	counts, err := repo.countBy(ctx,
		"SELECT status AS key, COUNT(*) AS count FROM courses WHERE tenant_id = $1 GROUP BY status", tenantID)
	return counts, errors.Wrap(err, "counting courses by status")
}

func (repo statsRepository) CountActiveEnrollments(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := repo.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM enrollments WHERE tenant_id = $1 AND status = $2", tenantID, enrollment.StatusActive)
	return n, errors.Wrap(err, "counting active enrollments")
}

func (repo statsRepository) PaidOrders(ctx context.Context, tenantID string) (int, int64, error) {
	var res struct {
		Count   int   `db:"count"`
		Revenue int64 `db:"revenue"`
	}
	err := repo.db.GetContext(ctx, &res,
		"SELECT COUNT(*) AS count, COALESCE(SUM(total), 0) AS revenue FROM orders WHERE tenant_id = $1 AND status = $2",
		tenantID, order.StatusPaid)
	return res.Count, res.Revenue, errors.Wrap(err, "summing paid orders")
}

const courseStatQuery = `SELECT c.id AS course_id, c.title, c.status, COUNT(e.id) AS active_enrollments
	FROM courses c
	LEFT JOIN enrollments e ON e.course_id = c.id AND e.status = $1
	WHERE c.tenant_id = $2`

type courseStatRow struct {
	CourseID          string `db:"course_id"`
	Title             string `db:"title"`
	Status            string `db:"status"`
	ActiveEnrollments int    `db:"active_enrollments"`
}

func courseStats(rows []courseStatRow) []dashboard.CourseStat {
	stats := make([]dashboard.CourseStat, 0, len(rows))
	for _, r := range rows {
		stats = append(stats, dashboard.CourseStat(r))
	}
	return stats
}

func (repo statsRepository) TopCourses(ctx context.Context, tenantID string, limit int) ([]dashboard.CourseStat, error) {
	var rows []courseStatRow
	q := courseStatQuery + " GROUP BY c.id ORDER BY active_enrollments DESC, c.title ASC LIMIT $3"
	if err := repo.db.SelectContext(ctx, &rows, q, enrollment.StatusActive, tenantID, limit); err != nil {
		return nil, errors.Wrap(err, "listing top courses")
	}
	return courseStats(rows), nil
}

func (repo statsRepository) InstructorCourses(ctx context.Context, tenantID, instructorID string) ([]dashboard.CourseStat, error) {
	if !validUUID(instructorID) {
		return []dashboard.CourseStat{}, nil
	}
	var rows []courseStatRow
	q := courseStatQuery + " AND c.instructor_id = $3 GROUP BY c.id ORDER BY c.created_at DESC"
	if err := repo.db.SelectContext(ctx, &rows, q, enrollment.StatusActive, tenantID, instructorID); err != nil {
		return nil, errors.Wrap(err, "listing instructor courses")
	}
	return courseStats(rows), nil
}

func (repo statsRepository) CountStudents(ctx context.Context, tenantID, instructorID string) (int, error) {
	if !validUUID(instructorID) {
		return 0, nil
	}
	var n int
	err := repo.db.GetContext(ctx, &n, `SELECT COUNT(DISTINCT e.user_id) FROM enrollments e
		JOIN courses c ON c.id = e.course_id
		WHERE c.tenant_id = $1 AND c.instructor_id = $2 AND e.status = $3`,
		tenantID, instructorID, enrollment.StatusActive)
	return n, errors.Wrap(err, "counting students")
}

func (repo statsRepository) CountUserOrders(ctx context.Context, userID string) (int, error) {
	if !validUUID(userID) {
		return 0, nil
	}
	var n int
	err := repo.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM orders WHERE user_id = $1", userID)
	return n, errors.Wrap(err, "counting user orders")
}
