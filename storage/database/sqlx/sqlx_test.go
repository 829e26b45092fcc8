package sqlxrepos

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/enrollment"
	"github.com/trezcool/academia/core/order"
	"github.com/trezcool/academia/core/promo"
	"github.com/trezcool/academia/core/referral"
	"github.com/trezcool/academia/core/store"
	"github.com/trezcool/academia/core/user"
)

const (
	tenantID = "6f1c3a0e-8a54-4f0b-9c7c-3a5e2d1b0c11"
	userID   = "4b1f5e3c-0d37-4c53-9b5e-1f6f5c1d2a10"
	objectID = "9d2e7c61-3b8f-4a5d-8e1c-7f6a5b4c3d22"
)

func setupMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func userRows() *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "name", "username", "email", "is_active", "roles", "credit", "password_hash",
		"created_at", "updated_at", "last_login",
	}).AddRow(userID, tenantID, "Jane", nil, "jane@test.test", true, "{student:}", int64(500), []byte("hash"), now, now, nil)
}

func TestUserRepository_GetUser(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	t.Run("malformed id", func(t *testing.T) {
		_, err := repo.GetUser(ctx, user.GetFilter{ID: "lol"})
		assert.Equal(t, user.ErrNotFound, err)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT id, tenant_id")).
			WithArgs(objectID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		_, err := repo.GetUser(ctx, user.GetFilter{ID: objectID})
		assert.Equal(t, user.ErrNotFound, err)
	})

	t.Run("by username or email", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE tenant_id = $1 AND (username = $2 OR email = $3)")).
			WithArgs(tenantID, "jane@test.test", "jane@test.test").
			WillReturnRows(userRows())
		usr, err := repo.GetUser(ctx, user.GetFilter{TenantID: tenantID, UsernameOrEmail: "jane@test.test"})
		require.NoError(t, err)
		assert.Equal(t, userID, usr.ID)
		assert.Equal(t, "", usr.Username)
		assert.Equal(t, []string{user.RoleStudent}, usr.Roles)
		assert.Equal(t, int64(500), usr.Credit)
		assert.True(t, usr.LastLogin.IsZero())
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_CreateUser_Unique(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: "users_tenant_email_key"})

	_, err := repo.CreateUser(context.Background(), user.User{TenantID: tenantID, Name: "Jane", Email: "jane@test.test"})
	assert.Equal(t, user.ErrEmailExists, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_AddCredit(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	t.Run("insufficient credit", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE users SET credit = credit + $1")).
			WithArgs(int64(-1000), sqlmock.AnyArg(), userID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
			WithArgs(userID).
			WillReturnRows(userRows())

		_, err := repo.AddCredit(ctx, userID, -1000)
		assert.Equal(t, user.ErrInsufficientCredit, err)
	})

	t.Run("unknown user", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE users SET credit = credit + $1")).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := repo.AddCredit(ctx, objectID, 100)
		assert.Equal(t, user.ErrNotFound, err)
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_DeleteUsersByID(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE tenant_id = $1 AND id IN ($2, $3)")).
		WithArgs(tenantID, userID, objectID).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.DeleteUsersByID(context.Background(), tenantID, userID, "not-an-id", objectID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE tenant_id = $1 AND id IN ($2)")).
		WithArgs(tenantID, userID).
		WillReturnError(&pq.Error{Code: "23503", Constraint: "orders_user_id_fkey"})

	_, err = repo.DeleteUsersByID(context.Background(), tenantID, userID)
	assert.Equal(t, user.ErrHasHistory, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepository_ReserveSeat(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewCourseRepository(db)
	ctx := context.Background()

	t.Run("seat left", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE batches SET enrolled = enrolled + 1")).
			WithArgs(objectID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		assert.NoError(t, repo.ReserveSeat(ctx, objectID))
	})

	t.Run("full", func(t *testing.T) {
		now := time.Now().UTC()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE batches SET enrolled = enrolled + 1")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("FROM batches WHERE id = $1")).
			WillReturnRows(sqlmock.NewRows([]string{"id", "course_id", "name", "starts_at", "ends_at", "capacity", "enrolled"}).
				AddRow(objectID, userID, "B1", now, now.Add(time.Hour), 10, 10))
		assert.Equal(t, course.ErrBatchFull, repo.ReserveSeat(ctx, objectID))
	})

	t.Run("unknown batch", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE batches SET enrolled = enrolled + 1")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("FROM batches WHERE id = $1")).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		assert.Equal(t, course.ErrBatchNotFound, repo.ReserveSeat(ctx, objectID))
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepository_CreateEnrollment_AlreadyEnrolled(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments")).
		WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: "enrollments_active_key"})

	_, err := repo.CreateEnrollment(context.Background(), enrollment.Enrollment{
		TenantID: tenantID, UserID: userID, CourseID: objectID, Status: enrollment.StatusActive,
	})
	assert.Equal(t, enrollment.ErrAlreadyEnrolled, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoRepository_IncrementUsage_Exhausted(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPromoRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE promo_codes SET used_count = used_count + 1")).
		WithArgs(objectID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM promo_codes WHERE id = $1")).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "code", "kind", "value", "min_subtotal", "max_discount", "usage_limit", "used_count",
			"per_user_limit", "course_ids", "starts_at", "expires_at", "is_active", "created_at",
		}).AddRow(objectID, tenantID, "SAVE10", promo.KindPercentage, 1000, 0, 0, 5, 5, 0, "{}", nil, nil, true, time.Now()))

	assert.Equal(t, promo.ErrUsageExhausted, repo.IncrementUsage(context.Background(), objectID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoRepository_DeleteRedemption(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPromoRepository(db)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM redemptions WHERE id = $1")).
		WithArgs(objectID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, repo.DeleteRedemption(ctx, objectID))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM redemptions WHERE id = $1")).
		WithArgs(objectID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.Equal(t, promo.ErrNoRedemption, repo.DeleteRedemption(ctx, objectID))
	assert.Equal(t, promo.ErrNoRedemption, repo.DeleteRedemption(ctx, "nope"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReferralRepository_ResetReward(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewReferralRepository(db)
	r := referral.Referral{ID: objectID, OrderID: "o1"}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE referrals SET status = $1, reward = 0, order_id = NULL, rewarded_at = NULL")).
		WithArgs(referral.StatusPending, objectID, referral.StatusRewarded, "o1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.Equal(t, referral.ErrNotFound, repo.ResetReward(context.Background(), r))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_ReserveStock(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewProductRepository(db)
	ctx := context.Background()
	cols := []string{"id", "tenant_id", "sku", "name", "description", "price", "stock", "is_active", "created_at", "updated_at"}

	t.Run("unlimited", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE products SET stock = stock - $1")).
			WithArgs(3, objectID).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("FROM products WHERE id = $1")).
			WillReturnRows(sqlmock.NewRows(cols).AddRow(objectID, tenantID, "EBOOK", "Ebook", "", 999, -1, true, time.Now(), time.Now()))
		assert.NoError(t, repo.ReserveStock(ctx, objectID, 3))
	})

	t.Run("out of stock", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE products SET stock = stock - $1")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("FROM products WHERE id = $1")).
			WillReturnRows(sqlmock.NewRows(cols).AddRow(objectID, tenantID, "MUG", "Mug", "", 999, 2, true, time.Now(), time.Now()))
		assert.Equal(t, store.ErrOutOfStock, repo.ReserveStock(ctx, objectID, 3))
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_UpdateOrder_Conflict(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewOrderRepository(db)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = $1")).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "user_id", "number", "items", "subtotal", "discount", "credit", "tax", "total", "currency",
			"promo_id", "promo_code", "status", "payment_ref", "client_secret", "created_at", "updated_at", "paid_at",
		}).AddRow(objectID, tenantID, userID, "ORD-ABCDEFGH", `[]`, 1000, 0, 0, 0, 1000, "USD",
			nil, "", order.StatusPaid, "pi_123", "", now, now, now))

	_, err := repo.UpdateOrder(context.Background(), order.Order{ID: objectID, Status: order.StatusCancelled}, order.StatusPending)
	assert.Equal(t, order.ErrStatusConflict, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_NextInvoiceNumber(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewOrderRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO invoice_sequences")).
		WithArgs(tenantID, 2026).
		WillReturnRows(sqlmock.NewRows([]string{"last"}).AddRow(42))

	seq, err := repo.NextInvoiceNumber(context.Background(), tenantID, 2026)
	require.NoError(t, err)
	assert.Equal(t, 42, seq)
	assert.Equal(t, "INV-2026-000042", order.InvoiceNumber(2026, seq))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_CreateInvoice_Exists(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewOrderRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO invoices")).
		WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: "invoices_order_id_key"})

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO invoices")).
		WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: "invoices_tenant_id_number_key"})

	_, err := repo.CreateInvoice(context.Background(), order.Invoice{TenantID: tenantID, OrderID: objectID})
	assert.Equal(t, order.ErrInvoiceExists, err)
	_, err = repo.CreateInvoice(context.Background(), order.Invoice{TenantID: tenantID, OrderID: objectID, Number: "INV-2026-000001"})
	assert.Equal(t, order.ErrInvoiceNumberTaken, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
