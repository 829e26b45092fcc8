package inmemdb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/exam"
	"github.com/trezcool/academia/core/order"
	"github.com/trezcool/academia/core/promo"
	"github.com/trezcool/academia/core/referral"
	"github.com/trezcool/academia/core/session"
	"github.com/trezcool/academia/core/store"
	"github.com/trezcool/academia/core/user"
)

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(Open())

	now := time.Now().UTC()
	alice, err := repo.CreateUser(ctx, user.User{
		TenantID: "t1", Name: "Alice", Username: "alice", Email: "alice@test.test",
		IsActive: true, Roles: []string{user.RoleStudent}, CreatedAt: now,
	})
	require.NoError(t, err)
	_, err = repo.CreateUser(ctx, user.User{
		TenantID: "t1", Name: "Bob", Username: "bob", Email: "bob@test.test",
		Roles: []string{user.RoleInstructor}, CreatedAt: now.Add(time.Minute),
	})
	require.NoError(t, err)

	t.Run("unique per tenant", func(t *testing.T) {
		_, err := repo.CreateUser(ctx, user.User{TenantID: "t1", Username: "alice"})
		assert.Equal(t, user.ErrUsernameExists, err)
		_, err = repo.CreateUser(ctx, user.User{TenantID: "t1", Email: "alice@test.test"})
		assert.Equal(t, user.ErrEmailExists, err)
		_, err = repo.CreateUser(ctx, user.User{TenantID: "t2", Username: "alice", Email: "alice@test.test"})
		assert.NoError(t, err)
	})

	t.Run("query", func(t *testing.T) {
		active := true
		tests := []struct {
			name   string
			filter *user.QueryFilter
			want   []string
		}{
			{name: "tenant", filter: &user.QueryFilter{TenantID: "t1"}, want: []string{"Bob", "Alice"}},
			{name: "search", filter: &user.QueryFilter{TenantID: "t1", Search: "ALI"}, want: []string{"Alice"}},
			{name: "role", filter: &user.QueryFilter{TenantID: "t1", Roles: []string{user.RoleInstructor}}, want: []string{"Bob"}},
			{name: "active", filter: &user.QueryFilter{TenantID: "t1", IsActive: &active}, want: []string{"Alice"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				users, err := repo.QueryUsers(ctx, tt.filter, nil)
				require.NoError(t, err)
				names := make([]string, 0, len(users))
				for _, u := range users {
					names = append(names, u.Name)
				}
				assert.Equal(t, tt.want, names)
			})
		}
	})

	t.Run("credit never goes negative", func(t *testing.T) {
		usr, err := repo.AddCredit(ctx, alice.ID, 500)
		require.NoError(t, err)
		assert.EqualValues(t, 500, usr.Credit)

		_, err = repo.AddCredit(ctx, alice.ID, -501)
		assert.Equal(t, user.ErrInsufficientCredit, err)

		usr, err = repo.AddCredit(ctx, alice.ID, -500)
		require.NoError(t, err)
		assert.Zero(t, usr.Credit)
	})

	t.Run("update keeps credit", func(t *testing.T) {
		_, err := repo.AddCredit(ctx, alice.ID, 100)
		require.NoError(t, err)
		alice.Name = "Alice A."
		alice.Credit = 0
		usr, err := repo.UpdateUser(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, "Alice A.", usr.Name)
		assert.EqualValues(t, 100, usr.Credit)
	})
}

func TestCourseRepositorySeats(t *testing.T) {
	ctx := context.Background()
	repo := NewCourseRepository(Open())

	c, err := repo.CreateCourse(ctx, course.Course{TenantID: "t1", Title: "Go", Slug: "go"})
	require.NoError(t, err)
	_, err = repo.CreateCourse(ctx, course.Course{TenantID: "t1", Title: "Go 2", Slug: "go"})
	assert.Equal(t, course.ErrSlugExists, err)

	b, err := repo.CreateBatch(ctx, course.Batch{CourseID: c.ID, Capacity: 2})
	require.NoError(t, err)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		booked int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if repo.ReserveSeat(ctx, b.ID) == nil {
				mu.Lock()
				booked++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 2, booked)
	assert.Equal(t, course.ErrBatchFull, repo.ReserveSeat(ctx, b.ID))

	require.NoError(t, repo.ReleaseSeat(ctx, b.ID))
	assert.NoError(t, repo.ReserveSeat(ctx, b.ID))
	assert.Equal(t, course.ErrBatchNotFound, repo.ReserveSeat(ctx, "unknown"))
}

func TestExamRepositoryAttempts(t *testing.T) {
	ctx := context.Background()
	repo := NewExamRepository(Open())

	e, err := repo.CreateExam(ctx, exam.Exam{TenantID: "t1", CourseID: "c1", Title: "Quiz", Duration: time.Minute})
	require.NoError(t, err)
	for _, pos := range []int{2, 1} {
		_, err = repo.AddQuestion(ctx, exam.Question{ExamID: e.ID, Position: pos, Kind: exam.KindText, Points: 1})
		require.NoError(t, err)
	}
	e, err = repo.GetExam(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, e.Questions, 2)
	assert.Equal(t, 1, e.Questions[0].Position)

	now := time.Now().UTC()
	a, err := repo.CreateAttempt(ctx, exam.Attempt{
		ExamID: e.ID, UserID: "u1", Status: exam.StatusInProgress, StartedAt: now, EndsAt: now.Add(time.Minute),
	})
	require.NoError(t, err)
	_, err = repo.CreateAttempt(ctx, exam.Attempt{ExamID: e.ID, UserID: "u1", Status: exam.StatusInProgress})
	assert.Equal(t, exam.ErrAttemptInProgress, err)

	expired, err := repo.ListExpired(ctx, now.Add(2*time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, expired, 1)

	a.Status = exam.StatusSubmitted
	_, err = repo.SaveAttempt(ctx, a, exam.StatusInProgress)
	require.NoError(t, err)
	_, err = repo.SaveAttempt(ctx, a, exam.StatusInProgress)
	assert.Equal(t, exam.ErrStatusConflict, err)

	n, err := repo.CountAttempts(ctx, e.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPromoRepositoryUsage(t *testing.T) {
	ctx := context.Background()
	repo := NewPromoRepository(Open())

	p, err := repo.CreatePromo(ctx, promo.PromoCode{TenantID: "t1", Code: "WELCOME", UsageLimit: 1})
	require.NoError(t, err)
	_, err = repo.CreatePromo(ctx, promo.PromoCode{TenantID: "t1", Code: "WELCOME"})
	assert.Equal(t, promo.ErrCodeExists, err)

	require.NoError(t, repo.IncrementUsage(ctx, p.ID))
	assert.Equal(t, promo.ErrUsageExhausted, repo.IncrementUsage(ctx, p.ID))

	_, err = repo.CreateRedemption(ctx, promo.Redemption{PromoID: p.ID, UserID: "u1", OrderID: "o1"})
	require.NoError(t, err)
	_, err = repo.CreateRedemption(ctx, promo.Redemption{PromoID: p.ID, UserID: "u1", OrderID: "o1"})
	assert.Equal(t, promo.ErrRedemptionExists, err)
	_, err = repo.FindRedemption(ctx, p.ID, "o2")
	assert.Equal(t, promo.ErrNoRedemption, err)
}

func TestProductRepositoryStock(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(Open())

	limited, err := repo.CreateProduct(ctx, store.Product{TenantID: "t1", SKU: "BOOK", Stock: 1})
	require.NoError(t, err)
	unlimited, err := repo.CreateProduct(ctx, store.Product{TenantID: "t1", SKU: "PDF", Stock: store.UnlimitedStock})
	require.NoError(t, err)

	require.NoError(t, repo.ReserveStock(ctx, limited.ID, 1))
	assert.Equal(t, store.ErrOutOfStock, repo.ReserveStock(ctx, limited.ID, 1))
	require.NoError(t, repo.ReleaseStock(ctx, limited.ID, 1))
	assert.NoError(t, repo.ReserveStock(ctx, limited.ID, 1))

	assert.NoError(t, repo.ReserveStock(ctx, unlimited.ID, 1000))
	p, err := repo.GetProduct(ctx, unlimited.ID)
	require.NoError(t, err)
	assert.Equal(t, store.UnlimitedStock, p.Stock)
}

func TestOrderRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(Open())

	o, err := repo.CreateOrder(ctx, order.Order{ID: "o1", TenantID: "t1", UserID: "u1", Status: order.StatusPending})
	require.NoError(t, err)
	assert.Equal(t, "o1", o.ID)

	o.Status, o.PaymentRef = order.StatusPaid, "pi_1"
	_, err = repo.UpdateOrder(ctx, o, order.StatusPending)
	require.NoError(t, err)
	_, err = repo.UpdateOrder(ctx, o, order.StatusPending)
	assert.Equal(t, order.ErrStatusConflict, err)

	got, err := repo.GetOrder(ctx, order.GetFilter{PaymentRef: "pi_1"})
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, got.Status)

	for want := 1; want <= 3; want++ {
		seq, err := repo.NextInvoiceNumber(ctx, "t1", 2026)
		require.NoError(t, err)
		assert.Equal(t, want, seq)
	}
	seq, err := repo.NextInvoiceNumber(ctx, "t1", 2027)
	require.NoError(t, err)
	assert.Equal(t, 1, seq)

	_, err = repo.CreateInvoice(ctx, order.Invoice{OrderID: "o1"})
	require.NoError(t, err)
	_, err = repo.CreateInvoice(ctx, order.Invoice{OrderID: "o1"})
	assert.Equal(t, order.ErrInvoiceExists, err)
}

func TestReferralRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewReferralRepository(Open())

	_, err := repo.CreateCode(ctx, referral.Code{Code: "ABCD2345", UserID: "u1"})
	require.NoError(t, err)
	_, err = repo.CreateCode(ctx, referral.Code{Code: "ABCD2345", UserID: "u2"})
	assert.Equal(t, referral.ErrCodeExists, err)

	r, err := repo.CreateReferral(ctx, referral.Referral{ReferrerID: "u1", ReferredID: "u2", Status: referral.StatusPending})
	require.NoError(t, err)
	_, err = repo.CreateReferral(ctx, referral.Referral{ReferrerID: "u3", ReferredID: "u2"})
	assert.Equal(t, referral.ErrAlreadyReferred, err)

	r.Reward = 100
	require.NoError(t, repo.MarkRewarded(ctx, r))
	assert.Equal(t, referral.ErrAlreadyRewarded, repo.MarkRewarded(ctx, r))
}

func TestSessionStorePubSub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewSessionStore()

	now := time.Now().UTC()
	require.NoError(t, s.Add(ctx, session.Session{ID: "s2", UserID: "u1", CreatedAt: now.Add(time.Second)}))
	require.NoError(t, s.Add(ctx, session.Session{ID: "s1", UserID: "u1", CreatedAt: now}))
	sessions, err := s.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s1", sessions[0].ID)

	events, unsubscribe, err := s.Subscribe(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, s.Publish(ctx, "u1", session.Event{Type: session.EventRevoked, SessionID: "s1"}))
	select {
	case evt := <-events:
		assert.Equal(t, "s1", evt.SessionID)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}

	unsubscribe()
	_, open := <-events
	assert.False(t, open)

	require.NoError(t, s.Remove(ctx, "u1", "s1", "unknown"))
	_, err = s.Get(ctx, "u1", "s1")
	assert.Equal(t, session.ErrNotFound, err)
}

func TestIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	s := NewIdempotencyStore()

	_, claimed, err := s.Claim(ctx, "u1:key", time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)

	orderID, claimed, err := s.Claim(ctx, "u1:key", time.Hour)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Empty(t, orderID)

	require.NoError(t, s.Complete(ctx, "u1:key", "o1", time.Hour))
	orderID, claimed, _ = s.Claim(ctx, "u1:key", time.Hour)
	assert.False(t, claimed)
	assert.Equal(t, "o1", orderID)

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, claimed, _ = s.Claim(ctx, "u1:key", time.Hour)
	assert.True(t, claimed)
}

func TestSortSlice(t *testing.T) {
	vals := []int{3, 1, 2}
	cmps := comparers{"v": func(i, j int) int { return cmpInt64(int64(vals[i]), int64(vals[j])) }}
	sortSlice(vals, []core.DBOrdering{{Field: "v", Ascending: true}}, cmps, core.DBOrdering{})
	assert.Equal(t, []int{1, 2, 3}, vals)
	sortSlice(vals, nil, cmps, core.DBOrdering{Field: "v"})
	assert.Equal(t, []int{3, 2, 1}, vals)
}
