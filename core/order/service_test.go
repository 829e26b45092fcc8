package order_test

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/apps/api/di"
	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/cart"
	"github.com/trezcool/academia/core/order"
	"github.com/trezcool/academia/core/user"
	emailsvc "github.com/trezcool/academia/services/email"
	eventsvc "github.com/trezcool/academia/services/events"
	logsvc "github.com/trezcool/academia/services/logger"
	dummypay "github.com/trezcool/academia/services/payment/dummy"
	inmemdb "github.com/trezcool/academia/storage/database/inmem"
	"github.com/trezcool/academia/tests"
)

var errDBDown = errors.New("database is down")

// flakyOrders fails the next UpdateOrder call when armed.
type flakyOrders struct {
	order.Repository
	mu   sync.Mutex
	fail bool
}

func (repo *flakyOrders) failNextUpdate() {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	repo.fail = true
}

func (repo *flakyOrders) UpdateOrder(ctx context.Context, o order.Order, fromStatus string) (order.Order, error) {
	repo.mu.Lock()
	fail := repo.fail
	repo.fail = false
	repo.mu.Unlock()
	if fail {
		return order.Order{}, errDBDown
	}
	return repo.Repository.UpdateOrder(ctx, o, fromStatus)
}

func TestService_Checkout_releasesOnFailure(t *testing.T) {
	ctx := context.Background()
	conf := core.NewTestConfig()
	logger := logsvc.NewDiscardLogger()
	gateway := dummypay.NewGateway()

	b := di.MemoryBackends(inmemdb.Open(), conf)
	orders := &flakyOrders{Repository: b.Orders}
	b.Orders = orders
	b.Gateway = gateway
	b.Events = eventsvc.NewRecorder()
	b.MailSvc = emailsvc.NewConsoleServiceMock(conf, logger)
	c := di.New(conf, logger, b)

	tnt := testutil.CreateTenant(t, b.Tenants, "acme", true)
	usr := testutil.CreateUser(t, b.Users, tnt.ID, "Jane", "jane", "jane@test.test", "", []string{user.RoleStudent}, true)
	actor := usr.Actor()
	mug := testutil.CreateProduct(t, b.Products, tnt.ID, "MUG-1", "Gopher Mug", 1000, 3)

	stock := func() int {
		p, err := c.StoreSvc.Find(ctx, mug.ID)
		require.NoError(t, err)
		return p.Stock
	}
	credit := func() int64 {
		u, err := c.UserSvc.GetByID(ctx, usr.ID)
		require.NoError(t, err)
		return u.Credit
	}
	seen := make(map[string]bool)
	newOrder := func() order.Order {
		os, err := b.Orders.QueryOrders(ctx, &order.QueryFilter{TenantID: tnt.ID, UserID: usr.ID}, nil)
		require.NoError(t, err)
		for _, o := range os {
			if !seen[o.ID] {
				seen[o.ID] = true
				return o
			}
		}
		t.Fatal("no new order")
		return order.Order{}
	}

	// a failed checkout keeps the cart
	_, err := c.CartSvc.AddItem(ctx, actor, cart.AddItem{Kind: cart.KindProduct, RefID: mug.ID, Quantity: 2})
	require.NoError(t, err)

	t.Run("saving the payment intent fails", func(t *testing.T) {
		orders.failNextUpdate()
		_, err := c.OrderSvc.Checkout(ctx, actor, order.CheckoutRequest{})
		assert.Equal(t, errDBDown, errors.Cause(err))

		o := newOrder()
		assert.Equal(t, order.StatusFailed, o.Status)
		require.NotEmpty(t, o.PaymentRef)
		assert.True(t, gateway.IsCancelled(o.PaymentRef))
		assert.Equal(t, 3, stock())
	})

	t.Run("paying a zero total order fails", func(t *testing.T) {
		_, err := c.UserSvc.AddCredit(ctx, usr.ID, 2000)
		require.NoError(t, err)
		orders.failNextUpdate()
		_, err = c.OrderSvc.Checkout(ctx, actor, order.CheckoutRequest{UseCredit: true})
		assert.Equal(t, errDBDown, errors.Cause(err))

		o := newOrder()
		assert.Equal(t, order.StatusFailed, o.Status)
		assert.Equal(t, int64(2000), o.Credit)
		assert.Equal(t, 3, stock())
		assert.Equal(t, int64(2000), credit())
	})

	t.Run("succeeds once the database is back", func(t *testing.T) {
		o, err := c.OrderSvc.Checkout(ctx, actor, order.CheckoutRequest{UseCredit: true})
		require.NoError(t, err)
		assert.Equal(t, order.StatusPaid, o.Status)
		assert.Equal(t, 1, stock())
		assert.Zero(t, credit())
	})
}
