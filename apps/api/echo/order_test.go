package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/core/cart"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/order"
	"github.com/trezcool/academia/core/promo"
	"github.com/trezcool/academia/core/referral"
	"github.com/trezcool/academia/core/store"
	"github.com/trezcool/academia/core/user"
	dummypay "github.com/trezcool/academia/services/payment/dummy"
	"github.com/trezcool/academia/tests"
)

func (app *testApp) webhook(t *testing.T, payload []byte) *http.Response {
	t.Helper()
	req, rec := newRequest(http.MethodPost, "/v1/payments/webhook", payload)
	return app.do(req, rec).Result()
}

func Test_commerce(t *testing.T) {
	app := setup(t)
	ctx := context.Background()
	teacher := app.createUser(t, "Teacher", "teacher", user.RoleInstructor)
	admin := app.createUser(t, "Admin", "admin", user.RoleAdmin)
	referrer := app.createUser(t, "Ref", "ref", user.RoleStudent)
	student := app.createUser(t, "Hero", "hero", user.RoleStudent)
	paid := testutil.CreateCourse(t, app.b.Courses, app.tenant.ID, teacher.ID, "Paid Course", 4900, course.StatusPublished)
	book := testutil.CreateProduct(t, app.b.Products, app.tenant.ID, "BOOK-1", "Go Book", 1500, 2)

	code, err := app.c.ReferralSvc.CodeFor(ctx, referrer.Actor())
	require.NoError(t, err)
	_, err = app.c.ReferralSvc.Attach(ctx, app.tenant.ID, student.ID, code.Code)
	require.NoError(t, err)

	adminToken := app.getToken(t, admin)
	studentToken := app.getToken(t, student)

	t.Run("promo codes are managed by admins", func(t *testing.T) {
		np := promo.NewPromoCode{Code: "save10", Kind: promo.KindPercentage, Value: 1000}
		rec := app.call(t, http.MethodPost, "/v1/promo-codes", studentToken, np, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		var p promo.PromoCode
		rec = app.call(t, http.MethodPost, "/v1/promo-codes", adminToken, np, &p)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, "SAVE10", p.Code)

		rec = app.call(t, http.MethodPost, "/v1/promo-codes", adminToken, np, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"code": "a promo code with this code already exists"}`, rec.Body.String())
	})

	t.Run("empty cart", func(t *testing.T) {
		rec := app.call(t, http.MethodPost, "/v1/checkout", studentToken, order.CheckoutRequest{}, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.JSONEq(t, `{"error": "cart is empty"}`, rec.Body.String())
	})

	t.Run("fill cart", func(t *testing.T) {
		var res CartResponse
		rec := app.call(t, http.MethodPost, "/v1/cart/items", studentToken, cart.AddItem{Kind: cart.KindCourse, RefID: paid.ID}, &res)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		rec = app.call(t, http.MethodPost, "/v1/cart/items", studentToken, cart.AddItem{Kind: cart.KindProduct, RefID: book.ID, Quantity: 3}, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.JSONEq(t, `{"error": "product is out of stock"}`, rec.Body.String())
		rec = app.call(t, http.MethodPost, "/v1/cart/items", studentToken, cart.AddItem{Kind: cart.KindProduct, RefID: book.ID, Quantity: 1}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		rec = app.call(t, http.MethodPut, "/v1/cart/items/"+book.ID, studentToken, cart.UpdateQuantity{Quantity: 2}, &res)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		require.Len(t, res.Cart.Items, 2)
		assert.Equal(t, int64(7900), res.Quote.Subtotal)
		assert.Equal(t, int64(7900), res.Quote.Total)
		assert.Equal(t, "USD", res.Quote.Currency)
	})

	t.Run("apply promo", func(t *testing.T) {
		rec := app.call(t, http.MethodPost, "/v1/cart/promo", studentToken, cart.ApplyPromo{Code: "nope"}, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.JSONEq(t, `{"error": "invalid promo code"}`, rec.Body.String())

		var q cart.Quote
		rec = app.call(t, http.MethodPost, "/v1/cart/promo", studentToken, cart.ApplyPromo{Code: " save10 "}, &q)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "SAVE10", q.PromoCode)
		assert.Equal(t, int64(790), q.Discount)
		assert.Equal(t, int64(7110), q.Total)
	})

	var o order.Order
	t.Run("checkout", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/checkout", studentToken, []byte(`{}`))
		req.Header.Set(headerIdempotencyKey, "k-1")
		app.do(req, rec)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))

		assert.Equal(t, order.StatusPending, o.Status)
		assert.Equal(t, int64(7110), o.Total)
		assert.Equal(t, "SAVE10", o.PromoCode)
		assert.True(t, strings.HasPrefix(o.PaymentRef, "dummy_"))
		assert.NotEmpty(t, o.ClientSecret)

		intent, ok := app.gateway.Intent(o.PaymentRef)
		require.True(t, ok)
		assert.Equal(t, o.ID, intent.OrderID)
		assert.Equal(t, int64(7110), intent.Amount)

		// replaying the key returns the same order
		var replay order.Order
		req, rec = newAuthRequest(http.MethodPost, "/v1/checkout", studentToken, []byte(`{}`))
		req.Header.Set(headerIdempotencyKey, "k-1")
		app.do(req, rec)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &replay))
		assert.Equal(t, o.ID, replay.ID)

		// the cart was emptied
		var res CartResponse
		rec = app.call(t, http.MethodGet, "/v1/cart", studentToken, nil, &res)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, res.Cart.Items)

		p, err := app.c.StoreSvc.Find(ctx, book.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, p.Stock)

		rec = app.call(t, http.MethodGet, "/v1/orders/"+o.ID+"/invoice", studentToken, nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("bad webhook", func(t *testing.T) {
		res := app.webhook(t, []byte(`not json`))
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)

		res = app.webhook(t, dummypay.Payload("dummy_unknown", order.PaymentSucceeded))
		assert.Equal(t, http.StatusOK, res.StatusCode)
	})

	t.Run("payment succeeded", func(t *testing.T) {
		app.mail.Reset()
		res := app.webhook(t, dummypay.Payload(o.PaymentRef, order.PaymentSucceeded))
		require.Equal(t, http.StatusOK, res.StatusCode)

		rec := app.call(t, http.MethodGet, "/v1/orders/"+o.ID, studentToken, nil, &o)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, order.StatusPaid, o.Status)
		require.NotNil(t, o.PaidAt)

		enrolled, err := app.c.EnrollmentSvc.IsEnrolled(ctx, student.ID, paid.ID)
		require.NoError(t, err)
		assert.True(t, enrolled)

		var inv order.Invoice
		rec = app.call(t, http.MethodGet, "/v1/orders/"+o.ID+"/invoice", studentToken, nil, &inv)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, order.InvoiceNumber(o.PaidAt.Year(), 1), inv.Number)
		assert.Equal(t, int64(7110), inv.Total)
		assert.Equal(t, student.Email, inv.BillTo.Email)

		rec = app.call(t, http.MethodGet, "/v1/orders/"+o.ID+"/invoice?format=text", studentToken, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Invoice "+inv.Number)
		assert.Contains(t, rec.Body.String(), "71.10 USD")

		// welcome + receipt
		var subjects []string
		for _, m := range app.mail.Sent() {
			subjects = append(subjects, m.Subject)
		}
		assert.Contains(t, subjects, "Your receipt "+inv.Number)

		types := app.events.Types()
		assert.Contains(t, types, order.EventPaid)
		assert.Contains(t, types, promo.EventRedeemed)
		assert.Contains(t, types, referral.EventRewarded)

		var refs ReferralsResponse
		rec = app.call(t, http.MethodGet, "/v1/referrals", app.getToken(t, referrer), nil, &refs)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, referral.Summary{Code: code.Code, Referred: 1, Rewarded: 1, TotalReward: 711}, refs.Summary)
		ref, err := app.c.UserSvc.GetByID(ctx, referrer.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(711), ref.Credit)
	})

	t.Run("webhooks are idempotent", func(t *testing.T) {
		sent := len(app.mail.Sent())
		events := len(app.events.Types())
		res := app.webhook(t, dummypay.Payload(o.PaymentRef, order.PaymentSucceeded))
		require.Equal(t, http.StatusOK, res.StatusCode)
		assert.Len(t, app.mail.Sent(), sent)
		assert.Len(t, app.events.Types(), events)

		res = app.webhook(t, dummypay.Payload(o.PaymentRef, order.PaymentFailed))
		require.Equal(t, http.StatusOK, res.StatusCode)
		got, err := app.c.OrderSvc.Get(ctx, student.Actor(), o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusPaid, got.Status)
	})

	t.Run("paid orders cannot be cancelled", func(t *testing.T) {
		rec := app.call(t, http.MethodPost, "/v1/orders/"+o.ID+"/cancel", studentToken, nil, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.JSONEq(t, `{"error": "order is no longer pending"}`, rec.Body.String())
	})

	t.Run("order lists", func(t *testing.T) {
		runHTTPTests(t, app, []httpTest{
			{name: "mine", path: "/v1/orders", token: studentToken, wantCode: http.StatusOK, wantData: marshallList(t, o)},
			{name: "admins only", path: "/v1/admin/orders", token: studentToken, wantCode: http.StatusForbidden},
			{name: "all", path: "/v1/admin/orders", token: adminToken, wantCode: http.StatusOK, wantData: marshallList(t, o)},
			{name: "foreign order", path: "/v1/orders/" + o.ID, token: app.getToken(t, referrer), wantCode: http.StatusNotFound},
		})
	})

	t.Run("already enrolled", func(t *testing.T) {
		rec := app.call(t, http.MethodPost, "/v1/cart/items", studentToken, cart.AddItem{Kind: cart.KindCourse, RefID: paid.ID}, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func Test_commerce_cancelAndFree(t *testing.T) {
	app := setup(t)
	teacher := app.createUser(t, "Teacher", "teacher", user.RoleInstructor)
	student := app.createUser(t, "Hero", "hero", user.RoleStudent)
	paid := testutil.CreateCourse(t, app.b.Courses, app.tenant.ID, teacher.ID, "Paid Course", 4900, course.StatusPublished)
	free := testutil.CreateCourse(t, app.b.Courses, app.tenant.ID, teacher.ID, "Free Course", 0, course.StatusPublished)
	testutil.CreatePromo(t, app.b.Promos, app.tenant.ID, "ALLFREE", promo.KindPercentage, 10000)
	token := app.getToken(t, student)

	t.Run("cancel pending", func(t *testing.T) {
		rec := app.call(t, http.MethodPost, "/v1/cart/items", token, cart.AddItem{Kind: cart.KindCourse, RefID: paid.ID}, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var o order.Order
		rec = app.call(t, http.MethodPost, "/v1/checkout", token, order.CheckoutRequest{}, &o)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		rec = app.call(t, http.MethodPost, "/v1/orders/"+o.ID+"/cancel", token, nil, &o)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, order.StatusCancelled, o.Status)
		assert.True(t, app.gateway.IsCancelled(o.PaymentRef))

		// a late payment does not revive a cancelled order
		res := app.webhook(t, dummypay.Payload(o.PaymentRef, order.PaymentSucceeded))
		assert.Equal(t, http.StatusOK, res.StatusCode)
		enrolled, err := app.c.EnrollmentSvc.IsEnrolled(context.Background(), student.ID, paid.ID)
		require.NoError(t, err)
		assert.False(t, enrolled)
	})

	t.Run("zero total orders are paid at once", func(t *testing.T) {
		for _, id := range []string{free.ID, paid.ID} {
			rec := app.call(t, http.MethodPost, "/v1/cart/items", token, cart.AddItem{Kind: cart.KindCourse, RefID: id}, nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		}
		rec := app.call(t, http.MethodPost, "/v1/cart/promo", token, cart.ApplyPromo{Code: "allfree"}, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var o order.Order
		rec = app.call(t, http.MethodPost, "/v1/checkout", token, order.CheckoutRequest{}, &o)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, order.StatusPaid, o.Status)
		assert.Zero(t, o.Total)
		assert.Empty(t, o.PaymentRef)

		for _, id := range []string{free.ID, paid.ID} {
			enrolled, err := app.c.EnrollmentSvc.IsEnrolled(context.Background(), student.ID, id)
			require.NoError(t, err)
			assert.True(t, enrolled)
		}
	})
}

func Test_orderApi_webhookBodyLimit(t *testing.T) {
	app := setup(t)
	payload := bytes.Repeat([]byte("x"), 65*1024)
	res := app.webhook(t, payload)
	assert.Equal(t, http.StatusRequestEntityTooLarge, res.StatusCode)
}

func Test_commerce_amountBounds(t *testing.T) {
	app := setup(t)
	ctx := context.Background()
	student := app.createUser(t, "Hero", "hero", user.RoleStudent)
	ebook := testutil.CreateProduct(t, app.b.Products, app.tenant.ID, "EBOOK-1", "Go eBook", 1000, store.UnlimitedStock)
	token := app.getToken(t, student)

	rec := app.call(t, http.MethodPost, "/v1/cart/items", token, cart.AddItem{Kind: cart.KindProduct, RefID: ebook.ID, Quantity: 9223372036854776}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "quantity")

	rec = app.call(t, http.MethodPost, "/v1/cart/items", token, cart.AddItem{Kind: cart.KindProduct, RefID: ebook.ID, Quantity: cart.MaxQuantity}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = app.call(t, http.MethodPost, "/v1/cart/items", token, cart.AddItem{Kind: cart.KindProduct, RefID: ebook.ID, Quantity: 1}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"quantity": "quantity must be at most 1000"}`, rec.Body.String())
	rec = app.call(t, http.MethodPut, "/v1/cart/items/"+ebook.ID, token, cart.UpdateQuantity{Quantity: cart.MaxQuantity + 1}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// a cart stored before the bounds existed cannot wrap its total
	c, err := app.c.CartSvc.Get(ctx, student.Actor())
	require.NoError(t, err)
	c.Items[0].Quantity = 9223372036854776
	require.NoError(t, app.b.Carts.SaveCart(ctx, c))

	rec = app.call(t, http.MethodPost, "/v1/checkout", token, order.CheckoutRequest{}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.JSONEq(t, `{"error": "cart amount is too large"}`, rec.Body.String())

	orders, err := app.c.OrderSvc.ListForUser(ctx, student.Actor(), nil)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func Test_commerce_credit(t *testing.T) {
	app := setup(t)
	ctx := context.Background()
	teacher := app.createUser(t, "Teacher", "teacher", user.RoleInstructor)
	student := app.createUser(t, "Hero", "hero", user.RoleStudent)
	goCourse := testutil.CreateCourse(t, app.b.Courses, app.tenant.ID, teacher.ID, "Go", 4900, course.StatusPublished)
	sqlCourse := testutil.CreateCourse(t, app.b.Courses, app.tenant.ID, teacher.ID, "SQL", 4900, course.StatusPublished)
	token := app.getToken(t, student)

	_, err := app.c.UserSvc.AddCredit(ctx, student.ID, 1000)
	require.NoError(t, err)
	credit := func() int64 {
		usr, err := app.c.UserSvc.GetByID(ctx, student.ID)
		require.NoError(t, err)
		return usr.Credit
	}
	checkout := func(courseID string) order.Order {
		rec := app.call(t, http.MethodPost, "/v1/cart/items", token, cart.AddItem{Kind: cart.KindCourse, RefID: courseID}, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var o order.Order
		rec = app.call(t, http.MethodPost, "/v1/checkout", token, order.CheckoutRequest{UseCredit: true}, &o)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		return o
	}

	first := checkout(goCourse.ID)
	assert.Equal(t, int64(1000), first.Credit)
	assert.Equal(t, int64(3900), first.Total)
	assert.Zero(t, credit(), "the credit is taken at checkout")

	second := checkout(sqlCourse.ID)
	assert.Zero(t, second.Credit, "pending orders do not share the same credit")
	assert.Equal(t, int64(4900), second.Total)

	for _, o := range []order.Order{first, second} {
		res := app.webhook(t, dummypay.Payload(o.PaymentRef, order.PaymentSucceeded))
		require.Equal(t, http.StatusOK, res.StatusCode)
	}
	assert.Zero(t, credit())

	t.Run("given back when the order does not go through", func(t *testing.T) {
		_, err := app.c.UserSvc.AddCredit(ctx, student.ID, 500)
		require.NoError(t, err)
		bundle := testutil.CreateCourse(t, app.b.Courses, app.tenant.ID, teacher.ID, "Bundle", 4900, course.StatusPublished)
		o := checkout(bundle.ID)
		assert.Equal(t, int64(500), o.Credit)
		assert.Zero(t, credit())

		res := app.webhook(t, dummypay.Payload(o.PaymentRef, order.PaymentFailed))
		require.Equal(t, http.StatusOK, res.StatusCode)
		assert.Equal(t, int64(500), credit())

		o = checkout(bundle.ID)
		rec := app.call(t, http.MethodPost, "/v1/orders/"+o.ID+"/cancel", token, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, int64(500), credit())
	})
}

func Test_commerce_invoiceSequenceCorrupt(t *testing.T) {
	app := setup(t)
	ctx := context.Background()
	teacher := app.createUser(t, "Teacher", "teacher", user.RoleInstructor)
	student := app.createUser(t, "Hero", "hero", user.RoleStudent)
	goCourse := testutil.CreateCourse(t, app.b.Courses, app.tenant.ID, teacher.ID, "Go", 4900, course.StatusPublished)
	token := app.getToken(t, student)

	// an invoice already carries the next number of the sequence
	_, err := app.b.Orders.CreateInvoice(ctx, order.Invoice{
		TenantID: app.tenant.ID,
		OrderID:  "imported",
		Number:   order.InvoiceNumber(time.Now().UTC().Year(), 1),
		IssuedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	rec := app.call(t, http.MethodPost, "/v1/cart/items", token, cart.AddItem{Kind: cart.KindCourse, RefID: goCourse.ID}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var o order.Order
	rec = app.call(t, http.MethodPost, "/v1/checkout", token, order.CheckoutRequest{}, &o)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	res := app.webhook(t, dummypay.Payload(o.PaymentRef, order.PaymentSucceeded))
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)

	select {
	case <-app.ShutdownSignal():
	case <-time.After(time.Second):
		t.Fatal("server was not asked to shut down")
	}

	paid, err := app.b.Orders.GetOrder(ctx, order.GetFilter{ID: o.ID})
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, paid.Status)
	_, err = app.b.Orders.GetInvoiceByOrder(ctx, o.ID)
	assert.Equal(t, order.ErrInvoiceNotFound, err)
}
