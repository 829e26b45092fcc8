package order

import (
	"bytes"
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/cart"
	"github.com/trezcool/academia/core/enrollment"
	"github.com/trezcool/academia/core/promo"
	"github.com/trezcool/academia/core/referral"
	"github.com/trezcool/academia/core/user"
)

const idempotencyTTL = 24 * time.Hour

var (
	// errors
	ErrNotFound           = errors.New("order not found")
	ErrInvoiceNotFound    = errors.New("invoice not found")
	ErrInvoiceExists      = errors.New("order already has an invoice")
	ErrInvoiceNumberTaken = errors.New("invoice number already issued")
	ErrNotPending         = errors.New("order is no longer pending")
	ErrStatusConflict     = errors.New("order was modified concurrently")
	ErrCheckoutInProgress = errors.New("a checkout with this idempotency key is in progress")
	ErrInvalidWebhook     = errors.New("invalid webhook payload")
)

type (
	Repository interface {
		CreateOrder(ctx context.Context, o Order) (Order, error)
		GetOrder(ctx context.Context, filter GetFilter) (Order, error)
		// UpdateOrder only saves `o` if its stored status is still `fromStatus`, else fails with ErrStatusConflict.
		UpdateOrder(ctx context.Context, o Order, fromStatus string) (Order, error)
		// QueryOrders returns the newest orders first unless ordered otherwise.
		QueryOrders(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Order, error)
		// NextInvoiceNumber atomically increments and returns the invoice sequence of a tenant for a year.
		NextInvoiceNumber(ctx context.Context, tenantID string, year int) (int, error)
		// CreateInvoice fails with ErrInvoiceExists if the order already has one,
		// and with ErrInvoiceNumberTaken if another invoice of the tenant has its number.
		CreateInvoice(ctx context.Context, inv Invoice) (Invoice, error)
		GetInvoiceByOrder(ctx context.Context, orderID string) (Invoice, error)
	}

	// IdempotencyStore remembers which order a checkout idempotency key produced.
	IdempotencyStore interface {
		// Claim reserves `key`. When the key is already claimed, it returns the ID of its order,
		// empty while that checkout is still in flight.
		Claim(ctx context.Context, key string, ttl time.Duration) (orderID string, claimed bool, err error)
		Complete(ctx context.Context, key, orderID string, ttl time.Duration) error
		Release(ctx context.Context, key string) error
	}

	// Gateway is a payment provider.
	Gateway interface {
		CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
		CancelIntent(ctx context.Context, ref string) error
		// ParseEvent verifies a webhook payload; ok is false for events that are not about payments.
		ParseEvent(payload []byte, signature string) (evt PaymentEvent, ok bool, err error)
	}

	Carts interface {
		Get(ctx context.Context, actor user.Actor) (cart.Cart, error)
		Reprice(ctx context.Context, c cart.Cart) ([]cart.Line, []string, error)
		Clear(ctx context.Context, userID string) error
		TaxRateBps() int64
		Currency() string
	}

	Promos interface {
		Validate(ctx context.Context, tenantID, code, userID string, lines []promo.Line, subtotal int64, now time.Time) (promo.Discount, error)
		Redeem(ctx context.Context, promoID, userID, orderID string) error
	}

	Stock interface {
		Reserve(ctx context.Context, id string, qty int) error
		Release(ctx context.Context, id string, qty int) error
	}

	Enrollments interface {
		IsEnrolled(ctx context.Context, userID, courseID string) (bool, error)
		EnrollFromOrder(ctx context.Context, tenantID, userID, orderID, courseID string) (enrollment.Enrollment, error)
	}

	Users interface {
		GetByID(ctx context.Context, id string) (user.User, error)
		AddCredit(ctx context.Context, id string, delta int64) (user.User, error)
	}

	Referrals interface {
		Reward(ctx context.Context, referredID, orderID string, base int64) (referral.Referral, bool, error)
	}

	Deps struct {
		Repo        Repository
		Idempotency IdempotencyStore
		Gateway     Gateway
		Carts       Carts
		Promos      Promos
		Stock       Stock
		Enrollments Enrollments
		Users       Users
		Referrals   Referrals
		MailSvc     core.EmailService
		Events      core.EventPublisher
		Logger      core.Logger
	}

	Service struct {
		Deps
		now func() time.Time // mockable
	}
)

func NewService(deps Deps) *Service {
	return &Service{Deps: deps, now: time.Now}
}

// Checkout turns the cart of the actor into a pending order.
// Paid orders get a payment intent; free orders are fulfilled right away.
func (svc *Service) Checkout(ctx context.Context, actor user.Actor, req CheckoutRequest) (Order, error) {
	if req.IdempotencyKey == "" {
		return svc.checkout(ctx, actor, req)
	}

	key := actor.UserID + ":" + req.IdempotencyKey
	orderID, claimed, err := svc.Idempotency.Claim(ctx, key, idempotencyTTL)
	if err != nil {
		return Order{}, errors.Wrap(err, "claiming idempotency key")
	}
	if !claimed {
		if orderID == "" {
			return Order{}, ErrCheckoutInProgress
		}
		return svc.Repo.GetOrder(ctx, GetFilter{ID: orderID})
	}

	o, err := svc.checkout(ctx, actor, req)
	if err != nil {
		if rErr := svc.Idempotency.Release(ctx, key); rErr != nil {
			svc.Logger.Error(fmt.Sprintf("releasing idempotency key: %v", rErr), rErr)
		}
		return Order{}, err
	}
	if err = svc.Idempotency.Complete(ctx, key, o.ID, idempotencyTTL); err != nil {
		svc.Logger.Error(fmt.Sprintf("completing idempotency key: %v", err), err)
	}
	return o, nil
}

func (svc *Service) checkout(ctx context.Context, actor user.Actor, req CheckoutRequest) (Order, error) {
	c, err := svc.Carts.Get(ctx, actor)
	if err != nil {
		return Order{}, err
	}
	if c.IsEmpty() {
		return Order{}, cart.ErrEmpty
	}
	lines, unavailable, err := svc.Carts.Reprice(ctx, c)
	if err != nil {
		return Order{}, err
	}
	if len(unavailable) > 0 || len(lines) == 0 {
		return Order{}, cart.ErrItemUnavailable
	}
	for _, l := range lines {
		if l.Kind != cart.KindCourse {
			continue
		}
		enrolled, err := svc.Enrollments.IsEnrolled(ctx, actor.UserID, l.RefID)
		if err != nil {
			return Order{}, errors.Wrap(err, "checking enrollment")
		}
		if enrolled {
			return Order{}, enrollment.ErrAlreadyEnrolled
		}
	}

	now := svc.now().UTC()
	subtotal := cart.Price(lines, 0, 0, 0).Subtotal
	var discount promo.Discount
	if c.PromoCode != "" {
		if discount, err = svc.Promos.Validate(ctx, actor.TenantID, c.PromoCode, actor.UserID, cart.PromoLines(lines), subtotal, now); err != nil {
			return Order{}, err
		}
	}

	usr, err := svc.Users.GetByID(ctx, actor.UserID)
	if err != nil {
		return Order{}, errors.Wrap(err, "getting user")
	}
	var credit int64
	if req.UseCredit {
		credit = usr.Credit
	}
	totals := cart.Price(lines, discount.Amount, credit, svc.Carts.TaxRateBps())
	if totals.Subtotal < 0 || totals.Tax < 0 || totals.Total < 0 {
		return Order{}, cart.ErrAmountTooLarge
	}

	reserved, err := svc.reserveStock(ctx, lines)
	if err != nil {
		return Order{}, err
	}
	// the credit is taken now so that concurrent checkouts cannot spend it twice
	if totals.Credit > 0 {
		if _, err = svc.Users.AddCredit(ctx, actor.UserID, -totals.Credit); err != nil {
			svc.releaseStock(ctx, reserved)
			return Order{}, errors.Wrap(err, "reserving credit")
		}
	}

	id := uuid.NewString()
	o, err := svc.Repo.CreateOrder(ctx, Order{
		ID:        id,
		TenantID:  actor.TenantID,
		UserID:    actor.UserID,
		Number:    newNumber(id),
		Items:     lines,
		Subtotal:  totals.Subtotal,
		Discount:  totals.Discount,
		Credit:    totals.Credit,
		Tax:       totals.Tax,
		Total:     totals.Total,
		Currency:  svc.Carts.Currency(),
		PromoID:   discount.PromoID,
		PromoCode: discount.Code,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		svc.releaseStock(ctx, reserved)
		svc.refundCredit(ctx, actor.UserID, totals.Credit)
		return Order{}, errors.Wrap(err, "creating order")
	}

	if o.Total > 0 {
		intent, err := svc.Gateway.CreateIntent(ctx, IntentRequest{
			OrderID:  o.ID,
			TenantID: o.TenantID,
			Number:   o.Number,
			Amount:   o.Total,
			Currency: o.Currency,
			Email:    usr.Email,
		})
		if err != nil {
			svc.fail(ctx, o)
			return Order{}, errors.Wrap(err, "creating payment intent")
		}
		o.PaymentRef = intent.Ref
		o.ClientSecret = intent.ClientSecret
		o.UpdatedAt = svc.now().UTC()
		saved, err := svc.Repo.UpdateOrder(ctx, o, StatusPending)
		if err != nil {
			if cErr := svc.Gateway.CancelIntent(ctx, intent.Ref); cErr != nil {
				svc.Logger.Error(fmt.Sprintf("cancelling payment intent %s: %v", intent.Ref, cErr), cErr)
			}
			svc.fail(ctx, o)
			return Order{}, errors.Wrap(err, "saving payment intent")
		}
		o = saved
	} else {
		paid, err := svc.markPaid(ctx, o)
		if err != nil {
			// once paid, a partial fulfilment is caught up by markPaid later; before, the order is dropped
			if !paid.IsPaid() {
				svc.fail(ctx, o)
			}
			return Order{}, err
		}
		o = paid
	}

	if err = svc.Carts.Clear(ctx, actor.UserID); err != nil {
		svc.Logger.Error(fmt.Sprintf("clearing cart: %v", err), err)
	}
	return o, nil
}

// reserveStock reserves the products of `lines`, all or nothing.
func (svc *Service) reserveStock(ctx context.Context, lines []cart.Line) ([]cart.Line, error) {
	reserved := make([]cart.Line, 0, len(lines))
	for _, l := range lines {
		if l.Kind != cart.KindProduct {
			continue
		}
		if err := svc.Stock.Reserve(ctx, l.RefID, l.Quantity); err != nil {
			svc.releaseStock(ctx, reserved)
			return nil, err
		}
		reserved = append(reserved, l)
	}
	return reserved, nil
}

func (svc *Service) releaseStock(ctx context.Context, lines []cart.Line) {
	for _, l := range lines {
		if l.Kind != cart.KindProduct {
			continue
		}
		if err := svc.Stock.Release(ctx, l.RefID, l.Quantity); err != nil {
			svc.Logger.Error(fmt.Sprintf("releasing stock of %s: %v", l.RefID, err), err)
		}
	}
}

// fail marks a pending order failed and gives its stock and credit back.
func (svc *Service) fail(ctx context.Context, o Order) {
	_, _ = svc.transition(ctx, o, StatusFailed)
}

func (svc *Service) refundCredit(ctx context.Context, userID string, credit int64) {
	if credit <= 0 {
		return
	}
	if _, err := svc.Users.AddCredit(ctx, userID, credit); err != nil {
		svc.Logger.Error(fmt.Sprintf("refunding %d credit to user %s: %v", credit, userID, err), err)
	}
}

func (svc *Service) transition(ctx context.Context, o Order, status string) (Order, error) {
	o.Status = status
	o.UpdatedAt = svc.now().UTC()
	o, err := svc.Repo.UpdateOrder(ctx, o, StatusPending)
	if err != nil {
		if errors.Cause(err) == ErrStatusConflict {
			return Order{}, ErrNotPending
		}
		svc.Logger.Error(fmt.Sprintf("marking order %s: %v", status, err), err)
		return Order{}, errors.Wrapf(err, "marking order %s", status)
	}
	svc.releaseStock(ctx, o.Items)
	svc.refundCredit(ctx, o.UserID, o.Credit)
	return o, nil
}

// HandleWebhook verifies a payment provider webhook and applies its event, if it is about a payment.
func (svc *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	evt, ok, err := svc.Gateway.ParseEvent(payload, signature)
	if err != nil {
		return errors.Wrap(ErrInvalidWebhook, err.Error())
	}
	if !ok {
		return nil
	}
	return svc.HandlePaymentEvent(ctx, evt)
}

// HandlePaymentEvent applies a payment provider notification. Unknown payments are ignored.
func (svc *Service) HandlePaymentEvent(ctx context.Context, evt PaymentEvent) error {
	o, err := svc.Repo.GetOrder(ctx, GetFilter{PaymentRef: evt.Ref})
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			svc.Logger.Info(fmt.Sprintf("ignoring payment event of unknown ref %q", evt.Ref))
			return nil
		}
		return errors.Wrap(err, "getting order")
	}

	switch evt.Status {
	case PaymentSucceeded:
		_, err = svc.markPaid(ctx, o)
		return err
	case PaymentFailed:
		if !o.IsPending() {
			return nil
		}
		if _, err = svc.transition(ctx, o, StatusFailed); errors.Cause(err) == ErrNotPending {
			return nil
		}
		return err
	}
	return nil
}

// markPaid fulfils an order. It can safely run more than once:
// receipt and event only follow the pending -> paid transition,
// the other steps are idempotent per order and re-run to catch up on a partial fulfilment.
func (svc *Service) markPaid(ctx context.Context, o Order) (Order, error) {
	switch o.Status {
	case StatusPaid:
		return o, svc.fulfil(ctx, o)
	case StatusPending:
	default:
		svc.Logger.Error(fmt.Sprintf("payment received for %s order %s", o.Status, o.ID), map[string]interface{}{
			"order_id":    o.ID,
			"payment_ref": o.PaymentRef,
		})
		return o, nil
	}

	now := svc.now().UTC()
	o.Status = StatusPaid
	o.PaidAt = &now
	o.UpdatedAt = now
	paid, err := svc.Repo.UpdateOrder(ctx, o, StatusPending)
	if err != nil {
		if errors.Cause(err) == ErrStatusConflict {
			if o, err = svc.Repo.GetOrder(ctx, GetFilter{ID: o.ID}); err != nil {
				return Order{}, errors.Wrap(err, "reloading order")
			}
			if o.IsPaid() {
				return o, nil
			}
			return o, ErrNotPending
		}
		return Order{}, errors.Wrap(err, "marking order paid")
	}

	if err = svc.fulfil(ctx, paid); err != nil {
		return paid, err
	}

	inv, err := svc.Repo.GetInvoiceByOrder(ctx, paid.ID)
	if err == nil {
		svc.sendReceipt(ctx, paid, inv)
	}
	if err = svc.Events.Publish(ctx, core.NewEvent(EventPaid, paid.TenantID, paid)); err != nil {
		svc.Logger.Warn(fmt.Sprintf("publishing %s: %v", EventPaid, err), err)
	}
	return paid, nil
}

func (svc *Service) fulfil(ctx context.Context, o Order) error {
	if o.PromoID != "" {
		if err := svc.Promos.Redeem(ctx, o.PromoID, o.UserID, o.ID); err != nil {
			// the order is paid: a promo exhausted meanwhile must not block fulfilment
			svc.Logger.Warn(fmt.Sprintf("redeeming promo code of order %s: %v", o.ID, err), err)
		}
	}
	for _, courseID := range o.CourseIDs() {
		if _, err := svc.Enrollments.EnrollFromOrder(ctx, o.TenantID, o.UserID, o.ID, courseID); err != nil {
			return errors.Wrapf(err, "enrolling in course %s", courseID)
		}
	}
	if _, _, err := svc.Referrals.Reward(ctx, o.UserID, o.ID, o.Subtotal-o.Discount); err != nil {
		svc.Logger.Error(fmt.Sprintf("rewarding referral of order %s: %v", o.ID, err), err)
	}
	_, err := svc.issueInvoice(ctx, o)
	return err
}

func (svc *Service) issueInvoice(ctx context.Context, o Order) (Invoice, error) {
	if inv, err := svc.Repo.GetInvoiceByOrder(ctx, o.ID); err == nil {
		return inv, nil
	} else if errors.Cause(err) != ErrInvoiceNotFound {
		return Invoice{}, errors.Wrap(err, "getting invoice")
	}

	usr, err := svc.Users.GetByID(ctx, o.UserID)
	if err != nil {
		return Invoice{}, errors.Wrap(err, "getting user")
	}
	issuedAt := svc.now().UTC()
	if o.PaidAt != nil {
		issuedAt = *o.PaidAt
	}
	seq, err := svc.Repo.NextInvoiceNumber(ctx, o.TenantID, issuedAt.Year())
	if err != nil {
		return Invoice{}, errors.Wrap(err, "numbering invoice")
	}
	inv, err := svc.Repo.CreateInvoice(ctx, Invoice{
		TenantID: o.TenantID,
		OrderID:  o.ID,
		Number:   InvoiceNumber(issuedAt.Year(), seq),
		IssuedAt: issuedAt,
		BillTo:   BillTo{Name: usr.Name, Email: usr.Email},
		Lines:    o.Items,
		Subtotal: o.Subtotal,
		Discount: o.Discount,
		Credit:   o.Credit,
		Tax:      o.Tax,
		Total:    o.Total,
		Currency: o.Currency,
	})
	switch errors.Cause(err) {
	case ErrInvoiceExists:
		return svc.Repo.GetInvoiceByOrder(ctx, o.ID)
	case ErrInvoiceNumberTaken:
		// the sequence handed out a number twice: no further invoice can be trusted
		return Invoice{}, core.NewShutdownError(fmt.Sprintf(
			"invoice sequence of tenant %s is corrupt: %s was already issued", o.TenantID, InvoiceNumber(issuedAt.Year(), seq)))
	}
	return inv, errors.Wrap(err, "creating invoice")
}

func (svc *Service) sendReceipt(_ context.Context, o Order, inv Invoice) {
	if inv.BillTo.Email == "" {
		return
	}
	money := func(amount int64) string { return core.FormatMoney(amount, inv.Currency) }

	lines := make([]map[string]interface{}, 0, len(inv.Lines))
	for _, l := range inv.Lines {
		lines = append(lines, map[string]interface{}{
			"Quantity": l.Quantity,
			"Title":    l.Title,
			"Amount":   money(l.Amount),
		})
	}
	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: inv.BillTo.Name, Address: inv.BillTo.Email}},
		Subject:      "Your receipt " + inv.Number,
		TemplateName: "order_receipt",
		TemplateData: map[string]interface{}{
			"Name":     inv.BillTo.Name,
			"OrderID":  o.ID,
			"Number":   inv.Number,
			"IssuedAt": inv.IssuedAt.Format("2006-01-02"),
			"Lines":    lines,
			"Subtotal": money(inv.Subtotal),
			"Discount": money(inv.Discount),
			"Credit":   money(inv.Credit),
			"Tax":      money(inv.Tax),
			"Total":    money(inv.Total),
		},
	}
	text := bytes.NewBufferString(RenderInvoiceText(inv))
	if err := msg.Attach(text, "invoice-"+inv.Number+".txt", "text/plain"); err != nil {
		svc.Logger.Warn(fmt.Sprintf("attaching invoice: %v", err), err)
	}
	svc.MailSvc.SendMessages(msg)
}

// Cancel cancels a pending order of the actor and gives its stock and credit back.
func (svc *Service) Cancel(ctx context.Context, actor user.Actor, id string) (Order, error) {
	o, err := svc.Get(ctx, actor, id)
	if err != nil {
		return Order{}, err
	}
	if o.UserID != actor.UserID && !actor.IsAdmin() {
		return Order{}, core.ErrPermissionDenied
	}
	if !o.IsPending() {
		return Order{}, ErrNotPending
	}
	if o.PaymentRef != "" {
		if err = svc.Gateway.CancelIntent(ctx, o.PaymentRef); err != nil {
			return Order{}, errors.Wrap(err, "cancelling payment intent")
		}
	}
	return svc.transition(ctx, o, StatusCancelled)
}

// Get returns an order to its owner or a tenant admin.
func (svc *Service) Get(ctx context.Context, actor user.Actor, id string) (Order, error) {
	o, err := svc.Repo.GetOrder(ctx, GetFilter{ID: id})
	if err != nil {
		return Order{}, err
	}
	if !actor.CanManage(o.TenantID, o.UserID) {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (svc *Service) ListForUser(ctx context.Context, actor user.Actor, filter *QueryFilter) ([]Order, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	filter.TenantID = actor.TenantID
	filter.UserID = actor.UserID
	return svc.Repo.QueryOrders(ctx, filter, nil)
}

func (svc *Service) Query(ctx context.Context, actor user.Actor, filter *QueryFilter, ordering []core.DBOrdering) ([]Order, error) {
	if !actor.IsAdmin() {
		return nil, core.ErrPermissionDenied
	}
	if filter == nil {
		filter = new(QueryFilter)
	}
	filter.TenantID = actor.TenantID
	return svc.Repo.QueryOrders(ctx, filter, ordering)
}

func (svc *Service) GetInvoice(ctx context.Context, actor user.Actor, orderID string) (Invoice, error) {
	if _, err := svc.Get(ctx, actor, orderID); err != nil {
		return Invoice{}, err
	}
	return svc.Repo.GetInvoiceByOrder(ctx, orderID)
}
