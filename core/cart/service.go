package cart

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/enrollment"
	"github.com/trezcool/academia/core/promo"
	"github.com/trezcool/academia/core/store"
	"github.com/trezcool/academia/core/user"
)

var (
	// errors
	ErrNotFound        = errors.New("cart not found")
	ErrItemNotFound    = errors.New("item not in cart")
	ErrEmpty           = errors.New("cart is empty")
	ErrItemUnavailable = errors.New("some items are no longer available")
	ErrAmountTooLarge  = errors.New("cart amount is too large")
	errInvalidQuantity = errors.New("quantity must be at least 1")
	errQuantityTooHigh = errors.Errorf("quantity must be at most %d", MaxQuantity)
)

type (
	// Store keeps one cart per user.
	Store interface {
		// GetCart fails with ErrNotFound if the user has no cart.
		GetCart(ctx context.Context, userID string) (Cart, error)
		SaveCart(ctx context.Context, c Cart) error
		DeleteCart(ctx context.Context, userID string) error
	}

	Catalog interface {
		Find(ctx context.Context, id string) (course.Course, error)
	}

	Products interface {
		Find(ctx context.Context, id string) (store.Product, error)
	}

	Enrollments interface {
		IsEnrolled(ctx context.Context, userID, courseID string) (bool, error)
	}

	Promos interface {
		Validate(ctx context.Context, tenantID, code, userID string, lines []promo.Line, subtotal int64, now time.Time) (promo.Discount, error)
	}

	Users interface {
		GetByID(ctx context.Context, id string) (user.User, error)
	}

	Service struct {
		carts       Store
		catalog     Catalog
		products    Products
		enrollments Enrollments
		promos      Promos
		users       Users
		currency    string
		taxRateBps  int64
		now         func() time.Time // mockable
	}
)

func NewService(
	carts Store,
	catalog Catalog,
	products Products,
	enrollments Enrollments,
	promos Promos,
	users Users,
	conf *core.Config,
) *Service {
	return &Service{
		carts:       carts,
		catalog:     catalog,
		products:    products,
		enrollments: enrollments,
		promos:      promos,
		users:       users,
		currency:    conf.Commerce.Currency,
		taxRateBps:  conf.Commerce.TaxRateBps,
		now:         time.Now,
	}
}

func (svc *Service) TaxRateBps() int64 { return svc.taxRateBps }
func (svc *Service) Currency() string  { return svc.currency }

// Get returns the cart of the actor; an empty cart if they have none.
func (svc *Service) Get(ctx context.Context, actor user.Actor) (Cart, error) {
	c, err := svc.carts.GetCart(ctx, actor.UserID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Cart{UserID: actor.UserID, TenantID: actor.TenantID, Items: []Item{}}, nil
		}
		return Cart{}, errors.Wrap(err, "getting cart")
	}
	if c.TenantID != actor.TenantID {
		return Cart{UserID: actor.UserID, TenantID: actor.TenantID, Items: []Item{}}, nil
	}
	return c, nil
}

func (svc *Service) save(ctx context.Context, c Cart) (Cart, error) {
	c.UpdatedAt = svc.now().UTC()
	if c.Items == nil {
		c.Items = []Item{}
	}
	return c, errors.Wrap(svc.carts.SaveCart(ctx, c), "saving cart")
}

// AddItem adds a course or a product to the cart of the actor.
// A course can only be added once, and not if the actor is already enrolled.
func (svc *Service) AddItem(ctx context.Context, actor user.Actor, ai AddItem) (Cart, error) {
	c, err := svc.Get(ctx, actor)
	if err != nil {
		return Cart{}, err
	}

	switch ai.Kind {
	case KindCourse:
		crs, err := svc.catalog.Find(ctx, ai.RefID)
		if err != nil {
			return Cart{}, err
		}
		if crs.TenantID != actor.TenantID {
			return Cart{}, course.ErrNotFound
		}
		if !crs.IsPublished() {
			return Cart{}, course.ErrCourseNotPublished
		}
		enrolled, err := svc.enrollments.IsEnrolled(ctx, actor.UserID, crs.ID)
		if err != nil {
			return Cart{}, errors.Wrap(err, "checking enrollment")
		}
		if enrolled {
			return Cart{}, enrollment.ErrAlreadyEnrolled
		}
		if c.find(crs.ID) >= 0 {
			return c, nil
		}
		c.Items = append(c.Items, Item{Kind: KindCourse, RefID: crs.ID, Title: crs.Title, UnitPrice: crs.Price, Quantity: 1})

	case KindProduct:
		if ai.Quantity < 1 {
			return Cart{}, core.NewFieldError("quantity", errInvalidQuantity)
		}
		p, err := svc.activeProduct(ctx, actor, ai.RefID)
		if err != nil {
			return Cart{}, err
		}
		qty := ai.Quantity
		idx := c.find(p.ID)
		if idx >= 0 {
			qty += c.Items[idx].Quantity
		}
		if qty > MaxQuantity {
			return Cart{}, core.NewFieldError("quantity", errQuantityTooHigh)
		}
		if !p.InStock(qty) {
			return Cart{}, store.ErrOutOfStock
		}
		if idx >= 0 {
			c.Items[idx].Quantity = qty
			c.Items[idx].UnitPrice = p.Price
		} else {
			c.Items = append(c.Items, Item{Kind: KindProduct, RefID: p.ID, Title: p.Name, UnitPrice: p.Price, Quantity: qty})
		}
	}
	return svc.save(ctx, c)
}

func (svc *Service) activeProduct(ctx context.Context, actor user.Actor, id string) (store.Product, error) {
	p, err := svc.products.Find(ctx, id)
	if err != nil {
		return store.Product{}, err
	}
	if p.TenantID != actor.TenantID {
		return store.Product{}, store.ErrNotFound
	}
	if !p.IsActive {
		return store.Product{}, store.ErrInactive
	}
	return p, nil
}

// UpdateQuantity sets the quantity of a product line; 0 removes it. Course lines always have a quantity of 1.
func (svc *Service) UpdateQuantity(ctx context.Context, actor user.Actor, refID string, qty int) (Cart, error) {
	if qty <= 0 {
		return svc.RemoveItem(ctx, actor, refID)
	}
	if qty > MaxQuantity {
		return Cart{}, core.NewFieldError("quantity", errQuantityTooHigh)
	}
	c, err := svc.Get(ctx, actor)
	if err != nil {
		return Cart{}, err
	}
	idx := c.find(refID)
	if idx < 0 {
		return Cart{}, ErrItemNotFound
	}
	if c.Items[idx].Kind == KindCourse {
		return c, nil
	}
	p, err := svc.activeProduct(ctx, actor, refID)
	if err != nil {
		return Cart{}, err
	}
	if !p.InStock(qty) {
		return Cart{}, store.ErrOutOfStock
	}
	c.Items[idx].Quantity = qty
	c.Items[idx].UnitPrice = p.Price
	return svc.save(ctx, c)
}

func (svc *Service) RemoveItem(ctx context.Context, actor user.Actor, refID string) (Cart, error) {
	c, err := svc.Get(ctx, actor)
	if err != nil {
		return Cart{}, err
	}
	idx := c.find(refID)
	if idx < 0 {
		return Cart{}, ErrItemNotFound
	}
	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	return svc.save(ctx, c)
}

// ApplyPromo validates a promo code against the current cart before keeping it.
func (svc *Service) ApplyPromo(ctx context.Context, actor user.Actor, code string) (Quote, error) {
	code = promo.NormalizeCode(code)
	c, err := svc.Get(ctx, actor)
	if err != nil {
		return Quote{}, err
	}
	if c.IsEmpty() {
		return Quote{}, ErrEmpty
	}
	lines, _, err := svc.Reprice(ctx, c)
	if err != nil {
		return Quote{}, err
	}
	subtotal := Price(lines, 0, 0, 0).Subtotal
	if _, err = svc.promos.Validate(ctx, actor.TenantID, code, actor.UserID, PromoLines(lines), subtotal, svc.now().UTC()); err != nil {
		return Quote{}, err
	}

	c.PromoCode = code
	if _, err = svc.save(ctx, c); err != nil {
		return Quote{}, err
	}
	return svc.Quote(ctx, actor, false)
}

func (svc *Service) RemovePromo(ctx context.Context, actor user.Actor) (Cart, error) {
	c, err := svc.Get(ctx, actor)
	if err != nil {
		return Cart{}, err
	}
	if c.PromoCode == "" {
		return c, nil
	}
	c.PromoCode = ""
	return svc.save(ctx, c)
}

func (svc *Service) Clear(ctx context.Context, userID string) error {
	return errors.Wrap(svc.carts.DeleteCart(ctx, userID), "deleting cart")
}

// Reprice prices the cart items from the catalogue.
// Items no longer for sale are left out and their ref IDs returned.
// It fails with ErrAmountTooLarge when a line or the subtotal does not fit in an int64 of cents.
func (svc *Service) Reprice(ctx context.Context, c Cart) ([]Line, []string, error) {
	lines := make([]Line, 0, len(c.Items))
	var (
		unavailable []string
		subtotal    int64
	)
	add := func(l Line) error {
		var ok bool
		if subtotal, ok = core.AddAmounts(subtotal, l.Amount); !ok {
			return ErrAmountTooLarge
		}
		lines = append(lines, l)
		return nil
	}

	for _, it := range c.Items {
		switch it.Kind {
		case KindCourse:
			crs, err := svc.catalog.Find(ctx, it.RefID)
			if err != nil {
				if errors.Cause(err) == course.ErrNotFound {
					unavailable = append(unavailable, it.RefID)
					continue
				}
				return nil, nil, errors.Wrap(err, "finding course")
			}
			if crs.TenantID != c.TenantID || !crs.IsPublished() {
				unavailable = append(unavailable, it.RefID)
				continue
			}
			if err = add(Line{Kind: KindCourse, RefID: crs.ID, Title: crs.Title, UnitPrice: crs.Price, Quantity: 1, Amount: crs.Price}); err != nil {
				return nil, nil, err
			}

		case KindProduct:
			p, err := svc.products.Find(ctx, it.RefID)
			if err != nil {
				if errors.Cause(err) == store.ErrNotFound {
					unavailable = append(unavailable, it.RefID)
					continue
				}
				return nil, nil, errors.Wrap(err, "finding product")
			}
			if p.TenantID != c.TenantID || !p.IsActive {
				unavailable = append(unavailable, it.RefID)
				continue
			}
			if it.Quantity < 1 || it.Quantity > MaxQuantity {
				return nil, nil, ErrAmountTooLarge
			}
			amount, ok := core.MulAmount(p.Price, it.Quantity)
			if !ok {
				return nil, nil, ErrAmountTooLarge
			}
			err = add(Line{
				Kind:      KindProduct,
				RefID:     p.ID,
				Title:     p.Name,
				UnitPrice: p.Price,
				Quantity:  it.Quantity,
				Amount:    amount,
			})
			if err != nil {
				return nil, nil, err
			}
		}
	}
	return lines, unavailable, nil
}

// Quote prices the cart of the actor. A promo code that no longer applies is reported, not applied.
func (svc *Service) Quote(ctx context.Context, actor user.Actor, useCredit bool) (Quote, error) {
	c, err := svc.Get(ctx, actor)
	if err != nil {
		return Quote{}, err
	}
	lines, unavailable, err := svc.Reprice(ctx, c)
	if err != nil {
		return Quote{}, err
	}

	q := Quote{Lines: lines, Currency: svc.currency, PromoCode: c.PromoCode, Unavailable: unavailable}
	subtotal := Price(lines, 0, 0, 0).Subtotal

	var discount int64
	if c.PromoCode != "" && len(lines) > 0 {
		d, err := svc.promos.Validate(ctx, actor.TenantID, c.PromoCode, actor.UserID, PromoLines(lines), subtotal, svc.now().UTC())
		switch {
		case err == nil:
			discount = d.Amount
			q.PromoID = d.PromoID
		case promo.IsRejection(err):
			q.PromoError = errors.Cause(err).Error()
		default:
			return Quote{}, errors.Wrap(err, "validating promo code")
		}
	}

	var credit int64
	if useCredit {
		usr, err := svc.users.GetByID(ctx, actor.UserID)
		if err != nil {
			return Quote{}, errors.Wrap(err, "getting user")
		}
		credit = usr.Credit
	}

	q.Totals = Price(lines, discount, credit, svc.taxRateBps)
	return q, nil
}

// PromoLines converts priced lines for promo code validation.
func PromoLines(lines []Line) []promo.Line {
	pl := make([]promo.Line, 0, len(lines))
	for _, l := range lines {
		var courseID string
		if l.Kind == KindCourse {
			courseID = l.RefID
		}
		pl = append(pl, promo.Line{CourseID: courseID, Amount: l.Amount})
	}
	return pl
}
