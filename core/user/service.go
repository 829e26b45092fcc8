package user

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

var (
	// errors
	ErrNotFound           = errors.New("user not found")
	ErrEmailExists        = errors.New("a user with this email already exists")
	ErrUsernameExists     = errors.New("a user with this username already exists")
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrHasHistory         = errors.New("the user has orders and cannot be deleted; deactivate them instead")
)

type (
	Repository interface {
		// CheckUniqueness returns ErrUsernameExists or ErrEmailExists when another User of the tenant,
		// not in excludedIDs, already uses `username` or `email`.
		CheckUniqueness(ctx context.Context, tenantID, username, email string, excludedIDs ...string) error
		CreateUser(ctx context.Context, usr User) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.Name, User.Username or User.Email.
		QueryUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		GetUser(ctx context.Context, filter GetFilter) (User, error)
		UpdateUser(ctx context.Context, usr User) (User, error)
		// AddCredit adds `delta` to the User credit; it fails with ErrInsufficientCredit if it would go below 0.
		AddCredit(ctx context.Context, id string, delta int64) (User, error)
		DeleteUsersByID(ctx context.Context, tenantID string, ids ...string) (int, error)
	}

	Service interface {
		Create(ctx context.Context, tenantID string, nu NewUser) (User, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		GetByID(ctx context.Context, id string) (User, error)
		GetByUsernameOrEmail(ctx context.Context, tenantID, uname string) (User, error)
		Update(ctx context.Context, usr User, uu UpdateUser) (User, error)
		Delete(ctx context.Context, tenantID string, ids ...string) (int, error)
		SetLastLogin(ctx context.Context, usr User) (User, error)
		AddCredit(ctx context.Context, id string, delta int64) (User, error)
		RequestPasswordReset(ctx context.Context, tenantID, email string) error
		ResetPassword(ctx context.Context, data ResetUserPassword) error
	}

	service struct {
		repo    Repository
		mailSvc core.EmailService
		tokens  *TokenGenerator
		logger  core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, mailSvc core.EmailService, tokens *TokenGenerator, logger core.Logger) Service {
	return &service{
		repo:    repo,
		mailSvc: mailSvc,
		tokens:  tokens,
		logger:  logger,
	}
}

func (svc *service) checkUniqueness(ctx context.Context, tenantID, uname, email string, exclIDs ...string) error {
	if err := svc.repo.CheckUniqueness(ctx, tenantID, uname, email, exclIDs...); err != nil {
		var field string
		switch errors.Cause(err) {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return errors.Wrap(err, "checking uniqueness")
		}
		return core.NewFieldError(field, err)
	}
	return nil
}

func (svc *service) Create(ctx context.Context, tenantID string, nu NewUser) (User, error) {
	if err := svc.checkUniqueness(ctx, tenantID, nu.Username, nu.Email); err != nil {
		return User{}, err
	}

	now := time.Now().UTC()
	usr := User{
		TenantID:  tenantID,
		Name:      nu.Name,
		Username:  nu.Username,
		Email:     nu.Email,
		IsActive:  true,
		Roles:     nu.Roles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if usr.Roles == nil {
		usr.Roles = []string{}
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	usr, err := svc.repo.CreateUser(ctx, usr)
	return usr, errors.Wrap(err, "creating user")
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error) {
	return svc.repo.QueryUsers(ctx, filter, ordering)
}

func (svc *service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *service) GetByUsernameOrEmail(ctx context.Context, tenantID, uname string) (User, error) {
	uname = core.CleanString(uname, true /* lower */)
	if uname == "" {
		return User{}, ErrNotFound
	}
	return svc.repo.GetUser(ctx, GetFilter{TenantID: tenantID, UsernameOrEmail: uname})
}

func (svc *service) Update(ctx context.Context, usr User, uu UpdateUser) (User, error) {
	if uu.Username != "" || uu.Email != "" {
		if err := svc.checkUniqueness(ctx, usr.TenantID, uu.Username, uu.Email, usr.ID); err != nil {
			return User{}, err
		}
	}
	usr, err := uu.Apply(usr)
	if err != nil {
		return User{}, errors.Wrap(err, "applying update")
	}
	usr.UpdatedAt = time.Now().UTC()
	usr, err = svc.repo.UpdateUser(ctx, usr)
	return usr, errors.Wrap(err, "updating user")
}

func (svc *service) Delete(ctx context.Context, tenantID string, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return svc.repo.DeleteUsersByID(ctx, tenantID, ids...)
}

func (svc *service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	usr.LastLogin = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *service) AddCredit(ctx context.Context, id string, delta int64) (User, error) {
	if delta == 0 {
		return svc.GetByID(ctx, id)
	}
	return svc.repo.AddCredit(ctx, id, delta)
}

func (svc *service) RequestPasswordReset(ctx context.Context, tenantID, email string) error {
	usr, err := svc.getActiveByEmail(ctx, tenantID, email)
	if err != nil {
		return err
	}
	go svc.sendPasswordResetMail(usr)
	return nil
}

func (svc *service) getActiveByEmail(ctx context.Context, tenantID, email string) (User, error) {
	email = core.CleanString(email, true /* lower */)
	if email == "" {
		return User{}, ErrNotFound
	}
	usr, err := svc.repo.GetUser(ctx, GetFilter{TenantID: tenantID, UsernameOrEmail: email})
	if err != nil {
		return User{}, err
	}
	if usr.Email != email || !usr.IsActive {
		return User{}, ErrNotFound
	}
	return usr, nil
}

func (svc *service) sendPasswordResetMail(usr User) {
	token, err := svc.tokens.MakeToken(usr)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("making password reset token: %v", err), err, usr)
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Password Reset",
		TemplateName: "password_reset",
		TemplateData: map[string]interface{}{
			"Name":  usr.Name,
			"UID":   EncodeUID(usr),
			"Token": token,
		},
	})
}

func (svc *service) ResetPassword(ctx context.Context, data ResetUserPassword) error {
	errInvalid := core.NewValidationError(ErrInvalidToken)

	id, err := DecodeUID(data.UID)
	if err != nil {
		return errInvalid
	}
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return errInvalid
		}
		return errors.Wrap(err, "finding user by ID")
	}
	if err = svc.tokens.VerifyToken(usr, data.Token); err != nil {
		return core.NewValidationError(err)
	}

	if err = usr.SetPassword(data.Password); err != nil {
		return errors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = time.Now().UTC()
	_, err = svc.repo.UpdateUser(ctx, usr)
	return errors.Wrap(err, "updating user")
}
