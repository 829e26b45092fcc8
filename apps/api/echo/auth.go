package echoapi

import (
	"context"
	"sort"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/session"
	"github.com/trezcool/academia/core/tenant"
	"github.com/trezcool/academia/core/user"
)

const (
	jwtContextKey   = "userToken"
	contextUserKey  = "user"
	contextActorKey = "actor"
	contextSessKey  = "session"
)

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	OrigIssuedAt int64    `json:"oriat,omitempty"`
	SessionID    string   `json:"sid"`
	TenantID     string   `json:"tenant"`
	Username     string   `json:"username,omitempty"`
	Email        string   `json:"email,omitempty"`
	IsStudent    bool     `json:"is_student,omitempty"`    // -> STUDENT PORTAL
	IsInstructor bool     `json:"is_instructor,omitempty"` // -> INSTRUCTOR PORTAL
	IsAdmin      bool     `json:"is_admin,omitempty"`      // -> ADMIN PORTAL
	Roles        []string `json:"roles,omitempty"`
}

func (c Claims) Actor() user.Actor {
	return user.Actor{UserID: c.Subject, TenantID: c.TenantID, Roles: c.Roles}
}

func newJWTConfig(conf *core.Config) middleware.JWTConfig {
	return middleware.JWTConfig{
		SigningKey:    []byte(conf.SecretKey),
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    jwtContextKey,
		Claims:        new(Claims),
	}
}

// GetUserClaims returns the claims of `usr` logged in through session `sid`.
func GetUserClaims(conf *core.Config, usr user.User, sid string, origIat ...int64) *Claims {
	now := time.Now()
	nownix := now.Unix()

	var oriat int64
	if len(origIat) > 0 {
		oriat = origIat[0]
	} else {
		oriat = nownix
	}

	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    conf.AppName,
			Subject:   usr.ID,
			Audience:  conf.AppName,
			ExpiresAt: now.Add(conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  nownix,
		},
		OrigIssuedAt: oriat,
		SessionID:    sid,
		TenantID:     usr.TenantID,
		Username:     usr.Username,
		Email:        usr.Email,
		IsStudent:    usr.IsStudent(),
		IsInstructor: usr.IsInstructor(),
		IsAdmin:      usr.IsAdmin(),
		Roles:        usr.Roles,
	}
}

// GenerateToken generates a signed JWT token string representing the user Claims.
func GenerateToken(conf *core.Config, claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.GetSigningMethod(middleware.AlgorithmHS256), claims)
	ss, err := token.SignedString([]byte(conf.SecretKey))
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

// authenticate checks the credentials of a user of an active tenant, and opens a new session for them.
func authenticate(ctx echo.Context, deps Deps, data LoginRequest) (*Claims, error) {
	rctx := ctx.Request().Context()

	tnt, err := deps.TenantSvc.GetActiveBySlug(rctx, data.Tenant)
	if err != nil {
		if errors.Cause(err) == tenant.ErrNotFound {
			return nil, errAuthenticationFailed
		}
		return nil, err
	}

	usr, err := deps.UserSvc.GetByUsernameOrEmail(rctx, tnt.ID, data.Username)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return nil, errAuthenticationFailed
		}
		return nil, errors.Wrap(err, "finding user by username or email")
	}
	if err = usr.CheckPassword(data.Password); err != nil {
		return nil, errAuthenticationFailed
	}
	if !usr.IsActive {
		return nil, errAccountDeactivated
	}
	if usr, err = deps.UserSvc.SetLastLogin(rctx, usr); err != nil {
		return nil, errors.Wrap(err, "setting last login")
	}

	sess, err := deps.SessionMgr.Open(rctx, usr.ID, usr.TenantID, ctx.Request().UserAgent(), ctx.RealIP())
	if err != nil {
		return nil, errors.Wrap(err, "opening session")
	}
	return GetUserClaims(deps.Conf, usr, sess.ID), nil
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(jwtContextKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

// getContextActor returns the actor set by sessionMiddleware.
func getContextActor(ctx echo.Context) (user.Actor, error) {
	if actor, ok := ctx.Get(contextActorKey).(user.Actor); ok {
		return actor, nil
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return user.Actor{}, err
	}
	return claims.Actor(), nil
}

func getContextUser(ctx echo.Context, svc user.Service) (user.User, error) {
	if usr, ok := ctx.Get(contextUserKey).(user.User); ok {
		return usr, nil
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return user.User{}, errors.Wrap(err, "getting context claims")
	}
	usr, err := svc.GetByID(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return user.User{}, errors.Wrap(err, "finding user by ID")
	}
	ctx.Set(contextUserKey, usr)
	return usr, nil
}

func actorHasAnyRole(actor user.Actor, roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	own := append([]string(nil), actor.Roles...)
	sort.Strings(own)
	for _, role := range roles {
		if i := sort.SearchStrings(own, role); i < len(own) && own[i] == role {
			return true
		}
	}
	return false
}

func refreshToken(ctx echo.Context, deps Deps) (string, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting context claims")
	}
	usr, err := getContextUser(ctx, deps.UserSvc)
	if err != nil {
		return "", errors.Wrap(err, "getting context user")
	}

	// check if user is still active
	if !usr.IsActive {
		return "", errAccountDeactivated
	}

	// check if refresh has not expired
	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(deps.Conf.Server.JWTRefreshExpirationDelta)
	if time.Now().After(expTime) {
		return "", errRefreshExpired
	}

	newClaims := GetUserClaims(deps.Conf, usr, claims.SessionID, claims.OrigIssuedAt)
	token, err := GenerateToken(deps.Conf, newClaims)
	return token, errors.Wrap(err, "generating token")
}

// validateSession checks that the session of the token was not revoked.
func validateSession(ctx context.Context, mgr *session.Manager, claims Claims) (session.Session, error) {
	return mgr.Validate(ctx, claims.Subject, claims.SessionID)
}
