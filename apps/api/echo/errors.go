package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/cart"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/enrollment"
	"github.com/trezcool/academia/core/exam"
	"github.com/trezcool/academia/core/order"
	"github.com/trezcool/academia/core/promo"
	"github.com/trezcool/academia/core/referral"
	"github.com/trezcool/academia/core/session"
	"github.com/trezcool/academia/core/store"
	"github.com/trezcool/academia/core/tenant"
	"github.com/trezcool/academia/core/user"
)

var (
	errUnauthorized         = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errAuthenticationFailed = echo.NewHTTPError(http.StatusBadRequest, "authentication failed")
	errAccountDeactivated   = echo.NewHTTPError(http.StatusForbidden, "account deactivated")
	errRefreshExpired       = echo.NewHTTPError(http.StatusForbidden, "refresh has expired")
	errHttpForbidden        = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound         = echo.NewHTTPError(http.StatusNotFound, "not found")
	errTooManyRequests      = echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
)

// apiErrorCodes maps the domain errors to their HTTP status.
var apiErrorCodes = map[int][]error{
	http.StatusBadRequest: {
		order.ErrInvalidWebhook,
	},
	http.StatusUnauthorized: {
		session.ErrSessionInvalidated,
	},
	http.StatusPaymentRequired: {
		enrollment.ErrPaymentRequired,
	},
	http.StatusForbidden: {
		core.ErrPermissionDenied,
		tenant.ErrUnavailable,
		enrollment.ErrUserInactive,
		exam.ErrNotEnrolled,
	},
	http.StatusNotFound: {
		tenant.ErrNotFound,
		user.ErrNotFound,
		session.ErrNotFound,
		course.ErrNotFound,
		course.ErrBatchNotFound,
		enrollment.ErrNotFound,
		exam.ErrNotFound,
		exam.ErrAttemptNotFound,
		store.ErrNotFound,
		promo.ErrNoRedemption,
		cart.ErrNotFound,
		cart.ErrItemNotFound,
		order.ErrNotFound,
		order.ErrInvoiceNotFound,
		referral.ErrNotFound,
	},
	http.StatusConflict: {
		tenant.ErrSlugExists,
		user.ErrHasHistory,
		course.ErrSlugExists,
		course.ErrBatchFull,
		store.ErrSKUExists,
		store.ErrOutOfStock,
		promo.ErrCodeExists,
		promo.ErrRedemptionExists,
		enrollment.ErrAlreadyEnrolled,
		enrollment.ErrNotActive,
		enrollment.ErrStatusConflict,
		exam.ErrAttemptInProgress,
		exam.ErrNotInProgress,
		exam.ErrMaxAttempts,
		exam.ErrStatusConflict,
		order.ErrNotPending,
		order.ErrStatusConflict,
		order.ErrCheckoutInProgress,
		order.ErrInvoiceExists,
		referral.ErrCodeExists,
		referral.ErrAlreadyReferred,
		referral.ErrAlreadyRewarded,
	},
	http.StatusGone: {
		course.ErrBatchEnded,
		exam.ErrAttemptExpired,
	},
	http.StatusUnprocessableEntity: {
		course.ErrCourseNotPublished,
		course.ErrCourseArchived,
		enrollment.ErrBatchMismatch,
		exam.ErrNoQuestions,
		exam.ErrNotSubmitted,
		store.ErrInactive,
		promo.ErrNotFound,
		promo.ErrNotStarted,
		promo.ErrExpired,
		promo.ErrUsageExhausted,
		promo.ErrPerUserExhausted,
		promo.ErrBelowMinimum,
		promo.ErrNotApplicable,
		cart.ErrEmpty,
		cart.ErrItemUnavailable,
		cart.ErrAmountTooLarge,
		user.ErrInsufficientCredit,
		referral.ErrCodeNotFound,
		referral.ErrSelfReferral,
	},
	http.StatusServiceUnavailable: {
		course.ErrUploadsDisabled,
	},
}

func apiErrorCode(err error) (int, bool) {
	for code, errs := range apiErrorCodes {
		for _, e := range errs {
			if err == e {
				return code, true
			}
		}
	}
	return 0, false
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, uni *ut.UniversalTranslator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			if origErr == middleware.ErrJWTMissing {
				code = http.StatusUnauthorized
				message = origErr.Message
				break
			}
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			code = http.StatusBadRequest
			message = core.TranslateErrors(origErr, getContextTranslator(ctx, uni))
		case *core.ValidationError:
			if origErr.Fields != nil {
				fldErrs := make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else {
				message = origErr.Error()
			}
			code = http.StatusBadRequest
		default:
			if c, ok := apiErrorCode(origErr); ok {
				code = c
				message = origErr.Error()
				break
			}

			// any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg

			var usr user.User
			if claims, cErr := getContextClaims(ctx); cErr == nil {
				usr.ID = claims.Subject
				usr.TenantID = claims.TenantID
				usr.Username = claims.Username
				usr.Email = claims.Email
			}
			logger.Error(msg, errors.Wrap(err, msg), usr)

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug && code == http.StatusInternalServerError {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
