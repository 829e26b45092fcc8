// Package referral rewards users with store credit when the users they referred pay their first order.
package referral

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/user"
)

// Statuses
const (
	StatusPending  = "pending"
	StatusRewarded = "rewarded"
)

const (
	EventRewarded = "referral.rewarded"

	codeLen      = 8
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ23456789"
	codeAttempts = 5
)

var (
	// errors
	ErrCodeNotFound     = errors.New("invalid referral code")
	ErrNotFound         = errors.New("referral not found")
	ErrCodeExists       = errors.New("referral code already taken")
	ErrSelfReferral     = errors.New("you cannot refer yourself")
	ErrAlreadyReferred  = errors.New("user was already referred")
	ErrAlreadyRewarded  = errors.New("referral was already rewarded")
	errCodeGenExhausted = errors.New("could not generate a unique referral code")
)

type (
	Code struct {
		Code      string    `json:"code"`
		UserID    string    `json:"user_id"`
		TenantID  string    `json:"tenant_id"`
		CreatedAt time.Time `json:"created_at"` // UTC
	}

	Referral struct {
		ID         string     `json:"id"`
		TenantID   string     `json:"tenant_id"`
		ReferrerID string     `json:"referrer_id"`
		ReferredID string     `json:"referred_id"`
		Code       string     `json:"code"`
		Status     string     `json:"status"`
		Reward     int64      `json:"reward"` // cents
		OrderID    string     `json:"order_id,omitempty"`
		CreatedAt  time.Time  `json:"created_at"`  // UTC
		RewardedAt *time.Time `json:"rewarded_at"` // UTC
	}

	Summary struct {
		Code        string `json:"code"`
		Referred    int    `json:"referred"`
		Rewarded    int    `json:"rewarded"`
		TotalReward int64  `json:"total_reward"` // cents
	}

	CodeFilter struct {
		Code   string
		UserID string
	}

	Repository interface {
		// CreateCode fails with ErrCodeExists if the code is taken.
		CreateCode(ctx context.Context, c Code) (Code, error)
		// GetCode fails with ErrCodeNotFound.
		GetCode(ctx context.Context, filter CodeFilter) (Code, error)
		// CreateReferral fails with ErrAlreadyReferred if the referred user already has a referrer.
		CreateReferral(ctx context.Context, r Referral) (Referral, error)
		GetReferralByReferred(ctx context.Context, referredID string) (Referral, error)
		// MarkRewarded only updates a pending referral, else fails with ErrAlreadyRewarded.
		MarkRewarded(ctx context.Context, r Referral) error
		// ResetReward puts a referral rewarded for r.OrderID back to pending.
		ResetReward(ctx context.Context, r Referral) error
		QueryReferrals(ctx context.Context, referrerID string) ([]Referral, error)
	}

	Users interface {
		AddCredit(ctx context.Context, id string, delta int64) (user.User, error)
	}

	Service struct {
		repo      Repository
		users     Users
		events    core.EventPublisher
		logger    core.Logger
		rewardBps int64
		now       func() time.Time // mockable
	}
)

func NewService(repo Repository, users Users, events core.EventPublisher, logger core.Logger, rewardBps int64) *Service {
	return &Service{
		repo:      repo,
		users:     users,
		events:    events,
		logger:    logger,
		rewardBps: rewardBps,
		now:       time.Now,
	}
}

func generateCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	b := make([]byte, codeLen)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}

// CodeFor returns the referral code of the actor, creating it on first use.
func (svc *Service) CodeFor(ctx context.Context, actor user.Actor) (Code, error) {
	c, err := svc.repo.GetCode(ctx, CodeFilter{UserID: actor.UserID})
	if err == nil {
		return c, nil
	}
	if errors.Cause(err) != ErrCodeNotFound {
		return Code{}, errors.Wrap(err, "getting referral code")
	}

	for i := 0; i < codeAttempts; i++ {
		code, err := generateCode()
		if err != nil {
			return Code{}, errors.Wrap(err, "generating referral code")
		}
		c, err = svc.repo.CreateCode(ctx, Code{
			Code:      code,
			UserID:    actor.UserID,
			TenantID:  actor.TenantID,
			CreatedAt: svc.now().UTC(),
		})
		if err == nil {
			return c, nil
		}
		if errors.Cause(err) != ErrCodeExists {
			return Code{}, errors.Wrap(err, "creating referral code")
		}
		// the user may have created their code concurrently
		if c, err = svc.repo.GetCode(ctx, CodeFilter{UserID: actor.UserID}); err == nil {
			return c, nil
		}
	}
	return Code{}, errCodeGenExhausted
}

// Attach records that a newly signed up user was referred by the owner of `code`.
func (svc *Service) Attach(ctx context.Context, tenantID, referredID, code string) (Referral, error) {
	c, err := svc.repo.GetCode(ctx, CodeFilter{Code: code})
	if err != nil {
		return Referral{}, err
	}
	if c.TenantID != tenantID {
		return Referral{}, ErrCodeNotFound
	}
	if c.UserID == referredID {
		return Referral{}, ErrSelfReferral
	}
	r, err := svc.repo.CreateReferral(ctx, Referral{
		TenantID:   tenantID,
		ReferrerID: c.UserID,
		ReferredID: referredID,
		Code:       c.Code,
		Status:     StatusPending,
		CreatedAt:  svc.now().UTC(),
	})
	if errors.Cause(err) == ErrAlreadyReferred {
		return Referral{}, ErrAlreadyReferred
	}
	return r, errors.Wrap(err, "creating referral")
}

// Reward credits the referrer of a user, on the first paid order of that user.
// It reports false when there is nothing to reward.
func (svc *Service) Reward(ctx context.Context, referredID, orderID string, base int64) (Referral, bool, error) {
	r, err := svc.repo.GetReferralByReferred(ctx, referredID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Referral{}, false, nil
		}
		return Referral{}, false, errors.Wrap(err, "getting referral")
	}
	if r.Status != StatusPending {
		return r, false, nil
	}

	reward := core.PercentOf(base, svc.rewardBps)
	if reward <= 0 {
		return r, false, nil
	}
	now := svc.now().UTC()
	r.Status = StatusRewarded
	r.Reward = reward
	r.OrderID = orderID
	r.RewardedAt = &now
	if err = svc.repo.MarkRewarded(ctx, r); err != nil {
		if errors.Cause(err) == ErrAlreadyRewarded {
			return r, false, nil
		}
		return Referral{}, false, errors.Wrap(err, "marking referral rewarded")
	}
	if _, err = svc.users.AddCredit(ctx, r.ReferrerID, reward); err != nil {
		// the next paid order retries the reward
		if rerr := svc.repo.ResetReward(ctx, r); rerr != nil {
			svc.logger.Error(fmt.Sprintf("resetting referral %s: %v", r.ID, rerr), rerr)
		}
		return Referral{}, false, errors.Wrap(err, "crediting referrer")
	}
	if err = svc.events.Publish(ctx, core.NewEvent(EventRewarded, r.TenantID, r)); err != nil {
		svc.logger.Warn(fmt.Sprintf("publishing %s: %v", EventRewarded, err), err)
	}
	return r, true, nil
}

func (svc *Service) List(ctx context.Context, actor user.Actor) ([]Referral, error) {
	return svc.repo.QueryReferrals(ctx, actor.UserID)
}

func (svc *Service) Summary(ctx context.Context, actor user.Actor) (Summary, error) {
	c, err := svc.CodeFor(ctx, actor)
	if err != nil {
		return Summary{}, err
	}
	refs, err := svc.repo.QueryReferrals(ctx, actor.UserID)
	if err != nil {
		return Summary{}, errors.Wrap(err, "querying referrals")
	}
	s := Summary{Code: c.Code, Referred: len(refs)}
	for _, r := range refs {
		if r.Status == StatusRewarded {
			s.Rewarded++
			s.TotalReward += r.Reward
		}
	}
	return s, nil
}
