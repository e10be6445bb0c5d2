package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
)

// ShareInvitation is what the owner needs to start sharing.
type ShareInvitation struct {
	Token          string
	ExpiresUnixUTC int64
	ReferralURL    string
	Instagram      InstagramShare
}

// ShareInit starts the social-share unlock flow for a completed job.
func (service *Service) ShareInit(ctx context.Context, ownerID restoration.OwnerID, jobID restoration.JobID) (ShareInvitation, error) {
	var invitation ShareInvitation
	operationError := func() error {
		if err := service.requireShareFlow(); err != nil {
			return err
		}
		job, err := service.store.GetOwnedJob(ctx, ownerID, jobID)
		if err != nil {
			return err
		}
		if err := checkUnlockable(job); err != nil {
			return err
		}
		owner, err := service.store.GetOrCreateOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		if owner.SocialShareUsed {
			return ErrSocialShareUsed
		}
		state := ShareState{CreatedUnixUTC: service.nowFn()}
		if err := service.shareStates.Put(ctx, ShareKey{OwnerID: ownerID, JobID: jobID}, state, service.shareTokens.TTL()); err != nil {
			return WrapError("service", "share_state", "put", err)
		}
		token, expiresAt, err := service.shareTokens.Mint(ownerID, jobID)
		if err != nil {
			return err
		}
		invitation = ShareInvitation{
			Token:          token,
			ExpiresUnixUTC: expiresAt.Unix(),
			ReferralURL:    service.shareLinks.ReferralURL(ownerID),
			Instagram:      service.shareLinks.Instagram(ownerID),
		}
		return nil
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationShareInit,
		OwnerID:   ownerID,
		JobID:     jobID,
		Error:     operationError,
	})
	if operationError != nil {
		return ShareInvitation{}, operationError
	}
	return invitation, nil
}

// ShareRedirect verifies a share token, records that the redirect was followed,
// and returns the platform's share intent URL.
func (service *Service) ShareRedirect(ctx context.Context, jobID restoration.JobID, platform SharePlatform, token string) (string, error) {
	var (
		intentURL string
		ownerID   restoration.OwnerID
	)
	operationError := func() error {
		if err := service.requireShareFlow(); err != nil {
			return err
		}
		claims, err := service.shareTokens.Parse(token)
		if err != nil {
			return err
		}
		if claims.JobID != jobID {
			return fmt.Errorf("%w: token/job mismatch", ErrInvalidShareToken)
		}
		ownerID = claims.OwnerID
		if _, err := service.store.GetOwnedJob(ctx, ownerID, jobID); err != nil {
			return err
		}
		key := ShareKey{OwnerID: ownerID, JobID: jobID}
		state, found, err := service.shareStates.Get(ctx, key)
		if err != nil {
			return WrapError("service", "share_state", "get", err)
		}
		if !found {
			return ErrShareFlowExpired
		}
		if !state.Redirected() {
			nowUnixUTC := service.nowFn()
			remaining := service.shareTokens.TTL() - time.Duration(nowUnixUTC-state.CreatedUnixUTC)*time.Second
			if remaining <= 0 {
				return ErrShareFlowExpired
			}
			state.RedirectedUnixUTC = nowUnixUTC
			if err := service.shareStates.Put(ctx, key, state, remaining); err != nil {
				return WrapError("service", "share_state", "put", err)
			}
		}
		intentURL, err = service.shareLinks.IntentURL(platform, ownerID)
		return err
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationShareVisit,
		OwnerID:   ownerID,
		JobID:     jobID,
		Error:     operationError,
	})
	if operationError != nil {
		return "", operationError
	}
	return intentURL, nil
}

// ConfirmShare unlocks the job once the owner has followed a server redirect.
// The flag on the owner makes this a one-time unlock per account.
func (service *Service) ConfirmShare(ctx context.Context, ownerID restoration.OwnerID, jobID restoration.JobID) (string, error) {
	var fullURL string
	key := ShareKey{OwnerID: ownerID, JobID: jobID}
	operationError := func() error {
		if err := service.requireShareFlow(); err != nil {
			return err
		}
		job, err := service.store.GetOwnedJob(ctx, ownerID, jobID)
		if err != nil {
			return err
		}
		if err := checkUnlockable(job); err != nil {
			return err
		}
		owner, err := service.store.GetOrCreateOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		if owner.SocialShareUsed {
			return ErrSocialShareUsed
		}
		state, found, err := service.shareStates.Get(ctx, key)
		if err != nil {
			return WrapError("service", "share_state", "get", err)
		}
		if !found || !state.Redirected() {
			return ErrShareNotInitiated
		}
		nowUnixUTC := service.nowFn()
		if service.confirmDelaySeconds > 0 && nowUnixUTC-state.RedirectedUnixUTC < service.confirmDelaySeconds {
			return fmt.Errorf("%w: wait %ds", ErrShareConfirmTooSoon, service.confirmDelaySeconds)
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			lockedJob, err := transactionStore.LockOwnedJob(ctx, ownerID, jobID)
			if err != nil {
				return err
			}
			if err := checkUnlockable(lockedJob); err != nil {
				return err
			}
			owner, err := transactionStore.LockOwner(ctx, ownerID)
			if err != nil {
				return err
			}
			if owner.SocialShareUsed {
				return ErrSocialShareUsed
			}
			if err := transactionStore.MarkSocialShareUsed(ctx, ownerID); err != nil {
				return err
			}
			if err := transactionStore.UnlockJob(ctx, jobID, restoration.UnlockSocialShare, nowUnixUTC); err != nil {
				return err
			}
			fullURL = lockedJob.FullURL
			return nil
		})
	}()
	if operationError == nil {
		// State left behind expires with its TTL.
		_ = service.shareStates.Delete(ctx, key)
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationShareConfirm,
		OwnerID:   ownerID,
		JobID:     jobID,
		Error:     operationError,
	})
	if operationError != nil {
		return "", operationError
	}
	return fullURL, nil
}

// ShareLinks exposes the configured link builder.
func (service *Service) ShareLinks() ShareLinks {
	return service.shareLinks
}

func (service *Service) requireShareFlow() error {
	if service.shareStates == nil || service.shareTokens == nil {
		return ErrShareFlowDisabled
	}
	return nil
}
