package application

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/assetvault/custodyd/internal/core/domain"
	"github.com/assetvault/custodyd/internal/core/ports"
	"github.com/assetvault/custodyd/pkg/errors"
	log "github.com/sirupsen/logrus"
)

func (s *service) LinkAsset(
	ctx context.Context, assetId, tenantId, actor string,
) (*domain.CustodyRecord, errors.Error) {
	var missing []string
	if assetId == "" {
		missing = append(missing, "assetId")
	}
	if tenantId == "" {
		missing = append(missing, "tenantId")
	}
	if actor == "" {
		missing = append(missing, "actor")
	}
	if len(missing) > 0 {
		return nil, errors.VALIDATION.New("missing required fields").
			WithMetadata(errors.FieldsMetadata{Fields: missing})
	}

	duplicate := func(err error) errors.Error {
		return errors.DUPLICATE_ASSET.Wrap(err).WithMetadata(errors.EntityMetadata{
			Entity: "asset", Id: assetId,
		})
	}

	record, err := s.repoManager.CustodyRecords().GetByAssetId(ctx, assetId)
	if err != nil && !stderrors.Is(err, domain.ErrNotFound) {
		return nil, toServiceError(err)
	}

	// a rejected link leaves the record UNLINKED, it is requested again in place.
	if record != nil {
		if record.Status != domain.CustodyStatusUnlinked {
			return nil, duplicate(fmt.Errorf(
				"%w: %s is %s", domain.ErrDuplicateAsset, assetId, record.Status,
			))
		}
		if record.TenantId != tenantId {
			return nil, toServiceError(domain.NotOwnerError{
				Entity: "custody_record", Id: record.Id, Actor: tenantId,
			})
		}
		if err := record.Transition(domain.CustodyStatusPending, domain.StatusMetadata{}); err != nil {
			return nil, toServiceError(err)
		}
		if err := s.repoManager.CustodyRecords().Update(ctx, *record); err != nil {
			return nil, toServiceError(err)
		}
	} else {
		record = domain.NewCustodyRecord(assetId, tenantId, actor)
		if err := record.Transition(domain.CustodyStatusPending, domain.StatusMetadata{}); err != nil {
			return nil, toServiceError(err)
		}
		if err := s.repoManager.CustodyRecords().Add(ctx, *record); err != nil {
			if stderrors.Is(err, domain.ErrDuplicateAsset) {
				return nil, duplicate(err)
			}
			return nil, toServiceError(err)
		}
	}

	s.audit(ctx, domain.EventLinkRequested, actor, map[string]string{
		"asset_id":  assetId,
		"tenant_id": tenantId,
	}, domain.AuditRefs{CustodyRecordId: record.Id})

	return record, nil
}

func (s *service) ApproveLink(
	ctx context.Context, id, actor string, req domain.LinkAssetPayload,
) (*domain.CustodyRecord, errors.Error) {
	record, err := s.repoManager.CustodyRecords().Get(ctx, id)
	if err != nil {
		return nil, notFound(err, "custody_record", id)
	}

	if err := s.linkRecord(ctx, record, req, actor); err != nil {
		return nil, toServiceError(err)
	}
	return record, nil
}

func (s *service) RejectLink(
	ctx context.Context, id, actor, reason string,
) (*domain.CustodyRecord, errors.Error) {
	record, err := s.repoManager.CustodyRecords().Get(ctx, id)
	if err != nil {
		return nil, notFound(err, "custody_record", id)
	}

	if err := record.Transition(domain.CustodyStatusUnlinked, domain.StatusMetadata{}); err != nil {
		return nil, toServiceError(err)
	}
	if err := s.repoManager.CustodyRecords().Update(ctx, *record); err != nil {
		return nil, toServiceError(err)
	}

	s.audit(ctx, domain.EventLinkRejected, actor, map[string]string{
		"reason": reason,
	}, domain.AuditRefs{CustodyRecordId: record.Id})
	s.notify(ports.EventLinkRejected, newCustodyNotification(*record, ""))

	return record, nil
}

func (s *service) GetCustodyRecord(
	ctx context.Context, id string,
) (*domain.CustodyRecord, errors.Error) {
	record, err := s.repoManager.CustodyRecords().Get(ctx, id)
	if err != nil {
		return nil, notFound(err, "custody_record", id)
	}

	now := time.Now()
	resynced := false
	if s.shouldResync(*record, now) {
		if err := s.resyncRecord(ctx, *record); err != nil {
			log.WithError(err).WithField("custody_record_id", id).Warn("resync failed")
		} else {
			resynced = true
		}
	}

	// a burn or transfer whose monitor gave up keeps the record locked until its
	// task is settled.
	op, err := s.stalledOperation(ctx, record.Id, now)
	if err != nil {
		log.WithError(err).WithField("custody_record_id", id).Warn("failed to get live operation")
	}
	if op != nil {
		if err := s.resyncOperation(ctx, *op); err != nil {
			log.WithError(err).WithField("operation_id", op.Id).Warn("resync failed")
		} else {
			resynced = true
		}
	}

	if !resynced {
		return record, nil
	}

	record, err = s.repoManager.CustodyRecords().Get(ctx, id)
	if err != nil {
		return nil, toServiceError(err)
	}
	return record, nil
}

func (s *service) TransitionStatus(
	ctx context.Context, id string, status domain.CustodyStatus, meta domain.StatusMetadata,
) (*domain.CustodyRecord, errors.Error) {
	record, err := s.repoManager.CustodyRecords().Get(ctx, id)
	if err != nil {
		return nil, notFound(err, "custody_record", id)
	}
	if err := s.transitionRecord(ctx, record, status, meta, systemActor); err != nil {
		return nil, toServiceError(err)
	}
	return record, nil
}

// transitionRecord applies and persists a custody transition.
func (s *service) transitionRecord(
	ctx context.Context,
	record *domain.CustodyRecord,
	status domain.CustodyStatus,
	meta domain.StatusMetadata,
	actor string,
) error {
	from := record.Status
	if err := record.Transition(status, meta); err != nil {
		return err
	}
	if err := s.repoManager.CustodyRecords().Update(ctx, *record); err != nil {
		return fmt.Errorf("failed to update custody record: %w", err)
	}

	metadata := map[string]string{
		"from": from.String(),
		"to":   status.String(),
	}
	if meta.TxHash != "" {
		metadata["tx_hash"] = meta.TxHash
	}
	if meta.FailureReason != "" {
		metadata["failure_reason"] = meta.FailureReason
	}
	s.audit(ctx, domain.EventCustodyStatusChanged, actor, metadata, domain.AuditRefs{
		CustodyRecordId: record.Id,
	})
	return nil
}

// linkRecord provisions the vault and wallet of the record and moves it to
// LINKED. Gas funding is best-effort, mints check the gas again before dispatch.
func (s *service) linkRecord(
	ctx context.Context, record *domain.CustodyRecord, req domain.LinkAssetPayload, actor string,
) error {
	if !record.Status.CanTransitionTo(domain.CustodyStatusLinked) {
		return domain.InvalidTransitionError{
			Entity: "custody record",
			Id:     record.Id,
			From:   record.Status.String(),
			To:     domain.CustodyStatusLinked.String(),
		}
	}

	if req.AssetSymbol == "" {
		req.AssetSymbol = s.cfg.GasAssetSymbol
	}
	if req.Blockchain == "" {
		req.Blockchain = s.cfg.Blockchain
	}
	if req.VaultName == "" {
		req.VaultName = fmt.Sprintf("custody-%s", record.AssetId)
	}

	wallet, err := s.repoManager.VaultWallets().GetByCustodyRecord(ctx, record.Id)
	if err != nil && !stderrors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("failed to get vault wallet: %w", err)
	}

	if wallet == nil {
		vaultId, err := s.provider.CreateVault(ctx, req.VaultName)
		if err != nil {
			return fmt.Errorf("failed to create vault: %w", err)
		}
		address, err := s.provider.CreateOrGetAddress(ctx, vaultId, req.AssetSymbol)
		if err != nil {
			return fmt.Errorf("failed to create wallet address: %w", err)
		}

		newWallet := domain.NewVaultWallet(
			record.Id, vaultId, req.Blockchain, req.AssetSymbol, address,
		)
		if err := s.repoManager.VaultWallets().Add(ctx, newWallet); err != nil {
			return fmt.Errorf("failed to persist vault wallet: %w", err)
		}
		wallet = &newWallet

		if err := s.topUpGas(ctx, wallet.VaultId); err != nil {
			log.WithError(err).WithField("vault_id", wallet.VaultId).
				Warn("failed to fund gas reserve of new vault, mint will retry")
			s.audit(ctx, domain.EventGasFundingFailed, systemActor, map[string]string{
				"vault_id": wallet.VaultId,
				"error":    err.Error(),
			}, domain.AuditRefs{CustodyRecordId: record.Id})
		}
	}

	if err := s.transitionRecord(ctx, record, domain.CustodyStatusLinked, domain.StatusMetadata{
		VaultWalletId: wallet.Id,
	}, actor); err != nil {
		return err
	}

	s.audit(ctx, domain.EventLinkApproved, actor, map[string]string{
		"vault_id": wallet.VaultId,
		"address":  wallet.Address,
	}, domain.AuditRefs{CustodyRecordId: record.Id})
	s.notify(ports.EventLinkApproved, newCustodyNotification(*record, ""))
	return nil
}

func (s *service) vaultOf(ctx context.Context, record domain.CustodyRecord) (*domain.VaultWallet, error) {
	if record.VaultWalletId != "" {
		return s.repoManager.VaultWallets().Get(ctx, record.VaultWalletId)
	}
	return s.repoManager.VaultWallets().GetByCustodyRecord(ctx, record.Id)
}
