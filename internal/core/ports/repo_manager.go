package ports

import "github.com/assetvault/custodyd/internal/core/domain"

type RepoManager interface {
	CustodyRecords() domain.CustodyRecordRepository
	VaultWallets() domain.VaultWalletRepository
	Operations() domain.OperationRepository
	Market() domain.MarketRepository
	Audit() domain.AuditRepository
	Close()
}
