package queries

type AuditLog struct {
	ID              string
	EventType       string
	Actor           string
	CustodyRecordID string
	OperationID     string
	Metadata        string
	CreatedAt       int64
}

type Balance struct {
	OwnerID   string
	Amount    string
	UpdatedAt int64
}

type Bid struct {
	ID        string
	ListingID string
	BidderID  string
	Amount    string
	Quantity  int64
	Status    int64
	CreatedAt int64
	UpdatedAt int64
}

type CustodyRecord struct {
	ID                string
	AssetID           string
	TenantID          string
	CreatedBy         string
	Status            int64
	VaultWalletID     string
	TokenAddress      string
	TokenID           string
	TokenSymbol       string
	Quantity          string
	FailureReason     string
	FailureDiagnostic string
	LinkedAt          int64
	MintedAt          int64
	WithdrawnAt       int64
	BurnedAt          int64
	CreatedAt         int64
	UpdatedAt         int64
}

type Listing struct {
	ID             string
	AssetID        string
	SellerID       string
	Price          string
	QuantityListed int64
	QuantitySold   int64
	Status         int64
	CreatedAt      int64
	UpdatedAt      int64
}

type Operation struct {
	ID                string
	Type              int64
	Status            int64
	CustodyRecordID   string
	Payload           []byte
	InitiatedBy       string
	ApprovedBy        string
	RejectedBy        string
	RejectionReason   string
	ExternalTaskID    string
	ProviderStatus    string
	TxHash            string
	OffchainHash      string
	FailureReason     string
	FailureDiagnostic string
	CreatedAt         int64
	UpdatedAt         int64
}

type Ownership struct {
	AssetID   string
	OwnerID   string
	Quantity  int64
	UpdatedAt int64
}

type VaultWallet struct {
	ID              string
	CustodyRecordID string
	VaultID         string
	Blockchain      string
	AssetSymbol     string
	Address         string
	CreatedAt       int64
}
