package custodyprovider

import "github.com/shopspring/decimal"

const (
	sourceVault      = "VAULT_ACCOUNT"
	destinationVault = "VAULT_ACCOUNT"
	destinationOTA   = "ONE_TIME_ADDRESS"

	operationTransfer     = "TRANSFER"
	operationContractCall = "CONTRACT_CALL"
)

type createVaultRequest struct {
	Name string `json:"name"`
}

type createVaultResponse struct {
	Id string `json:"id"`
}

type addressResponse struct {
	Address string `json:"address"`
}

type issueTokenRequest struct {
	VaultAccountId string `json:"vaultAccountId"`
	Name           string `json:"name"`
	Symbol         string `json:"symbol"`
	Decimals       uint8  `json:"decimals"`
	TotalSupply    string `json:"totalSupply"`
}

type issueTokenResponse struct {
	Id      string `json:"id"`
	Status  string `json:"status"`
	TokenId string `json:"tokenId"`
}

type transferPeer struct {
	Type    string `json:"type"`
	Id      string `json:"id,omitempty"`
	Address string `json:"address,omitempty"`
}

type transactionRequest struct {
	Operation       string            `json:"operation"`
	AssetId         string            `json:"assetId"`
	Source          transferPeer      `json:"source"`
	Destination     transferPeer      `json:"destination"`
	Amount          string            `json:"amount,omitempty"`
	ExtraParameters map[string]string `json:"extraParameters,omitempty"`
}

type transactionResponse struct {
	Id     string `json:"id"`
	Status string `json:"status"`
}

type taskResponse struct {
	Id              string `json:"id"`
	Status          string `json:"status"`
	SubStatus       string `json:"subStatus"`
	TxHash          string `json:"txHash"`
	ContractAddress string `json:"contractAddress"`
	ErrorMessage    string `json:"errorMessage"`
}

type vaultAssetResponse struct {
	Id        string          `json:"id"`
	Available decimal.Decimal `json:"available"`
}
