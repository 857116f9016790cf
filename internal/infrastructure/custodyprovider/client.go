package custodyprovider

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/assetvault/custodyd/internal/core/ports"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 15 * time.Second
	apiKeyHeader   = "X-API-Key"
)

type ClientOption func(*client)

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *client) {
		c.httpClient.Timeout = timeout
	}
}

// WithRateLimit caps outgoing requests to reqPerSecond, with the given burst.
func WithRateLimit(reqPerSecond float64, burst int) ClientOption {
	return func(c *client) {
		if reqPerSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(reqPerSecond), burst)
	}
}

func WithHttpClient(httpClient *http.Client) ClientOption {
	return func(c *client) {
		c.httpClient = httpClient
	}
}

type client struct {
	url        string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient returns a custody provider backed by the provider REST api.
func NewClient(baseUrl, apiKey string, opts ...ClientOption) (ports.CustodyProvider, error) {
	if baseUrl == "" {
		return nil, fmt.Errorf("missing provider url")
	}
	if _, err := url.ParseRequestURI(baseUrl); err != nil {
		return nil, fmt.Errorf("invalid provider url: %w", err)
	}

	c := &client{
		url:        strings.TrimSuffix(baseUrl, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Inf, 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *client) CreateVault(ctx context.Context, name string) (string, error) {
	var resp createVaultResponse
	if err := c.do(
		ctx, "create_vault", http.MethodPost, "/v1/vault/accounts",
		createVaultRequest{Name: name}, &resp,
	); err != nil {
		return "", err
	}
	if resp.Id == "" {
		return "", invalidResponse("create_vault", "missing vault id")
	}
	return resp.Id, nil
}

func (c *client) CreateOrGetAddress(ctx context.Context, vaultId, assetSymbol string) (string, error) {
	endpoint := fmt.Sprintf(
		"/v1/vault/accounts/%s/%s/addresses", url.PathEscape(vaultId), url.PathEscape(assetSymbol),
	)

	var existing []addressResponse
	if err := c.do(ctx, "get_addresses", http.MethodGet, endpoint, nil, &existing); err != nil {
		return "", err
	}
	for _, a := range existing {
		if a.Address != "" {
			return a.Address, nil
		}
	}

	var created addressResponse
	if err := c.do(ctx, "create_address", http.MethodPost, endpoint, struct{}{}, &created); err != nil {
		return "", err
	}
	if created.Address == "" {
		return "", invalidResponse("create_address", "missing address")
	}
	return created.Address, nil
}

func (c *client) IssueToken(
	ctx context.Context, vaultId string, spec ports.TokenSpec,
) (*ports.TaskHandle, error) {
	var resp issueTokenResponse
	if err := c.do(
		ctx, "issue_token", http.MethodPost, "/v1/tokenization/tokens",
		issueTokenRequest{
			VaultAccountId: vaultId,
			Name:           spec.Name,
			Symbol:         spec.Symbol,
			Decimals:       spec.Decimals,
			TotalSupply:    spec.TotalSupply,
		}, &resp,
	); err != nil {
		return nil, err
	}
	if resp.Id == "" {
		return nil, invalidResponse("issue_token", "missing task id")
	}

	status := ports.TaskStatus(resp.Status)
	if status == "" {
		status = ports.TaskStatusSubmitted
	}
	return &ports.TaskHandle{TaskId: resp.Id, Status: status, TokenId: resp.TokenId}, nil
}

func (c *client) GetTaskStatus(ctx context.Context, taskId string) (*ports.TaskInfo, error) {
	endpoint := fmt.Sprintf("/v1/transactions/%s", url.PathEscape(taskId))
	body, err := c.makeRequest(ctx, "get_task_status", http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var resp taskResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, invalidResponse("get_task_status", err.Error())
	}

	return &ports.TaskInfo{
		TaskId:          taskId,
		Status:          ports.TaskStatus(resp.Status),
		TxHash:          resp.TxHash,
		ContractAddress: resp.ContractAddress,
		Substatus:       resp.SubStatus,
		ErrorMessage:    resp.ErrorMessage,
		Raw:             body,
	}, nil
}

func (c *client) Transfer(
	ctx context.Context, fromVaultId, toVaultId, assetSymbol string, amount decimal.Decimal,
) (string, error) {
	if !amount.IsPositive() {
		return "", fmt.Errorf("transfer amount must be positive, got %s", amount)
	}
	return c.submitTransaction(ctx, "transfer", transactionRequest{
		Operation:   operationTransfer,
		AssetId:     assetSymbol,
		Source:      transferPeer{Type: sourceVault, Id: fromVaultId},
		Destination: transferPeer{Type: destinationVault, Id: toVaultId},
		Amount:      amount.String(),
	})
}

func (c *client) ContractCall(
	ctx context.Context, vaultId, contractAddress string, data []byte, assetSymbol string,
) (string, error) {
	if contractAddress == "" {
		return "", fmt.Errorf("missing contract address")
	}
	return c.submitTransaction(ctx, "contract_call", transactionRequest{
		Operation:   operationContractCall,
		AssetId:     assetSymbol,
		Source:      transferPeer{Type: sourceVault, Id: vaultId},
		Destination: transferPeer{Type: destinationOTA, Address: contractAddress},
		Amount:      "0",
		ExtraParameters: map[string]string{
			"contractCallData": hex.EncodeToString(data),
		},
	})
}

func (c *client) GetVaultAsset(
	ctx context.Context, vaultId, assetSymbol string,
) (*ports.VaultAsset, error) {
	endpoint := fmt.Sprintf(
		"/v1/vault/accounts/%s/%s", url.PathEscape(vaultId), url.PathEscape(assetSymbol),
	)

	var resp vaultAssetResponse
	if err := c.do(ctx, "get_vault_asset", http.MethodGet, endpoint, nil, &resp); err != nil {
		var providerErr *ports.ProviderError
		if errors.As(err, &providerErr) && providerErr.StatusCode == http.StatusNotFound {
			return &ports.VaultAsset{
				VaultId: vaultId, Symbol: assetSymbol, Available: decimal.Zero,
			}, nil
		}
		return nil, err
	}

	return &ports.VaultAsset{VaultId: vaultId, Symbol: assetSymbol, Available: resp.Available}, nil
}

func (c *client) submitTransaction(
	ctx context.Context, op string, req transactionRequest,
) (string, error) {
	var resp transactionResponse
	if err := c.do(ctx, op, http.MethodPost, "/v1/transactions", req, &resp); err != nil {
		return "", err
	}
	if resp.Id == "" {
		return "", invalidResponse(op, "missing transaction id")
	}
	return resp.Id, nil
}

func (c *client) do(ctx context.Context, op, method, endpoint string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		buf, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(buf)
	}

	data, err := c.makeRequest(ctx, op, method, endpoint, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, respBody); err != nil {
		return invalidResponse(op, err.Error())
	}
	return nil
}

// makeRequest waits for the rate limiter, sends the request and classifies any
// failure as a *ports.ProviderError.
func (c *client) makeRequest(
	ctx context.Context, op, method, endpoint string, body io.Reader,
) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &ports.ProviderError{Op: op, Transient: true, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ports.ProviderError{Op: op, Transient: isTransientNetworkError(err), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ports.ProviderError{
			Op: op, StatusCode: resp.StatusCode, Transient: true,
			Err: fmt.Errorf("failed to read response body: %w", err),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.WithField("op", op).WithField("status", resp.StatusCode).
			Debugf("provider request failed: %s", string(bodyBytes))
		return nil, statusError(op, resp.StatusCode, bodyBytes)
	}

	if len(bodyBytes) == 0 {
		return nil, invalidResponse(op, "empty response body")
	}
	return bodyBytes, nil
}

func statusError(op string, statusCode int, body []byte) *ports.ProviderError {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(statusCode)
	}

	err := &ports.ProviderError{Op: op, StatusCode: statusCode, Err: errors.New(msg)}
	switch {
	case statusCode == http.StatusTooManyRequests,
		statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden:
		err.RateLimited = true
	case statusCode == http.StatusRequestTimeout, statusCode >= 500:
		err.Transient = true
	}
	return err
}

func isTransientNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func invalidResponse(op, reason string) *ports.ProviderError {
	return &ports.ProviderError{Op: op, Err: fmt.Errorf("invalid response: %s", reason)}
}
