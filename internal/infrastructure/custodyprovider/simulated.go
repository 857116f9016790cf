package custodyprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/assetvault/custodyd/internal/core/ports"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

type SimulatedOption func(*simulated)

// WithCompleteAfter makes every task terminal at its n-th status poll.
func WithCompleteAfter(polls int) SimulatedOption {
	return func(s *simulated) {
		if polls > 0 {
			s.completeAfter = polls
		}
	}
}

// WithFundedVault seeds a vault holding amount of the given asset.
func WithFundedVault(vaultId, assetSymbol string, amount decimal.Decimal) SimulatedOption {
	return func(s *simulated) {
		s.vault(vaultId).balances[assetSymbol] = amount
	}
}

// WithFailingSymbol makes every task involving the asset end FAILED.
func WithFailingSymbol(assetSymbol string) SimulatedOption {
	return func(s *simulated) {
		s.failingSymbols[assetSymbol] = struct{}{}
	}
}

type simVault struct {
	name      string
	addresses map[string]string
	balances  map[string]decimal.Decimal
}

type simTask struct {
	id              string
	symbol          string
	polls           int
	status          ports.TaskStatus
	txHash          string
	contractAddress string
	errorMessage    string
	// settle applies the effect of the task and returns a failure reason, if any.
	settle func() string
}

type simulated struct {
	lock           *sync.Mutex
	completeAfter  int
	vaults         map[string]*simVault
	tasks          map[string]*simTask
	failingSymbols map[string]struct{}
}

// NewSimulatedProvider returns an in-process provider for local runs. Tasks
// stay SUBMITTED until polled enough times, then settle against the simulated
// vault balances.
func NewSimulatedProvider(opts ...SimulatedOption) ports.CustodyProvider {
	s := &simulated{
		lock:           &sync.Mutex{},
		completeAfter:  3,
		vaults:         make(map[string]*simVault),
		tasks:          make(map[string]*simTask),
		failingSymbols: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *simulated) CreateVault(_ context.Context, name string) (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	id := uuid.NewString()
	s.vault(id).name = name
	return id, nil
}

func (s *simulated) CreateOrGetAddress(_ context.Context, vaultId, assetSymbol string) (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	v, ok := s.vaults[vaultId]
	if !ok {
		return "", notFound("create_address", "vault", vaultId)
	}
	if addr, ok := v.addresses[assetSymbol]; ok {
		return addr, nil
	}
	addr := randomHex(20)
	v.addresses[assetSymbol] = addr
	return addr, nil
}

func (s *simulated) IssueToken(
	_ context.Context, vaultId string, spec ports.TokenSpec,
) (*ports.TaskHandle, error) {
	supply, err := decimal.NewFromString(spec.TotalSupply)
	if err != nil {
		return nil, &ports.ProviderError{
			Op: "issue_token", StatusCode: 400, Err: fmt.Errorf("invalid total supply: %w", err),
		}
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	v, ok := s.vaults[vaultId]
	if !ok {
		return nil, notFound("issue_token", "vault", vaultId)
	}

	task := s.newTask(spec.Symbol)
	task.settle = func() string {
		task.contractAddress = randomHex(20)
		v.balances[spec.Symbol] = v.balances[spec.Symbol].Add(supply)
		return ""
	}
	return &ports.TaskHandle{TaskId: task.id, Status: task.status, TokenId: uuid.NewString()}, nil
}

func (s *simulated) GetTaskStatus(_ context.Context, taskId string) (*ports.TaskInfo, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	task, ok := s.tasks[taskId]
	if !ok {
		return nil, notFound("get_task_status", "task", taskId)
	}

	if !task.status.IsTerminal() {
		task.polls++
		if task.polls >= s.completeAfter {
			s.complete(task)
		}
	}

	info := &ports.TaskInfo{
		TaskId:          task.id,
		Status:          task.status,
		TxHash:          task.txHash,
		ContractAddress: task.contractAddress,
		ErrorMessage:    task.errorMessage,
	}
	if task.status.IsFailure() {
		info.Substatus = "SIMULATED_FAILURE"
	}
	// nolint:errchkjson
	info.Raw, _ = json.Marshal(info)
	return info, nil
}

func (s *simulated) Transfer(
	_ context.Context, fromVaultId, toVaultId, assetSymbol string, amount decimal.Decimal,
) (string, error) {
	if !amount.IsPositive() {
		return "", &ports.ProviderError{
			Op: "transfer", StatusCode: 400, Err: fmt.Errorf("amount must be positive"),
		}
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	from, ok := s.vaults[fromVaultId]
	if !ok {
		return "", notFound("transfer", "vault", fromVaultId)
	}
	to := s.vault(toVaultId)

	task := s.newTask(assetSymbol)
	task.settle = func() string {
		if from.balances[assetSymbol].LessThan(amount) {
			return "insufficient funds"
		}
		from.balances[assetSymbol] = from.balances[assetSymbol].Sub(amount)
		to.balances[assetSymbol] = to.balances[assetSymbol].Add(amount)
		return ""
	}
	return task.id, nil
}

func (s *simulated) ContractCall(
	_ context.Context, vaultId, contractAddress string, data []byte, assetSymbol string,
) (string, error) {
	var call struct {
		Method string   `json:"method"`
		Params []string `json:"params"`
	}
	if err := json.Unmarshal(data, &call); err != nil {
		return "", &ports.ProviderError{
			Op: "contract_call", StatusCode: 400, Err: fmt.Errorf("invalid call data: %w", err),
		}
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	v, ok := s.vaults[vaultId]
	if !ok {
		return "", notFound("contract_call", "vault", vaultId)
	}

	task := s.newTask(assetSymbol)
	task.contractAddress = contractAddress
	task.settle = func() string {
		if call.Method != "burn" {
			return ""
		}
		if len(call.Params) != 1 {
			return "burn expects exactly one param"
		}
		amount, err := decimal.NewFromString(call.Params[0])
		if err != nil {
			return fmt.Sprintf("invalid burn amount: %s", err)
		}
		if v.balances[assetSymbol].LessThan(amount) {
			return "burn amount exceeds balance"
		}
		v.balances[assetSymbol] = v.balances[assetSymbol].Sub(amount)
		return ""
	}
	return task.id, nil
}

func (s *simulated) GetVaultAsset(
	_ context.Context, vaultId, assetSymbol string,
) (*ports.VaultAsset, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	available := decimal.Zero
	if v, ok := s.vaults[vaultId]; ok {
		available = v.balances[assetSymbol]
	}
	return &ports.VaultAsset{VaultId: vaultId, Symbol: assetSymbol, Available: available}, nil
}

// must be called with the lock held.
func (s *simulated) newTask(symbol string) *simTask {
	task := &simTask{
		id:     uuid.NewString(),
		symbol: symbol,
		status: ports.TaskStatusSubmitted,
	}
	s.tasks[task.id] = task
	return task
}

// must be called with the lock held.
func (s *simulated) complete(task *simTask) {
	if _, ok := s.failingSymbols[task.symbol]; ok {
		task.status = ports.TaskStatusFailed
		task.errorMessage = fmt.Sprintf("simulated failure for %s", task.symbol)
		return
	}
	if reason := task.settle(); reason != "" {
		task.status = ports.TaskStatusFailed
		task.errorMessage = reason
		return
	}
	task.status = ports.TaskStatusCompleted
	task.txHash = "0x" + randomHex(32)
	log.WithField("task_id", task.id).Debug("simulated task completed")
}

// must be called with the lock held.
func (s *simulated) vault(id string) *simVault {
	v, ok := s.vaults[id]
	if !ok {
		v = &simVault{
			addresses: make(map[string]string),
			balances:  make(map[string]decimal.Decimal),
		}
		s.vaults[id] = v
	}
	return v
}

func notFound(op, entity, id string) *ports.ProviderError {
	return &ports.ProviderError{Op: op, StatusCode: 404, Err: fmt.Errorf("%s %s not found", entity, id)}
}

func randomHex(size int) string {
	var sb strings.Builder
	for sb.Len() < size*2 {
		u := uuid.New()
		sb.WriteString(strings.ReplaceAll(u.String(), "-", ""))
	}
	return sb.String()[:size*2]
}
