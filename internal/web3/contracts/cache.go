// Package contracts provides the bounded least-recently-used cache of vault
// contract bindings shared by the chat pipeline and vault management.
package contracts

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"VaultGuard/internal/challenge"
	xerrors "VaultGuard/internal/errors"
	"VaultGuard/internal/web3"
	"VaultGuard/pkg/logger"
)

// DefaultCapacity is the number of bindings kept when no capacity is configured.
const DefaultCapacity = 3

const (
	CodeInvalidAddress xerrors.Code = "CONTRACT_ADDRESS_INVALID"
	CodeMissingABI     xerrors.Code = "CONTRACT_ABI_MISSING"
	CodeInvalidABI     xerrors.Code = "CONTRACT_ABI_INVALID"
)

var (
	// ErrInvalidAddress reports a metadata row whose address is not a hex address.
	ErrInvalidAddress = xerrors.New(CodeInvalidAddress, "Invalid contract address")
	// ErrMissingABI reports a metadata row without an interface description.
	ErrMissingABI = xerrors.New(CodeMissingABI, "Contract ABI not found")
	// ErrInvalidABI reports an interface description that cannot be parsed.
	ErrInvalidABI = xerrors.New(CodeInvalidABI, "Contract ABI is invalid")
)

func init() {
	for code, msg := range map[xerrors.Code]string{
		CodeInvalidAddress: "Invalid contract address",
		CodeMissingABI:     "Contract ABI not found",
		CodeInvalidABI:     "Contract ABI is invalid",
	} {
		xerrors.Register(code, xerrors.Attributes{
			Message:  msg,
			Severity: xerrors.SeverityCritical,
			Alert:    true,
			Status:   500,
		})
	}
}

// MetadataSource loads the address and ABI for a challenge.
type MetadataSource interface {
	GetContractMetadata(ctx context.Context, challengeID string) (*challenge.ContractMetadata, error)
}

// Binder constructs a contract binding. web3.Client satisfies it.
type Binder interface {
	BindContract(address common.Address, parsed abi.ABI) *bind.BoundContract
}

type entry struct {
	contract *web3.Contract
	lastUsed time.Time
}

// Cache maps challenge ids to contract bindings and holds at most capacity
// entries. The mutex only guards the map: a miss builds the binding outside
// the lock, so concurrent misses for one id both build and the last insert wins.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	capacity int
	source   MetadataSource
	binder   Binder
	now      func() time.Time
	logger   *slog.Logger
}

// Option customises a Cache.
type Option func(*Cache)

// WithCapacity overrides DefaultCapacity. Non-positive values are ignored.
func WithCapacity(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithClock overrides the time source used for recency.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCache creates an empty cache.
func NewCache(source MetadataSource, binder Binder, opts ...Option) *Cache {
	c := &Cache{
		entries:  make(map[string]*entry),
		capacity: DefaultCapacity,
		source:   source,
		binder:   binder,
		now:      time.Now,
		logger:   logger.Named("contracts"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Get returns the binding for challengeID, constructing it on a miss.
func (c *Cache) Get(ctx context.Context, challengeID string) (*web3.Contract, error) {
	c.mu.Lock()
	if e, ok := c.entries[challengeID]; ok {
		e.lastUsed = c.now()
		contract := e.contract
		c.mu.Unlock()
		return contract, nil
	}
	c.mu.Unlock()

	contract, err := c.build(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[challengeID]; !exists && len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}
	c.entries[challengeID] = &entry{contract: contract, lastUsed: c.now()}
	return contract, nil
}

func (c *Cache) build(ctx context.Context, challengeID string) (*web3.Contract, error) {
	meta, err := c.source.GetContractMetadata(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, challenge.ErrContractNotFound
	}
	address := strings.TrimSpace(meta.Address)
	if !common.IsHexAddress(address) {
		return nil, xerrors.New(CodeInvalidAddress, ErrInvalidAddress.Message(), xerrors.WithMetadata("challenge_id", challengeID))
	}
	if strings.TrimSpace(meta.ABI) == "" {
		return nil, xerrors.New(CodeMissingABI, ErrMissingABI.Message(), xerrors.WithMetadata("challenge_id", challengeID))
	}
	parsed, err := abi.JSON(strings.NewReader(meta.ABI))
	if err != nil {
		return nil, xerrors.Wrap(CodeInvalidABI, err, ErrInvalidABI.Message(), xerrors.WithMetadata("challenge_id", challengeID))
	}

	addr := common.HexToAddress(address)
	c.logger.Debug("contract binding created", slog.String("challenge_id", challengeID), slog.String("address", addr.Hex()))
	return &web3.Contract{
		ChallengeID: challengeID,
		Address:     addr,
		ABI:         parsed,
		Bound:       c.binder.BindContract(addr, parsed),
	}, nil
}

// evictOldestLocked removes the entry with the smallest lastUsed. Ties are
// broken by map iteration order.
func (c *Cache) evictOldestLocked() {
	var (
		oldestID string
		oldest   time.Time
		found    bool
	)
	for id, e := range c.entries {
		if !found || e.lastUsed.Before(oldest) {
			oldestID, oldest, found = id, e.lastUsed, true
		}
	}
	if found {
		delete(c.entries, oldestID)
		c.logger.Debug("contract binding evicted", slog.String("challenge_id", oldestID))
	}
}

// Len returns the number of cached bindings.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Contains reports whether challengeID is cached without touching its recency.
func (c *Cache) Contains(challengeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[challengeID]
	return ok
}
