package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/payroll/internal/config"
)

// ErrSimulatedInsufficientFunds is returned by the simulated client when a
// broadcast would overdraw the sender.
var ErrSimulatedInsufficientFunds = errors.New("insufficient funds for transfer")

const (
	nativeGas = "21000"
	tokenGas  = "65000"
)

// Simulated is an in-memory chain used in development and tests. Broadcasts
// move value between in-memory balances and confirm immediately.
type Simulated struct {
	network string
	native  string
	sender  string
	tokens  map[string]string

	mu          sync.Mutex
	balances    map[string]decimal.Decimal // wallet|assetID
	broadcastQ  []error
	balanceErr  error
	revertNext  int
	onBroadcast func(Transfer)
	block       uint64
	sent        []Transfer
}

// NewSimulated builds a simulated client for a network.
func NewSimulated(network, sender string, tokens map[string]string) *Simulated {
	if sender == "" {
		sender = "0x" + strings.Repeat("0", 36) + "5e4d"
	}
	t := make(map[string]string, len(tokens))
	for symbol, address := range tokens {
		t[strings.ToUpper(symbol)] = address
	}
	return &Simulated{
		network:  strings.ToUpper(network),
		native:   config.DefaultNativeSymbol(network),
		sender:   sender,
		tokens:   t,
		balances: make(map[string]decimal.Decimal),
		block:    1_000_000,
	}
}

func (s *Simulated) Network() string       { return s.network }
func (s *Simulated) NativeSymbol() string  { return s.native }
func (s *Simulated) SenderAddress() string { return s.sender }

// WithNativeSymbol overrides the network's default gas asset ticker.
func (s *Simulated) WithNativeSymbol(symbol string) *Simulated {
	if symbol = strings.ToUpper(strings.TrimSpace(symbol)); symbol != "" {
		s.native = symbol
	}
	return s
}

func (s *Simulated) ResolveAsset(asset string) (string, error) {
	return resolveToken(s.tokens, s.native, asset)
}

// SetBalance sets the sender wallet balance of an asset symbol.
func (s *Simulated) SetBalance(asset string, amount decimal.Decimal) error {
	id, err := s.ResolveAsset(asset)
	if err != nil {
		return fmt.Errorf("%w: %s", err, asset)
	}
	s.mu.Lock()
	s.balances[balanceKey(s.sender, id)] = amount
	s.mu.Unlock()
	return nil
}

// FailBroadcasts queues errors returned by the next broadcasts, in order.
func (s *Simulated) FailBroadcasts(errs ...error) {
	s.mu.Lock()
	s.broadcastQ = append(s.broadcastQ, errs...)
	s.mu.Unlock()
}

// RevertNext makes the next n broadcasts confirm with a reverted status.
func (s *Simulated) RevertNext(n int) {
	s.mu.Lock()
	s.revertNext += n
	s.mu.Unlock()
}

// FailBalance makes balance queries fail with err until reset with nil.
func (s *Simulated) FailBalance(err error) {
	s.mu.Lock()
	s.balanceErr = err
	s.mu.Unlock()
}

// OnBroadcast installs a hook invoked at the start of every broadcast.
func (s *Simulated) OnBroadcast(fn func(Transfer)) {
	s.mu.Lock()
	s.onBroadcast = fn
	s.mu.Unlock()
}

// Transfers returns confirmed transfers in broadcast order.
func (s *Simulated) Transfers() []Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transfer, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *Simulated) Balance(ctx context.Context, assetID, wallet string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balanceErr != nil {
		return decimal.Zero, s.balanceErr
	}
	return s.balances[balanceKey(wallet, assetID)], nil
}

func (s *Simulated) SignAndBroadcast(ctx context.Context, t Transfer) (Receipt, error) {
	s.mu.Lock()
	hook := s.onBroadcast
	s.mu.Unlock()
	if hook != nil {
		hook(t)
	}
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.broadcastQ) > 0 {
		err := s.broadcastQ[0]
		s.broadcastQ = s.broadcastQ[1:]
		if err != nil {
			return Receipt{}, err
		}
	}

	s.block++
	receipt := Receipt{
		TxHash:      s.txHash(t),
		BlockNumber: s.block,
		GasUsed:     tokenGas,
	}
	if t.AssetID == ZeroAddress {
		receipt.GasUsed = nativeGas
	}
	if s.revertNext > 0 {
		s.revertNext--
		receipt.Reverted = true
		return receipt, nil
	}

	from := balanceKey(s.sender, t.AssetID)
	if s.balances[from].LessThan(t.Amount) {
		return Receipt{}, ErrSimulatedInsufficientFunds
	}
	s.balances[from] = s.balances[from].Sub(t.Amount)
	to := balanceKey(t.Recipient, t.AssetID)
	s.balances[to] = s.balances[to].Add(t.Amount)
	s.sent = append(s.sent, t)
	return receipt, nil
}

func (s *Simulated) txHash(t Transfer) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s|%s|%s", s.network, s.block, t.AssetID, t.Recipient, t.Amount)))
	return "0x" + hex.EncodeToString(sum[:])
}

func balanceKey(wallet, assetID string) string {
	return strings.ToLower(wallet) + "|" + strings.ToLower(assetID)
}
