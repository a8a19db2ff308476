package handlers

import (
	"time"

	"github.com/dnaproject/dna-core/pkg/apperr"
	"github.com/dnaproject/dna-core/pkg/metrics"
	"github.com/dnaproject/dna-core/pkg/pqcrypto"
	"github.com/dnaproject/dna-core/pkg/types"
)

// ChainClient is the per-chain RPC collaborator Wallet delegates balance
// queries, sends and history lookups to. One implementation per
// types.WalletChain; blockchain RPC integration itself is out of scope
// (spec.md §1) so this is the seam a real client plugs into.
type ChainClient interface {
	Derive(masterSeed []byte, index int) (address string, privateKey []byte, err error)
	Balance(address string) (string, error)
	Send(privateKey []byte, recipient, amount, token, network, gasSpeed string) (txHash string, err error)
	Transactions(address string) ([]*types.Transaction, error)
}

// chainErrorCode maps a chain client's abstract sentinel error code to the
// engine's taxonomy (spec.md §4.6 Wallet: -2 -> INSUFFICIENT_BALANCE,
// -3 -> RENT_MINIMUM, anything else -> NETWORK).
func chainErrorCode(code int) apperr.Code {
	switch code {
	case -2:
		return apperr.InsufficientBalance
	case -3:
		return apperr.RentMinimum
	default:
		return apperr.Network
	}
}

// ChainError is returned by a ChainClient to report one of the three
// abstract sentinel outcomes spec.md §4.6 Wallet names.
type ChainError struct {
	Code int
	Msg  string
}

func (e *ChainError) Error() string { return e.Msg }

// TransactionMapper normalizes a chain's raw history entries into
// types.Transaction, filtering chain-specific noise (the Cellframe
// fee-collector address) out of the counterparty slot (SPEC_FULL.md §5).
type TransactionMapper func(raw []*types.Transaction) []*types.Transaction

// Wallet implements list_wallets/get_balances/send_tokens/get_transactions
// (spec.md §4.6 Wallet).
type Wallet struct {
	deps    Deps
	clients map[types.WalletChain]ChainClient
	mappers map[types.WalletChain]TransactionMapper
}

func NewWallet(deps Deps, clients map[types.WalletChain]ChainClient) *Wallet {
	return &Wallet{deps: deps, clients: clients, mappers: map[types.WalletChain]TransactionMapper{
		types.ChainCellframe: filterCellframeFeeCollector,
	}}
}

// cellframeFeeCollector is the known fee-collector address Cellframe
// transaction history must never attribute to a counterparty.
const cellframeFeeCollector = "cf_fee_collector"

func filterCellframeFeeCollector(raw []*types.Transaction) []*types.Transaction {
	out := make([]*types.Transaction, 0, len(raw))
	for _, tx := range raw {
		if tx.OtherParty == cellframeFeeCollector {
			continue
		}
		out = append(out, tx)
	}
	return out
}

// List loads wallets from the local store, deriving ETH/SOL/TRX/Cellframe
// wallets from the master seed and persisting them if none exist yet.
func (h *Wallet) List(masterSeed []byte) ([]*types.Wallet, error) {
	existing, err := h.deps.Store.ListWallets()
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	chains := []types.WalletChain{types.ChainETH, types.ChainSOL, types.ChainTRX, types.ChainCellframe}
	out := make([]*types.Wallet, 0, len(chains))
	for _, chain := range chains {
		client, ok := h.clients[chain]
		if !ok {
			continue
		}
		address, priv, err := client.Derive(masterSeed, 0)
		if err != nil {
			return nil, apperr.Wrap(apperr.Crypto, "derive "+string(chain)+" wallet", err)
		}
		pqcrypto.Zeroize(priv)
		w := &types.Wallet{Index: 0, Chain: chain, Address: address, CreatedAt: time.Now()}
		if err := h.deps.Store.UpsertWallet(w); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// Balance queries the chain RPC for the balance of address.
func (h *Wallet) Balance(chain types.WalletChain, address string) (string, error) {
	client, ok := h.clients[chain]
	if !ok {
		return "", apperr.New(apperr.InvalidParam, "no client configured for "+string(chain))
	}
	balance, err := client.Balance(address)
	if err != nil {
		return "", mapChainError(err)
	}
	return balance, nil
}

// Send derives the wallet key for index on demand from masterSeed through
// the chain client and zeroises it after use (spec.md §4.6 Wallet). It
// never reads a key from a stored wallet file.
func (h *Wallet) Send(chain types.WalletChain, masterSeed []byte, index int, recipient, amount, token, network, gasSpeed string) (string, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.WalletSendDuration, string(chain))

	client, ok := h.clients[chain]
	if !ok {
		metrics.WalletSendTotal.WithLabelValues(string(chain), "error").Inc()
		return "", apperr.New(apperr.InvalidParam, "no client configured for "+string(chain))
	}
	_, priv, err := client.Derive(masterSeed, index)
	if err != nil {
		metrics.WalletSendTotal.WithLabelValues(string(chain), "error").Inc()
		return "", apperr.Wrap(apperr.Crypto, "derive wallet key", err)
	}
	defer pqcrypto.Zeroize(priv)

	hash, err := client.Send(priv, recipient, amount, token, network, gasSpeed)
	if err != nil {
		metrics.WalletSendTotal.WithLabelValues(string(chain), "error").Inc()
		return "", mapChainError(err)
	}
	metrics.WalletSendTotal.WithLabelValues(string(chain), "ok").Inc()
	return hash, nil
}

// Transactions maps chain history into the uniform record, applying the
// chain's TransactionMapper if one is registered.
func (h *Wallet) Transactions(chain types.WalletChain, address string) ([]*types.Transaction, error) {
	client, ok := h.clients[chain]
	if !ok {
		return nil, apperr.New(apperr.InvalidParam, "no client configured for "+string(chain))
	}
	raw, err := client.Transactions(address)
	if err != nil {
		return nil, mapChainError(err)
	}
	if mapper, ok := h.mappers[chain]; ok {
		return mapper(raw), nil
	}
	return raw, nil
}

func mapChainError(err error) error {
	if ce, ok := err.(*ChainError); ok {
		return apperr.Wrap(chainErrorCode(ce.Code), ce.Msg, ce)
	}
	return apperr.Wrap(apperr.Network, "chain rpc", err)
}
