package devchain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/lsdlabs/lsdctl/internal/artifacts"
	"github.com/lsdlabs/lsdctl/internal/chain"
	"github.com/lsdlabs/lsdctl/internal/contracts"
)

// handler implements one contract function. args arrive as unpacked by the
// ABI and the results are packed with the function's outputs.
type handler func(f *frame, args []any) ([]any, error)

// model is the Go implementation of a contract's external behavior over
// solidity-compatible storage
type model struct {
	name     string
	abi      abi.ABI
	layout   *artifacts.StorageLayout
	items    map[string]artifacts.StorageItem
	methods  map[string]handler
	ctor     handler
	fallback func(f *frame, input []byte) ([]byte, error)
	receive  bool
}

func newModel(fqn string, ctor handler, methods ...map[string]handler) *model {
	art, ok := contracts.Builtin(fqn)
	if !ok {
		panic("devchain: no builtin artifact for " + fqn)
	}
	parsed, err := art.ParsedABI()
	if err != nil {
		panic(err)
	}

	m := &model{
		name:    fqn,
		abi:     parsed,
		layout:  art.Layout,
		items:   make(map[string]artifacts.StorageItem),
		methods: make(map[string]handler),
		ctor:    ctor,
		receive: parsed.HasReceive(),
	}
	for _, it := range art.Layout.Storage {
		m.items[it.Label] = it
	}
	for _, set := range methods {
		for name, h := range set {
			if _, ok := parsed.Methods[name]; !ok {
				panic(fmt.Sprintf("devchain: %s has no function %s", fqn, name))
			}
			m.methods[name] = h
		}
	}
	return m
}

func (m *model) short() string {
	if _, name, ok := strings.Cut(m.name, ":"); ok {
		return name
	}
	return m.name
}

// registry maps artifacts to models
type registry struct {
	byName map[string]*model
}

func newRegistry() *registry {
	r := &registry{byName: make(map[string]*model)}
	for _, m := range []*model{
		marsModel(false),
		marsModel(true),
		bnbStakeManagerModel(false),
		bnbStakeManagerModel(true),
		bnbStakePoolModel(),
		maticLogicModel(contracts.MaticStakeManagerName),
		maticLogicModel(contracts.MaticStakePoolName),
		factoryModel(),
		erc20Model(),
		lsdTokenModel(),
		proxyModel(),
		timelockModel(),
	} {
		r.byName[m.name] = m
	}
	return r
}

func (r *registry) lookup(name string, addr common.Address) (*model, error) {
	m, ok := r.byName[name]
	if !ok {
		return nil, chain.NewRevert(fmt.Sprintf("lsdctl devchain: no model for code at %s", addr.Hex()))
	}
	return m, nil
}

// forArtifact finds the model for an artifact by fully qualified name, or
// by contract name when exactly one model carries it
func (r *registry) forArtifact(a *artifacts.Artifact) (*model, bool) {
	if m, ok := r.byName[a.FQN()]; ok {
		return m, true
	}
	var found *model
	for _, m := range r.byName {
		if m.short() != a.ContractName {
			continue
		}
		if found != nil {
			return nil, false
		}
		found = m
	}
	return found, found != nil
}

func merge(sets ...map[string]handler) map[string]handler {
	out := make(map[string]handler)
	for _, set := range sets {
		for k, v := range set {
			out[k] = v
		}
	}
	return out
}
