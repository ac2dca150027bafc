package scripts

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lsdlabs/lsdctl/internal/logging"
)

// Env is what a script sees: the session, its output and the key=value
// overrides given on the command line
type Env struct {
	*Session
	Out       io.Writer
	overrides map[string]string
}

// NewEnv wraps a session for scripts
func NewEnv(s *Session, out io.Writer, overrides map[string]string) *Env {
	if out == nil {
		out = io.Discard
	}
	if overrides == nil {
		overrides = map[string]string{}
	}
	return &Env{Session: s, Out: out, overrides: overrides}
}

// ParseOverrides parses key=value pairs
func ParseOverrides(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid override %q, expected key=value", kv)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

// Printf writes a line of script output
func (e *Env) Printf(format string, args ...any) {
	fmt.Fprintf(e.Out, format+"\n", args...)
}

// Address resolves key from the overrides, the address book, the network
// config and finally def. A zero def makes the key required.
func (e *Env) Address(key string, def common.Address) (common.Address, error) {
	if raw, ok := e.overrides[key]; ok {
		if !common.IsHexAddress(raw) {
			return common.Address{}, fmt.Errorf("%s: invalid address %q", key, raw)
		}
		return common.HexToAddress(raw), nil
	}
	if e.Book != nil {
		if addr, ok := e.Book.Get(key); ok {
			return addr, nil
		}
	}
	if addr, ok := e.NetConfig.Address(key); ok {
		return addr, nil
	}
	if def == (common.Address{}) {
		return common.Address{}, fmt.Errorf("address %s is not set, pass --set %s=0x...", key, key)
	}
	return def, nil
}

// AccountAddress resolves key like Address, falling back to the i-th signer
func (e *Env) AccountAddress(key string, i int) (common.Address, error) {
	addr, err := e.Address(key, common.Address{})
	if err == nil {
		return addr, nil
	}
	if _, set := e.overrides[key]; set {
		return common.Address{}, err
	}
	acc, aerr := e.Account(i)
	if aerr != nil {
		return common.Address{}, aerr
	}
	logging.Warn("address not set, using signer",
		"key", key,
		"account", i,
		logging.Address(acc),
		logging.Component("scripts"))
	return acc, nil
}

// Uint resolves a numeric parameter
func (e *Env) Uint(key string, def uint64) (*big.Int, error) {
	raw, ok := e.overrides[key]
	if !ok {
		return new(big.Int).SetUint64(def), nil
	}
	v, ok := new(big.Int).SetString(raw, 0)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%s: invalid unsigned integer %q", key, raw)
	}
	return v, nil
}

// String resolves a text parameter
func (e *Env) String(key, def string) string {
	if raw, ok := e.overrides[key]; ok {
		return raw
	}
	return def
}

// Record stores a deployed address in the address book
func (e *Env) Record(key string, addr common.Address) error {
	if e.Book == nil {
		return nil
	}
	if err := e.Book.Set(key, addr); err != nil {
		return fmt.Errorf("record %s: %w", key, err)
	}
	return nil
}

// RequireCode fails when nothing is deployed at addr
func (e *Env) RequireCode(ctx context.Context, what string, addr common.Address) error {
	ok, err := e.HasCode(ctx, addr)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no contract deployed at %s (%s)", addr.Hex(), what)
	}
	return nil
}

// HasCode reports whether addr holds contract code
func (e *Env) HasCode(ctx context.Context, addr common.Address) (bool, error) {
	code, err := e.Client.CodeAt(ctx, addr)
	if err != nil {
		return false, err
	}
	return len(code) > 0, nil
}
