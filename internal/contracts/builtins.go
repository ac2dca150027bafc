package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lsdlabs/lsdctl/internal/artifacts"
)

// Fully qualified names of the contracts lsdctl knows how to drive
const (
	MarsName              = "contracts/Mars.sol:Mars"
	MarsV2Name            = "contracts/MarsV2.sol:MarsV2"
	BnbStakeManagerName   = "contracts/bnb/StakeManager.sol:StakeManager"
	BnbStakeManagerV2Name = "contracts/mock/MockBnbStakeManagerV2.sol:MockBnbStakeManagerV2"
	BnbStakePoolName      = "contracts/bnb/StakePool.sol:StakePool"
	MaticStakeManagerName = "contracts/matic/StakeManager.sol:StakeManager"
	MaticStakePoolName    = "contracts/matic/StakePool.sol:StakePool"
	FactoryName           = "contracts/matic/LsdNetworkFactory.sol:LsdNetworkFactory"
	LsdTokenName          = "contracts/LsdToken.sol:LsdToken"
	ERC20Name             = "@openzeppelin/contracts/token/ERC20/ERC20.sol:ERC20"
	ERC1967ProxyName      = "@openzeppelin/contracts/proxy/ERC1967/ERC1967Proxy.sol:ERC1967Proxy"
	TimelockName          = "@openzeppelin/contracts/governance/TimelockController.sol:TimelockController"
)

// BuiltinFormat marks artifacts synthesized by lsdctl. Their bytecode only
// runs on the devchain.
const BuiltinFormat = "lsdctl-builtin-v1"

// ErrBuiltinOnLiveNetwork is returned when a synthesized artifact would be
// deployed to a real chain
var ErrBuiltinOnLiveNetwork = errors.New("builtin artifact cannot be deployed to a live network; compile the contracts first")

const (
	initializableSrc = "@openzeppelin/contracts-upgradeable/proxy/utils/Initializable.sol:Initializable"
	contextSrc       = "@openzeppelin/contracts-upgradeable/utils/ContextUpgradeable.sol:ContextUpgradeable"
	ownableSrc       = "@openzeppelin/contracts-upgradeable/access/OwnableUpgradeable.sol:OwnableUpgradeable"
	erc1967Src       = "@openzeppelin/contracts-upgradeable/proxy/ERC1967/ERC1967UpgradeUpgradeable.sol:ERC1967UpgradeUpgradeable"
	uupsSrc          = "@openzeppelin/contracts-upgradeable/proxy/utils/UUPSUpgradeable.sol:UUPSUpgradeable"
	accessSrc        = "@openzeppelin/contracts/access/AccessControl.sol:AccessControl"
)

const (
	tUint8     = "t_uint8"
	tBool      = "t_bool"
	tAddress   = "t_address"
	tUint256   = "t_uint256"
	tBytes32   = "t_bytes32"
	tString    = "t_string_storage"
	tAddresses = "t_array(t_address)dyn_storage"
	tRoleData  = "t_struct(RoleData)6_storage"
)

func tGap(n int) string {
	return fmt.Sprintf("t_array(t_uint256)%d_storage", n)
}

func tMapping(key, value string) string {
	return "t_mapping(" + key + "," + value + ")"
}

var typeLabels = map[string]string{
	tUint8:   "uint8",
	tBool:    "bool",
	tAddress: "address",
	tUint256: "uint256",
	tBytes32: "bytes32",
}

// typeInfo describes the solc storage types used by the builtin layouts
func typeInfo(id string) artifacts.TypeInfo {
	if label, ok := typeLabels[id]; ok {
		size := "32"
		switch id {
		case tUint8, tBool:
			size = "1"
		case tAddress:
			size = "20"
		}
		return artifacts.TypeInfo{Encoding: "inplace", Label: label, NumberOfBytes: size}
	}
	switch {
	case id == tString:
		return artifacts.TypeInfo{Encoding: "bytes", Label: "string", NumberOfBytes: "32"}
	case id == tAddresses:
		return artifacts.TypeInfo{Encoding: "dynamic_array", Label: "address[]", NumberOfBytes: "32", Base: tAddress}
	case id == tRoleData:
		return artifacts.TypeInfo{
			Encoding:      "inplace",
			Label:         "struct AccessControl.RoleData",
			NumberOfBytes: "64",
			Members: []artifacts.StorageItem{
				{AstID: 3, Contract: accessSrc, Label: "members", Slot: "0", Type: tMapping(tAddress, tBool)},
				{AstID: 5, Contract: accessSrc, Label: "adminRole", Slot: "1", Type: tBytes32},
			},
		}
	case strings.HasPrefix(id, "t_array(t_uint256)"):
		n := artifacts.ArrayLength(id)
		return artifacts.TypeInfo{Encoding: "inplace", Label: fmt.Sprintf("uint256[%d]", n), NumberOfBytes: fmt.Sprint(32 * n), Base: tUint256}
	case strings.HasPrefix(id, "t_mapping("):
		inner := strings.TrimSuffix(strings.TrimPrefix(id, "t_mapping("), ")")
		key, value, _ := strings.Cut(inner, ",")
		return artifacts.TypeInfo{
			Encoding:      "mapping",
			Label:         fmt.Sprintf("mapping(%s => %s)", typeInfo(key).Label, typeInfo(value).Label),
			NumberOfBytes: "32",
			Key:           key,
			Value:         value,
		}
	}
	return artifacts.TypeInfo{Encoding: "inplace", Label: id, NumberOfBytes: "32"}
}

// layoutBuilder assembles a solc style storage layout
type layoutBuilder struct {
	layout *artifacts.StorageLayout
	astID  int
}

func newLayout() *layoutBuilder {
	return &layoutBuilder{
		layout: &artifacts.StorageLayout{Types: make(map[string]artifacts.TypeInfo)},
		astID:  100,
	}
}

func (b *layoutBuilder) at(slot, offset int, contract, label, typeID string) *layoutBuilder {
	b.astID++
	b.layout.Storage = append(b.layout.Storage, artifacts.StorageItem{
		AstID:    b.astID,
		Contract: contract,
		Label:    label,
		Offset:   offset,
		Slot:     fmt.Sprint(slot),
		Type:     typeID,
	})
	b.addType(typeID)
	return b
}

func (b *layoutBuilder) addType(id string) {
	if id == "" {
		return
	}
	if _, ok := b.layout.Types[id]; ok {
		return
	}
	t := typeInfo(id)
	b.layout.Types[id] = t
	b.addType(t.Key)
	b.addType(t.Value)
	b.addType(t.Base)
	for _, m := range t.Members {
		b.addType(m.Type)
	}
}

// initializable places the Initializable flags packed into slot 0
func (b *layoutBuilder) initializable() *layoutBuilder {
	return b.at(0, 0, initializableSrc, "_initialized", tUint8).
		at(0, 1, initializableSrc, "_initializing", tBool)
}

// uups places the ERC1967Upgrade and UUPSUpgradeable gaps starting at slot
func (b *layoutBuilder) uups(slot int) *layoutBuilder {
	return b.at(slot, 0, erc1967Src, "__gap", tGap(50)).
		at(slot+50, 0, uupsSrc, "__gap", tGap(50))
}

func (b *layoutBuilder) build() *artifacts.StorageLayout {
	return b.layout
}

func marsLayout(contract string) *artifacts.StorageLayout {
	return newLayout().initializable().
		at(1, 0, contextSrc, "__gap", tGap(50)).
		at(51, 0, ownableSrc, "_owner", tAddress).
		at(52, 0, ownableSrc, "__gap", tGap(49)).
		uups(101).
		at(201, 0, contract, "name", tString).
		build()
}

func bnbStakeManagerLayout(v2 bool) *artifacts.StorageLayout {
	const src = BnbStakeManagerName
	b := newLayout().initializable().uups(1).
		at(101, 0, src, "_owner", tAddress).
		at(102, 0, src, "lsdToken", tAddress).
		at(103, 0, src, "bondedPools", tAddresses).
		at(104, 0, src, "eraSeconds", tUint256).
		at(105, 0, src, "protocolFeeCommission", tUint256).
		at(106, 0, src, "voters", tAddresses).
		at(107, 0, src, "threshold", tUint256).
		at(108, 0, src, "validatorsOf", tMapping(tAddress, tAddresses))
	if !v2 {
		return b.at(109, 0, src, "__gap", tGap(41)).build()
	}
	return b.at(109, 0, BnbStakeManagerV2Name, "v2var", tString).
		at(110, 0, BnbStakeManagerV2Name, "__gap", tGap(40)).
		build()
}

func bnbStakePoolLayout() *artifacts.StorageLayout {
	const src = BnbStakePoolName
	return newLayout().initializable().uups(1).
		at(101, 0, src, "_owner", tAddress).
		at(102, 0, src, "stakeManagerAddress", tAddress).
		at(103, 0, src, "govStaking", tAddress).
		at(104, 0, src, "__gap", tGap(47)).
		build()
}

func maticStakeManagerLayout() *artifacts.StorageLayout {
	const src = MaticStakeManagerName
	return newLayout().initializable().uups(1).
		at(101, 0, src, "_owner", tAddress).
		at(102, 0, src, "lsdToken", tAddress).
		at(103, 0, src, "stakeTokenAddress", tAddress).
		at(104, 0, src, "govStakeManagerAddress", tAddress).
		at(105, 0, src, "eraSeconds", tUint256).
		at(106, 0, src, "__gap", tGap(45)).
		build()
}

func maticStakePoolLayout() *artifacts.StorageLayout {
	const src = MaticStakePoolName
	return newLayout().initializable().uups(1).
		at(101, 0, src, "_owner", tAddress).
		at(102, 0, src, "stakeManagerAddress", tAddress).
		at(103, 0, src, "govStakeManagerAddress", tAddress).
		at(104, 0, src, "__gap", tGap(47)).
		build()
}

func factoryLayout() *artifacts.StorageLayout {
	const src = FactoryName
	return newLayout().initializable().uups(1).
		at(101, 0, src, "factoryAdmin", tAddress).
		at(102, 0, src, "govStakeManagerAddress", tAddress).
		at(103, 0, src, "validatorShareAddress", tAddress).
		at(104, 0, src, "stakeTokenAddress", tAddress).
		at(105, 0, src, "stakeManagerLogicAddress", tAddress).
		at(106, 0, src, "stakePoolLogicAddress", tAddress).
		at(107, 0, src, "__gap", tGap(44)).
		build()
}

func erc20Layout(lsd bool) *artifacts.StorageLayout {
	const src = ERC20Name
	b := newLayout().
		at(0, 0, src, "_balances", tMapping(tAddress, tUint256)).
		at(1, 0, src, "_allowances", tMapping(tAddress, tMapping(tAddress, tUint256))).
		at(2, 0, src, "_totalSupply", tUint256).
		at(3, 0, src, "_name", tString).
		at(4, 0, src, "_symbol", tString)
	if lsd {
		b.at(5, 0, LsdTokenName, "minter", tAddress)
	}
	return b.build()
}

func timelockLayout() *artifacts.StorageLayout {
	return newLayout().
		at(0, 0, accessSrc, "_roles", tMapping(tBytes32, tRoleData)).
		at(1, 0, TimelockName, "_timestamps", tMapping(tBytes32, tUint256)).
		at(2, 0, TimelockName, "_minDelay", tUint256).
		build()
}

func proxyLayout() *artifacts.StorageLayout {
	return newLayout().build()
}

type builtinSpec struct {
	fqn    string
	abi    string
	layout func() *artifacts.StorageLayout
}

var builtinDefs = []builtinSpec{
	{MarsName, MarsJSON, func() *artifacts.StorageLayout { return marsLayout(MarsName) }},
	{MarsV2Name, MarsV2JSON, func() *artifacts.StorageLayout { return marsLayout(MarsV2Name) }},
	{BnbStakeManagerName, BnbStakeManagerJSON, func() *artifacts.StorageLayout { return bnbStakeManagerLayout(false) }},
	{BnbStakeManagerV2Name, BnbStakeManagerV2JSON, func() *artifacts.StorageLayout { return bnbStakeManagerLayout(true) }},
	{BnbStakePoolName, BnbStakePoolJSON, bnbStakePoolLayout},
	{MaticStakeManagerName, MaticStakeManagerJSON, maticStakeManagerLayout},
	{MaticStakePoolName, MaticStakePoolJSON, maticStakePoolLayout},
	{FactoryName, FactoryJSON, factoryLayout},
	{LsdTokenName, LsdTokenJSON, func() *artifacts.StorageLayout { return erc20Layout(true) }},
	{ERC20Name, ERC20JSON, func() *artifacts.StorageLayout { return erc20Layout(false) }},
	{ERC1967ProxyName, ERC1967ProxyJSON, proxyLayout},
	{TimelockName, TimelockJSON, timelockLayout},
}

// syntheticCode derives a unique code blob per contract and kind. It begins
// with the usual solc free memory pointer preamble.
func syntheticCode(kind, fqn string) string {
	return "0x6080604052" + hexutil.Encode(crypto.Keccak256([]byte("lsdctl:"+kind+":"+fqn)))[2:]
}

// Builtins returns fresh artifacts for every contract lsdctl models.
// They carry their own storage layout and synthesized bytecode.
func Builtins() []*artifacts.Artifact {
	out := make([]*artifacts.Artifact, 0, len(builtinDefs))
	for _, def := range builtinDefs {
		source, name, _ := strings.Cut(def.fqn, ":")
		out = append(out, &artifacts.Artifact{
			Format:           BuiltinFormat,
			ContractName:     name,
			SourceName:       source,
			ABI:              json.RawMessage(def.abi),
			Bytecode:         syntheticCode("creation", def.fqn),
			DeployedBytecode: syntheticCode("runtime", def.fqn),
			Layout:           def.layout(),
		})
	}
	return out
}

// Builtin returns the builtin artifact for a fully qualified name
func Builtin(fqn string) (*artifacts.Artifact, bool) {
	for _, a := range Builtins() {
		if a.FQN() == fqn {
			return a, true
		}
	}
	return nil, false
}

// RegisterBuiltins adds the builtin artifacts that are not already present
// in the store, so compiled artifacts on disk take precedence.
func RegisterBuiltins(store *artifacts.Store) int {
	n := 0
	for _, a := range Builtins() {
		if _, err := store.Get(a.FQN()); err == nil {
			continue
		}
		store.Register(a)
		n++
	}
	return n
}

// IsBuiltin reports whether an artifact was synthesized by lsdctl
func IsBuiltin(a *artifacts.Artifact) bool {
	return a != nil && a.Format == BuiltinFormat
}
