package contracts

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lsdlabs/lsdctl/internal/artifacts"
)

func slotHash(label string) common.Hash {
	h := crypto.Keccak256Hash([]byte(label)).Big()
	return common.BigToHash(h.Sub(h, big.NewInt(1)))
}

func TestERC1967Slots(t *testing.T) {
	if got := slotHash("eip1967.proxy.implementation"); got != ImplementationSlot {
		t.Errorf("implementation slot: got %s", got.Hex())
	}
	if got := slotHash("eip1967.proxy.admin"); got != AdminSlot {
		t.Errorf("admin slot: got %s", got.Hex())
	}
	if got := slotHash("eip1967.proxy.rollback"); got != RollbackSlot {
		t.Errorf("rollback slot: got %s", got.Hex())
	}
}

func TestRoles(t *testing.T) {
	tests := []struct {
		role common.Hash
		want string
	}{
		{TimelockAdminRole, "0x5f58e3a2316349923ce3780f8d587db2d72378aed66a8261c916544fa6846ca5"},
		{ProposerRole, "0xb09aa5aeb3702cfd50b6b62bc4532604938f21248a27a1d5ca736082b6819cc1"},
		{ExecutorRole, "0xd8aa0f3194971a2a116679f7c2090f6939c8d4e01a2a8d7e41d55e5351469e63"},
		{CancellerRole, "0xfd643c72710c63c0180259aba6b2d05451e3591a24e58b62239378085726f783"},
	}
	for _, tt := range tests {
		if tt.role.Hex() != tt.want {
			t.Errorf("%s: got %s, want %s", RoleName(tt.role), tt.role.Hex(), tt.want)
		}
	}
	if RoleName(common.HexToHash("0x01")) != common.HexToHash("0x01").Hex() {
		t.Error("unknown roles should render as hex")
	}
}

func TestSelectors(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{"upgradeTo", "3659cfe6"},
		{"upgradeToAndCall", "4f1ef286"},
		{"proxiableUUID", "52d1902d"},
		{"owner", "8da5cb5b"},
		{"transferOwnership", "f2fde38b"},
	}
	for _, tt := range tests {
		m, ok := UpgradeableABI.Methods[tt.method]
		if !ok {
			t.Fatalf("method %s missing", tt.method)
		}
		if got := hex.EncodeToString(m.ID); got != tt.want {
			t.Errorf("%s selector: got %s, want %s", tt.method, got, tt.want)
		}
	}

	notOwner := BnbStakeManagerABI.Errors["NotOwner"]
	if hex.EncodeToString(notOwner.ID[:4]) != hex.EncodeToString(crypto.Keccak256([]byte("NotOwner()"))[:4]) {
		t.Error("NotOwner selector mismatch")
	}
	if _, ok := FactoryABI.Errors["NotFactoryAdmin"]; !ok {
		t.Error("factory abi should declare NotFactoryAdmin")
	}
}

func TestEncodeUpgradeCalls(t *testing.T) {
	impl := common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")

	plain, err := EncodeUpgradeTo(impl)
	if err != nil {
		t.Fatalf("EncodeUpgradeTo failed: %v", err)
	}
	if len(plain) != 4+32 {
		t.Errorf("upgradeTo calldata length: got %d", len(plain))
	}

	initData, err := EncodeInitializeV2(2)
	if err != nil {
		t.Fatalf("EncodeInitializeV2 failed: %v", err)
	}
	withCall, err := EncodeUpgradeToAndCall(impl, initData)
	if err != nil {
		t.Fatalf("EncodeUpgradeToAndCall failed: %v", err)
	}
	args, err := UpgradeableABI.Methods["upgradeToAndCall"].Inputs.Unpack(withCall[4:])
	if err != nil {
		t.Fatalf("unpack failed: %v", err)
	}
	if args[0].(common.Address) != impl {
		t.Errorf("impl: got %v", args[0])
	}
	if hex.EncodeToString(args[1].([]byte)) != hex.EncodeToString(initData) {
		t.Error("nested call data should round trip")
	}
}

func TestBuiltins(t *testing.T) {
	seen := make(map[string]string)
	for _, a := range Builtins() {
		if !IsBuiltin(a) {
			t.Errorf("%s: not marked builtin", a.FQN())
		}
		if _, err := a.ParsedABI(); err != nil {
			t.Errorf("%s: abi: %v", a.FQN(), err)
		}
		code, err := a.CreationCode()
		if err != nil || len(code) == 0 {
			t.Errorf("%s: creation code: %v", a.FQN(), err)
		}
		if other, dup := seen[a.Bytecode]; dup {
			t.Errorf("%s shares creation code with %s", a.FQN(), other)
		}
		seen[a.Bytecode] = a.FQN()
		if a.Layout == nil {
			t.Errorf("%s: no layout", a.FQN())
		}
	}
	if len(seen) != len(builtinDefs) {
		t.Errorf("got %d builtins, want %d", len(seen), len(builtinDefs))
	}
}

func findItem(l *artifacts.StorageLayout, label string) (artifacts.StorageItem, bool) {
	for i := len(l.Storage) - 1; i >= 0; i-- {
		if l.Storage[i].Label == label {
			return l.Storage[i], true
		}
	}
	return artifacts.StorageItem{}, false
}

func TestBuiltinLayouts(t *testing.T) {
	mars, _ := Builtin(MarsName)
	name, ok := findItem(mars.Layout, "name")
	if !ok || name.Slot != "201" || name.Type != "t_string_storage" {
		t.Errorf("Mars name: got %+v", name)
	}
	owner, _ := findItem(mars.Layout, "_owner")
	if owner.Slot != "51" {
		t.Errorf("Mars _owner slot: got %s", owner.Slot)
	}
	if mars.Layout.Size("t_array(t_uint256)49_storage") != 49*32 {
		t.Error("gap type size should be registered")
	}

	v1, _ := Builtin(BnbStakeManagerName)
	v2, _ := Builtin(BnbStakeManagerV2Name)
	gap1, _ := findItem(v1.Layout, "__gap")
	gap2, _ := findItem(v2.Layout, "__gap")
	if gap1.Slot != "109" || artifacts.ArrayLength(gap1.Type) != 41 {
		t.Errorf("V1 gap: got %+v", gap1)
	}
	if gap2.Slot != "110" || artifacts.ArrayLength(gap2.Type) != 40 {
		t.Errorf("V2 gap: got %+v", gap2)
	}

	tl, _ := Builtin(TimelockName)
	roles, _ := findItem(tl.Layout, "_roles")
	info := tl.Layout.Types[roles.Type]
	if info.Encoding != "mapping" || info.Value != "t_struct(RoleData)6_storage" {
		t.Errorf("_roles type: got %+v", info)
	}
	if _, ok := tl.Layout.Types["t_mapping(t_address,t_bool)"]; !ok {
		t.Error("struct member types should be registered")
	}
}

func TestRegisterBuiltins(t *testing.T) {
	store := artifacts.NewStore("")
	custom := &artifacts.Artifact{
		ContractName: "Mars",
		SourceName:   "contracts/Mars.sol",
		ABI:          []byte(MarsJSON),
		Bytecode:     "0x6080",
	}
	store.Register(custom)

	n := RegisterBuiltins(store)
	if n != len(builtinDefs)-1 {
		t.Errorf("registered %d, want %d", n, len(builtinDefs)-1)
	}
	got, err := store.Get("Mars")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != custom {
		t.Error("existing artifacts should win over builtins")
	}
	if _, err := store.Get("StakeManager"); err == nil {
		t.Error("bare StakeManager should be ambiguous between bnb and matic")
	}
	if _, err := store.Get(BnbStakeManagerName); err != nil {
		t.Errorf("fully qualified lookup failed: %v", err)
	}
}
