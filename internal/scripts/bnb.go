package scripts

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/lsdlabs/lsdctl/internal/chain"
	"github.com/lsdlabs/lsdctl/internal/contracts"
	"github.com/lsdlabs/lsdctl/internal/upgrades"
)

// BSC testnet deployment of the BNB LSD network
var (
	bnbStakeManagerLogic = common.HexToAddress("0xE27Df917b7557f0B427c768e90819D1e6Db70F1E")
	bnbStakePoolLogic    = common.HexToAddress("0x3C5EA15f6e702FcC0351605b867E9ff33E1fd6BF")
	bnbLsdToken          = common.HexToAddress("0x97813c834c4a601CF13Cf969401E91fDAb917c44")
	bnbStakeManagerProxy = common.HexToAddress("0x5e44EFdb2F1D7b1bcaA34d622F8945786cBAdE43")
	bnbStakePoolProxy    = common.HexToAddress("0xb9F68498237Cc0ebD655fD9E9D7Dd6D78aB27FE4")
	bnbValidator         = common.HexToAddress("0x0cDcE3d8D17c0553270064cEe95C73F17534d5A0")
)

// withdraw value probed by bnb/deploy-testnet, in wei
const bnbProbeWithdraw = 16000000000000000

func init() {
	Default.MustRegister(
		Script{
			Name:        "bnb/deploy-testnet",
			Description: "Initialize the BNB StakeManager and StakePool proxies and probe withdraw()",
			Run:         bnbDeployTestnet,
		},
		Script{
			Name:        "bnb/deploy-proxies",
			Description: "Deploy ERC1967 proxies for the BNB StakeManager and StakePool logic",
			Run:         bnbDeployProxies,
		},
		Script{
			Name:        "bnb/upgrade-manager",
			Description: "Upgrade the BNB StakeManager proxy to the current StakeManager artifact",
			Run:         bnbUpgradeManager,
		},
	)
}

func printReceipt(env *Env, r *gtypes.Receipt) {
	env.Printf("  tx %s block %s gas %d status %d", r.TxHash.Hex(), r.BlockNumber, r.GasUsed, r.Status)
}

func bnbDeployTestnet(ctx context.Context, env *Env) error {
	if len(env.Accounts) < 5 {
		return fmt.Errorf("bnb/deploy-testnet needs 5 accounts (deployer, admin, 3 voters), %d loaded", len(env.Accounts))
	}
	env.Printf("Retrieving accounts...")
	shown := env.Accounts
	if len(shown) > 10 {
		shown = shown[:10]
	}
	for _, a := range shown {
		env.Printf("%s", a.Hex())
	}
	deployer, admin := env.Accounts[0], env.Accounts[1]
	voters := []common.Address{env.Accounts[2], env.Accounts[3], env.Accounts[4]}

	tokenAddr, err := env.Address("bnb.lsdToken", bnbLsdToken)
	if err != nil {
		return err
	}
	managerAddr, err := env.Address("bnb.stakeManagerProxy", bnbStakeManagerProxy)
	if err != nil {
		return err
	}
	poolAddr, err := env.Address("bnb.stakePoolProxy", bnbStakePoolProxy)
	if err != nil {
		return err
	}
	validator, err := env.Address("bnb.validator", bnbValidator)
	if err != nil {
		return err
	}
	govStaking, err := env.Address("bnb.govStaking", contracts.BnbGovStaking)
	if err != nil {
		return err
	}
	for what, addr := range map[string]common.Address{
		"LsdToken":     tokenAddr,
		"StakeManager": managerAddr,
		"StakePool":    poolAddr,
	} {
		if err := env.RequireCode(ctx, what, addr); err != nil {
			return err
		}
	}

	token, err := contracts.NewLsdToken(env.Client, tokenAddr)
	if err != nil {
		return err
	}
	env.Printf("lsd token: %s", tokenAddr.Hex())
	manager, err := contracts.NewBnbStakeManager(env.Client, managerAddr)
	if err != nil {
		return err
	}
	env.Printf("manager proxy: %s", managerAddr.Hex())
	pool, err := contracts.NewBnbStakePool(env.Client, poolAddr)
	if err != nil {
		return err
	}
	env.Printf("pool proxy: %s", poolAddr.Hex())

	threshold, err := env.Uint("bnb.threshold", 2)
	if err != nil {
		return err
	}
	version, err := manager.Version(ctx)
	if err != nil {
		return err
	}
	env.Printf("StakeManager version: %d", version)
	if version == 0 {
		env.Printf("Initializing StakeManager...")
		r, err := manager.Initialize(ctx, deployer, voters, threshold, tokenAddr, poolAddr, validator, admin)
		if err != nil {
			return fmt.Errorf("initialize StakeManager: %w", err)
		}
		printReceipt(env, r)
		if version, err = manager.Version(ctx); err != nil {
			return err
		}
		env.Printf("StakeManager version: %d", version)
	}

	version, err = pool.Version(ctx)
	if err != nil {
		return err
	}
	env.Printf("StakePool version: %d", version)
	if version == 0 {
		env.Printf("Initializing StakePool...")
		r, err := pool.Initialize(ctx, deployer, govStaking, managerAddr, admin)
		if err != nil {
			return fmt.Errorf("initialize StakePool: %w", err)
		}
		printReceipt(env, r)
		if version, err = pool.Version(ctx); err != nil {
			return err
		}
		env.Printf("StakePool version: %d", version)
	}

	balance, err := token.BalanceOf(ctx, deployer)
	if err != nil {
		return err
	}
	env.Printf("deployer lsd balance: %s", balance)

	value, err := env.Uint("bnb.withdrawValue", bnbProbeWithdraw)
	if err != nil {
		return err
	}
	err = manager.WithdrawStatic(ctx, deployer, value)
	if err == nil {
		env.Printf("withdraw() with %s wei would succeed", value)
		return nil
	}
	re, ok := chain.AsRevert(err, manager.ABI, contracts.StakeOwnerErrorsABI)
	if !ok {
		return fmt.Errorf("withdraw static call: %w", err)
	}
	env.Printf("withdraw() reverts: %s", re.Reason)
	if re.Name != "" {
		env.Printf("revert data: %x", re.Data)
		env.Printf("decoded error: %s", re.Signature())
	}
	return nil
}

func bnbDeployProxies(ctx context.Context, env *Env) error {
	deployer, err := env.Account(0)
	if err != nil {
		return err
	}
	d, err := env.Deployer(0, upgrades.Options{})
	if err != nil {
		return err
	}

	logic := func(key, name string, def common.Address) (common.Address, error) {
		addr, err := env.Address(key, def)
		if err != nil {
			return common.Address{}, err
		}
		ok, err := env.HasCode(ctx, addr)
		if err != nil || ok {
			return addr, err
		}
		if env.Live() {
			return common.Address{}, fmt.Errorf("no %s logic at %s", name, addr.Hex())
		}
		// dev networks start empty, so bring the logic up first
		if addr, err = d.DeployImplementation(ctx, name); err != nil {
			return common.Address{}, err
		}
		return addr, env.Record(key, addr)
	}
	managerLogic, err := logic("bnb.stakeManagerLogic", contracts.BnbStakeManagerName, bnbStakeManagerLogic)
	if err != nil {
		return err
	}
	poolLogic, err := logic("bnb.stakePoolLogic", contracts.BnbStakePoolName, bnbStakePoolLogic)
	if err != nil {
		return err
	}

	managerProxy, _, err := contracts.DeployERC1967Proxy(ctx, env.Client, env.Store, deployer, managerLogic, nil)
	if err != nil {
		return fmt.Errorf("deploy manager proxy: %w", err)
	}
	env.Printf("manager proxy: %s", managerProxy.Hex())
	poolProxy, _, err := contracts.DeployERC1967Proxy(ctx, env.Client, env.Store, deployer, poolLogic, nil)
	if err != nil {
		return fmt.Errorf("deploy pool proxy: %w", err)
	}
	env.Printf("pool proxy: %s", poolProxy.Hex())
	if err := env.Record("bnb.stakeManagerProxy", managerProxy); err != nil {
		return err
	}
	if err := env.Record("bnb.stakePoolProxy", poolProxy); err != nil {
		return err
	}

	if env.Live() {
		return nil
	}
	tokenAddr, err := env.Address("bnb.lsdToken", bnbLsdToken)
	if err != nil {
		return err
	}
	ok, err := env.HasCode(ctx, tokenAddr)
	if err != nil || ok {
		return err
	}
	token, err := contracts.DeployLsdToken(ctx, env.Client, env.Store, deployer, managerProxy,
		env.String("bnb.lsdTokenName", "Liquid Staking BNB"), env.String("bnb.lsdTokenSymbol", "lsdBNB"))
	if err != nil {
		return fmt.Errorf("deploy lsd token: %w", err)
	}
	env.Printf("lsd token: %s", token.Address.Hex())
	return env.Record("bnb.lsdToken", token.Address)
}

func bnbUpgradeManager(ctx context.Context, env *Env) error {
	proxy, err := env.Address("bnb.stakeManagerProxy", bnbStakeManagerProxy)
	if err != nil {
		return err
	}
	if err := env.RequireCode(ctx, "StakeManager proxy", proxy); err != nil {
		return err
	}
	// the proxies are owned by the admin account that initialize set
	from, err := env.AccountAddress("bnb.upgrader", 1)
	if err != nil {
		return err
	}
	name := env.String("bnb.managerArtifact", contracts.BnbStakeManagerName)

	opts := upgrades.UpgradeOptions{From: from}
	if v2var := env.String("bnb.v2var", ""); v2var != "" {
		commission, err := env.Uint("bnb.protocolFeeCommission", 0)
		if err != nil {
			return err
		}
		if opts.Call, err = contracts.EncodeInitV2(v2var, commission); err != nil {
			return err
		}
	}

	d, err := env.Deployer(0, upgrades.Options{})
	if err != nil {
		return err
	}
	res, err := d.UpgradeProxy(ctx, proxy, name, opts)
	if err != nil {
		return err
	}
	manager, err := contracts.NewBnbStakeManager(env.Client, proxy)
	if err != nil {
		return err
	}
	version, err := manager.Version(ctx)
	if err != nil {
		return err
	}
	env.Printf("manager proxy: %s", proxy.Hex())
	env.Printf("new implementation: %s", res.Implementation.Hex())
	printReceipt(env, res.Receipt)
	env.Printf("StakeManager version: %d", version)
	return nil
}
