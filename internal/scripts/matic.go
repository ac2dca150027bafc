package scripts

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lsdlabs/lsdctl/internal/contracts"
	"github.com/lsdlabs/lsdctl/internal/upgrades"
	"github.com/lsdlabs/lsdctl/pkg/types"
)

var matic = timelockedUpgrade{
	prefix:   "matic",
	minDelay: 100,
	timelock: common.HexToAddress("0x2279B7A0a67DB372996a5FaB50D91eAA73d2eBe6"),
	proxy:    common.HexToAddress("0x8A791620dd6260079BF849Dc5567aDC3F2FdC318"),
	v2Impl:   common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"),
	reinit:   2,
}

func init() {
	Default.MustRegister(
		Script{
			Name:        "matic/deploy-v1",
			Description: "Deploy a timelock and a Mars UUPS proxy owned by it (min delay 100s)",
			Run:         matic.deployV1,
		},
		Script{
			Name:        "matic/propose-upgrade",
			Description: "Deploy MarsV2 and schedule upgradeToAndCall(v2, initializev2(2)) on the timelock",
			Run:         matic.propose,
		},
		Script{
			Name:        "matic/execute-upgrade",
			Description: "Execute the scheduled MarsV2 upgrade and check version 2",
			Run:         matic.execute,
		},
		Script{
			Name:        "matic/deploy-factory",
			Description: "Deploy Matic StakeManager/StakePool logic and the LsdNetworkFactory proxy",
			Run:         deployFactory,
		},
	)
}

func deployFactory(ctx context.Context, env *Env) error {
	deployer, err := env.Account(0)
	if err != nil {
		return err
	}
	admin, err := env.AccountAddress("matic.factoryAdmin", 1)
	if err != nil {
		return err
	}
	govStakeManager, err := env.Address("matic.govStakeManager", contracts.MaticGovStakeManager)
	if err != nil {
		return err
	}
	validatorShare, err := env.Address("matic.validatorShare", contracts.MaticValidatorShare)
	if err != nil {
		return err
	}

	stakeToken, err := env.Address("matic.stakeToken", common.Address{})
	if err != nil {
		token, derr := contracts.DeployERC20(ctx, env.Client, env.Store, deployer, "Dummy Token", "DMTK")
		if derr != nil {
			return fmt.Errorf("deploy dummy stake token: %w", derr)
		}
		stakeToken = token.Address
		env.Printf("dummy stake token addr: %s", stakeToken.Hex())
		if err := env.Record("matic.stakeToken", stakeToken); err != nil {
			return err
		}
	}

	d, err := env.Deployer(0, upgrades.Options{})
	if err != nil {
		return err
	}
	managerLogic, err := d.DeployImplementation(ctx, contracts.MaticStakeManagerName)
	if err != nil {
		return err
	}
	poolLogic, err := d.DeployImplementation(ctx, contracts.MaticStakePoolName)
	if err != nil {
		return err
	}
	env.Printf("stake manager logic addr: %s", managerLogic.Hex())
	env.Printf("stake pool logic addr: %s", poolLogic.Hex())

	initArgs := contracts.FactoryInit{
		FactoryAdmin:      admin,
		GovStakeManager:   govStakeManager,
		ValidatorShare:    validatorShare,
		StakeToken:        stakeToken,
		StakeManagerLogic: managerLogic,
		StakePoolLogic:    poolLogic,
	}
	dep, err := d.DeployProxy(ctx, contracts.FactoryName, initArgs.Args(), upgrades.ProxyOptions{Kind: types.ProxyKindUUPS})
	if err != nil {
		return err
	}
	factory, err := contracts.NewLsdNetworkFactory(env.Client, dep.Proxy)
	if err != nil {
		return err
	}
	got, err := factory.FactoryAdmin(ctx)
	if err != nil {
		return err
	}
	env.Printf("LsdNetworkFactory proxy addr: %s", dep.Proxy.Hex())
	env.Printf("LsdNetworkFactory impl addr: %s", dep.Implementation.Hex())
	env.Printf("factoryAdmin: %s", got.Hex())

	for key, addr := range map[string]common.Address{
		"matic.factory":           dep.Proxy,
		"matic.stakeManagerLogic": managerLogic,
		"matic.stakePoolLogic":    poolLogic,
	} {
		if err := env.Record(key, addr); err != nil {
			return err
		}
	}
	return nil
}
