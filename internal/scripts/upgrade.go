package scripts

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lsdlabs/lsdctl/internal/contracts"
	"github.com/lsdlabs/lsdctl/internal/logging"
	"github.com/lsdlabs/lsdctl/internal/timelock"
	"github.com/lsdlabs/lsdctl/internal/upgrades"
	"github.com/lsdlabs/lsdctl/pkg/types"
)

// timelockedUpgrade is the Mars V1 -> V2 rehearsal: a UUPS proxy owned by a
// TimelockController, upgraded by a scheduled operation
type timelockedUpgrade struct {
	prefix   string
	minDelay uint64
	timelock common.Address
	proxy    common.Address
	v2Impl   common.Address
	// reinit is the initializev2 argument and the expected version after execute
	reinit uint8
}

func (u timelockedUpgrade) key(name string) string {
	return u.prefix + "." + name
}

func (u timelockedUpgrade) proposalName() string {
	return u.prefix + "-upgrade-v2"
}

// roles returns deployer, admin, proposer and executor
func (u timelockedUpgrade) roles(env *Env) (deployer, admin, proposer, executor common.Address, err error) {
	if len(env.Accounts) < 4 {
		err = fmt.Errorf("%s scripts need 4 accounts, %d loaded", u.prefix, len(env.Accounts))
		return
	}
	return env.Accounts[0], env.Accounts[1], env.Accounts[2], env.Accounts[3], nil
}

func (u timelockedUpgrade) validate(d *upgrades.Deployer) error {
	report, err := d.ValidateUpgradeByName(contracts.MarsName, contracts.MarsV2Name)
	if err != nil {
		return err
	}
	return report.Err()
}

func (u timelockedUpgrade) deployV1(ctx context.Context, env *Env) error {
	deployer, admin, proposer, executor, err := u.roles(env)
	if err != nil {
		return err
	}
	minDelay, err := env.Uint(u.key("minDelay"), u.minDelay)
	if err != nil {
		return err
	}

	tl, err := contracts.DeployTimelockController(ctx, env.Client, env.Store, deployer, minDelay,
		[]common.Address{proposer}, []common.Address{executor}, admin)
	if err != nil {
		return fmt.Errorf("deploy timelock: %w", err)
	}
	env.Printf("timelock ctl addr: %s", tl.Address.Hex())

	d, err := env.Deployer(0, upgrades.Options{})
	if err != nil {
		return err
	}
	if err := u.validate(d); err != nil {
		return err
	}
	v2, err := d.DeployImplementation(ctx, contracts.MarsV2Name)
	if err != nil {
		return err
	}
	env.Printf("MarsV2 contract addr: %s", v2.Hex())

	dep, err := d.DeployProxy(ctx, contracts.MarsName, []any{"Mars"}, upgrades.ProxyOptions{Kind: types.ProxyKindUUPS})
	if err != nil {
		return err
	}
	mars, err := contracts.NewMars(env.Client, dep.Proxy)
	if err != nil {
		return err
	}
	if _, err := mars.TransferOwnership(ctx, deployer, tl.Address); err != nil {
		return fmt.Errorf("transfer ownership to timelock: %w", err)
	}
	version, err := mars.Version(ctx)
	if err != nil {
		return err
	}
	if version != 1 {
		return fmt.Errorf("Mars proxy reports version %d, expected 1", version)
	}
	env.Printf("Mars proxy addr: %s", dep.Proxy.Hex())
	env.Printf("Mars impl addr: %s", dep.Implementation.Hex())
	env.Printf("Mars version: %d", version)

	for key, addr := range map[string]common.Address{
		"timelock": tl.Address,
		"proxy":    dep.Proxy,
		"v2Impl":   v2,
	} {
		if err := env.Record(u.key(key), addr); err != nil {
			return err
		}
	}
	return nil
}

type upgradeTarget struct {
	timelock common.Address
	proxy    common.Address
	governor *timelock.Governor
}

func (u timelockedUpgrade) attach(ctx context.Context, env *Env) (*upgradeTarget, error) {
	_, _, proposer, executor, err := u.roles(env)
	if err != nil {
		return nil, err
	}
	tlAddr, err := env.Address(u.key("timelock"), u.timelock)
	if err != nil {
		return nil, err
	}
	if err := env.RequireCode(ctx, "timelock", tlAddr); err != nil {
		return nil, err
	}
	proxy, err := env.Address(u.key("proxy"), u.proxy)
	if err != nil {
		return nil, err
	}
	if err := env.RequireCode(ctx, "Mars proxy", proxy); err != nil {
		return nil, err
	}
	gov, err := timelock.NewGovernor(env.Client, tlAddr, timelock.Roles{Proposer: proposer, Executor: executor}, contracts.MarsV2ABI)
	if err != nil {
		return nil, err
	}
	env.Printf("timelock ctl addr: %s", tlAddr.Hex())
	return &upgradeTarget{timelock: tlAddr, proxy: proxy, governor: gov}, nil
}

func (u timelockedUpgrade) operation(env *Env, proxy, impl common.Address) (timelock.Operation, error) {
	initCall, err := contracts.EncodeInitializeV2(u.reinit)
	if err != nil {
		return timelock.Operation{}, err
	}
	salt, err := timelock.Salt(env.String(u.key("salt"), ""))
	if err != nil {
		return timelock.Operation{}, err
	}
	return timelock.UpgradeOperation(proxy, impl, initCall, salt)
}

func (u timelockedUpgrade) propose(ctx context.Context, env *Env) error {
	t, err := u.attach(ctx, env)
	if err != nil {
		return err
	}
	d, err := env.Deployer(0, upgrades.Options{})
	if err != nil {
		return err
	}
	impl, err := d.PrepareUpgrade(ctx, t.proxy, contracts.MarsV2Name)
	if err != nil {
		return err
	}
	if err := env.Record(u.key("v2Impl"), impl); err != nil {
		return err
	}
	env.Printf("MarsV2 contract addr: %s", impl.Hex())

	op, err := u.operation(env, t.proxy, impl)
	if err != nil {
		return err
	}
	delay, err := env.Uint(u.key("delay"), u.minDelay)
	if err != nil {
		return err
	}
	receipt, err := t.governor.Schedule(ctx, op, delay)
	if err != nil {
		return err
	}

	p := timelock.NewProposal(u.proposalName(), t.timelock, op, delay.Uint64())
	p.Description = fmt.Sprintf("upgrade %s to %s", t.proxy.Hex(), impl.Hex())
	p.TxHash = receipt.TxHash.Hex()
	path, err := env.SaveProposal(p)
	if err != nil {
		return err
	}
	st, err := t.governor.Status(ctx, op.ID())
	if err != nil {
		return err
	}
	env.Printf("operation id: %s", op.ID().Hex())
	env.Printf("ready at: %s", st.ReadyAt.Format(time.RFC3339))
	if path != "" {
		env.Printf("proposal saved: %s", path)
	}
	return nil
}

func (u timelockedUpgrade) execute(ctx context.Context, env *Env) error {
	t, err := u.attach(ctx, env)
	if err != nil {
		return err
	}
	d, err := env.Deployer(0, upgrades.Options{})
	if err != nil {
		return err
	}
	if err := u.validate(d); err != nil {
		return err
	}

	var op timelock.Operation
	p, err := env.LoadProposal(u.proposalName())
	if err != nil {
		return err
	}
	if p != nil {
		if op, err = p.Operation(); err != nil {
			return err
		}
		if addr, _ := p.TimelockAddress(); addr != t.timelock {
			return fmt.Errorf("proposal %s targets timelock %s, not %s", p.Name, p.Timelock, t.timelock.Hex())
		}
	} else {
		impl, err := env.Address(u.key("v2Impl"), u.v2Impl)
		if err != nil {
			return err
		}
		if op, err = u.operation(env, t.proxy, impl); err != nil {
			return err
		}
	}
	impl, _, err := upgrades.DecodeUpgradeCall(op.Data)
	if err != nil {
		return err
	}
	env.Printf("MarsV2 contract addr: %s", impl.Hex())

	st, err := t.governor.Status(ctx, op.ID())
	if err != nil {
		return err
	}
	if st.State == types.OperationWaiting {
		if env.Live() {
			poll, err := env.Uint(u.key("pollSeconds"), 15)
			if err != nil {
				return err
			}
			logging.Info("waiting for timelock delay",
				logging.OperationID(op.ID()),
				"ready_at", st.ReadyAt.Format(time.RFC3339),
				logging.Component("scripts"))
			if _, err := t.governor.WaitReady(ctx, op.ID(), time.Duration(poll.Int64())*time.Second); err != nil {
				return err
			}
		} else if _, err := t.governor.FastForward(ctx, op.ID()); err != nil {
			return err
		}
	}
	if _, err := t.governor.Execute(ctx, op); err != nil {
		return err
	}

	marsv2, err := contracts.NewMars(env.Client, t.proxy)
	if err != nil {
		return err
	}
	version, err := marsv2.Version(ctx)
	if err != nil {
		return fmt.Errorf("upgraded proxy does not answer version(): %w", err)
	}
	current, err := marsv2.Implementation(ctx)
	if err != nil {
		return err
	}
	if current != impl {
		return fmt.Errorf("proxy implementation is %s, expected %s", current.Hex(), impl.Hex())
	}
	if version != u.reinit {
		return fmt.Errorf("MarsV2 reports version %d, expected %d", version, u.reinit)
	}
	env.Printf("MarsV2 version: %d", version)
	return nil
}
