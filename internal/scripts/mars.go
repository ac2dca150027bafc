package scripts

import (
	"github.com/ethereum/go-ethereum/common"
)

// Addresses of the original localhost rehearsal
var mars = timelockedUpgrade{
	prefix:   "mars",
	minDelay: 10,
	timelock: common.HexToAddress("0x7a2088a1bFc9d81c55368AE168C2C02570cB814F"),
	proxy:    common.HexToAddress("0x09635F643e140090A9A8Dcd712eD6285858ceBef"),
	v2Impl:   common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"),
	reinit:   2,
}

func init() {
	Default.MustRegister(
		Script{
			Name:        "mars/deploy-v1",
			Description: "Deploy a timelock and a Mars UUPS proxy owned by it (min delay 10s)",
			Run:         mars.deployV1,
		},
		Script{
			Name:        "mars/propose-upgrade",
			Description: "Deploy MarsV2 and schedule upgradeToAndCall(v2, initializev2(2)) on the timelock",
			Run:         mars.propose,
		},
		Script{
			Name:        "mars/execute-upgrade",
			Description: "Execute the scheduled MarsV2 upgrade and check version 2",
			Run:         mars.execute,
		},
	)
}
