package scripts

import (
	"context"
	"fmt"
	"time"

	"github.com/lsdlabs/lsdctl/internal/logging"
)

// Run executes the named scripts in order on one environment, stopping at
// the first failure. Later scripts see the addresses earlier ones recorded.
func (r *Registry) Run(ctx context.Context, env *Env, names ...string) error {
	scripts := make([]Script, 0, len(names))
	for _, name := range names {
		s, err := r.Get(name)
		if err != nil {
			return err
		}
		scripts = append(scripts, s)
	}

	for _, s := range scripts {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		logging.Info("running script",
			"script", s.Name,
			logging.Network(env.Network),
			logging.Component("scripts"))

		err := s.Run(ctx, env)
		event := logging.AuditEvent{
			Operation: "script_run",
			Network:   env.Network,
			Target:    s.Name,
			Result:    "success",
			Details:   time.Since(start).Round(time.Millisecond).String(),
		}
		if err != nil {
			event.Result = "failure"
		}
		logging.Audit(event)

		if err != nil {
			logging.Error("script failed",
				"script", s.Name,
				logging.Err(err),
				logging.Component("scripts"))
			return fmt.Errorf("script %s: %w", s.Name, err)
		}
		logging.Info("script finished",
			"script", s.Name,
			"duration", time.Since(start).Round(time.Millisecond).String(),
			logging.Component("scripts"))
	}
	return nil
}
