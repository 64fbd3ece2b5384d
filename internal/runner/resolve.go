package runner

import (
	"fmt"
	"time"

	"cvrpbc/internal/config"
	"cvrpbc/internal/cvrp"
	"cvrpbc/internal/model"
)

// Tenant solver config keys. Values arrive JSON-decoded.
const (
	KeyTimeLimitSec         = "timeLimitSec"
	KeyLazyConstraints      = "lazyConstraints"
	KeyCutBound             = "cutBound"
	KeySingleCustomerRoutes = "singleCustomerRoutes"
	KeyWarmStart            = "warmStart"
	KeyWarmStartBudgetMs    = "warmStartBudgetMs"
	KeyMaxNodes             = "maxNodes"
)

// Defaults renders the service defaults in tenant config form.
func Defaults(d config.SolverConfig) map[string]any {
	return map[string]any{
		KeyTimeLimitSec:         d.TimeLimit.Seconds(),
		KeyLazyConstraints:      d.LazyConstraints,
		KeyCutBound:             d.CutBound,
		KeySingleCustomerRoutes: d.SingleCustomerRoutes,
		KeyWarmStart:            d.WarmStart,
		KeyWarmStartBudgetMs:    d.WarmStartBudget.Milliseconds(),
		KeyMaxNodes:             d.MaxNodes,
	}
}

// Resolve layers the request over the tenant config over the service
// defaults. Unknown tenant keys are ignored; badly typed ones are errors.
func Resolve(d config.SolverConfig, tenant map[string]any, req model.SolveRequest) (cvrp.SolveConfig, error) {
	cfg := cvrp.DefaultSolveConfig()
	cfg.TimeLimit = d.TimeLimit
	cfg.LazyConstraints = d.LazyConstraints
	cfg.Options.SingleCustomerRoutes = d.SingleCustomerRoutes
	cfg.WarmStart = d.WarmStart
	cfg.WarmStartBudget = d.WarmStartBudget
	cfg.MaxNodes = d.MaxNodes
	bound := d.CutBound

	for k, v := range tenant {
		var err error
		switch k {
		case KeyTimeLimitSec:
			var f float64
			if f, err = number(k, v); err == nil {
				cfg.TimeLimit = seconds(f)
			}
		case KeyLazyConstraints:
			cfg.LazyConstraints, err = boolean(k, v)
		case KeyCutBound:
			s, ok := v.(string)
			if !ok {
				err = fmt.Errorf("%s: want string, got %T", k, v)
			}
			bound = s
		case KeySingleCustomerRoutes:
			cfg.Options.SingleCustomerRoutes, err = boolean(k, v)
		case KeyWarmStart:
			cfg.WarmStart, err = boolean(k, v)
		case KeyWarmStartBudgetMs:
			var f float64
			if f, err = number(k, v); err == nil {
				cfg.WarmStartBudget = time.Duration(f) * time.Millisecond
			}
		case KeyMaxNodes:
			var f float64
			if f, err = number(k, v); err == nil {
				cfg.MaxNodes = int(f)
			}
		}
		if err != nil {
			return cvrp.SolveConfig{}, fmt.Errorf("tenant solver config: %w", err)
		}
	}

	if req.TimeLimitSec > 0 {
		cfg.TimeLimit = seconds(req.TimeLimitSec)
	}
	if req.LazyConstraints != nil {
		cfg.LazyConstraints = *req.LazyConstraints
	}
	if req.CutBound != "" {
		bound = req.CutBound
	}
	if req.SingleCustomerRoutes != nil {
		cfg.Options.SingleCustomerRoutes = *req.SingleCustomerRoutes
	}
	if req.WarmStart != nil {
		cfg.WarmStart = *req.WarmStart
	}
	if req.MaxNodes > 0 {
		cfg.MaxNodes = req.MaxNodes
	}
	cfg.Seed = req.Seed

	cb, err := cvrp.ParseCutBound(bound)
	if err != nil {
		return cvrp.SolveConfig{}, err
	}
	cfg.Options.CutBound = cb
	return cfg, nil
}

func seconds(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }

func number(k string, v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("%s: want number, got %T", k, v)
	}
}

func boolean(k string, v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s: want bool, got %T", k, v)
	}
	return b, nil
}
