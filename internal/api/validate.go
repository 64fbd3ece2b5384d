package api

import (
	"fmt"
	"strings"

	"cvrpbc/internal/cvrp"
	"cvrpbc/internal/model"
)

func validateSolveRequest(req *model.SolveRequest) error {
	if req.InstanceID == "" {
		return fmt.Errorf("instanceId is required")
	}
	if req.TimeLimitSec < 0 {
		return fmt.Errorf("timeLimitSec must be >= 0")
	}
	if req.MaxNodes < 0 {
		return fmt.Errorf("maxNodes must be >= 0")
	}
	if _, err := cvrp.ParseCutBound(req.CutBound); err != nil {
		return err
	}
	return nil
}

// instanceFromInput parses either the raw text or the structured form.
func instanceFromInput(in model.InstanceIn) (*cvrp.Instance, error) {
	if in.Data != "" {
		if len(in.Positions) > 0 || len(in.Demands) > 0 {
			return nil, fmt.Errorf("give either data or positions/demands, not both")
		}
		return cvrp.Load(strings.NewReader(in.Data))
	}
	pts := make([]cvrp.Point, len(in.Positions))
	for i, p := range in.Positions {
		pts[i] = cvrp.Point{X: p.X, Y: p.Y}
	}
	return cvrp.NewInstance(in.Name, in.Capacity, pts, in.Demands)
}
