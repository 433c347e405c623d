package mesh

import "math"

// relax runs the bounded spring passes over every edge whose endpoints are
// both positioned. Each edge pulls (or pushes) its endpoints toward the
// calibrated expected length, with the correction split according to each
// endpoint's mobility and capped per pass to prevent oscillation. The pass
// count is a fixed budget, not a convergence guarantee.
func relax(topo *Topology, cal *Calibration, s *solver, cfg EstimatorConfig) {
	nums := topo.SortedNums()
	for iter := 0; iter < cfg.SpringIterations; iter++ {
		for _, u := range nums {
			for _, v := range topo.NeighborNums(u) {
				if u >= v {
					continue
				}
				posU := s.pos[u]
				posV := s.pos[v]
				if posU == nil || posV == nil {
					continue
				}

				dx := posV.X - posU.X
				dy := posV.Y - posU.Y
				dist := math.Hypot(dx, dy)
				if math.IsNaN(dist) || math.IsInf(dist, 0) || dist < 1e-6 {
					continue
				}

				stats := topo.Adj[u][v]
				desired := edgeCostUnits(stats) * cal.GlobalMetersPerUnit
				if math.IsNaN(desired) || desired <= 0 {
					continue
				}

				weight := edgeSpringWeight(stats)
				err := dist - desired
				maxStep := cfg.SpringStepFraction * desired
				step := cfg.SpringAlpha * weight * err
				step = math.Max(-maxStep, math.Min(maxStep, step))

				ux := dx / dist
				uy := dy / dist
				mu := s.mobility(u)
				mv := s.mobility(v)
				total := mu + mv
				if total <= 0 {
					continue
				}
				du := (mu / total) * step
				dv := (mv / total) * step
				if mu > 0 {
					posU.X += ux * du
					posU.Y += uy * du
				}
				if mv > 0 {
					posV.X -= ux * dv
					posV.Y -= uy * dv
				}
			}
		}
	}
}
