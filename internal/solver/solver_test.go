package solver

import (
	"errors"
	"math"
	"testing"

	"arbengine/pkg/types"
)

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestSolveSimpleMaximization(t *testing.T) {
	t.Parallel()
	// maximize 3x + 2y subject to x + y <= 4, x <= 3
	objective := []float64{3, 2}
	constraints := []types.ConstraintRow{
		{Coefficients: []float64{1, 1}, Sense: types.SenseLE, RHS: 4},
	}
	res := Solve(objective, constraints, 3)
	if res.Status != StatusOptimal {
		t.Fatalf("Status = %v, want optimal", res.Status)
	}
	if !approxEqual(res.Objective, 11, 1e-6) {
		t.Errorf("Objective = %v, want 11", res.Objective)
	}
}

func TestSolveInfeasible(t *testing.T) {
	t.Parallel()
	objective := []float64{1}
	constraints := []types.ConstraintRow{
		{Coefficients: []float64{1}, Sense: types.SenseLE, RHS: -5},
	}
	res := Solve(objective, constraints, 10)
	if res.Status != StatusInfeasible {
		t.Fatalf("Status = %v, want infeasible", res.Status)
	}
	if !errors.Is(res.Err, ErrInfeasible) {
		t.Errorf("Err = %v, want ErrInfeasible", res.Err)
	}
}

func TestSolveEqualityConstraint(t *testing.T) {
	t.Parallel()
	// maximize x + y subject to x + y = 1
	objective := []float64{1, 1}
	constraints := []types.ConstraintRow{
		{Coefficients: []float64{1, 1}, Sense: types.SenseEQ, RHS: 1},
	}
	res := Solve(objective, constraints, 1)
	if res.Status != StatusOptimal {
		t.Fatalf("Status = %v, want optimal", res.Status)
	}
	if !approxEqual(res.Objective, 1, 1e-6) {
		t.Errorf("Objective = %v, want 1", res.Objective)
	}
}

func TestSolveILPMutuallyExclusive(t *testing.T) {
	t.Parallel()
	// maximize x0+x1+x2 subject to x0+x1+x2 <= 1 (mutually exclusive), 0/1.
	objective := []float64{0.4, 0.5, 0.3}
	constraints := []types.ConstraintRow{
		{Coefficients: []float64{1, 1, 1}, Sense: types.SenseLE, RHS: 1},
	}
	res := SolveILP(objective, constraints)
	if res.Status != StatusOptimal {
		t.Fatalf("Status = %v, want optimal", res.Status)
	}
	if !approxEqual(res.Objective, 0.5, 1e-6) {
		t.Errorf("Objective = %v, want 0.5 (pick x1)", res.Objective)
	}
	sum := 0.0
	for _, v := range res.Allocations {
		sum += v
		if v != 0 && v != 1 {
			t.Errorf("allocation %v not 0/1", v)
		}
	}
	if sum > 1.0+1e-9 {
		t.Errorf("sum of allocations = %v, exceeds mutual-exclusion bound of 1", sum)
	}
}

func TestSolveILPTiesPickLexicographicallySmallestVertex(t *testing.T) {
	t.Parallel()
	// x0 and x1 are interchangeable (equal objective coefficient, no
	// constraint distinguishing them) and either alone attains the
	// optimum, so the tie must resolve to x0=0, x1=1 rather than the
	// reverse.
	objective := []float64{1, 1}
	constraints := []types.ConstraintRow{
		{Coefficients: []float64{1, 1}, Sense: types.SenseLE, RHS: 1},
	}
	res := SolveILP(objective, constraints)
	if res.Status != StatusOptimal {
		t.Fatalf("Status = %v, want optimal", res.Status)
	}
	if res.Allocations[0] != 0 || res.Allocations[1] != 1 {
		t.Errorf("Allocations = %v, want [0 1] (lexicographically smallest tied vertex)", res.Allocations)
	}
}

func TestSolveILPImplication(t *testing.T) {
	t.Parallel()
	// x0 => x1: x0 - x1 <= 0. Maximize x0 alone should force x1 along with it.
	objective := []float64{1, 0}
	constraints := []types.ConstraintRow{
		{Coefficients: []float64{1, -1}, Sense: types.SenseLE, RHS: 0},
	}
	res := SolveILP(objective, constraints)
	if res.Status != StatusOptimal {
		t.Fatalf("Status = %v, want optimal", res.Status)
	}
	if res.Allocations[0] == 1 && res.Allocations[1] != 1 {
		t.Errorf("allocations = %v, violates x0 => x1", res.Allocations)
	}
}
