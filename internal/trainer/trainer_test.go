package trainer

import (
	"math"
	"testing"

	"github.com/alexandres/koanvec/internal/embedding"
)

const gradCheckEps = 1e-4
const gradCheckTol = 1e-3

func copyTable(t *embedding.Table[float64]) [][]float64 {
	out := make([][]float64, t.Size())
	for i := range out {
		row := t.Row(i)
		out[i] = append([]float64(nil), row...)
	}
	return out
}

func restoreTable(t *embedding.Table[float64], snap [][]float64) {
	for i, row := range snap {
		t.SetRow(i, row)
	}
}

// TestCBOWGradientCheck verifies CBOWUpdate's analytic gradient (the
// weight delta it applies, at lr=1) against a central-difference numeric
// gradient of the loss it reports. Ported from koan's "Cbow" [grad] test
// case: a forced negative sample and zero subsampling probability make
// the update fully deterministic.
func TestCBOWGradientCheck(t *testing.T) {
	const dim = 5
	const vocabSize = 4

	table := embedding.NewZeros[float64](vocabSize, dim)
	ctx := embedding.NewZeros[float64](vocabSize, dim)
	seedTable(table, 1)
	seedTable(ctx, 2)

	filterProbs := []float64{0, 0, 0, 0}
	negProbs := []float64{0, 0, 0, 1} // forces the negative sample to be id 3

	tr, err := New[float64](Params{Dim: dim, Ctxs: 5, Negatives: 1, Threads: 1}, table, ctx, filterProbs, negProbs, Exact)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sent := []int{0, 1, 2}
	origTable := copyTable(table)
	origCtx := copyTable(ctx)

	tr.CBOWUpdate(sent, 1, 0, 3, 0, 1.0, true)

	analyticTable := copyTable(table)
	analyticCtx := copyTable(ctx)
	for i := range analyticTable {
		for j := range analyticTable[i] {
			analyticTable[i][j] = origTable[i][j] - analyticTable[i][j]
			analyticCtx[i][j] = origCtx[i][j] - analyticCtx[i][j]
		}
	}

	restoreTable(table, origTable)
	restoreTable(ctx, origCtx)

	checkNumericGradient(t, tr, table, ctx, origTable, origCtx, sent, analyticTable, analyticCtx, func() float64 {
		return tr.CBOWUpdate(sent, 1, 0, 3, 0, 1.0, true)
	})
}

// TestSGGradientCheck is SG's analogue of TestCBOWGradientCheck, ported
// from koan's "Skipgram" [grad] test case.
func TestSGGradientCheck(t *testing.T) {
	const dim = 5
	const vocabSize = 4

	table := embedding.NewZeros[float64](vocabSize, dim)
	ctx := embedding.NewZeros[float64](vocabSize, dim)
	seedTable(table, 3)
	seedTable(ctx, 4)

	filterProbs := []float64{0, 0, 0, 0}
	negProbs := []float64{0, 0, 0, 1}

	tr, err := New[float64](Params{Dim: dim, Ctxs: 5, Negatives: 1, Threads: 1}, table, ctx, filterProbs, negProbs, Exact)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sent := []int{0, 1}
	origTable := copyTable(table)
	origCtx := copyTable(ctx)

	tr.SGUpdate(sent, 1, 0, 2, 0, 1.0, true)

	analyticTable := copyTable(table)
	analyticCtx := copyTable(ctx)
	for i := range analyticTable {
		for j := range analyticTable[i] {
			analyticTable[i][j] = origTable[i][j] - analyticTable[i][j]
			analyticCtx[i][j] = origCtx[i][j] - analyticCtx[i][j]
		}
	}

	restoreTable(table, origTable)
	restoreTable(ctx, origCtx)

	checkNumericGradient(t, tr, table, ctx, origTable, origCtx, sent, analyticTable, analyticCtx, func() float64 {
		return tr.SGUpdate(sent, 1, 0, 2, 0, 1.0, true)
	})
}

// checkNumericGradient perturbs every (table, ctx) parameter by ±eps,
// re-running update to get the loss at each perturbation, and compares
// the resulting central-difference gradient against the analytic one.
func checkNumericGradient(
	t *testing.T,
	_ *Trainer[float64],
	table, ctx *embedding.Table[float64],
	origTable, origCtx [][]float64,
	_ []int,
	analyticTable, analyticCtx [][]float64,
	update func() float64,
) {
	t.Helper()

	check := func(name string, tab *embedding.Table[float64], orig, analytic [][]float64) {
		for i := range orig {
			for j := range orig[i] {
				tmp := orig[i][j]

				row := append([]float64(nil), orig[i]...)
				row[j] = tmp + gradCheckEps
				tab.SetRow(i, row)
				lossUp := update()
				restoreTable(table, origTable)
				restoreTable(ctx, origCtx)

				row[j] = tmp - gradCheckEps
				tab.SetRow(i, row)
				lossDown := update()
				restoreTable(table, origTable)
				restoreTable(ctx, origCtx)

				numGrad := (lossUp - lossDown) / (2 * gradCheckEps)
				if math.Abs(numGrad-analytic[i][j]) > gradCheckTol {
					t.Errorf("%s[%d][%d]: analytic=%v numeric=%v diff=%v", name, i, j, analytic[i][j], numGrad, math.Abs(numGrad-analytic[i][j]))
				}
			}
		}
	}

	check("table", table, origTable, analyticTable)
	check("ctx", ctx, origCtx, analyticCtx)
}

// seedTable fills every row of tab with a small deterministic pattern so
// gradient-check tests don't depend on random initialization.
func seedTable(tab *embedding.Table[float64], seed int) {
	for i := 0; i < tab.Size(); i++ {
		row := tab.Row(i)
		for j := range row {
			row[j] = float64((i*tab.Dim()+j+seed)%7) * 0.1 - 0.3
		}
	}
}

func TestCBOWUsesBadUpdateFlagChangesContextGradientNormalization(t *testing.T) {
	const dim = 4
	const vocabSize = 3
	build := func(useBad bool) *embedding.Table[float64] {
		table := embedding.NewZeros[float64](vocabSize, dim)
		ctx := embedding.NewZeros[float64](vocabSize, dim)
		seedTable(table, 1)
		seedTable(ctx, 2)
		tr, err := New[float64](Params{Dim: dim, Ctxs: 5, Negatives: 0, Threads: 1, UseBadUpdate: useBad}, table, ctx, []float64{0, 0, 0}, []float64{1, 0, 0}, Exact)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		tr.CBOWUpdate([]int{0, 1, 2}, 1, 0, 3, 0, 1.0, false)
		return table
	}

	normalized := build(false)
	unnormalized := build(true)

	same := true
	for i := 0; i < vocabSize; i++ {
		nr, ur := normalized.Row(i), unnormalized.Row(i)
		for j := range nr {
			if nr[j] != ur[j] {
				same = false
			}
		}
	}
	if same {
		t.Error("UseBadUpdate should change the context-word update magnitude when num_source_ids > 1, but tables are identical")
	}
}
