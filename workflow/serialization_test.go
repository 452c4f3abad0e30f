package workflow

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

// NOTE: These tests are intentionally DB-free. They validate the intended
// serialization semantics: cascades on the same project must not interleave
// (models the per-project posting lock), while cascades on different projects
// run independently. Full DB integration tests live in
// cascade_regression_test.go behind INTEGRATION_TESTS=1.

type fakePoster struct {
	muByProject map[int]*sync.Mutex
	mu          sync.Mutex

	// last committed value per project, to detect torn interleavings
	unitCost map[int]decimal.Decimal
	total    map[int]decimal.Decimal
}

func newFakePoster() *fakePoster {
	return &fakePoster{
		muByProject: map[int]*sync.Mutex{},
		unitCost:    map[int]decimal.Decimal{},
		total:       map[int]decimal.Decimal{},
	}
}

// cascade models one serialized invocation: under the project lock, write the
// composition cost then the dependent total derived from it.
func (p *fakePoster) cascade(projectId int, price decimal.Decimal, quantity decimal.Decimal) {
	p.mu.Lock()
	pm := p.muByProject[projectId]
	if pm == nil {
		pm = &sync.Mutex{}
		p.muByProject[projectId] = pm
	}
	p.mu.Unlock()

	pm.Lock()
	defer pm.Unlock()

	p.mu.Lock()
	p.unitCost[projectId] = price
	p.mu.Unlock()

	p.mu.Lock()
	p.total[projectId] = price.Mul(quantity)
	p.mu.Unlock()
}

func TestCascadeSerialization_NoTornAggregates(t *testing.T) {
	qty := decimal.NewFromInt(50)
	for run := 0; run < 100; run++ {
		p := newFakePoster()
		var wg sync.WaitGroup
		for i := 1; i <= 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				p.cascade(1, decimal.NewFromInt(int64(100+i)), qty)
			}(i)
		}
		wg.Wait()

		// Whatever writer won, the aggregate must be derived from the same
		// price: serialized cascades cannot leave a total computed from one
		// write and a unit cost from another.
		if !p.total[1].Equal(p.unitCost[1].Mul(qty)) {
			t.Fatalf("run=%d torn aggregate: unitCost=%s total=%s", run, p.unitCost[1], p.total[1])
		}
	}
}

func TestCascadeSerialization_ProjectsIndependent(t *testing.T) {
	p := newFakePoster()
	var wg sync.WaitGroup
	for project := 1; project <= 8; project++ {
		wg.Add(1)
		go func(project int) {
			defer wg.Done()
			p.cascade(project, decimal.NewFromInt(int64(project*10)), decimal.NewFromInt(2))
		}(project)
	}
	wg.Wait()

	for project := 1; project <= 8; project++ {
		want := decimal.NewFromInt(int64(project * 10))
		if !p.unitCost[project].Equal(want) {
			t.Errorf("project %d unit cost = %s, want %s (cross-project bleed)", project, p.unitCost[project], want)
		}
	}
}
