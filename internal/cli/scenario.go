package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/stowage/internal/mapping"
	"github.com/mesh-intelligence/stowage/internal/memory"
	"github.com/mesh-intelligence/stowage/pkg/stowage"
	"github.com/mesh-intelligence/stowage/pkg/types"
)

// Scenario trigger orders.
const (
	orderInitialize = "initialize"
	orderAfterFlush = "after-flush"
	orderSkip       = "skip"
	orderAll        = "all"
)

var errScenarioFailed = errors.New("scenario failed")

func newScenarioCmd(a *app) *cobra.Command {
	var order string
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Run the reassign-before-initialize check on an in-memory store",
		Long: "Seed Parent#10 -> Child#1 and Child#2 in an isolated in-memory store\n" +
			"with the second-level cache enabled, reassign Parent#10.child to\n" +
			"Child#2 while Child#1 is still a placeholder, initialize Child#1\n" +
			"before the flush, after it, or not at all, and verify that a fresh\n" +
			"session sees Child#2.\n" +
			"The configured backend is not touched.",
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			var orders []string
			switch order {
			case orderAll:
				orders = []string{orderInitialize, orderAfterFlush, orderSkip}
			case orderInitialize, orderAfterFlush, orderSkip:
				orders = []string{order}
			default:
				return fmt.Errorf("%w: --order must be %s, %s, %s or %s",
					errUsage, orderInitialize, orderAfterFlush, orderSkip, orderAll)
			}

			var res scenarioResult
			for _, o := range orders {
				run, err := runScenario(cmd.Context(), o, a.log)
				if err != nil {
					return fmt.Errorf("order %s: %w", o, err)
				}
				res.Runs = append(res.Runs, run)
			}
			if err := a.print(cmd, res); err != nil {
				return err
			}
			for _, run := range res.Runs {
				if !run.OK {
					return fmt.Errorf("%w: order %s", errScenarioFailed, run.Order)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&order, "order", orderAll, "when the old child is initialized: initialize, after-flush, skip or all")
	return cmd
}

type scenarioRun struct {
	Order  string   `json:"order"`
	Steps  []string `json:"steps"`
	Writes []string `json:"writes"`
	Child  any      `json:"child_after_reload"`
	OK     bool     `json:"ok"`
}

type scenarioResult struct {
	Runs []scenarioRun `json:"runs"`
}

func (r scenarioResult) text() string {
	var b strings.Builder
	for i, run := range r.Runs {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "== order: %s ==\n", run.Order)
		for _, s := range run.Steps {
			b.WriteString(s + "\n")
		}
		if run.OK {
			b.WriteString("ok\n")
		} else {
			b.WriteString("FAILED\n")
		}
	}
	return b.String()
}

// tracingStorage records the writes that reach storage.
type tracingStorage struct {
	types.Storage

	mu     sync.Mutex
	writes []string
}

func (t *tracingStorage) record(op string, meta *types.EntityMeta, id any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes = append(t.writes, fmt.Sprintf("%s %s#%v", op, meta.Name, id))
}

func (t *tracingStorage) drain() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.writes
	t.writes = nil
	return out
}

func (t *tracingStorage) Insert(ctx context.Context, meta *types.EntityMeta, row types.Row) error {
	t.record("insert", meta, row[meta.IDColumn()])
	return t.Storage.Insert(ctx, meta, row)
}

func (t *tracingStorage) Update(ctx context.Context, meta *types.EntityMeta, id any, changes types.Row) error {
	t.record("update", meta, id)
	return t.Storage.Update(ctx, meta, id, changes)
}

func (t *tracingStorage) Delete(ctx context.Context, meta *types.EntityMeta, id any) error {
	t.record("delete", meta, id)
	return t.Storage.Delete(ctx, meta, id)
}

// seedScenario writes Child#1, Child#2 and Parent#10 -> Child#1.
func seedScenario(ctx context.Context, md types.Metadata) (*memory.Store, error) {
	mem := memory.New()
	parent, err := md.Entity("Parent")
	if err != nil {
		return nil, err
	}
	child, err := md.Entity("Child")
	if err != nil {
		return nil, err
	}
	rows := []struct {
		meta *types.EntityMeta
		row  types.Row
	}{
		{child, types.Row{"id": int64(1), "name": "first"}},
		{child, types.Row{"id": int64(2), "name": "second"}},
		{parent, types.Row{"id": int64(10), "child_id": int64(1)}},
	}
	for _, r := range rows {
		if err := mem.Insert(ctx, r.meta, r.row); err != nil {
			return nil, err
		}
	}
	return mem, nil
}

// runScenario performs one pass and reports every step. Unexpected
// behaviour is reported through OK; err is reserved for failures that stop
// the pass.
func runScenario(ctx context.Context, order string, log *zap.Logger) (run scenarioRun, err error) {
	run.Order = order
	step := func(format string, args ...any) {
		run.Steps = append(run.Steps, fmt.Sprintf(format, args...))
	}

	md := mapping.Default()
	mem, err := seedScenario(ctx, md)
	if err != nil {
		return run, fmt.Errorf("seed: %w", err)
	}
	step(`seed: Child#1 "first", Child#2 "second", Parent#10 -> Child#1`)

	trace := &tracingStorage{Storage: mem}
	st, err := stowage.Open(ctx,
		types.Config{Backend: types.BackendMemory, Cache: types.CacheConfig{Enabled: true, Size: 16}},
		stowage.WithStorage(trace), stowage.WithMapping(md), stowage.WithLogger(log))
	if err != nil {
		return run, err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	s := st.NewSession()
	defer func() { _ = s.Close() }()

	parent, err := s.Find(ctx, "Parent", 10)
	if err != nil {
		return run, err
	}
	step("find %s: %s", parent.Identity(), parent.LoadState())

	old, err := parent.Ref(ctx, "child")
	if err != nil {
		return run, err
	}
	if old == nil {
		return run, fmt.Errorf("%w: Parent#10.child is null after load", errScenarioFailed)
	}
	step("%s.child -> %s (%s)", parent.Identity(), old.Identity(), old.LoadState())

	same, err := s.Find(ctx, "Child", 1)
	if err != nil {
		return run, err
	}
	sameInstance := same == old
	if sameInstance {
		step("find %s: same instance (%s)", same.Identity(), same.LoadState())
	} else {
		step("find %s: different instance", same.Identity())
	}

	replacement, err := s.Find(ctx, "Child", 2)
	if err != nil {
		return run, err
	}
	step("find %s: %s", replacement.Identity(), replacement.LoadState())

	if err := parent.SetRef(ctx, "child", replacement); err != nil {
		return run, err
	}
	step("set %s.child -> %s", parent.Identity(), replacement.Identity())

	initializeOld := func() error {
		name, err := old.Get(ctx, "name")
		if err != nil {
			return err
		}
		inverse, err := old.Ref(ctx, "parent")
		if err != nil {
			return err
		}
		step("initialize %s: name %s, parent -> %s", old.Identity(), formatValue(name), refString(inverse))
		return nil
	}
	flush := func() error {
		if err := s.Flush(ctx); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
		writes := trace.drain()
		run.Writes = append(run.Writes, writes...)
		if len(writes) == 0 {
			step("flush: no writes")
		} else {
			step("flush: %s", strings.Join(writes, ", "))
		}
		return nil
	}
	keptReplacement := func() (bool, error) {
		current, err := parent.Ref(ctx, "child")
		if err != nil {
			return false, err
		}
		return current == replacement, nil
	}

	switch order {
	case orderInitialize:
		if err := initializeOld(); err != nil {
			return run, err
		}
	case orderAfterFlush:
		step("%s left %s until after the flush", old.Identity(), old.LoadState())
	default:
		step("%s left %s", old.Identity(), old.LoadState())
	}

	kept, err := keptReplacement()
	if err != nil {
		return run, err
	}
	if err := flush(); err != nil {
		return run, err
	}

	if order == orderAfterFlush {
		if err := initializeOld(); err != nil {
			return run, err
		}
		stillKept, err := keptReplacement()
		if err != nil {
			return run, err
		}
		kept = kept && stillKept
		if err := flush(); err != nil {
			return run, err
		}
	}

	fresh := st.NewSession()
	defer func() { _ = fresh.Close() }()
	reloaded, err := fresh.Find(ctx, "Parent", 10)
	if err != nil {
		return run, err
	}
	child, err := reloaded.Ref(ctx, "child")
	if err != nil {
		return run, err
	}
	step("reload %s.child -> %s", reloaded.Identity(), refString(child))
	if child != nil {
		run.Child = child.ID()
	}

	wantLoaded := order != orderSkip
	run.OK = sameInstance && kept &&
		old.IsInitialized() == wantLoaded &&
		len(run.Writes) == 1 && run.Writes[0] == "update Parent#10" &&
		child != nil && child.ID() == int64(2)
	return run, nil
}

func refString(e *stowage.Entity) string {
	if e == nil {
		return nullArg
	}
	return e.Identity().String()
}
