package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tableforge/internal/command"
	"tableforge/internal/ddl"
	"tableforge/internal/domain"
	"tableforge/internal/shard"
	"tableforge/internal/snapshot"
	"tableforge/internal/staging"
	"tableforge/internal/version"
)

// Options tunes the executor.
type Options struct {
	// BatchSize is the staging page size; zero means the staging default.
	BatchSize int
}

// Executor routes commands to their execution path, maintains per-table
// timelines, and serves undo/redo. All mutation of a table goes through
// one Executor; operations on the same table are serialized.
type Executor struct {
	store    domain.StoreAdapter
	snaps    *snapshot.Manager
	versions *version.Manager
	staging  *staging.Executor
	shards   *shard.Orchestrator
	registry *command.Registry
	history  domain.HistoryRepository
	logger   *slog.Logger
	opts     Options

	mu     sync.Mutex
	tables map[string]*tableState
}

// tableState is the in-memory mutation state of one table.
type tableState struct {
	mu       sync.Mutex
	timeline *Timeline
	versions *domain.VersionSet

	// manifestID is the published shard manifest backing this table, or
	// "" for tables living only in the engine.
	manifestID string
}

// New creates an Executor. shards and history may be nil: shard
// execution is then unavailable and audit logging disabled.
func New(store domain.StoreAdapter, snaps *snapshot.Manager, versions *version.Manager,
	stagingExec *staging.Executor, shards *shard.Orchestrator, registry *command.Registry,
	history domain.HistoryRepository, logger *slog.Logger, opts Options) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:    store,
		snaps:    snaps,
		versions: versions,
		staging:  stagingExec,
		shards:   shards,
		registry: registry,
		history:  history,
		logger:   logger,
		opts:     opts,
		tables:   make(map[string]*tableState),
	}
}

// RegisterTable binds a table to a published shard manifest, enabling the
// out-of-core path for eligible commands.
func (e *Executor) RegisterTable(table, manifestID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.tables[table]
	if st == nil {
		st = &tableState{timeline: NewTimeline(), versions: domain.NewVersionSet()}
		e.tables[table] = st
	}
	st.manifestID = manifestID
}

func (e *Executor) state(table string) *tableState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.tables[table]
	if st == nil {
		st = &tableState{timeline: NewTimeline(), versions: domain.NewVersionSet()}
		e.tables[table] = st
	}
	return st
}

// Timeline returns a copy of the table's history records plus the undo
// pointer position.
func (e *Executor) Timeline(table string) ([]domain.TimelineRecord, int) {
	st := e.state(table)
	st.mu.Lock()
	defer st.mu.Unlock()
	records := st.timeline.Records()
	out := make([]domain.TimelineRecord, len(records))
	for i, r := range records {
		out[i] = *r
	}
	return out, st.timeline.Position()
}

// SnapshotPruned disables undo for the record holding the pruned
// snapshot and for everything earlier. Called by the retention sweeper
// after it drops aged snapshots.
func (e *Executor) SnapshotPruned(table, snapshotID string) {
	st := e.state(table)
	st.mu.Lock()
	defer st.mu.Unlock()
	n := st.timeline.DisableUndoThroughSnapshot(snapshotID)
	if n > 0 {
		e.logger.Info("snapshot pruned, undo disabled",
			"table", table, "snapshot", snapshotID, "records", n)
	}
}

// commandContext rebuilds the per-invocation context from live table
// state. It fails with NotFoundError when the table does not exist.
func (e *Executor) commandContext(ctx context.Context, table string, st *tableState) (*domain.CommandContext, error) {
	if err := ddl.ValidateIdentifier(table); err != nil {
		return nil, domain.ErrValidation("invalid table name %q: %v", table, err)
	}
	exists, err := e.store.TableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrNotFound("table %q does not exist", table)
	}
	cols, err := e.store.TableColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	countStmt, err := ddl.CountRows(table)
	if err != nil {
		return nil, err
	}
	rows, err := e.store.Query(ctx, countStmt)
	if err != nil {
		return nil, err
	}
	var count int64
	if len(rows) > 0 {
		if n, ok := rows[0]["n"].(int64); ok {
			count = n
		}
	}
	return &domain.CommandContext{
		Store:    e.store,
		Table:    table,
		Columns:  cols,
		RowCount: count,
		Versions: st.versions,
		Batch:    domain.BatchOptions{BatchSize: e.opts.BatchSize},
		Logger:   e.logger,
	}, nil
}

// Execute validates and runs a command on a table, appending it to the
// timeline on success. Commands executed after undos truncate the undone
// tail: those records become unreachable.
func (e *Executor) Execute(ctx context.Context, table string, cmd domain.Command) (*domain.ExecutorResult, error) {
	st := e.state(table)
	st.mu.Lock()
	defer st.mu.Unlock()

	tier, err := command.TierOf(cmd.Type())
	if err != nil {
		return nil, err
	}
	cc, err := e.commandContext(ctx, table, st)
	if err != nil {
		return nil, err
	}
	if err := cmd.Validate(ctx, cc); err != nil {
		e.logHistory(ctx, table, cmd, tier, "EXECUTE", err)
		return nil, err
	}

	rec := &domain.TimelineRecord{
		ID:           cmd.ID(),
		CommandType:  cmd.Type(),
		Label:        cmd.Label(),
		Tier:         tier,
		RowPredicate: cmd.AffectedRowsPredicate(),
		ExecutedAt:   time.Now(),
	}
	res, err := e.dispatch(ctx, st, cc, cmd, rec)
	if err != nil {
		e.logHistory(ctx, table, cmd, tier, "EXECUTE", err)
		return nil, err
	}
	rec.Params = cmd.Params()
	rec.CellChanges = res.SampleChanges
	st.timeline.Append(rec)

	audit := cmd.AuditInfo()
	e.logHistory(ctx, table, cmd, tier, "EXECUTE", nil)
	e.logger.Info("command executed",
		"table", table, "command", cmd.Type(), "tier", int(tier), "affected", res.Affected)

	return &domain.ExecutorResult{
		Success:      true,
		Execution:    res,
		Audit:        &audit,
		DiffViewName: e.writeDiffTable(ctx, cmd.ID(), res.SampleChanges),
	}, nil
}

// dispatch runs the command on the path its capability selects, taking
// the pre-execution snapshot first when the type requires one. The
// snapshot id and tier-specific undo state are written into rec.
func (e *Executor) dispatch(ctx context.Context, st *tableState, cc *domain.CommandContext,
	cmd domain.Command, rec *domain.TimelineRecord) (*domain.ExecutionResult, error) {

	if command.RequiresSnapshot(cmd.Type()) {
		if err := e.takeSnapshot(ctx, st, cc, rec); err != nil {
			return nil, err
		}
	}

	res, err := e.run(ctx, st, cc, cmd, rec)
	if errors.Is(err, command.ErrSnapshotRequired) && rec.SnapshotID == "" {
		// The command discovered mid-flight that it must rework the whole
		// table (an ordering rebalance); give it a snapshot and rerun.
		if snapErr := e.takeSnapshot(ctx, st, cc, rec); snapErr != nil {
			return nil, snapErr
		}
		res, err = e.run(ctx, st, cc, cmd, rec)
	}
	if err != nil && rec.SnapshotID != "" {
		// The failed execution may have left the table partially
		// transformed or even dropped (a swap that lost its rename leg);
		// the pre-execution snapshot puts it back. Released only after a
		// successful restore, so a botched restore keeps the data.
		rctx := context.WithoutCancel(ctx)
		if restErr := e.snaps.Restore(rctx, cc.Table, rec.SnapshotID); restErr != nil {
			e.logger.Error("restore after failed execution failed",
				"table", cc.Table, "snapshot", rec.SnapshotID, "error", restErr)
			return nil, fmt.Errorf("%w (snapshot restore also failed: %v)", err, restErr)
		}
		if relErr := e.snaps.Release(rctx, cc.Table, rec.SnapshotID); relErr != nil {
			e.logger.Warn("release unused snapshot failed", "snapshot", rec.SnapshotID, "error", relErr)
		}
		rec.SnapshotID = ""
	}
	if err != nil {
		return nil, err
	}
	if rec.SnapshotID != "" {
		res.SnapshotAlreadySaved = true
	}
	return res, nil
}

func (e *Executor) takeSnapshot(ctx context.Context, st *tableState, cc *domain.CommandContext,
	rec *domain.TimelineRecord) error {

	ref, evicted, err := e.snaps.Create(ctx, cc.Table)
	if err != nil {
		return fmt.Errorf("pre-execution snapshot: %w", err)
	}
	rec.SnapshotID = ref.ID
	cc.SnapshotTaken = true
	if evicted != nil {
		n := st.timeline.DisableUndoThroughSnapshot(evicted.ID)
		e.logger.Info("snapshot evicted, undo disabled",
			"table", cc.Table, "snapshot", evicted.ID, "records", n)
	}
	return nil
}

func (e *Executor) run(ctx context.Context, st *tableState, cc *domain.CommandContext,
	cmd domain.Command, rec *domain.TimelineRecord) (*domain.ExecutionResult, error) {

	switch c := cmd.(type) {
	case domain.ColumnExpressionCommand:
		applied, err := e.versions.Apply(ctx, cc.Table, st.versions, c.TargetColumn(), c.Expression(), c.ID())
		if err != nil {
			return nil, err
		}
		rec.TargetColumn = c.TargetColumn()
		rec.BackupColumn = applied.BaseColumn
		rec.AffectedColumns = []string{c.TargetColumn()}
		return &domain.ExecutionResult{
			Success:  true,
			RowCount: cc.RowCount,
			Affected: cc.RowCount,
		}, nil

	case domain.DirectCommand:
		res, err := c.Execute(ctx, cc)
		if err != nil {
			return nil, err
		}
		rec.InverseSQL = c.InverseSQL()
		return res, nil

	case domain.SelectTransformCommand:
		return e.runSelectTransform(ctx, st, cc, c)

	default:
		return nil, domain.ErrValidation("command %q has no execution capability", cmd.Type())
	}
}

// runSelectTransform picks between the in-engine staging path and the
// out-of-core shard path. Both consume the same BuildSelect, which keeps
// their row sets equivalent; the choice is purely operational.
func (e *Executor) runSelectTransform(ctx context.Context, st *tableState,
	cc *domain.CommandContext, c domain.SelectTransformCommand) (*domain.ExecutionResult, error) {

	if st.manifestID != "" && e.shards != nil && command.ShardEligible(c.Type()) {
		res, err := e.shards.Run(ctx, cc.Table, st.manifestID, c.BuildSelect, shard.RunOptions{
			SamplePredicate: c.AffectedRowsPredicate(),
			Progress:        cc.Batch.Progress,
		})
		if err != nil {
			return nil, err
		}
		e.annotateColumnChanges(ctx, cc, res)
		return res, nil
	}

	batch, err := e.staging.BatchExecute(ctx, cc.Table, c.BuildSelect(cc.Table), cc.Batch)
	if err != nil {
		return nil, err
	}
	if err := e.staging.SwapStagingTable(ctx, cc.Table, batch.StagingTable); err != nil {
		return nil, err
	}
	res := &domain.ExecutionResult{
		Success:  true,
		RowCount: batch.RowsProcessed,
		Affected: batch.RowsProcessed,
	}
	e.annotateColumnChanges(ctx, cc, res)
	return res, nil
}

// annotateColumnChanges compares pre-execution columns with the live
// table and fills the result's column diff. Best-effort.
func (e *Executor) annotateColumnChanges(ctx context.Context, cc *domain.CommandContext, res *domain.ExecutionResult) {
	after, err := e.store.TableColumns(ctx, cc.Table)
	if err != nil {
		e.logger.Warn("column diff failed", "table", cc.Table, "error", err)
		return
	}
	beforeSet := make(map[string]bool, len(cc.Columns))
	for _, c := range cc.Columns {
		beforeSet[c.Name] = true
	}
	afterSet := make(map[string]bool, len(after))
	res.Columns = res.Columns[:0]
	for _, c := range after {
		afterSet[c.Name] = true
		res.Columns = append(res.Columns, c.Name)
		if !beforeSet[c.Name] {
			res.NewColumnNames = append(res.NewColumnNames, c.Name)
		}
	}
	for _, c := range cc.Columns {
		if !afterSet[c.Name] {
			res.DroppedColumnNames = append(res.DroppedColumnNames, c.Name)
		}
	}
}

// Undo reverses the most recent applied command. Undo past an evicted
// snapshot or a materialization boundary returns UndoUnavailableError and
// leaves the data untouched.
func (e *Executor) Undo(ctx context.Context, table string) (*domain.ExecutorResult, error) {
	st := e.state(table)
	st.mu.Lock()
	defer st.mu.Unlock()

	rec := st.timeline.PeekUndo()
	if rec == nil {
		return nil, domain.ErrValidation("nothing to undo on %q", table)
	}
	if rec.UndoDisabled {
		return nil, domain.ErrUndoUnavailable(
			"undo for %q on %q is permanently unavailable", rec.Label, table)
	}

	if err := e.undoRecord(ctx, table, st, rec); err != nil {
		e.logHistoryRecord(ctx, table, rec, "UNDO", err)
		return nil, err
	}
	st.timeline.MarkUndone()
	e.logHistoryRecord(ctx, table, rec, "UNDO", nil)
	e.logger.Info("command undone", "table", table, "command", rec.CommandType, "tier", int(rec.Tier))

	return &domain.ExecutorResult{
		Success:   true,
		Execution: &domain.ExecutionResult{Success: true},
		Audit:     &domain.AuditInfo{Action: "undo", Detail: rec.Label},
	}, nil
}

func (e *Executor) undoRecord(ctx context.Context, table string, st *tableState, rec *domain.TimelineRecord) error {
	switch rec.Tier {
	case domain.Tier1:
		_, err := e.versions.Undo(ctx, table, st.versions, rec.TargetColumn)
		if err != nil {
			var unavailable *domain.UndoUnavailableError
			if errors.As(err, &unavailable) {
				// The boundary forecloses this record and everything
				// before it.
				n := st.timeline.DisableUndoFromCurrent()
				e.logger.Info("materialization boundary reached, undo disabled",
					"table", table, "column", rec.TargetColumn, "records", n)
			}
			return err
		}
		return nil

	case domain.Tier2:
		if rec.SnapshotID != "" {
			// Execution escalated to a snapshot (it rebalanced the
			// ordering column); the stored inverse predates the rebalance
			// and would target the wrong rows, so only the snapshot
			// restores the exact prior state.
			if err := e.restoreRecordSnapshot(ctx, table, st, rec); err != nil {
				return err
			}
			// The captured row id is a post-rebalance value. A redo
			// recomputes it from the restored state; the rebalance is
			// deterministic, so it lands where the original did.
			delete(rec.Params, "row_id")
			rec.InverseSQL = ""
			return nil
		}
		if rec.InverseSQL == "" {
			return domain.ErrUndoUnavailable("no inverse recorded for %q on %q", rec.Label, table)
		}
		if err := e.store.Execute(ctx, rec.InverseSQL); err != nil {
			return fmt.Errorf("apply inverse: %w", err)
		}
		return nil

	case domain.Tier3:
		if rec.SnapshotID == "" {
			// Snapshot-exempt sort: the canonical order is recoverable
			// from the ordering column alone.
			return e.resortByOrderColumn(ctx, table)
		}
		return e.restoreRecordSnapshot(ctx, table, st, rec)

	default:
		return domain.ErrValidation("record %q has unknown tier %d", rec.ID, rec.Tier)
	}
}

// restoreRecordSnapshot puts the table back to the record's pre-execution
// snapshot and frees its slot. A redo re-executes the command and takes a
// fresh one.
func (e *Executor) restoreRecordSnapshot(ctx context.Context, table string, st *tableState, rec *domain.TimelineRecord) error {
	if !e.snaps.Has(table, rec.SnapshotID) {
		n := st.timeline.DisableUndoFromCurrent()
		e.logger.Info("snapshot missing, undo disabled", "table", table, "records", n)
		return domain.ErrUndoUnavailable(
			"snapshot for %q on %q no longer exists", rec.Label, table)
	}
	if err := e.snaps.Restore(ctx, table, rec.SnapshotID); err != nil {
		return err
	}
	if err := e.snaps.Release(ctx, table, rec.SnapshotID); err != nil {
		e.logger.Warn("release restored snapshot failed", "snapshot", rec.SnapshotID, "error", err)
	}
	rec.SnapshotID = ""
	return nil
}

func (e *Executor) resortByOrderColumn(ctx context.Context, table string) error {
	batch, err := e.staging.BatchExecute(ctx, table, command.SortByOrderColumn(table),
		domain.BatchOptions{BatchSize: e.opts.BatchSize})
	if err != nil {
		return err
	}
	return e.staging.SwapStagingTable(ctx, table, batch.StagingTable)
}

// Redo re-executes the most recently undone command, recreated from its
// recorded parameters. State captured at first execution (generated row
// ids) is reused, so a redo lands exactly where the original did.
func (e *Executor) Redo(ctx context.Context, table string) (*domain.ExecutorResult, error) {
	st := e.state(table)
	st.mu.Lock()
	defer st.mu.Unlock()

	rec := st.timeline.PeekRedo()
	if rec == nil {
		return nil, domain.ErrValidation("nothing to redo on %q", table)
	}
	cmd, err := e.registry.Create(rec.CommandType, rec.ID, rec.Params)
	if err != nil {
		return nil, fmt.Errorf("recreate %q for redo: %w", rec.CommandType, err)
	}
	cc, err := e.commandContext(ctx, table, st)
	if err != nil {
		return nil, err
	}
	if err := cmd.Validate(ctx, cc); err != nil {
		e.logHistoryRecord(ctx, table, rec, "REDO", err)
		return nil, err
	}

	res, err := e.dispatch(ctx, st, cc, cmd, rec)
	if err != nil {
		e.logHistoryRecord(ctx, table, rec, "REDO", err)
		return nil, err
	}
	rec.Params = cmd.Params()
	rec.CellChanges = res.SampleChanges
	rec.ExecutedAt = time.Now()
	st.timeline.MarkRedone()

	audit := cmd.AuditInfo()
	e.logHistoryRecord(ctx, table, rec, "REDO", nil)
	e.logger.Info("command redone", "table", table, "command", rec.CommandType)
	return &domain.ExecutorResult{
		Success:      true,
		Execution:    res,
		Audit:        &audit,
		DiffViewName: e.writeDiffTable(ctx, rec.ID, res.SampleChanges),
	}, nil
}

// writeDiffTable materializes sample cell changes into a small table for
// the diff view. Best-effort: a failure only costs the view.
func (e *Executor) writeDiffTable(ctx context.Context, commandID string, changes []domain.CellChange) string {
	if len(changes) == 0 {
		return ""
	}
	name := "diff_" + strings.ReplaceAll(commandID, "-", "")
	if err := ddl.ValidateIdentifier(name); err != nil {
		return ""
	}
	tuples := make([]string, len(changes))
	for i, ch := range changes {
		tuples[i] = fmt.Sprintf("(%d, %s, %s, %s)",
			ch.RowID, ddl.QuoteLiteral(ch.Column),
			ddl.QuoteLiteral(fmt.Sprint(ch.Before)), ddl.QuoteLiteral(fmt.Sprint(ch.After)))
	}
	stmts := []string{}
	drop, err := ddl.DropTable(name, true)
	if err != nil {
		return ""
	}
	stmts = append(stmts,
		drop,
		fmt.Sprintf("CREATE TABLE %s (row_id BIGINT, column_name VARCHAR, before_value VARCHAR, after_value VARCHAR)",
			ddl.QuoteIdentifier(name)),
		fmt.Sprintf("INSERT INTO %s VALUES %s", ddl.QuoteIdentifier(name), strings.Join(tuples, ", ")))
	for _, stmt := range stmts {
		if err := e.store.Execute(ctx, stmt); err != nil {
			e.logger.Warn("diff table write failed", "table", name, "error", err)
			return ""
		}
	}
	return name
}

// logHistory records an audit entry; failures are logged and swallowed.
func (e *Executor) logHistory(ctx context.Context, table string, cmd domain.Command, tier domain.Tier, action string, opErr error) {
	if e.history == nil {
		return
	}
	params, _ := json.Marshal(cmd.Params())
	entry := &domain.HistoryEntry{
		ID:          uuid.New().String(),
		Table:       table,
		CommandID:   cmd.ID(),
		CommandType: string(cmd.Type()),
		Label:       cmd.Label(),
		ParamsJSON:  string(params),
		Tier:        int(tier),
		Action:      action,
		Status:      "OK",
		ExecutedAt:  time.Now().UnixMilli(),
	}
	if opErr != nil {
		entry.Status = "FAILED"
		entry.Error = opErr.Error()
	}
	if err := e.history.Insert(context.WithoutCancel(ctx), entry); err != nil {
		e.logger.Warn("history insert failed", "table", table, "error", err)
	}
}

func (e *Executor) logHistoryRecord(ctx context.Context, table string, rec *domain.TimelineRecord, action string, opErr error) {
	if e.history == nil {
		return
	}
	params, _ := json.Marshal(rec.Params)
	entry := &domain.HistoryEntry{
		ID:          uuid.New().String(),
		Table:       table,
		CommandID:   rec.ID,
		CommandType: string(rec.CommandType),
		Label:       rec.Label,
		ParamsJSON:  string(params),
		Tier:        int(rec.Tier),
		Action:      action,
		Status:      "OK",
		ExecutedAt:  time.Now().UnixMilli(),
	}
	if opErr != nil {
		entry.Status = "FAILED"
		entry.Error = opErr.Error()
	}
	if err := e.history.Insert(context.WithoutCancel(ctx), entry); err != nil {
		e.logger.Warn("history insert failed", "table", table, "error", err)
	}
}

