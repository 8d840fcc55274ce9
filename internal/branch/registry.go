package branch

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"conteo/pkg/logger"
)

// RegistryConfig configures Registry behavior.
type RegistryConfig struct {
	// Pool settings (per branch)
	DefaultPoolMax  int
	ConnMaxLifetime time.Duration

	// Connection settings
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration

	// HealthCheckPeriod is the interval of the periodic health loop.
	HealthCheckPeriod time.Duration
}

// DefaultRegistryConfig returns production-safe defaults.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		DefaultPoolMax:    5,
		ConnMaxLifetime:   time.Hour,
		ConnectTimeout:    10 * time.Second,
		QueryTimeout:      10 * time.Second,
		HealthCheckPeriod: 30 * time.Second,
	}
}

// entry is the runtime state of one branch pool. Exclusively owned by the
// registry; all fields are guarded by Registry.mu.
type entry struct {
	cfg       Config
	pool      Pool
	status    Status
	lastCheck time.Time
	errMsg    string
}

// Registry owns one connection pool per branch database and keeps them
// health-checked. One instance per process, constructed at the composition
// root and injected wherever branch access is needed.
//
// A branch that fails to connect is kept registered with status=error so a
// later health check can flip it back without re-registration; it costs one
// idle broken pool and buys self-healing.
type Registry struct {
	cfg RegistryConfig
	log *logger.Logger

	mu      sync.RWMutex
	entries map[int64]*entry

	// open dials a pool for a config. Replaced in tests.
	open func(cfg Config) (Pool, error)

	loopCancel context.CancelFunc
	loopWG     sync.WaitGroup
	loopOnce   sync.Once
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig, log *logger.Logger) *Registry {
	r := &Registry{
		cfg:     cfg,
		log:     log.WithComponent("branch-registry"),
		entries: make(map[int64]*entry),
	}
	r.open = r.openMySQL
	return r
}

func (r *Registry) openMySQL(cfg Config) (Pool, error) {
	db, err := sql.Open("mysql", cfg.DSN(r.cfg.ConnectTimeout, r.cfg.QueryTimeout))
	if err != nil {
		return nil, err
	}

	poolMax := cfg.PoolMax
	if poolMax <= 0 {
		poolMax = r.cfg.DefaultPoolMax
	}
	db.SetMaxOpenConns(poolMax)
	db.SetMaxIdleConns(poolMax)
	db.SetConnMaxLifetime(r.cfg.ConnMaxLifetime)

	return db, nil
}

// InitializeBranches registers every config and starts the health loop.
// One branch failing to connect never prevents the others from initializing;
// failures are logged and the branch stays registered as degraded.
func (r *Registry) InitializeBranches(ctx context.Context, configs []Config) {
	for _, cfg := range configs {
		if err := r.AddBranch(ctx, cfg); err != nil {
			r.log.Warnw("branch initialized degraded",
				"branch_id", cfg.ID,
				"code", cfg.Code,
				"error", err,
			)
		}
	}

	r.log.Infow("branch registry initialized",
		"branches", len(configs),
		"connected", r.connectedCount(),
	)

	r.StartHealthLoop()
}

// AddBranch registers (or replaces) the pool for one branch. If a pool
// already exists for the id it is drained first so nothing leaks. On ping
// failure the new pool is still stored with status=error and the error is
// returned; the branch is known but degraded, not silently dropped.
func (r *Registry) AddBranch(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	pool, err := r.open(cfg)
	if err != nil {
		return fmt.Errorf("open pool for branch %d: %w", cfg.ID, err)
	}

	e := &entry{cfg: cfg, pool: pool, lastCheck: time.Now()}

	pingCtx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
	pingErr := pool.PingContext(pingCtx)
	cancel()

	if pingErr != nil {
		e.status = StatusError
		e.errMsg = pingErr.Error()
	} else {
		e.status = StatusConnected
	}

	r.mu.Lock()
	displaced := r.entries[cfg.ID]
	r.entries[cfg.ID] = e
	r.mu.Unlock()

	// Drain outside the lock. Whoever displaces an entry drains it, so two
	// concurrent AddBranch calls for the same id still leave exactly one
	// open pool.
	if displaced != nil {
		r.drain(displaced)
	}

	if pingErr != nil {
		r.log.Warnw("branch registered degraded", "branch_id", cfg.ID, "code", cfg.Code, "error", pingErr)
		return fmt.Errorf("ping branch %d: %w", cfg.ID, pingErr)
	}

	r.log.Infow("branch connected", "branch_id", cfg.ID, "code", cfg.Code, "db", cfg.Database)
	return nil
}

// RemoveBranch drains and forgets the branch pool. Unknown ids are a no-op.
func (r *Registry) RemoveBranch(ctx context.Context, branchID int64) {
	r.mu.Lock()
	e := r.entries[branchID]
	delete(r.entries, branchID)
	r.mu.Unlock()

	if e == nil {
		return
	}
	r.drain(e)
	r.log.Infow("branch removed", "branch_id", branchID)
}

// drain closes a pool best-effort. Close failures are logged, never thrown.
func (r *Registry) drain(e *entry) {
	if err := e.pool.Close(); err != nil {
		r.log.Warnw("branch pool close failed", "branch_id", e.cfg.ID, "error", err)
	}
}

// GetPool returns the live pool for a branch, or nil when the branch is
// unknown or currently degraded. Callers treat nil as a soft failure.
func (r *Registry) GetPool(branchID int64) Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[branchID]; ok && e.status == StatusConnected {
		return e.pool
	}
	return nil
}

// GetPoolByCode is GetPool keyed by branch code.
func (r *Registry) GetPoolByCode(code string) Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.cfg.Code == code {
			if e.status == StatusConnected {
				return e.pool
			}
			return nil
		}
	}
	return nil
}

// BranchIDs returns every configured branch id, connected or not.
// The stock layer fans out over all of them and degrades per branch.
func (r *Registry) BranchIDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.entries))
	for bid := range r.entries {
		ids = append(ids, bid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ConfigByCode resolves a branch config by code.
func (r *Registry) ConfigByCode(code string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.cfg.Code == code {
			return e.cfg, true
		}
	}
	return Config{}, false
}

// Query runs a query against one branch and returns the raw rows for typed
// scanning. The caller bounds ctx and owns rows.Close; use ExecuteQuery
// when the registry timeout and generic rows are enough.
func (r *Registry) Query(ctx context.Context, branchID int64, query string, args ...any) (*sql.Rows, error) {
	pool := r.GetPool(branchID)
	if pool == nil {
		return nil, fmt.Errorf("branch %d: %w", branchID, ErrUnavailable)
	}

	rows, err := pool.QueryContext(ctx, query, normalizeArgs(args)...)
	if err != nil {
		r.log.Warnw("branch query failed", "branch_id", branchID, "error", err)
		return nil, err
	}
	return rows, nil
}

// ExecuteQuery runs a query against one branch and materializes the result
// as generic row maps, bounded by the registry query timeout. Used by
// fan-out consumers and the ops surface where column sets vary per branch
// schema.
func (r *Registry) ExecuteQuery(ctx context.Context, branchID int64, query string, args ...any) ([]RowMap, error) {
	queryCtx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	defer cancel()

	rows, err := r.Query(queryCtx, branchID, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRowMaps(rows)
}

// ExecuteQueryOnAllBranches fans the query out in parallel to every branch
// whose pool is currently connected. A branch that fails contributes an
// empty result list; the fan-out itself never fails.
func (r *Registry) ExecuteQueryOnAllBranches(ctx context.Context, query string, args ...any) map[int64][]RowMap {
	r.mu.RLock()
	targets := make([]int64, 0, len(r.entries))
	for bid, e := range r.entries {
		if e.status == StatusConnected {
			targets = append(targets, bid)
		}
	}
	r.mu.RUnlock()

	results := make(map[int64][]RowMap, len(targets))
	var resultsMu sync.Mutex
	var wg sync.WaitGroup

	for _, bid := range targets {
		wg.Add(1)
		go func(branchID int64) {
			defer wg.Done()

			rows, err := r.ExecuteQuery(ctx, branchID, query, args...)
			if err != nil {
				r.log.Warnw("fan-out query failed, returning empty result",
					"branch_id", branchID, "error", err)
				rows = []RowMap{}
			}

			resultsMu.Lock()
			results[branchID] = rows
			resultsMu.Unlock()
		}(bid)
	}

	wg.Wait()
	return results
}

// CheckBranchHealth pings one branch and updates its status, lastCheck and
// error message.
func (r *Registry) CheckBranchHealth(ctx context.Context, branchID int64) error {
	r.mu.RLock()
	e, ok := r.entries[branchID]
	var pool Pool
	if ok {
		pool = e.pool
	}
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("branch %d: %w", branchID, ErrUnavailable)
	}

	pingCtx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
	err := pool.PingContext(pingCtx)
	cancel()

	r.mu.Lock()
	// Entry may have been replaced while we pinged; only update if it is
	// still the one we checked.
	if cur, ok := r.entries[branchID]; ok && cur == e {
		cur.lastCheck = time.Now()
		if err != nil {
			if cur.status == StatusConnected {
				r.log.Warnw("branch went unhealthy", "branch_id", branchID, "error", err)
			}
			cur.status = StatusError
			cur.errMsg = err.Error()
		} else {
			if cur.status == StatusError {
				r.log.Infow("branch recovered", "branch_id", branchID)
			}
			cur.status = StatusConnected
			cur.errMsg = ""
		}
	}
	r.mu.Unlock()

	return err
}

// CheckAllBranchesHealth pings every registered branch in parallel and
// waits for all checks to finish.
func (r *Registry) CheckAllBranchesHealth(ctx context.Context) {
	var wg sync.WaitGroup
	for _, bid := range r.BranchIDs() {
		wg.Add(1)
		go func(branchID int64) {
			defer wg.Done()
			_ = r.CheckBranchHealth(ctx, branchID)
		}(bid)
	}
	wg.Wait()
}

// StartHealthLoop starts the periodic health checker. Each tick runs the
// full synchronous fan-out before the next tick is consumed, so checks
// never overlap-accumulate. Safe to call more than once.
func (r *Registry) StartHealthLoop() {
	if r.cfg.HealthCheckPeriod <= 0 {
		return
	}
	r.loopOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		r.loopCancel = cancel
		r.loopWG.Add(1)
		go func() {
			defer r.loopWG.Done()
			ticker := time.NewTicker(r.cfg.HealthCheckPeriod)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					r.CheckAllBranchesHealth(ctx)
				}
			}
		}()
	})
}

// GetBranchesStatus returns an observability snapshot of every entry,
// ordered by branch id.
func (r *Registry) GetBranchesStatus() []PoolStatus {
	r.mu.RLock()
	out := make([]PoolStatus, 0, len(r.entries))
	for _, e := range r.entries {
		stats := e.pool.Stats()
		out = append(out, PoolStatus{
			ID:        e.cfg.ID,
			Code:      e.cfg.Code,
			Name:      e.cfg.Name,
			Status:    e.status,
			LastCheck: e.lastCheck,
			Error:     e.errMsg,
			OpenConns: stats.OpenConnections,
			InUse:     stats.InUse,
		})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CloseAll stops the health loop and drains every pool in parallel.
func (r *Registry) CloseAll() {
	if r.loopCancel != nil {
		r.loopCancel()
		r.loopWG.Wait()
	}

	r.mu.Lock()
	drained := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		drained = append(drained, e)
	}
	r.entries = make(map[int64]*entry)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range drained {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			r.drain(e)
		}(e)
	}
	wg.Wait()

	r.log.Infow("branch registry closed", "pools_closed", len(drained))
}

func (r *Registry) connectedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if e.status == StatusConnected {
			n++
		}
	}
	return n
}

// normalizeArgs flattens the historical calling conventions: nil means no
// params, a single nil slice means no params.
func normalizeArgs(args []any) []any {
	if len(args) == 0 {
		return nil
	}
	if len(args) == 1 {
		if args[0] == nil {
			return nil
		}
		if inner, ok := args[0].([]any); ok {
			return inner
		}
	}
	return args
}
