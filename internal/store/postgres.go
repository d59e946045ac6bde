package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/saveflow/internal/db"
	"github.com/sells-group/saveflow/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const attemptColumns = `id, tenant_id, customer_id, flow_config_id, trigger_event, current_stage, stage_history, cancellation_reason, reason_category, outcome, saved_by, offer_accepted, revenue_preserved, completed_at, created_at, updated_at`

// preparedStatements lists queries to prepare on each new connection for the
// hot path: initiate, progress, complete.
var preparedStatements = map[string]string{
	"find_attempt":         `SELECT ` + attemptColumns + ` FROM save_attempts WHERE id = $1`,
	"find_live_attempt":    `SELECT ` + attemptColumns + ` FROM save_attempts WHERE tenant_id = $1 AND customer_id = $2 AND outcome IS NULL LIMIT 1`,
	"update_progress":      `UPDATE save_attempts SET current_stage = $1, stage_history = $2, cancellation_reason = $3, reason_category = $4, updated_at = $5 WHERE id = $6`,
	"get_flow_config":      `SELECT id, tenant_id, config, updated_at FROM save_flow_configs WHERE tenant_id = $1`,
	"find_active_sub":      `SELECT id, tenant_id, customer_id, status, monthly_value, created_at FROM subscriptions WHERE tenant_id = $1 AND customer_id = $2 AND status = 'active' LIMIT 1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// The partial unique index on (tenant_id, customer_id) WHERE outcome IS NULL
// enforces at most one live attempt per customer at the storage layer, backing
// the engine's lookup-before-create.
const postgresMigration = `
CREATE TABLE IF NOT EXISTS save_attempts (
	id                  TEXT PRIMARY KEY,
	tenant_id           TEXT NOT NULL,
	customer_id         TEXT NOT NULL,
	flow_config_id      TEXT NOT NULL DEFAULT '',
	trigger_event       TEXT NOT NULL DEFAULT '',
	current_stage       INT NOT NULL DEFAULT 1,
	stage_history       JSONB NOT NULL DEFAULT '[]',
	cancellation_reason TEXT,
	reason_category     TEXT,
	outcome             TEXT,
	saved_by            TEXT,
	offer_accepted      JSONB,
	revenue_preserved   DOUBLE PRECISION NOT NULL DEFAULT 0,
	completed_at        TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_save_attempts_live
	ON save_attempts(tenant_id, customer_id) WHERE outcome IS NULL;
CREATE INDEX IF NOT EXISTS idx_save_attempts_tenant ON save_attempts(tenant_id);
CREATE INDEX IF NOT EXISTS idx_save_attempts_outcome ON save_attempts(outcome);
CREATE INDEX IF NOT EXISTS idx_save_attempts_created ON save_attempts(created_at);

CREATE TABLE IF NOT EXISTS save_flow_configs (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL UNIQUE,
	config     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS interventions (
	id             TEXT PRIMARY KEY,
	tenant_id      TEXT NOT NULL,
	customer_id    TEXT NOT NULL,
	attempt_id     TEXT NOT NULL UNIQUE,
	kind           TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'PENDING',
	outcome        TEXT,
	revenue_impact DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_interventions_status ON interventions(status);

CREATE TABLE IF NOT EXISTS subscriptions (
	id            TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL,
	customer_id   TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'active',
	monthly_value DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_subscriptions_customer ON subscriptions(tenant_id, customer_id, status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateAttempt(ctx context.Context, a *model.SaveAttempt, iv *model.Intervention) error {
	historyJSON, err := json.Marshal(a.StageHistory)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stage history")
	}

	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO save_attempts (id, tenant_id, customer_id, flow_config_id, trigger_event, current_stage, stage_history, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			a.ID, a.TenantID, a.CustomerID, a.FlowConfigID, a.Trigger, int(a.CurrentStage), historyJSON, a.CreatedAt, a.UpdatedAt,
		)
		if err != nil {
			return eris.Wrap(err, "postgres: insert attempt")
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO interventions (id, tenant_id, customer_id, attempt_id, kind, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			iv.ID, iv.TenantID, iv.CustomerID, iv.AttemptID, iv.Kind, string(iv.Status), iv.CreatedAt, iv.UpdatedAt,
		)
		if err != nil {
			return eris.Wrap(err, "postgres: insert intervention")
		}
		return nil
	})
}

func (s *PostgresStore) FindAttempt(ctx context.Context, id string) (*model.SaveAttempt, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM save_attempts WHERE id = $1`, id)
	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: find attempt %s", id)
	}
	return a, nil
}

func (s *PostgresStore) FindNonTerminalAttempt(ctx context.Context, tenantID, customerID string) (*model.SaveAttempt, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM save_attempts WHERE tenant_id = $1 AND customer_id = $2 AND outcome IS NULL LIMIT 1`,
		tenantID, customerID,
	)
	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: find non-terminal attempt")
	}
	return a, nil
}

func (s *PostgresStore) UpdateAttemptProgress(ctx context.Context, id string, upd ProgressUpdate) error {
	historyJSON, err := json.Marshal(upd.StageHistory)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stage history")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE save_attempts SET current_stage = $1, stage_history = $2, cancellation_reason = $3, reason_category = $4, updated_at = $5 WHERE id = $6`,
		int(upd.CurrentStage), historyJSON, nullString(upd.CancellationReason), nullString(string(upd.ReasonCategory)), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update progress %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: attempt %s not found", id)
	}
	return nil
}

// CompleteAttempt updates the attempt's terminal fields and transitions the
// paired intervention inside a single transaction.
func (s *PostgresStore) CompleteAttempt(ctx context.Context, id string, c Completion) error {
	historyJSON, err := json.Marshal(c.StageHistory)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stage history")
	}
	var offerJSON []byte
	if c.OfferAccepted != nil {
		offerJSON, err = json.Marshal(c.OfferAccepted)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal offer")
		}
	}
	now := time.Now().UTC()

	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE save_attempts SET outcome = $1, saved_by = $2, offer_accepted = $3, revenue_preserved = $4, completed_at = $5, stage_history = $6, cancellation_reason = COALESCE($7, cancellation_reason), reason_category = COALESCE($8, reason_category), updated_at = $9 WHERE id = $10`,
			string(c.Outcome), c.SavedBy, offerJSON, c.RevenuePreserved, c.CompletedAt, historyJSON, nullString(c.CancellationReason), nullString(string(c.ReasonCategory)), now, id,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: complete attempt %s", id)
		}
		if tag.RowsAffected() == 0 {
			return eris.Errorf("postgres: attempt %s not found", id)
		}

		_, err = tx.Exec(ctx,
			`UPDATE interventions SET status = $1, outcome = $2, revenue_impact = $3, updated_at = $4 WHERE attempt_id = $5`,
			string(model.InterventionCompleted), c.InterventionOutcome, c.RevenuePreserved, now, id,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: complete intervention for attempt %s", id)
		}
		return nil
	})
}

func (s *PostgresStore) QueryAttempts(ctx context.Context, filter AttemptFilter) ([]model.SaveAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM save_attempts WHERE 1=1`
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.TenantID != "" {
		query += ` AND tenant_id = ` + arg(filter.TenantID)
	}
	if filter.CustomerID != "" {
		query += ` AND customer_id = ` + arg(filter.CustomerID)
	}
	if filter.Outcome != "" {
		query += ` AND outcome = ` + arg(string(filter.Outcome))
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ` + arg(filter.Since)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query attempts")
	}
	defer rows.Close()

	var attempts []model.SaveAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan attempt")
		}
		attempts = append(attempts, *a)
	}
	return attempts, eris.Wrap(rows.Err(), "postgres: iterate attempts")
}

func (s *PostgresStore) GetFlowConfig(ctx context.Context, tenantID string) (*model.SaveFlowConfiguration, error) {
	var (
		id         string
		tenant     string
		configJSON []byte
		updatedAt  time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, config, updated_at FROM save_flow_configs WHERE tenant_id = $1`, tenantID,
	).Scan(&id, &tenant, &configJSON, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get flow config %s", tenantID)
	}

	var cfg model.SaveFlowConfiguration
	if err := json.Unmarshal(configJSON, &cfg); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal flow config %s", tenantID)
	}
	cfg.ID = id
	cfg.TenantID = tenant
	cfg.UpdatedAt = updatedAt
	return &cfg, nil
}

func (s *PostgresStore) UpsertFlowConfig(ctx context.Context, cfg *model.SaveFlowConfiguration) error {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal flow config")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO save_flow_configs (id, tenant_id, config, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id) DO UPDATE SET config = EXCLUDED.config, updated_at = EXCLUDED.updated_at`,
		cfg.ID, cfg.TenantID, configJSON, cfg.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert flow config %s", cfg.TenantID)
}

func (s *PostgresStore) ListOpenInterventions(ctx context.Context) ([]model.Intervention, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, customer_id, attempt_id, kind, status, outcome, revenue_impact, created_at, updated_at
		 FROM interventions WHERE status != $1`, string(model.InterventionCompleted),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list open interventions")
	}
	defer rows.Close()

	var out []model.Intervention
	for rows.Next() {
		var iv model.Intervention
		var outcome *string
		err := rows.Scan(&iv.ID, &iv.TenantID, &iv.CustomerID, &iv.AttemptID, &iv.Kind, &iv.Status, &outcome, &iv.RevenueImpact, &iv.CreatedAt, &iv.UpdatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan intervention")
		}
		if outcome != nil {
			iv.Outcome = *outcome
		}
		out = append(out, iv)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate interventions")
}

func (s *PostgresStore) CompleteIntervention(ctx context.Context, attemptID, outcome string, revenueImpact float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE interventions SET status = $1, outcome = $2, revenue_impact = $3, updated_at = $4 WHERE attempt_id = $5`,
		string(model.InterventionCompleted), outcome, revenueImpact, time.Now().UTC(), attemptID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete intervention %s", attemptID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: intervention for attempt %s not found", attemptID)
	}
	return nil
}

func (s *PostgresStore) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscriptions (id, tenant_id, customer_id, status, monthly_value, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		sub.ID, sub.TenantID, sub.CustomerID, sub.Status, sub.MonthlyValue, sub.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert subscription")
}

func (s *PostgresStore) FindActiveSubscription(ctx context.Context, tenantID, customerID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, customer_id, status, monthly_value, created_at FROM subscriptions WHERE tenant_id = $1 AND customer_id = $2 AND status = 'active' LIMIT 1`,
		tenantID, customerID,
	).Scan(&sub.ID, &sub.TenantID, &sub.CustomerID, &sub.Status, &sub.MonthlyValue, &sub.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: find active subscription")
	}
	return &sub, nil
}

// scanAttempt reads one attempt row; callers translate pgx.ErrNoRows.
func scanAttempt(row pgx.Row) (*model.SaveAttempt, error) {
	var (
		a           model.SaveAttempt
		stage       int
		historyJSON []byte
		reason      *string
		category    *string
		outcome     *string
		savedBy     *string
		offerJSON   []byte
	)
	err := row.Scan(
		&a.ID, &a.TenantID, &a.CustomerID, &a.FlowConfigID, &a.Trigger,
		&stage, &historyJSON, &reason, &category, &outcome, &savedBy,
		&offerJSON, &a.RevenuePreserved, &a.CompletedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.CurrentStage = model.Stage(stage)
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &a.StageHistory); err != nil {
			return nil, eris.Wrap(err, "unmarshal stage history")
		}
	}
	if reason != nil {
		a.CancellationReason = *reason
	}
	if category != nil {
		a.ReasonCategory = model.ReasonCategory(*category)
	}
	if outcome != nil {
		a.Outcome = model.Outcome(*outcome)
	}
	if savedBy != nil {
		a.SavedBy = *savedBy
	}
	if len(offerJSON) > 0 {
		if err := json.Unmarshal(offerJSON, &a.OfferAccepted); err != nil {
			return nil, eris.Wrap(err, "unmarshal offer")
		}
	}
	return &a, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
