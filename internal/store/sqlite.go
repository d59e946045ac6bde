package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/saveflow/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Intended for local
// development and single-node deployments; the live-attempt uniqueness
// guarantee relies on the partial unique index, same as Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// newSQLiteWithDB wraps an existing handle; used by tests.
func newSQLiteWithDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS save_attempts (
	id                  TEXT PRIMARY KEY,
	tenant_id           TEXT NOT NULL,
	customer_id         TEXT NOT NULL,
	flow_config_id      TEXT NOT NULL DEFAULT '',
	trigger_event       TEXT NOT NULL DEFAULT '',
	current_stage       INTEGER NOT NULL DEFAULT 1,
	stage_history       TEXT NOT NULL DEFAULT '[]',
	cancellation_reason TEXT,
	reason_category     TEXT,
	outcome             TEXT,
	saved_by            TEXT,
	offer_accepted      TEXT,
	revenue_preserved   REAL NOT NULL DEFAULT 0,
	completed_at        DATETIME,
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_save_attempts_live
	ON save_attempts(tenant_id, customer_id) WHERE outcome IS NULL;
CREATE INDEX IF NOT EXISTS idx_save_attempts_tenant ON save_attempts(tenant_id);
CREATE INDEX IF NOT EXISTS idx_save_attempts_outcome ON save_attempts(outcome);

CREATE TABLE IF NOT EXISTS save_flow_configs (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL UNIQUE,
	config     TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS interventions (
	id             TEXT PRIMARY KEY,
	tenant_id      TEXT NOT NULL,
	customer_id    TEXT NOT NULL,
	attempt_id     TEXT NOT NULL UNIQUE,
	kind           TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'PENDING',
	outcome        TEXT,
	revenue_impact REAL NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_interventions_status ON interventions(status);

CREATE TABLE IF NOT EXISTS subscriptions (
	id            TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL,
	customer_id   TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'active',
	monthly_value REAL NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_subscriptions_customer ON subscriptions(tenant_id, customer_id, status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateAttempt(ctx context.Context, a *model.SaveAttempt, iv *model.Intervention) error {
	historyJSON, err := json.Marshal(a.StageHistory)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stage history")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO save_attempts (id, tenant_id, customer_id, flow_config_id, trigger_event, current_stage, stage_history, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TenantID, a.CustomerID, a.FlowConfigID, a.Trigger, int(a.CurrentStage), string(historyJSON), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert attempt")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO interventions (id, tenant_id, customer_id, attempt_id, kind, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		iv.ID, iv.TenantID, iv.CustomerID, iv.AttemptID, iv.Kind, string(iv.Status), iv.CreatedAt, iv.UpdatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert intervention")
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func (s *SQLiteStore) FindAttempt(ctx context.Context, id string) (*model.SaveAttempt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM save_attempts WHERE id = ?`, id)
	a, err := scanSQLiteAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: find attempt %s", id)
	}
	return a, nil
}

func (s *SQLiteStore) FindNonTerminalAttempt(ctx context.Context, tenantID, customerID string) (*model.SaveAttempt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM save_attempts WHERE tenant_id = ? AND customer_id = ? AND outcome IS NULL LIMIT 1`,
		tenantID, customerID,
	)
	a, err := scanSQLiteAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: find non-terminal attempt")
	}
	return a, nil
}

func (s *SQLiteStore) UpdateAttemptProgress(ctx context.Context, id string, upd ProgressUpdate) error {
	historyJSON, err := json.Marshal(upd.StageHistory)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stage history")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE save_attempts SET current_stage = ?, stage_history = ?, cancellation_reason = ?, reason_category = ?, updated_at = ? WHERE id = ?`,
		int(upd.CurrentStage), string(historyJSON), nullString(upd.CancellationReason), nullString(string(upd.ReasonCategory)), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update progress %s", id)
	}
	return checkRowsAffected(res, "attempt", id)
}

func (s *SQLiteStore) CompleteAttempt(ctx context.Context, id string, c Completion) error {
	historyJSON, err := json.Marshal(c.StageHistory)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stage history")
	}
	var offerJSON *string
	if c.OfferAccepted != nil {
		b, err := json.Marshal(c.OfferAccepted)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal offer")
		}
		v := string(b)
		offerJSON = &v
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE save_attempts SET outcome = ?, saved_by = ?, offer_accepted = ?, revenue_preserved = ?, completed_at = ?, stage_history = ?, cancellation_reason = COALESCE(?, cancellation_reason), reason_category = COALESCE(?, reason_category), updated_at = ? WHERE id = ?`,
		string(c.Outcome), c.SavedBy, offerJSON, c.RevenuePreserved, c.CompletedAt, string(historyJSON), nullString(c.CancellationReason), nullString(string(c.ReasonCategory)), now, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete attempt %s", id)
	}
	if err := checkRowsAffected(res, "attempt", id); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE interventions SET status = ?, outcome = ?, revenue_impact = ?, updated_at = ? WHERE attempt_id = ?`,
		string(model.InterventionCompleted), c.InterventionOutcome, c.RevenuePreserved, now, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete intervention for attempt %s", id)
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func (s *SQLiteStore) QueryAttempts(ctx context.Context, filter AttemptFilter) ([]model.SaveAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM save_attempts WHERE 1=1`
	var args []any

	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.CustomerID != "" {
		query += ` AND customer_id = ?`
		args = append(args, filter.CustomerID)
	}
	if filter.Outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, string(filter.Outcome))
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + strconv.Itoa(filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query attempts")
	}
	defer rows.Close()

	var attempts []model.SaveAttempt
	for rows.Next() {
		a, err := scanSQLiteAttempt(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan attempt")
		}
		attempts = append(attempts, *a)
	}
	return attempts, eris.Wrap(rows.Err(), "sqlite: iterate attempts")
}

func (s *SQLiteStore) GetFlowConfig(ctx context.Context, tenantID string) (*model.SaveFlowConfiguration, error) {
	var (
		id         string
		tenant     string
		configJSON string
		updatedAt  time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, config, updated_at FROM save_flow_configs WHERE tenant_id = ?`, tenantID,
	).Scan(&id, &tenant, &configJSON, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get flow config %s", tenantID)
	}

	var cfg model.SaveFlowConfiguration
	if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal flow config %s", tenantID)
	}
	cfg.ID = id
	cfg.TenantID = tenant
	cfg.UpdatedAt = updatedAt
	return &cfg, nil
}

func (s *SQLiteStore) UpsertFlowConfig(ctx context.Context, cfg *model.SaveFlowConfiguration) error {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal flow config")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO save_flow_configs (id, tenant_id, config, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (tenant_id) DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at`,
		cfg.ID, cfg.TenantID, string(configJSON), cfg.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert flow config %s", cfg.TenantID)
}

func (s *SQLiteStore) ListOpenInterventions(ctx context.Context) ([]model.Intervention, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, customer_id, attempt_id, kind, status, outcome, revenue_impact, created_at, updated_at
		 FROM interventions WHERE status != ?`, string(model.InterventionCompleted),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list open interventions")
	}
	defer rows.Close()

	var out []model.Intervention
	for rows.Next() {
		var iv model.Intervention
		var outcome sql.NullString
		err := rows.Scan(&iv.ID, &iv.TenantID, &iv.CustomerID, &iv.AttemptID, &iv.Kind, &iv.Status, &outcome, &iv.RevenueImpact, &iv.CreatedAt, &iv.UpdatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan intervention")
		}
		iv.Outcome = outcome.String
		out = append(out, iv)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate interventions")
}

func (s *SQLiteStore) CompleteIntervention(ctx context.Context, attemptID, outcome string, revenueImpact float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE interventions SET status = ?, outcome = ?, revenue_impact = ?, updated_at = ? WHERE attempt_id = ?`,
		string(model.InterventionCompleted), outcome, revenueImpact, time.Now().UTC(), attemptID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete intervention %s", attemptID)
	}
	return checkRowsAffected(res, "intervention", attemptID)
}

func (s *SQLiteStore) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, tenant_id, customer_id, status, monthly_value, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.TenantID, sub.CustomerID, sub.Status, sub.MonthlyValue, sub.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert subscription")
}

func (s *SQLiteStore) FindActiveSubscription(ctx context.Context, tenantID, customerID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, customer_id, status, monthly_value, created_at FROM subscriptions WHERE tenant_id = ? AND customer_id = ? AND status = 'active' LIMIT 1`,
		tenantID, customerID,
	).Scan(&sub.ID, &sub.TenantID, &sub.CustomerID, &sub.Status, &sub.MonthlyValue, &sub.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: find active subscription")
	}
	return &sub, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteAttempt(row rowScanner) (*model.SaveAttempt, error) {
	var (
		a           model.SaveAttempt
		stage       int
		historyJSON string
		reason      sql.NullString
		category    sql.NullString
		outcome     sql.NullString
		savedBy     sql.NullString
		offerJSON   sql.NullString
		completedAt sql.NullTime
	)
	err := row.Scan(
		&a.ID, &a.TenantID, &a.CustomerID, &a.FlowConfigID, &a.Trigger,
		&stage, &historyJSON, &reason, &category, &outcome, &savedBy,
		&offerJSON, &a.RevenuePreserved, &completedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.CurrentStage = model.Stage(stage)
	if historyJSON != "" {
		if err := json.Unmarshal([]byte(historyJSON), &a.StageHistory); err != nil {
			return nil, eris.Wrap(err, "unmarshal stage history")
		}
	}
	a.CancellationReason = reason.String
	a.ReasonCategory = model.ReasonCategory(category.String)
	a.Outcome = model.Outcome(outcome.String)
	a.SavedBy = savedBy.String
	if offerJSON.Valid && offerJSON.String != "" {
		if err := json.Unmarshal([]byte(offerJSON.String), &a.OfferAccepted); err != nil {
			return nil, eris.Wrap(err, "unmarshal offer")
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		a.CompletedAt = &t
	}
	return &a, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: %s %s not found", entity, id)
	}
	return nil
}
