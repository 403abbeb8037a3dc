package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder syntax for SQLRuleStore
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// SQLRuleStore implements RuleStore on top of database/sql.
// Queries are written with ? placeholders and rebound for postgres.
type SQLRuleStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQLRuleStore creates a RuleStore backed by db
func NewSQLRuleStore(db *sql.DB, dialect Dialect) *SQLRuleStore {
	return &SQLRuleStore{
		db:      db,
		dialect: dialect,
		now:     time.Now,
	}
}

// rebind rewrites ? placeholders to $n for postgres
func (s *SQLRuleStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Create inserts a rule, its triggers and its actions in a single transaction
func (s *SQLRuleStore) Create(ctx context.Context, rule *Rule) error {
	if rule.ID != "" {
		var exists bool
		err := s.db.QueryRowContext(ctx, s.rebind(`
			SELECT EXISTS(SELECT 1 FROM rules WHERE id = ?)
		`), rule.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check rule existence: %w", err)
		}
		if exists {
			return fmt.Errorf("rule %s: %w", rule.ID, ErrRuleExists)
		}
	}

	if err := prepareForCreate(rule, s.now().UTC()); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO rules (id, name, description, enabled, execution_count, last_triggered, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, NULL, ?, ?)
	`), rule.ID, rule.Name, rule.Description, rule.Enabled, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	for i, t := range rule.Triggers {
		var number sql.NullFloat64
		if t.ValueNumber != nil {
			number = sql.NullFloat64{Float64: *t.ValueNumber, Valid: true}
		}
		var text sql.NullString
		if t.ValueText != "" {
			text = sql.NullString{String: t.ValueText, Valid: true}
		}
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO triggers (id, rule_id, position, kind, condition, value_text, value_number)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`), t.ID, rule.ID, i, string(t.Kind), t.Condition, text, number)
		if err != nil {
			return fmt.Errorf("failed to insert trigger %d: %w", i, err)
		}
	}

	for i, a := range rule.Actions {
		config := a.Config
		if config == nil {
			config = map[string]any{}
		}
		configJSON, err := json.Marshal(config)
		if err != nil {
			return fmt.Errorf("failed to encode config of action %d: %w", i, err)
		}
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO actions (id, rule_id, position, kind, config_json)
			VALUES (?, ?, ?, ?, ?)
		`), a.ID, rule.ID, i, string(a.Kind), string(configJSON))
		if err != nil {
			return fmt.Errorf("failed to insert action %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rule: %w", err)
	}
	return nil
}

// Get retrieves a rule by ID
func (s *SQLRuleStore) Get(ctx context.Context, id string) (*Rule, error) {
	list, err := s.List(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	return list[0], nil
}

// List loads rules ordered by created_at, then batches their triggers and actions
func (s *SQLRuleStore) List(ctx context.Context, filterID string) ([]*Rule, error) {
	query := `
		SELECT id, name, description, enabled, execution_count, last_triggered, created_at, updated_at
		FROM rules`
	var args []any
	if filterID != "" {
		query += ` WHERE id = ?`
		args = append(args, filterID)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	list := []*Rule{}
	byID := make(map[string]*Rule)
	for rows.Next() {
		var r Rule
		var last sql.NullTime
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.Enabled, &r.ExecutionCount,
			&last, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		if last.Valid {
			t := last.Time
			r.LastTriggered = &t
		}
		list = append(list, &r)
		byID[r.ID] = &r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	if len(list) == 0 {
		return list, nil
	}

	if err := s.loadTriggers(ctx, byID); err != nil {
		return nil, err
	}
	if err := s.loadActions(ctx, byID); err != nil {
		return nil, err
	}
	return list, nil
}

func inClause(byID map[string]*Rule) (string, []any) {
	placeholders := make([]string, 0, len(byID))
	args := make([]any, 0, len(byID))
	for id := range byID {
		placeholders = append(placeholders, "?")
		args = append(args, id)
	}
	return "(" + strings.Join(placeholders, ", ") + ")", args
}

func (s *SQLRuleStore) loadTriggers(ctx context.Context, byID map[string]*Rule) error {
	in, args := inClause(byID)
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, rule_id, kind, condition, value_text, value_number
		FROM triggers
		WHERE rule_id IN `+in+`
		ORDER BY rule_id, position ASC
	`), args...)
	if err != nil {
		return fmt.Errorf("failed to load triggers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t Trigger
		var ruleID, kind string
		var text sql.NullString
		var number sql.NullFloat64
		if err := rows.Scan(&t.ID, &ruleID, &kind, &t.Condition, &text, &number); err != nil {
			return fmt.Errorf("failed to scan trigger: %w", err)
		}
		t.Kind = TriggerKind(kind)
		t.ValueText = text.String
		if number.Valid {
			n := number.Float64
			t.ValueNumber = &n
		}
		if r, ok := byID[ruleID]; ok {
			r.Triggers = append(r.Triggers, t)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating triggers: %w", err)
	}
	return nil
}

func (s *SQLRuleStore) loadActions(ctx context.Context, byID map[string]*Rule) error {
	in, args := inClause(byID)
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, rule_id, kind, config_json
		FROM actions
		WHERE rule_id IN `+in+`
		ORDER BY rule_id, position ASC
	`), args...)
	if err != nil {
		return fmt.Errorf("failed to load actions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a Action
		var ruleID, kind, configJSON string
		if err := rows.Scan(&a.ID, &ruleID, &kind, &configJSON); err != nil {
			return fmt.Errorf("failed to scan action: %w", err)
		}
		a.Kind = ActionKind(kind)
		if configJSON != "" {
			if err := json.Unmarshal([]byte(configJSON), &a.Config); err != nil {
				return fmt.Errorf("invalid config for action %s: %w", a.ID, err)
			}
		}
		if r, ok := byID[ruleID]; ok {
			r.Actions = append(r.Actions, a)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating actions: %w", err)
	}
	return nil
}

// IncrementStats bumps execution_count and last_triggered in one statement
func (s *SQLRuleStore) IncrementStats(ctx context.Context, id string, at time.Time) error {
	at = at.UTC()
	result, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE rules
		SET execution_count = execution_count + 1, last_triggered = ?, updated_at = ?
		WHERE id = ?
	`), at, at, id)
	if err != nil {
		return fmt.Errorf("failed to update rule stats: %w", err)
	}
	return expectOneRow(result, id)
}

// SetEnabled flips the enabled flag of a rule
func (s *SQLRuleStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE rules SET enabled = ?, updated_at = ? WHERE id = ?
	`), enabled, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return expectOneRow(result, id)
}

// Delete removes a rule; triggers and actions cascade
func (s *SQLRuleStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM rules WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return expectOneRow(result, id)
}

func expectOneRow(result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	return nil
}

// OpenDB opens a database from a URL: postgres://... or sqlite://path (sqlite://:memory: for tests)
func OpenDB(ctx context.Context, databaseURL string) (*sql.DB, Dialect, error) {
	var (
		db      *sql.DB
		dialect Dialect
		err     error
	)
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		dialect = DialectPostgres
		db, err = sql.Open("postgres", databaseURL)
	case strings.HasPrefix(databaseURL, "sqlite://"):
		dialect = DialectSQLite
		path := strings.TrimPrefix(databaseURL, "sqlite://")
		db, err = sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path))
		if err == nil && path == ":memory:" {
			// every pooled connection would otherwise see its own empty database
			db.SetMaxOpenConns(1)
		}
	default:
		return nil, "", errors.New("unsupported database URL (want postgres:// or sqlite://)")
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("failed to ping database: %w", err)
	}
	return db, dialect, nil
}
