package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
	"github.com/xela07ax/agv-logistics-coordinator/internal/audit"
)

// Количество колонок в таблице audit_logs
const auditFields = 12

const createAuditTable = `CREATE TABLE IF NOT EXISTS audit_logs (
	id          TEXT PRIMARY KEY,
	trace_id    TEXT,
	actor       TEXT,
	action      TEXT NOT NULL,
	entity      TEXT,
	channel     TEXT,
	payload     JSONB,
	status      TEXT,
	response    JSONB,
	error       TEXT,
	duration_ms BIGINT,
	timestamp   TIMESTAMPTZ NOT NULL
)`

type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(connString string) (*AuditRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &AuditRepo{db: db}, nil
}

// Init проверяет соединение и создает таблицу при необходимости.
func (r *AuditRepo) Init(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping audit db: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, createAuditTable); err != nil {
		return fmt.Errorf("create audit_logs: %w", err)
	}
	return nil
}

func (r *AuditRepo) Close() error { return r.db.Close() }

func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	query, vals := buildAuditInsert(events)
	_, err := r.db.ExecContext(ctx, query, vals...)
	return err
}

// buildAuditInsert динамически строит запрос для пакетной вставки
func buildAuditInsert(events []audit.Event) (string, []any) {
	var placeholders strings.Builder
	vals := make([]any, 0, len(events)*auditFields)

	for i, e := range events {
		p := i * auditFields
		if i > 0 {
			placeholders.WriteString(",")
		}
		placeholders.WriteString("(")
		for f := 1; f <= auditFields; f++ {
			if f > 1 {
				placeholders.WriteString(", ")
			}
			fmt.Fprintf(&placeholders, "$%d", p+f)
		}
		placeholders.WriteString(")")

		payload, _ := json.Marshal(e.Payload)
		resp, _ := json.Marshal(e.Response)

		vals = append(vals,
			e.ID, e.TraceID, e.Actor, e.Action, e.Entity, e.Channel,
			payload, e.Status, resp, e.Error, e.DurationMs, e.Timestamp,
		)
	}

	query := "INSERT INTO audit_logs (id, trace_id, actor, action, entity, channel, payload, status, response, error, duration_ms, timestamp) VALUES " +
		placeholders.String() + " ON CONFLICT (id) DO NOTHING"
	return query, vals
}
