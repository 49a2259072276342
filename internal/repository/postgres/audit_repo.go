package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xela07ax/triage-core/internal/audit"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
)

type AuditRepo struct {
	db *sql.DB
}

// NewAuditRepo открывает пул к Postgres. Ошибка конструирования — фатальная
// предпосылка для bootstrap: без стораджа аудита сервис стартовать не должен.
func NewAuditRepo(connString string) (*AuditRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open audit store: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &AuditRepo{db: db}, nil
}

// Ping проверяет доступность базы при старте
func (r *AuditRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// WriteBatch выполняет пакетную вставку событий одним запросом.
// ON CONFLICT DO NOTHING: доставка at-least-once, ретрай всего батча
// может принести уже сохраненные события — event_id служит ключом дедупликации.
func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице audit_events
	numFields := 6
	placeholderStr := ""
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6)

		payload, _ := json.Marshal(e.Payload)

		vals = append(vals,
			e.ID, e.Category, e.Type, e.CorrelationID, payload, e.CreatedAt,
		)
	}

	// Убираем лишнюю запятую в конце
	query := fmt.Sprintf(
		"INSERT INTO audit_events (id, event_category, event_type, correlation_id, payload, created_at) VALUES %s ON CONFLICT (id) DO NOTHING",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.db.ExecContext(ctx, query, vals...)
	return err
}

// FetchEvents возвращает след аудита с фильтрацией для операторского API.
// Пустые фильтры не сужают выборку.
func (r *AuditRepo) FetchEvents(ctx context.Context, correlationID, category string) ([]audit.AuditEvent, error) {
	query := `
		SELECT id, event_category, event_type, correlation_id, payload, created_at
		FROM audit_events
		WHERE ($1 = '' OR correlation_id = $1)
		  AND ($2 = '' OR event_category = $2)
		ORDER BY created_at
		LIMIT 1000`

	rows, err := r.db.QueryContext(ctx, query, correlationID, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []audit.AuditEvent
	for rows.Next() {
		var e audit.AuditEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Category, &e.Type, &e.CorrelationID, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		// Payload отдаем как есть: форма зависит от категории события
		var decoded interface{}
		if err := json.Unmarshal(payload, &decoded); err == nil {
			e.Payload = decoded
		}
		results = append(results, e)
	}
	return results, rows.Err()
}
