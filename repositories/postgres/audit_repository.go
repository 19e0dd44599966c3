package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/upb/identity-authority/models"
	"github.com/upb/identity-authority/repositories"
	"go.uber.org/zap"
)

const auditColumns = `id, user_id, service_id, action, details, ip_address, user_agent, request_id, status_code, timestamp`

// AuditRepository implements the repositories.AuditRepository interface.
// It only ever inserts and reads.
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new audit log entry
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		log.ID,
		log.UserID,
		log.ServiceID,
		log.Action,
		nullableJSON(log.Details),
		log.IPAddress,
		log.UserAgent,
		log.RequestID,
		log.StatusCode,
		log.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	r.logger.Debug("audit log inserted", zap.String("id", log.ID.String()), zap.String("action", string(log.Action)))
	return nil
}

// GetByID retrieves an audit log by ID
func (r *AuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	log, err := scanAuditLog(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get audit log: %w", err)
	}

	return log, nil
}

// Query retrieves audit logs matching the filter, newest first
func (r *AuditRepository) Query(ctx context.Context, filter models.AuditFilter) ([]*models.AuditLog, error) {
	where, args := buildAuditWhere(filter)
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)

	query := fmt.Sprintf(`
		SELECT %s
		FROM audit_logs
		%s
		ORDER BY timestamp DESC
		LIMIT $%d OFFSET $%d
	`, auditColumns, where, len(args)-1, len(args))

	return r.queryAuditLogs(ctx, query, args...)
}

// summaryKeys maps each grouping to its SQL key expression
var summaryKeys = map[models.AuditGroupBy]string{
	models.AuditGroupByAction:  `action`,
	models.AuditGroupByService: `COALESCE(service_id::text, 'global')`,
	models.AuditGroupByUser:    `COALESCE(user_id::text, 'anonymous')`,
	models.AuditGroupByDay:     `to_char(date_trunc('day', timestamp AT TIME ZONE 'UTC'), 'YYYY-MM-DD')`,
}

// Summary counts audit logs matching the filter grouped by the given dimension
func (r *AuditRepository) Summary(ctx context.Context, filter models.AuditFilter, groupBy models.AuditGroupBy) ([]models.AuditSummaryBucket, error) {
	keyExpr, ok := summaryKeys[groupBy]
	if !ok {
		return nil, fmt.Errorf("unsupported audit grouping %q", groupBy)
	}

	where, args := buildAuditWhere(filter)
	orderBy := "count DESC, key ASC"
	if groupBy == models.AuditGroupByDay {
		orderBy = "key ASC"
	}

	query := fmt.Sprintf(`
		SELECT %s AS key, COUNT(*) AS count
		FROM audit_logs
		%s
		GROUP BY key
		ORDER BY %s
	`, keyExpr, where, orderBy)

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize audit logs: %w", err)
	}
	defer rows.Close()

	buckets := []models.AuditSummaryBucket{}
	for rows.Next() {
		var b models.AuditSummaryBucket
		if err := rows.Scan(&b.Key, &b.Count); err != nil {
			return nil, fmt.Errorf("failed to scan audit summary: %w", err)
		}
		buckets = append(buckets, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit summary rows: %w", err)
	}

	return buckets, nil
}

// buildAuditWhere renders the filter as a WHERE clause with positional args
func buildAuditWhere(filter models.AuditFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.UserID != nil {
		add("user_id = $%d", *filter.UserID)
	}
	if filter.ServiceID != nil {
		add("service_id = $%d", *filter.ServiceID)
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.From != nil {
		add("timestamp >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("timestamp <= $%d", *filter.To)
	}

	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// queryAuditLogs is a helper method to query multiple audit logs
func (r *AuditRepository) queryAuditLogs(ctx context.Context, query string, args ...interface{}) ([]*models.AuditLog, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	logs := []*models.AuditLog{}
	for rows.Next() {
		log, err := scanAuditLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}

	return logs, nil
}

func scanAuditLog(row rowScanner) (*models.AuditLog, error) {
	log := &models.AuditLog{}
	var details []byte
	var ip, ua, requestID sql.NullString
	err := row.Scan(
		&log.ID,
		&log.UserID,
		&log.ServiceID,
		&log.Action,
		&details,
		&ip,
		&ua,
		&requestID,
		&log.StatusCode,
		&log.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	if len(details) > 0 {
		log.Details = details
	}
	log.IPAddress = ip.String
	log.UserAgent = ua.String
	log.RequestID = requestID.String
	return log, nil
}
