package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/inventory-engine/internal/core/domain"
	"github.com/rl1809/inventory-engine/internal/port"
)

var ErrOptimisticLock = fmt.Errorf("optimistic lock conflict: %w", domain.ErrConcurrencyConflict)

const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

const selectSnapshot = `
	SELECT s.tenant_id, s.sku_id, s.location_id, s.on_hand, s.allocated,
		COALESCE((
			SELECT SUM(r.quantity) FROM reservations r
			WHERE r.tenant_id = s.tenant_id AND r.sku_id = s.sku_id AND r.location_id = s.location_id
				AND r.status = 'ACTIVE' AND r.expires_at > ?
		), 0),
		s.version, s.created_at, s.updated_at
	FROM inventory_snapshots s`

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type MySQLAdapter struct {
	db             *sql.DB
	acquireTimeout time.Duration
	now            func() time.Time
	tracer         trace.Tracer
}

var _ port.DatabaseRepository = (*MySQLAdapter)(nil)

// NewMySQLAdapter expects a DSN with parseTime=true. acquireTimeout bounds both the wait for a
// pooled connection and InnoDB row lock waits inside the transaction.
func NewMySQLAdapter(db *sql.DB, acquireTimeout time.Duration) *MySQLAdapter {
	return &MySQLAdapter{
		db:             db,
		acquireTimeout: acquireTimeout,
		now:            func() time.Time { return time.Now().UTC() },
		tracer:         otel.Tracer("storage/mysql_adapter"),
	}
}

func (m *MySQLAdapter) WithClock(now func() time.Time) *MySQLAdapter {
	m.now = now
	return m
}

func (m *MySQLAdapter) RunInTx(ctx context.Context, fn func(ctx context.Context, tx port.TxRepository) error) error {
	ctx, span := m.tracer.Start(ctx, "MySQLAdapter.RunInTx")
	defer span.End()

	conn, err := m.acquire(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		span.RecordError(err)
		return mapMySQLError("begin tx", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &mysqlTx{tx: tx, now: m.now}); err != nil {
		span.RecordError(err)
		return err
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return mapMySQLError("commit", err)
	}

	return nil
}

func (m *MySQLAdapter) acquire(ctx context.Context) (*sql.Conn, error) {
	acquireCtx := ctx
	if m.acquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, m.acquireTimeout)
		defer cancel()
	}

	conn, err := m.db.Conn(acquireCtx)
	if err != nil {
		return nil, mapMySQLError("acquire connection", err)
	}

	if m.acquireTimeout > 0 {
		// innodb_lock_wait_timeout is whole seconds, minimum 1
		secs := max(1, int(m.acquireTimeout.Round(time.Second)/time.Second))
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET SESSION innodb_lock_wait_timeout = %d", secs)); err != nil {
			conn.Close()
			return nil, mapMySQLError("set lock wait timeout", err)
		}
	}

	return conn, nil
}

func (m *MySQLAdapter) GetSnapshot(ctx context.Context, key domain.SnapshotKey) (*domain.InventorySnapshot, error) {
	ctx, span := m.tracer.Start(ctx, "MySQLAdapter.GetSnapshot")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant_id", key.TenantID),
		attribute.String("sku_id", key.SKU),
		attribute.String("location_id", key.LocationID),
	)

	snap, err := getSnapshot(ctx, m.db, key, m.now(), false)
	if err != nil {
		span.RecordError(err)
	}
	return snap, err
}

func (m *MySQLAdapter) ListSnapshots(ctx context.Context, tenantID, sku string) ([]domain.InventorySnapshot, error) {
	ctx, span := m.tracer.Start(ctx, "MySQLAdapter.ListSnapshots")
	defer span.End()

	snaps, err := listSnapshots(ctx, m.db, tenantID, sku, m.now(), false)
	if err != nil {
		span.RecordError(err)
	}
	return snaps, err
}

func (m *MySQLAdapter) ListAuditRecords(ctx context.Context, tenantID string, entityType domain.AuditEntityType, entityID string) ([]domain.AuditRecord, error) {
	ctx, span := m.tracer.Start(ctx, "MySQLAdapter.ListAuditRecords")
	defer span.End()

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, tenant_id, entity_type, entity_id, action, before_state, after_state, metadata, actor, created_at
		FROM inventory_audit
		WHERE tenant_id = ? AND entity_type = ? AND entity_id = ?
		ORDER BY seq`,
		tenantID, entityType, entityID,
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var records []domain.AuditRecord
	for rows.Next() {
		var (
			r                       domain.AuditRecord
			before, after, metadata []byte
		)
		if err := rows.Scan(&r.ID, &r.TenantID, &r.EntityType, &r.EntityID, &r.Action,
			&before, &after, &metadata, &r.Actor, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		r.Before, r.After = before, after
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
			}
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

func (m *MySQLAdapter) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// CreateOrder persists a new order with its lines. Orders are owned by the order store;
// this is the entry point that store uses.
func (m *MySQLAdapter) CreateOrder(ctx context.Context, order domain.Order) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if order.Status == "" {
		order.Status = domain.OrderStatusDraft
	}
	now := m.now()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, tenant_id, customer_id, status, location_id, ordered_at, fulfilled_at, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		order.ID, order.TenantID, order.CustomerID, order.Status, order.LocationID,
		order.OrderedAt, order.FulfilledAt, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	if err := insertOrderLines(ctx, tx, order.ID, order.Lines); err != nil {
		return err
	}

	return tx.Commit()
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return getOrder(ctx, m.db, orderID)
}

func (m *MySQLAdapter) ListReservations(ctx context.Context, tenantID, orderID string) ([]domain.Reservation, error) {
	return listReservations(ctx, m.db, tenantID, orderID, "")
}

type mysqlTx struct {
	tx  *sql.Tx
	now func() time.Time
}

func (t *mysqlTx) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := getOrder(ctx, t.tx, orderID)
	if err != nil {
		return nil, mapMySQLError("get order", err)
	}
	return order, nil
}

func (t *mysqlTx) UpdateOrder(ctx context.Context, order domain.Order) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, location_id = ?, ordered_at = ?, fulfilled_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		order.Status, order.LocationID, order.OrderedAt, order.FulfilledAt, t.now(), order.ID, order.Version,
	)
	if err != nil {
		return mapMySQLError("update order", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrOptimisticLock
	}

	return nil
}

func (t *mysqlTx) ReplaceOrderLines(ctx context.Context, orderID string, lines []domain.OrderLine) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM order_lines WHERE order_id = ?`, orderID); err != nil {
		return mapMySQLError("delete order lines", err)
	}
	if err := insertOrderLines(ctx, t.tx, orderID, lines); err != nil {
		return mapMySQLError("replace order lines", err)
	}
	return nil
}

func (t *mysqlTx) GetSnapshot(ctx context.Context, key domain.SnapshotKey) (*domain.InventorySnapshot, error) {
	snap, err := getSnapshot(ctx, t.tx, key, t.now(), true)
	if err != nil {
		return nil, mapMySQLError("get snapshot", err)
	}
	return snap, nil
}

func (t *mysqlTx) ListSnapshots(ctx context.Context, tenantID, sku string) ([]domain.InventorySnapshot, error) {
	snaps, err := listSnapshots(ctx, t.tx, tenantID, sku, t.now(), true)
	if err != nil {
		return nil, mapMySQLError("list snapshots", err)
	}
	return snaps, nil
}

func (t *mysqlTx) InsertSnapshot(ctx context.Context, snap domain.InventorySnapshot) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO inventory_snapshots (tenant_id, sku_id, location_id, on_hand, allocated, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
		snap.TenantID, snap.SKU, snap.LocationID, snap.OnHand, snap.Allocated, snap.CreatedAt, snap.UpdatedAt,
	)
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlErrDuplicateEntry {
			return fmt.Errorf("insert snapshot: %w", ErrOptimisticLock)
		}
		return mapMySQLError("insert snapshot", err)
	}
	return nil
}

func (t *mysqlTx) UpdateSnapshot(ctx context.Context, snap domain.InventorySnapshot) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE inventory_snapshots
		SET on_hand = ?, allocated = ?, version = version + 1, updated_at = ?
		WHERE tenant_id = ? AND sku_id = ? AND location_id = ? AND version = ?`,
		snap.OnHand, snap.Allocated, t.now(),
		snap.TenantID, snap.SKU, snap.LocationID, snap.Version,
	)
	if err != nil {
		return mapMySQLError("update snapshot", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrOptimisticLock
	}

	return nil
}

func (t *mysqlTx) AppendAudit(ctx context.Context, r domain.AuditRecord) error {
	metadata, err := json.Marshal(r.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO inventory_audit (id, tenant_id, entity_type, entity_id, action, before_state, after_state, metadata, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TenantID, r.EntityType, r.EntityID, r.Action,
		[]byte(r.Before), []byte(r.After), metadata, r.Actor, r.CreatedAt,
	)
	if err != nil {
		return mapMySQLError("insert audit record", err)
	}
	return nil
}

func (t *mysqlTx) InsertReservation(ctx context.Context, r domain.Reservation) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO reservations (id, tenant_id, sku_id, location_id, order_id, quantity, status, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TenantID, r.SKU, r.LocationID, r.OrderID, r.Quantity, r.Status, r.ExpiresAt, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return mapMySQLError("insert reservation", err)
	}
	return nil
}

func (t *mysqlTx) ListReservations(ctx context.Context, tenantID, orderID string, status domain.ReservationStatus) ([]domain.Reservation, error) {
	return listReservations(ctx, t.tx, tenantID, orderID, status)
}

func (t *mysqlTx) UpdateReservationStatus(ctx context.Context, id string, from, to domain.ReservationStatus) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE reservations SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		to, t.now(), id, from,
	)
	if err != nil {
		return mapMySQLError("update reservation", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrOptimisticLock
	}

	return nil
}

func (t *mysqlTx) ExpireReservations(ctx context.Context, asOf time.Time) (int, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE reservations SET status = ?, updated_at = ?
		WHERE status = ? AND expires_at <= ?`,
		domain.ReservationStatusReleased, t.now(), domain.ReservationStatusActive, asOf,
	)
	if err != nil {
		return 0, mapMySQLError("expire reservations", err)
	}

	rows, _ := result.RowsAffected()
	return int(rows), nil
}

func getOrder(ctx context.Context, q querier, orderID string) (*domain.Order, error) {
	var o domain.Order
	err := q.QueryRowContext(ctx, `
		SELECT id, tenant_id, customer_id, status, location_id, ordered_at, fulfilled_at, version, created_at, updated_at
		FROM orders WHERE id = ?`, orderID,
	).Scan(&o.ID, &o.TenantID, &o.CustomerID, &o.Status, &o.LocationID, &o.OrderedAt, &o.FulfilledAt, &o.Version, &o.CreatedAt, &o.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT sku_id, quantity FROM order_lines WHERE order_id = ? ORDER BY line_no`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.SKU, &l.Quantity); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		o.Lines = append(o.Lines, l)
	}

	return &o, rows.Err()
}

func insertOrderLines(ctx context.Context, q querier, orderID string, lines []domain.OrderLine) error {
	for i, l := range lines {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO order_lines (order_id, line_no, sku_id, quantity) VALUES (?, ?, ?, ?)`,
			orderID, i+1, l.SKU, l.Quantity,
		); err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
	}
	return nil
}

// getSnapshot reads one row. Inside a transaction lock is true, so the row is held exclusively
// until commit and a competing writer queues on it.
func getSnapshot(ctx context.Context, q querier, key domain.SnapshotKey, asOf time.Time, lock bool) (*domain.InventorySnapshot, error) {
	var s domain.InventorySnapshot
	err := q.QueryRowContext(ctx, selectSnapshot+`
		WHERE s.tenant_id = ? AND s.sku_id = ? AND s.location_id = ?`+lockClause(lock),
		asOf, key.TenantID, key.SKU, key.LocationID,
	).Scan(&s.TenantID, &s.SKU, &s.LocationID, &s.OnHand, &s.Allocated, &s.Reserved, &s.Version, &s.CreatedAt, &s.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}

	return &s, nil
}

func listSnapshots(ctx context.Context, q querier, tenantID, sku string, asOf time.Time, lock bool) ([]domain.InventorySnapshot, error) {
	rows, err := q.QueryContext(ctx, selectSnapshot+`
		WHERE s.tenant_id = ? AND s.sku_id = ?
		ORDER BY s.location_id`+lockClause(lock),
		asOf, tenantID, sku,
	)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.InventorySnapshot
	for rows.Next() {
		var s domain.InventorySnapshot
		if err := rows.Scan(&s.TenantID, &s.SKU, &s.LocationID, &s.OnHand, &s.Allocated, &s.Reserved,
			&s.Version, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, s)
	}

	return out, rows.Err()
}

// lockClause takes exclusive locks on the snapshot rows only, not on the reservations summed into them.
func lockClause(lock bool) string {
	if lock {
		return `
		FOR UPDATE OF s`
	}
	return ""
}

// listReservations filters by status unless status is empty.
func listReservations(ctx context.Context, q querier, tenantID, orderID string, status domain.ReservationStatus) ([]domain.Reservation, error) {
	query := `
		SELECT id, tenant_id, sku_id, location_id, order_id, quantity, status, expires_at, created_at, updated_at
		FROM reservations
		WHERE tenant_id = ? AND order_id = ?`
	args := []any{tenantID, orderID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}

	rows, err := q.QueryContext(ctx, query+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, mapMySQLError("query reservations", err)
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		var r domain.Reservation
		if err := rows.Scan(&r.ID, &r.TenantID, &r.SKU, &r.LocationID, &r.OrderID, &r.Quantity,
			&r.Status, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, mapMySQLError("iterate reservations", err)
	}
	return out, nil
}

// mapMySQLError turns lock conflicts and deadlines into the engine's retryable kinds.
func mapMySQLError(op string, err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrDeadlock, mysqlErrDuplicateEntry:
			return domain.ConcurrencyConflict(fmt.Errorf("%s: %w", op, err))
		case mysqlErrLockWaitTimeout:
			return domain.Timeout(fmt.Errorf("%s: %w", op, err))
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Timeout(fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}
