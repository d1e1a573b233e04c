package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dronedispatch/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PoolOptions tune the database/sql connection pool.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string, pool PoolOptions) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// Migrate applies the embedded migrations that have not run yet, in file-name order.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (name TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		var applied bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE name=$1)`, name).Scan(&applied); err != nil {
			return err
		}
		if applied {
			continue
		}
		body, err := migrationFS.ReadFile(name)
		if err != nil {
			return err
		}
		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// Stores & fleet

func (p *Postgres) CreateStore(ctx context.Context, s model.Store) (model.Store, error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO stores (id, name, lat, lng, delivery_radius_km, active, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		s.ID, s.Name, s.Location.Lat, s.Location.Lng, s.DeliveryRadiusKm, s.Active, s.CreatedAt)
	if err != nil {
		return model.Store{}, err
	}
	return s, nil
}

const storeCols = `id, name, lat, lng, delivery_radius_km, active, created_at`

func scanStore(row interface{ Scan(...any) error }) (model.Store, error) {
	var s model.Store
	err := row.Scan(&s.ID, &s.Name, &s.Location.Lat, &s.Location.Lng, &s.DeliveryRadiusKm, &s.Active, &s.CreatedAt)
	return s, notFound(err)
}

func (p *Postgres) GetStore(ctx context.Context, id string) (model.Store, error) {
	return scanStore(p.db.QueryRowContext(ctx, `SELECT `+storeCols+` FROM stores WHERE id=$1`, id))
}

func (p *Postgres) ListStores(ctx context.Context) ([]model.Store, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+storeCols+` FROM stores ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Store{}
	for rows.Next() {
		s, err := scanStore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateDrone(ctx context.Context, d model.Drone) (model.Drone, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = model.DroneIdle
	}
	if d.RegisteredAt.IsZero() {
		d.RegisteredAt = time.Now()
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO drones (id, store_id, model, battery_capacity, max_payload_kg, status, registered_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		d.ID, d.StoreID, d.Model, d.BatteryCapacity, d.MaxPayloadKg, string(d.Status), d.RegisteredAt)
	if err != nil {
		return model.Drone{}, err
	}
	return d, nil
}

const droneCols = `id, store_id, model, battery_capacity, max_payload_kg, status, registered_at`

func scanDrone(row interface{ Scan(...any) error }) (model.Drone, error) {
	var d model.Drone
	var status string
	err := row.Scan(&d.ID, &d.StoreID, &d.Model, &d.BatteryCapacity, &d.MaxPayloadKg, &status, &d.RegisteredAt)
	d.Status = model.DroneStatus(status)
	return d, notFound(err)
}

func (p *Postgres) GetDrone(ctx context.Context, id string) (model.Drone, error) {
	return scanDrone(p.db.QueryRowContext(ctx, `SELECT `+droneCols+` FROM drones WHERE id=$1`, id))
}

func (p *Postgres) ListDrones(ctx context.Context, storeID string) ([]model.Drone, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+droneCols+` FROM drones WHERE ($1 = '' OR store_id = $1) ORDER BY registered_at, id`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Drone{}
	for rows.Next() {
		d, err := scanDrone(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateDroneStatus(ctx context.Context, id string, status model.DroneStatus) (model.Drone, error) {
	if status == model.DroneInFlight {
		return model.Drone{}, ErrInvalidTransition
	}
	res, err := p.db.ExecContext(ctx, `UPDATE drones SET status=$2 WHERE id=$1 AND status <> 'IN_FLIGHT'`, id, string(status))
	if err != nil {
		return model.Drone{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		d, err := p.GetDrone(ctx, id)
		if err != nil {
			return model.Drone{}, err
		}
		return d, ErrInvalidTransition
	}
	return p.GetDrone(ctx, id)
}

func (p *Postgres) FindIdleDrone(ctx context.Context, storeID string) (model.Drone, error) {
	return scanDrone(p.db.QueryRowContext(ctx, `SELECT `+droneCols+` FROM drones WHERE status='IDLE' AND ($1 = '' OR store_id = $1) ORDER BY registered_at, id LIMIT 1`, storeID))
}

// Orders

func (p *Postgres) CreateOrder(ctx context.Context, o model.Order) (model.Order, error) {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	o.Status = model.OrderCreated
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO orders (id, store_id, customer_ref, dest_lat, dest_lng, weight_kg, amount_total, item_count, note, status, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		o.ID, o.StoreID, nullIfEmpty(o.CustomerRef), o.Dest.Lat, o.Dest.Lng, o.WeightKg, o.AmountTotal, o.ItemCount, nullIfEmpty(o.Note), string(o.Status), o.CreatedAt)
	if err != nil {
		return model.Order{}, err
	}
	return o, nil
}

const orderCols = `id, store_id, customer_ref, dest_lat, dest_lng, weight_kg, amount_total, item_count, note, status, created_at, assigned_at, completed_at`

func scanOrder(row interface{ Scan(...any) error }) (model.Order, error) {
	var o model.Order
	var ref, note sql.NullString
	var status string
	var assigned, completed sql.NullTime
	err := row.Scan(&o.ID, &o.StoreID, &ref, &o.Dest.Lat, &o.Dest.Lng, &o.WeightKg, &o.AmountTotal, &o.ItemCount, &note, &status, &o.CreatedAt, &assigned, &completed)
	o.CustomerRef = ref.String
	o.Note = note.String
	o.Status = model.OrderStatus(status)
	o.AssignedAt = timePtr(assigned)
	o.CompletedAt = timePtr(completed)
	return o, notFound(err)
}

func (p *Postgres) GetOrder(ctx context.Context, id string) (model.Order, error) {
	return scanOrder(p.db.QueryRowContext(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id))
}

func (p *Postgres) GetOrders(ctx context.Context, ids []string) ([]model.Order, error) {
	out := make([]model.Order, 0, len(ids))
	for _, id := range ids {
		o, err := p.GetOrder(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("order %s: %w", id, err)
		}
		out = append(out, o)
	}
	return out, nil
}

func (p *Postgres) ListCreatedOrders(ctx context.Context, storeID string) ([]model.Order, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+orderCols+` FROM orders WHERE status='CREATED' AND ($1 = '' OR store_id = $1) ORDER BY created_at, id`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *Postgres) CancelOrder(ctx context.Context, id string) (model.Order, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE orders SET status='CANCELED', completed_at=now() WHERE id=$1 AND status='CREATED'`, id)
	if err != nil {
		return model.Order{}, err
	}
	o, gerr := p.GetOrder(ctx, id)
	if gerr != nil {
		return model.Order{}, gerr
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return o, ErrInvalidTransition
	}
	return o, nil
}

// CommitAssignment runs in one transaction. The drone claim is a conditional update so two
// concurrent batches can never both take the same IDLE drone.
func (p *Postgres) CommitAssignment(ctx context.Context, r model.Route) (model.Route, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Route{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE drones SET status='IN_FLIGHT' WHERE id=$1 AND status='IDLE'`, r.DroneID)
	if err != nil {
		return model.Route{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Route{}, ErrDroneUnavailable
	}

	now := time.Now()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.Status = model.RoutePlanned
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO routes (id, drone_id, store_id, total_distance_km, total_weight_kg, estimated_duration_min, status, note, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		r.ID, r.DroneID, r.StoreID, r.TotalDistanceKm, r.TotalWeightKg, r.EstimatedDurationMin, string(r.Status), nullIfEmpty(r.Note), r.CreatedAt)
	if err != nil {
		return model.Route{}, err
	}
	for i := range r.Stops {
		s := &r.Stops[i]
		if s.ID == "" {
			s.ID = uuid.New().String()
		}
		s.RouteID = r.ID
		s.Status = model.StopPending
		_, err = tx.ExecContext(ctx, `INSERT INTO route_stops (id, route_id, seq, type, lat, lng, distance_from_prev_km, order_id, status) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			s.ID, r.ID, s.Seq, string(s.Type), s.Location.Lat, s.Location.Lng, s.DistanceFromPrevKm, nullIfEmpty(s.OrderID), string(s.Status))
		if err != nil {
			return model.Route{}, err
		}
		if s.OrderID == "" {
			continue
		}
		res, err := tx.ExecContext(ctx, `UPDATE orders SET status='ASSIGNED', assigned_at=$2 WHERE id=$1 AND status='CREATED'`, s.OrderID, now)
		if err != nil {
			return model.Route{}, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return model.Route{}, fmt.Errorf("order %s: %w", s.OrderID, ErrOrderConflict)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO route_orders (order_id, route_id) VALUES ($1,$2)`, s.OrderID, r.ID); err != nil {
			return model.Route{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return model.Route{}, err
	}
	return r, nil
}

// Flight transitions

func (p *Postgres) LaunchRoute(ctx context.Context, routeID string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `UPDATE routes SET status='LAUNCHED', launched_at=$2 WHERE id=$1 AND status='PLANNED'`, routeID, at)
	if err != nil {
		return err
	}
	return p.expectOne(ctx, res, routeID)
}

func (p *Postgres) AppendPosition(ctx context.Context, pos model.RoutePosition) error {
	var from any
	if pos.FromSeq > 0 {
		from = pos.FromSeq
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO route_positions (route_id, from_seq, to_seq, lat, lng, speed_mps, battery_pct, ts) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		pos.RouteID, from, pos.ToSeq, pos.Lat, pos.Lng, pos.SpeedMps, pos.BatteryPct, pos.TS)
	return err
}

func (p *Postgres) ArriveStop(ctx context.Context, routeID string, seq int, at time.Time) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var stopType string
	var orderID sql.NullString
	err = tx.QueryRowContext(ctx, `UPDATE route_stops s SET status='ARRIVED', arrived_at=$3
		FROM routes r WHERE r.id = s.route_id AND s.route_id=$1 AND s.seq=$2 AND s.status='PENDING' AND r.status IN ('LAUNCHED','IN_PROGRESS')
		RETURNING s.type, s.order_id`, routeID, seq, at).Scan(&stopType, &orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInvalidTransition
	}
	if err != nil {
		return err
	}
	if model.StopType(stopType) == model.StopDrop && orderID.Valid {
		res, err := tx.ExecContext(ctx, `UPDATE orders SET status='FULFILLED', completed_at=$2 WHERE id=$1 AND status='ASSIGNED'`, orderID.String, at)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("order %s: %w", orderID.String, ErrInvalidTransition)
		}
	}
	return tx.Commit()
}

func (p *Postgres) DepartStop(ctx context.Context, routeID string, seq int, at time.Time) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var stopType string
	err = tx.QueryRowContext(ctx, `UPDATE route_stops SET status='DEPARTED', departed_at=$3 WHERE route_id=$1 AND seq=$2 AND status='ARRIVED' RETURNING type`, routeID, seq, at).Scan(&stopType)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInvalidTransition
	}
	if err != nil {
		return err
	}
	if model.StopType(stopType) == model.StopPickup {
		if _, err := tx.ExecContext(ctx, `UPDATE routes SET status='IN_PROGRESS' WHERE id=$1 AND status='LAUNCHED'`, routeID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *Postgres) CompleteRoute(ctx context.Context, log model.FlightLog) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var droneID string
	err = tx.QueryRowContext(ctx, `UPDATE routes SET status='COMPLETED', completed_at=$2, actual_duration_min=$3
		WHERE id=$1 AND status IN ('LAUNCHED','IN_PROGRESS') RETURNING drone_id`,
		log.RouteID, log.EndTime, actualMinutes(log.StartTime, log.EndTime)).Scan(&droneID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInvalidTransition
	}
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE drones SET status='IDLE' WHERE id=$1`, droneID); err != nil {
		return err
	}
	if err := insertFlightLog(ctx, tx, log); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Postgres) AbortRoute(ctx context.Context, routeID, note string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE routes SET status='ABORTED', note=COALESCE($2, note) WHERE id=$1 AND status NOT IN ('COMPLETED','ABORTED')`, routeID, nullIfEmpty(note))
	if err != nil {
		return err
	}
	return p.expectOne(ctx, res, routeID)
}

func (p *Postgres) FinishAbortedRoute(ctx context.Context, log model.FlightLog, droneStatus model.DroneStatus) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var droneID string
	// one-shot: a route that already has an end time or a flight log was finalised before
	err = tx.QueryRowContext(ctx, `UPDATE routes SET status='ABORTED', completed_at=$2
		WHERE id=$1 AND status <> 'COMPLETED' AND completed_at IS NULL
		AND NOT EXISTS (SELECT 1 FROM flight_logs WHERE route_id=$1) RETURNING drone_id`,
		log.RouteID, log.EndTime).Scan(&droneID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInvalidTransition
	}
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE orders SET status='FAILED', completed_at=$2
		WHERE status='ASSIGNED' AND id IN (SELECT order_id FROM route_stops WHERE route_id=$1 AND status='PENDING' AND order_id IS NOT NULL)`,
		log.RouteID, log.EndTime); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE route_stops SET status='SKIPPED' WHERE route_id=$1 AND status='PENDING'`, log.RouteID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE drones SET status=$2 WHERE id=$1 AND status='IN_FLIGHT'
		AND NOT EXISTS (SELECT 1 FROM routes WHERE drone_id=$1 AND id<>$3 AND status IN ('PLANNED','LAUNCHED','IN_PROGRESS'))`,
		droneID, string(droneStatus), log.RouteID); err != nil {
		return err
	}
	if err := insertFlightLog(ctx, tx, log); err != nil {
		return err
	}
	return tx.Commit()
}

func insertFlightLog(ctx context.Context, tx *sql.Tx, log model.FlightLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO flight_logs (id, route_id, drone_id, start_time, end_time, distance_km, battery_used_pct, result, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) ON CONFLICT (route_id) DO NOTHING`,
		log.ID, log.RouteID, log.DroneID, log.StartTime, log.EndTime, log.DistanceKm, log.BatteryUsedPct, string(log.Result), nullIfEmpty(log.Note))
	return err
}

func (p *Postgres) RouteStatus(ctx context.Context, routeID string) (model.RouteStatus, error) {
	var status string
	err := p.db.QueryRowContext(ctx, `SELECT status FROM routes WHERE id=$1`, routeID).Scan(&status)
	return model.RouteStatus(status), notFound(err)
}

// Queries

const routeCols = `id, drone_id, store_id, total_distance_km, total_weight_kg, estimated_duration_min, actual_duration_min, status, note, created_at, launched_at, completed_at`

func scanRoute(row interface{ Scan(...any) error }) (model.Route, error) {
	var r model.Route
	var actual sql.NullInt64
	var status string
	var note sql.NullString
	var launched, completed sql.NullTime
	err := row.Scan(&r.ID, &r.DroneID, &r.StoreID, &r.TotalDistanceKm, &r.TotalWeightKg, &r.EstimatedDurationMin, &actual, &status, &note, &r.CreatedAt, &launched, &completed)
	if actual.Valid {
		v := int(actual.Int64)
		r.ActualDurationMin = &v
	}
	r.Status = model.RouteStatus(status)
	r.Note = note.String
	r.LaunchedAt = timePtr(launched)
	r.CompletedAt = timePtr(completed)
	return r, notFound(err)
}

func (p *Postgres) loadStops(ctx context.Context, r *model.Route) error {
	rows, err := p.db.QueryContext(ctx, `SELECT id, seq, type, lat, lng, distance_from_prev_km, order_id, status, arrived_at, departed_at FROM route_stops WHERE route_id=$1 ORDER BY seq`, r.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	r.Stops = []model.RouteStop{}
	for rows.Next() {
		s := model.RouteStop{RouteID: r.ID}
		var typ, status string
		var orderID sql.NullString
		var arrived, departed sql.NullTime
		if err := rows.Scan(&s.ID, &s.Seq, &typ, &s.Location.Lat, &s.Location.Lng, &s.DistanceFromPrevKm, &orderID, &status, &arrived, &departed); err != nil {
			return err
		}
		s.Type = model.StopType(typ)
		s.Status = model.StopStatus(status)
		s.OrderID = orderID.String
		s.ArrivedAt = timePtr(arrived)
		s.DepartedAt = timePtr(departed)
		r.Stops = append(r.Stops, s)
	}
	return rows.Err()
}

func (p *Postgres) GetRoute(ctx context.Context, id string) (model.Route, error) {
	r, err := scanRoute(p.db.QueryRowContext(ctx, `SELECT `+routeCols+` FROM routes WHERE id=$1`, id))
	if err != nil {
		return r, err
	}
	return r, p.loadStops(ctx, &r)
}

func (p *Postgres) ListActiveRoutes(ctx context.Context) ([]model.Route, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+routeCols+` FROM routes WHERE status IN ('LAUNCHED','IN_PROGRESS') ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	out := []model.Route{}
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, r)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := p.loadStops(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

const positionCols = `id, route_id, from_seq, to_seq, lat, lng, speed_mps, battery_pct, ts`

func scanPosition(row interface{ Scan(...any) error }) (model.RoutePosition, error) {
	var pos model.RoutePosition
	var from sql.NullInt64
	err := row.Scan(&pos.ID, &pos.RouteID, &from, &pos.ToSeq, &pos.Lat, &pos.Lng, &pos.SpeedMps, &pos.BatteryPct, &pos.TS)
	pos.FromSeq = int(from.Int64)
	return pos, notFound(err)
}

func (p *Postgres) LatestPosition(ctx context.Context, routeID string) (model.RoutePosition, error) {
	return scanPosition(p.db.QueryRowContext(ctx, `SELECT `+positionCols+` FROM route_positions WHERE route_id=$1 ORDER BY id DESC LIMIT 1`, routeID))
}

func (p *Postgres) ListPositions(ctx context.Context, routeID string, limit int) ([]model.RoutePosition, error) {
	if limit <= 0 || limit > 5000 {
		limit = 5000
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+positionCols+` FROM (SELECT `+positionCols+` FROM route_positions WHERE route_id=$1 ORDER BY id DESC LIMIT $2) t ORDER BY id`, routeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.RoutePosition{}
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

func (p *Postgres) RouteForOrder(ctx context.Context, orderID string) (string, error) {
	var id string
	err := p.db.QueryRowContext(ctx, `SELECT route_id FROM route_orders WHERE order_id=$1`, orderID).Scan(&id)
	return id, notFound(err)
}

func (p *Postgres) GetFlightLog(ctx context.Context, routeID string) (model.FlightLog, error) {
	var l model.FlightLog
	var result string
	var note sql.NullString
	err := p.db.QueryRowContext(ctx, `SELECT id, route_id, drone_id, start_time, end_time, distance_km, battery_used_pct, result, note FROM flight_logs WHERE route_id=$1`, routeID).
		Scan(&l.ID, &l.RouteID, &l.DroneID, &l.StartTime, &l.EndTime, &l.DistanceKm, &l.BatteryUsedPct, &result, &note)
	l.Result = model.FlightResult(result)
	l.Note = note.String
	return l, notFound(err)
}

// expectOne maps a zero-row conditional update to ErrNotFound or ErrInvalidTransition.
func (p *Postgres) expectOne(ctx context.Context, res sql.Result, routeID string) error {
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := p.RouteStatus(ctx, routeID); err != nil {
		return err
	}
	return ErrInvalidTransition
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
