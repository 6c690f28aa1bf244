package user

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/lib/pq" // registers the "postgres" database/sql driver

	"github.com/codepair/matchmaker/internal/language"
	"github.com/codepair/matchmaker/internal/schedule"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open connects to PostgreSQL using lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("user: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("user: ping postgres: %w", err)
	}
	return db, nil
}

// Migrate applies all pending schema migrations embedded in the binary. The
// given handle is consumed: it is closed together with the migrator.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("user: migrations source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("user: migrations driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("user: migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("user: migrate up: %w", err)
	}
	return nil
}

// PostgresRepository loads users from the users table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repository backed by the given handle.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectUsers = `
	SELECT id, username, display_name, email, languages, availability, created_at
	FROM users`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var (
		u         User
		languages []byte
		avail     sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Email, &languages, &avail, &u.CreatedAt); err != nil {
		return User{}, err
	}

	u.Languages = language.PreferenceSet{}
	if len(languages) > 0 {
		if err := json.Unmarshal(languages, &u.Languages); err != nil {
			return User{}, fmt.Errorf("user: decode languages of %s: %w", u.ID, err)
		}
	}
	a, err := decodeAvailability(avail)
	if err != nil {
		return User{}, fmt.Errorf("user: decode availability of %s: %w", u.ID, err)
	}
	u.Availability = a
	return u, nil
}

func decodeAvailability(v sql.NullString) (schedule.Availability, error) {
	if !v.Valid {
		return schedule.Never(), nil
	}
	w, err := schedule.ParseWeek(v.String)
	if err != nil {
		return schedule.Availability{}, err
	}
	return schedule.Weekly(w), nil
}

func encodeAvailability(a schedule.Availability) sql.NullString {
	w, ok := a.Week()
	if !ok {
		return sql.NullString{}
	}
	return sql.NullString{String: w.String(), Valid: true}
}

// Get returns the user with the given id, or ErrNotFound.
func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (User, error) {
	row := r.db.QueryRowContext(ctx, selectUsers+` WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("user: get %s: %w", id, err)
	}
	return u, nil
}

// List returns all users ordered by id.
func (r *PostgresRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, selectUsers+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("user: list: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("user: list scan: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("user: list rows: %w", err)
	}
	return out, nil
}

// Availabilities returns the availability of every user with a configured
// weekly schedule. Users without one are Never and are omitted.
func (r *PostgresRepository) Availabilities(ctx context.Context) (map[uuid.UUID]schedule.Availability, error) {
	const query = `SELECT id, availability FROM users WHERE availability IS NOT NULL`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("user: availabilities: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]schedule.Availability)
	for rows.Next() {
		var (
			id    uuid.UUID
			avail sql.NullString
		)
		if err := rows.Scan(&id, &avail); err != nil {
			return nil, fmt.Errorf("user: availabilities scan: %w", err)
		}
		a, err := decodeAvailability(avail)
		if err != nil {
			return nil, fmt.Errorf("user: availability of %s: %w", id, err)
		}
		out[id] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("user: availabilities rows: %w", err)
	}
	return out, nil
}

// Upsert inserts or replaces a user. The matchmaker itself never writes; this
// is used for seeding and tests.
func (r *PostgresRepository) Upsert(ctx context.Context, u User) error {
	if err := u.Languages.Validate(); err != nil {
		return fmt.Errorf("user: upsert %s: %w", u.ID, err)
	}
	languages, err := json.Marshal(u.Languages)
	if err != nil {
		return fmt.Errorf("user: marshal languages: %w", err)
	}

	const query = `
		INSERT INTO users (id, username, display_name, email, languages, availability)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			username     = EXCLUDED.username,
			display_name = EXCLUDED.display_name,
			email        = EXCLUDED.email,
			languages    = EXCLUDED.languages,
			availability = EXCLUDED.availability`

	_, err = r.db.ExecContext(ctx, query,
		u.ID,
		u.Username,
		u.DisplayName,
		u.Email,
		languages,
		encodeAvailability(u.Availability),
	)
	if err != nil {
		return fmt.Errorf("user: upsert %s: %w", u.ID, err)
	}
	return nil
}
