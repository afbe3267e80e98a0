// Package history appends loan snapshots to an SQL table.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/farwydi/bookaware"
)

const (
	DriverClickHouse = "clickhouse"
	DriverSQLite     = "sqlite"
)

var schemas = map[string]string{
	DriverClickHouse: `CREATE TABLE IF NOT EXISTS loan_snapshots (
		scraped_at DateTime,
		account    String,
		due_date   Date,
		library    String,
		title      String,
		hint       String,
		days_left  Int32
	) ENGINE = MergeTree() ORDER BY (account, scraped_at)`,
	DriverSQLite: `CREATE TABLE IF NOT EXISTS loan_snapshots (
		scraped_at TIMESTAMP NOT NULL,
		account    TEXT NOT NULL,
		due_date   DATE NOT NULL,
		library    TEXT NOT NULL,
		title      TEXT NOT NULL,
		hint       TEXT NOT NULL,
		days_left  INTEGER NOT NULL
	)`,
}

const insertQuery = "INSERT INTO loan_snapshots " +
	"(scraped_at, account, due_date, library, title, hint, days_left) " +
	"VALUES (?, ?, ?, ?, ?, ?, ?)"

// Recorder writes snapshots. A nil *Recorder records nothing.
type Recorder struct {
	db     *sql.DB
	driver string
	logger bookaware.Logger
}

// Open connects with one of the registered drivers. The caller imports the
// driver package.
func Open(driver, dsn string, logger bookaware.Logger) (*Recorder, error) {
	if _, ok := schemas[driver]; !ok {
		return nil, fmt.Errorf("unsupported history driver: %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	return New(db, driver, logger), nil
}

func New(db *sql.DB, driver string, logger bookaware.Logger) *Recorder {
	if logger == nil {
		logger = bookaware.NewNopLogger()
	}
	return &Recorder{db: db, driver: driver, logger: logger}
}

func (r *Recorder) EnsureSchema(ctx context.Context) error {
	if r == nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx, schemas[r.driver])
	if err != nil {
		return fmt.Errorf("create loan_snapshots: %w", err)
	}
	return nil
}

// Record writes all loans of one scrape in a single transaction.
func (r *Recorder) Record(ctx context.Context, account string, scrapedAt time.Time, loans []bookaware.Loan) (err error) {
	if r == nil || len(loans) == 0 {
		return nil
	}

	panicked, committed := true, false
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		// a failed Commit already ends the transaction
		if (panicked || err != nil) && !committed {
			if rerr := tx.Rollback(); rerr != nil {
				r.logger.Errorw("problem when rolling back a transaction", "error", rerr)
			}
		}
	}()

	err = func() error {
		stmt, err := tx.PrepareContext(ctx, insertQuery)
		if err != nil {
			return err
		}

		for _, l := range loans {
			_, err := stmt.ExecContext(ctx,
				scrapedAt.UTC(),
				account,
				l.DueDate.Format(bookaware.DateLayout),
				l.Library,
				l.Title,
				l.Hint,
				int32(l.DaysLeft),
			)
			if err != nil {
				_ = stmt.Close()
				return err
			}
		}

		return stmt.Close()
	}()

	if err == nil {
		committed = true
		err = tx.Commit()
	}

	panicked = false

	if err != nil {
		return fmt.Errorf("record loan snapshot: %w", err)
	}
	return nil
}

func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	return r.db.Close()
}
