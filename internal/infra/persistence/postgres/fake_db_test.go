package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeRow satisfies pgx.Row with a canned scan.
type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

func errRow(err error) fakeRow {
	return fakeRow{scan: func(...any) error { return err }}
}

func idRow(id int64) fakeRow {
	return fakeRow{scan: func(dest ...any) error {
		ptr, ok := dest[0].(*int64)
		if !ok {
			return fmt.Errorf("unexpected scan destination %T", dest[0])
		}
		*ptr = id
		return nil
	}}
}

func boolRow(v bool) fakeRow {
	return fakeRow{scan: func(dest ...any) error {
		ptr, ok := dest[0].(*bool)
		if !ok {
			return fmt.Errorf("unexpected scan destination %T", dest[0])
		}
		*ptr = v
		return nil
	}}
}

// fakeDB emulates the narrow query surface the stores use, routing on SQL
// text. It backs both the direct pool path and transactions.
type fakeDB struct {
	mu sync.Mutex

	contracts      map[string]int64
	nextContractID int64
	// simulate another process winning the insert race once
	stealNextContractInsert bool

	categories     map[string]int64
	nextCategoryID int64

	dedupExists bool

	begins   int
	commits  int
	execSQL  []string
	execArgs []pgx.NamedArgs
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		contracts:  make(map[string]int64),
		categories: make(map[string]int64),
	}
}

func contractFingerprint(args pgx.NamedArgs) string {
	return fmt.Sprint(
		args["symbol"], "|", args["security_type"], "|", args["exchange"], "|",
		args["currency"], "|", args["multiplier"], "|", args["expiration_date"], "|",
		args["strike"], "|", args["option_right"])
}

func categoryFingerprint(args pgx.NamedArgs) string {
	return fmt.Sprint(args["name"], "|", args["parent_id"])
}

func (db *fakeDB) Exec(_ context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.execSQL = append(db.execSQL, sql)
	if len(arguments) == 1 {
		if named, ok := arguments[0].(pgx.NamedArgs); ok {
			db.execArgs = append(db.execArgs, named)
		}
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (db *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	db.mu.Lock()
	defer db.mu.Unlock()

	var named pgx.NamedArgs
	if len(args) == 1 {
		named, _ = args[0].(pgx.NamedArgs)
	}

	switch {
	case strings.Contains(sql, "FROM contracts"):
		if id, ok := db.contracts[contractFingerprint(named)]; ok {
			return idRow(id)
		}
		return errRow(pgx.ErrNoRows)
	case strings.Contains(sql, "INSERT INTO contracts"):
		key := contractFingerprint(named)
		if db.stealNextContractInsert {
			db.stealNextContractInsert = false
			db.nextContractID++
			db.contracts[key] = db.nextContractID
			return errRow(pgx.ErrNoRows)
		}
		if id, ok := db.contracts[key]; ok {
			_ = id
			return errRow(pgx.ErrNoRows)
		}
		db.nextContractID++
		db.contracts[key] = db.nextContractID
		return idRow(db.nextContractID)
	case strings.Contains(sql, "FROM news_categories"):
		if id, ok := db.categories[categoryFingerprint(named)]; ok {
			return idRow(id)
		}
		return errRow(pgx.ErrNoRows)
	case strings.Contains(sql, "INSERT INTO news_categories"):
		key := categoryFingerprint(named)
		if _, ok := db.categories[key]; ok {
			return errRow(pgx.ErrNoRows)
		}
		db.nextCategoryID++
		db.categories[key] = db.nextCategoryID
		return idRow(db.nextCategoryID)
	case strings.Contains(sql, "SELECT EXISTS"):
		return boolRow(db.dedupExists)
	default:
		return errRow(fmt.Errorf("fake db: unrecognized query %q", sql))
	}
}

func (db *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	db.mu.Lock()
	db.begins++
	db.mu.Unlock()
	return &fakeTx{db: db}, nil
}

func (db *fakeDB) execCount(substr string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	count := 0
	for _, sql := range db.execSQL {
		if strings.Contains(sql, substr) {
			count++
		}
	}
	return count
}

func (db *fakeDB) argsFor(substr string) []pgx.NamedArgs {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []pgx.NamedArgs
	for i, sql := range db.execSQL {
		if strings.Contains(sql, substr) && i < len(db.execArgs) {
			out = append(out, db.execArgs[i])
		}
	}
	return out
}

// fakeTx embeds pgx.Tx for the methods the stores never touch.
type fakeTx struct {
	pgx.Tx
	db *fakeDB
}

func (t *fakeTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	if strings.Contains(sql, "pg_advisory_xact_lock") {
		return pgconn.NewCommandTag("SELECT 1"), nil
	}
	return t.db.Exec(ctx, sql, arguments...)
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.db.QueryRow(ctx, sql, args...)
}

func (t *fakeTx) Commit(context.Context) error {
	t.db.mu.Lock()
	t.db.commits++
	t.db.mu.Unlock()
	return nil
}

func (t *fakeTx) Rollback(context.Context) error { return nil }
