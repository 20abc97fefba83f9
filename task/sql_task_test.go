package task

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/jeffrey82221/batchdag/backend"
	"github.com/jeffrey82221/batchdag/errs"
)

// fakeCursor always returns the same canned table/dataframe, regardless of
// the SQL text that produced it — these tests exercise SqlTask's control
// flow (which statements get run, in what order, against which RDB), not a
// real SQL engine.
type fakeCursor struct {
	table  arrow.Table
	closed bool
}

func (c *fakeCursor) Arrow(ctx context.Context) (arrow.Table, error) { return c.table, nil }
func (c *fakeCursor) DataFrame(ctx context.Context) (backend.DataFrame, error) {
	return backend.ArrowToDataFrame(c.table)
}
func (c *fakeCursor) Close() error { c.closed = true; return nil }

// sampleTable is a fixed one-row table handed back by every fakeCursor.
// DataFrameToArrow cannot fail on this literal input, so the error is
// discarded rather than threaded through every fakeRDB.Execute call.
func sampleTable() arrow.Table {
	table, _ := backend.DataFrameToArrow(backend.DataFrame{
		Columns: []string{"a"},
		Rows:    []map[string]any{{"a": int64(1)}},
	})
	return table
}

// fakeRDB is a backend.RDB test double that records every statement it was
// asked to run and, crucially, whether Close was ever called — the
// regression guard for a SqlTask that shouldn't tear down a connection it
// doesn't own.
type fakeRDB struct {
	mu         sync.Mutex
	registered []string
	executed   []string
	closed     bool
}

func (r *fakeRDB) Register(ctx context.Context, name string, table arrow.Table) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered = append(r.registered, name)
	return nil
}

func (r *fakeRDB) Execute(ctx context.Context, sql string) (backend.Cursor, error) {
	r.mu.Lock()
	r.executed = append(r.executed, sql)
	r.mu.Unlock()
	return &fakeCursor{table: sampleTable()}, nil
}

func (r *fakeRDB) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeRDB) Commit(ctx context.Context) error { return nil }

func TestValidateSqlKeysRejectsMissingKey(t *testing.T) {
	err := validateSqlKeys("T", map[string]string{"a": "SELECT 1"}, []string{"a", "b"})
	if err == nil || !errs.Is(err, errs.ContractViolation) {
		t.Fatalf("expected ContractViolation for a missing key, got %v", err)
	}
}

func TestValidateSqlKeysRejectsExtraKey(t *testing.T) {
	err := validateSqlKeys("T", map[string]string{"a": "1", "b": "2", "c": "3"}, []string{"a", "b"})
	if err == nil || !errs.Is(err, errs.ContractViolation) {
		t.Fatalf("expected ContractViolation for an extra key, got %v", err)
	}
}

func TestValidateSqlKeysAcceptsExactMatch(t *testing.T) {
	if err := validateSqlKeys("T", map[string]string{"a": "1", "b": "2"}, []string{"a", "b"}); err != nil {
		t.Fatalf("expected no error for an exact key match, got %v", err)
	}
}

// TestSqlTaskBodyRejectsBadSqlKeys implements testable property #8: no
// output is materialised unless keys(sqls) == output_ids exactly.
func TestSqlTaskBodyRejectsBadSqlKeys(t *testing.T) {
	rdb := &fakeRDB{}
	badSqls := func(opts map[string]any) (map[string]string, error) {
		return map[string]string{"wrong": "SELECT 1"}, nil
	}
	st, err := NewSqlTask("T", nil, []string{"out"}, nil, rdb, nil, nil, badSqls)
	if err != nil {
		t.Fatalf("NewSqlTask: %v", err)
	}
	err = st.Body(context.Background(), nil)
	if err == nil || !errs.Is(err, errs.ContractViolation) {
		t.Fatalf("expected ContractViolation, got %v", err)
	}
	if len(rdb.executed) != 0 {
		t.Fatalf("expected no statements executed after a bad key set, got %v", rdb.executed)
	}
}

// TestSqlTaskBodyMaterializesInsideRDBWhenNoOutputStorage covers the
// OutputTables == nil branch of spec §4.3 step 4: CREATE TABLE left inside
// the RDB rather than uploaded to a FileSystem.
func TestSqlTaskBodyMaterializesInsideRDBWhenNoOutputStorage(t *testing.T) {
	rdb := &fakeRDB{}
	sqls := func(opts map[string]any) (map[string]string, error) {
		return map[string]string{"out": "SELECT * FROM src"}, nil
	}
	st, err := NewSqlTask("T", nil, []string{"out"}, nil, rdb, nil, nil, sqls)
	if err != nil {
		t.Fatalf("NewSqlTask: %v", err)
	}
	if err := st.Body(context.Background(), nil); err != nil {
		t.Fatalf("Body: %v", err)
	}
	if len(rdb.executed) != 1 || !strings.Contains(rdb.executed[0], "CREATE TABLE") {
		t.Fatalf("expected a CREATE TABLE statement, got %v", rdb.executed)
	}
	if rdb.closed {
		t.Fatal("Body must not close the RDB connection it does not own")
	}
}

// TestSqlTaskBodyUploadsToOutputTables covers the OutputTables != nil
// branch: SELECT * FROM (<sql>) is run, its Arrow() result uploaded.
func TestSqlTaskBodyUploadsToOutputTables(t *testing.T) {
	rdb := &fakeRDB{}
	fs, err := backend.NewLocalFileSystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFileSystem: %v", err)
	}
	outputTables := backend.NewTableFileStorage(fs)

	sqls := func(opts map[string]any) (map[string]string, error) {
		return map[string]string{"out": "SELECT * FROM src"}, nil
	}
	st, err := NewSqlTask("T", nil, []string{"out"}, nil, rdb, nil, outputTables, sqls)
	if err != nil {
		t.Fatalf("NewSqlTask: %v", err)
	}
	if err := st.Body(context.Background(), nil); err != nil {
		t.Fatalf("Body: %v", err)
	}
	if len(rdb.executed) != 1 || !strings.Contains(rdb.executed[0], "SELECT * FROM (SELECT * FROM src)") {
		t.Fatalf("expected a wrapped SELECT statement, got %v", rdb.executed)
	}
	exists, err := outputTables.CheckExists(context.Background(), "out")
	if err != nil || !exists {
		t.Fatalf("expected \"out\" to be uploaded, err=%v exists=%v", err, exists)
	}
	if rdb.closed {
		t.Fatal("Body must not close the RDB connection it does not own")
	}
}

// TestSqlTaskSharesOneRDBAcrossTwoTasks is the regression guard for the
// Body-closes-the-shared-connection bug: MapReduce hands the same RDB to
// several SqlTasks (AddPartitionKey, every Divide, every Merge), so the
// first task to run must not tear the connection down for the rest.
func TestSqlTaskSharesOneRDBAcrossTwoTasks(t *testing.T) {
	rdb := &fakeRDB{}
	sqlsFor := func(out string) func(map[string]any) (map[string]string, error) {
		return func(opts map[string]any) (map[string]string, error) {
			return map[string]string{out: "SELECT * FROM src"}, nil
		}
	}

	first, err := NewSqlTask("first", nil, []string{"out1"}, nil, rdb, nil, nil, sqlsFor("out1"))
	if err != nil {
		t.Fatalf("NewSqlTask(first): %v", err)
	}
	second, err := NewSqlTask("second", nil, []string{"out2"}, nil, rdb, nil, nil, sqlsFor("out2"))
	if err != nil {
		t.Fatalf("NewSqlTask(second): %v", err)
	}

	if err := first.Body(context.Background(), nil); err != nil {
		t.Fatalf("first.Body: %v", err)
	}
	if rdb.closed {
		t.Fatal("first task's Body must not close the shared RDB")
	}
	if err := second.Body(context.Background(), nil); err != nil {
		t.Fatalf("second.Body: %v (RDB was likely already torn down by the first task)", err)
	}
	if rdb.closed {
		t.Fatal("second task's Body must not close the shared RDB either")
	}
	if len(rdb.executed) != 2 {
		t.Fatalf("expected both tasks' statements to run against the same connection, got %v", rdb.executed)
	}
}
