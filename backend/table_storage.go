package backend

import (
	"bytes"
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/jeffrey82221/batchdag/errs"
)

// TableFileStorage is an ObjectStorage[arrow.Table] over a FileSystem,
// encoding each value as a ".parquet" file — the canonical extension for
// the "columnar-table-over-FileSystem" typed object storage, grounded in
// original_source/batch_framework/storage.py's PyArrowStorage
// (pq.write_table / pq.read_table).
type TableFileStorage struct {
	FS FileSystem
}

func NewTableFileStorage(fs FileSystem) *TableFileStorage {
	return &TableFileStorage{FS: fs}
}

func (s *TableFileStorage) key(id string) string { return id + ".parquet" }

func (s *TableFileStorage) Upload(ctx context.Context, id string, table arrow.Table) error {
	data, err := EncodeParquet(table)
	if err != nil {
		return errs.Wrap(errs.BackendError, fmt.Sprintf("encoding %q", id), err)
	}
	return s.FS.Upload(ctx, s.key(id), data)
}

func (s *TableFileStorage) Download(ctx context.Context, id string) (arrow.Table, error) {
	data, err := s.FS.Download(ctx, s.key(id))
	if err != nil {
		return nil, err
	}
	table, err := DecodeParquet(data)
	if err != nil {
		return nil, errs.Wrap(errs.BackendError, fmt.Sprintf("decoding %q", id), err)
	}
	return table, nil
}

func (s *TableFileStorage) CheckExists(ctx context.Context, id string) (bool, error) {
	return s.FS.CheckExists(ctx, s.key(id))
}

func (s *TableFileStorage) Drop(ctx context.Context, id string) error {
	return s.FS.Drop(ctx, s.key(id))
}

// TableRDBStorage is an ObjectStorage[arrow.Table] materialised as a named
// table inside an RDB rather than a file — the "columnar-table-over-RDB"
// typed object storage from the System Overview.
type TableRDBStorage struct {
	DB RDB
}

func NewTableRDBStorage(db RDB) *TableRDBStorage {
	return &TableRDBStorage{DB: db}
}

func (s *TableRDBStorage) Upload(ctx context.Context, id string, table arrow.Table) error {
	return s.DB.Register(ctx, id, table)
}

func (s *TableRDBStorage) Download(ctx context.Context, id string) (arrow.Table, error) {
	cur, err := s.DB.Execute(ctx, fmt.Sprintf("SELECT * FROM %s", QuoteIdentifier(id)))
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	return cur.Arrow(ctx)
}

func (s *TableRDBStorage) CheckExists(ctx context.Context, id string) (bool, error) {
	_, err := s.DB.Execute(ctx, fmt.Sprintf("SELECT 1 FROM %s LIMIT 0", QuoteIdentifier(id)))
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (s *TableRDBStorage) Drop(ctx context.Context, id string) error {
	_, err := s.DB.Execute(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", QuoteIdentifier(id)))
	return err
}

// EncodeParquet serialises table to a Parquet byte buffer via pqarrow, the
// same codec original_source/batch_framework/storage.py uses through
// PyArrow's pq.write_table.
func EncodeParquet(table arrow.Table) ([]byte, error) {
	var buf bytes.Buffer
	writerProps := parquet.NewWriterProperties()
	arrowProps := pqarrow.DefaultWriterProps()
	if err := pqarrow.WriteTable(table, &buf, table.NumRows(), writerProps, arrowProps); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeParquet reads a Parquet byte buffer back into an arrow.Table.
func DecodeParquet(data []byte) (arrow.Table, error) {
	reader, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	fileReader, err := pqarrow.NewFileReader(reader, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, err
	}
	return fileReader.ReadTable(context.Background())
}

// DataFrameToArrow converts a row-oriented DataFrame into an arrow.Table,
// inferring each column's Arrow type from its first non-nil value
// (int64/float64/bool/string), falling back to Utf8 via fmt.Sprint for
// anything else.
func DataFrameToArrow(df DataFrame) (arrow.Table, error) {
	fields := make([]arrow.Field, len(df.Columns))
	for i, col := range df.Columns {
		fields[i] = arrow.Field{Name: col, Type: inferType(df, col), Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	pool := memory.NewGoAllocator()
	builder := array.NewRecordBuilder(pool, schema)
	defer builder.Release()

	for _, row := range df.Rows {
		for i, col := range df.Columns {
			appendValue(builder.Field(i), row[col])
		}
	}
	record := builder.NewRecord()
	defer record.Release()

	return array.NewTableFromRecords(schema, []arrow.Record{record}), nil
}

// ArrowToDataFrame converts an arrow.Table into a row-oriented DataFrame.
func ArrowToDataFrame(table arrow.Table) (DataFrame, error) {
	df := DataFrame{Columns: make([]string, table.NumCols())}
	for i := 0; i < int(table.NumCols()); i++ {
		df.Columns[i] = table.Schema().Field(i).Name
	}

	reader := array.NewTableReader(table, table.NumRows())
	defer reader.Release()

	for reader.Next() {
		rec := reader.Record()
		for r := 0; r < int(rec.NumRows()); r++ {
			row := make(map[string]any, len(df.Columns))
			for c, col := range df.Columns {
				row[col] = columnValue(rec.Column(c), r)
			}
			df.Rows = append(df.Rows, row)
		}
	}
	return df, nil
}

func inferType(df DataFrame, col string) arrow.DataType {
	for _, row := range df.Rows {
		v := row[col]
		if v == nil {
			continue
		}
		switch v.(type) {
		case int, int32, int64:
			return arrow.PrimitiveTypes.Int64
		case float32, float64:
			return arrow.PrimitiveTypes.Float64
		case bool:
			return arrow.FixedWidthTypes.Boolean
		case string:
			return arrow.BinaryTypes.String
		default:
			return arrow.BinaryTypes.String
		}
	}
	return arrow.BinaryTypes.String
}

func appendValue(b array.Builder, v any) {
	if v == nil {
		b.AppendNull()
		return
	}
	switch fb := b.(type) {
	case *array.Int64Builder:
		fb.Append(toInt64(v))
	case *array.Float64Builder:
		fb.Append(toFloat64(v))
	case *array.BooleanBuilder:
		if bv, ok := v.(bool); ok {
			fb.Append(bv)
		} else {
			fb.AppendNull()
		}
	case *array.StringBuilder:
		fb.Append(fmt.Sprint(v))
	default:
		b.AppendNull()
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

func columnValue(col arrow.Array, row int) any {
	if col.IsNull(row) {
		return nil
	}
	switch typed := col.(type) {
	case *array.Int64:
		return typed.Value(row)
	case *array.Float64:
		return typed.Value(row)
	case *array.Boolean:
		return typed.Value(row)
	case *array.String:
		return typed.Value(row)
	default:
		return fmt.Sprint(col)
	}
}
