package loader

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	goavro "github.com/linkedin/goavro/v2"
	"github.com/razeghi71/dqflow/table"
)

// Save writes t to filename in the format named by its extension.
func Save(filename string, t *table.Table) (err error) {
	ext := strings.ToLower(filepath.Ext(filename))
	var write func(io.Writer, *table.Table) error
	switch ext {
	case ".tsv":
		write = delimitedWriter('\t')
	case ".csv":
		write = delimitedWriter(',')
	case ".json":
		write = writeJSON
	case ".jsonl":
		write = writeJSONL
	case ".avro":
		write = writeAvro
	default:
		return fmt.Errorf("unsupported output format %q (supported: .tsv, .csv, .json, .jsonl, .avro)", ext)
	}

	// Write to a sibling temp file so a failed write leaves filename untouched.
	f, err := os.CreateTemp(filepath.Dir(filename), "."+filepath.Base(filename)+".*")
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", filename, err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	bw := bufio.NewWriter(f)
	if err := write(bw, t); err != nil {
		return fmt.Errorf("cannot write %s: %w", filename, err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("cannot write %s: %w", filename, err)
	}
	if err := f.Chmod(0o644); err != nil {
		return fmt.Errorf("cannot write %s: %w", filename, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("cannot close %s: %w", filename, err)
	}
	if err := os.Rename(f.Name(), filename); err != nil {
		return fmt.Errorf("cannot replace %s: %w", filename, err)
	}
	return nil
}

// Write writes t to w as tab-separated text.
func Write(w io.Writer, t *table.Table) error {
	return delimitedWriter('\t')(w, t)
}

// cellText renders a value for delimited output. Null is an empty cell.
func cellText(v table.Value) string {
	if v.IsNull() {
		return ""
	}
	return v.AsString()
}

func delimitedWriter(comma rune) func(io.Writer, *table.Table) error {
	return func(w io.Writer, t *table.Table) error {
		cw := csv.NewWriter(w)
		cw.Comma = comma
		if err := cw.Write(t.Columns); err != nil {
			return err
		}
		record := make([]string, len(t.Columns))
		for _, row := range t.Rows {
			for i := range record {
				record[i] = cellText(row.Values[i])
			}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	}
}

// appendObject renders one row as a JSON object with keys in column order.
func appendObject(buf []byte, columns []string, row table.Row) ([]byte, error) {
	buf = append(buf, '{')
	for i, col := range columns {
		if i > 0 {
			buf = append(buf, ',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		buf = append(buf, key...)
		buf = append(buf, ':')

		v := row.Values[i]
		switch {
		case v.Type == table.TypeNumber && !math.IsNaN(v.Num) && !math.IsInf(v.Num, 0):
			b, err := json.Marshal(v.Num)
			if err != nil {
				return nil, err
			}
			buf = append(buf, b...)
		case v.Type == table.TypeString:
			b, err := json.Marshal(v.Str)
			if err != nil {
				return nil, err
			}
			buf = append(buf, b...)
		default:
			buf = append(buf, "null"...)
		}
	}
	return append(buf, '}'), nil
}

func writeJSON(w io.Writer, t *table.Table) error {
	buf := []byte("[")
	for i, row := range t.Rows {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, "\n  "...)
		var err error
		if buf, err = appendObject(buf, t.Columns, row); err != nil {
			return err
		}
	}
	buf = append(buf, "\n]\n"...)
	_, err := w.Write(buf)
	return err
}

func writeJSONL(w io.Writer, t *table.Table) error {
	var buf []byte
	for _, row := range t.Rows {
		var err error
		if buf, err = appendObject(buf[:0], t.Columns, row); err != nil {
			return err
		}
		buf = append(buf, '\n')
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// columnsMetaKey holds the JSON array of original column names in the Avro
// file header, since field names are restricted to [A-Za-z_][A-Za-z0-9_]*.
const columnsMetaKey = "dqflow.columns"

// avroName maps a column name to a valid Avro field name, unique within used.
func avroName(col string, used map[string]bool) string {
	var b strings.Builder
	for i, r := range col {
		switch {
		case r == '_', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if name == "" {
		name = "_"
	}
	for base, n := name, 2; used[name]; n++ {
		name = fmt.Sprintf("%s_%d", base, n)
	}
	used[name] = true
	return name
}

// avroSchema declares each column as a nullable double when every non-null
// value in it is a number, and as a nullable string otherwise. It returns the
// schema, the field name of each column and the branch type of each column.
func avroSchema(t *table.Table) (string, []string, []string, error) {
	type field struct {
		Name    string   `json:"name"`
		Type    []string `json:"type"`
		Default any      `json:"default"`
	}
	fields := make([]field, len(t.Columns))
	names := make([]string, len(t.Columns))
	kinds := make([]string, len(t.Columns))
	used := make(map[string]bool, len(t.Columns))
	for i, col := range t.Columns {
		kinds[i] = "double"
		for _, row := range t.Rows {
			if row.Values[i].Type == table.TypeString {
				kinds[i] = "string"
				break
			}
		}
		names[i] = avroName(col, used)
		fields[i] = field{Name: names[i], Type: []string{"null", kinds[i]}}
	}

	schema, err := json.Marshal(struct {
		Type   string  `json:"type"`
		Name   string  `json:"name"`
		Fields []field `json:"fields"`
	}{Type: "record", Name: "Row", Fields: fields})
	if err != nil {
		return "", nil, nil, err
	}
	return string(schema), names, kinds, nil
}

func writeAvro(w io.Writer, t *table.Table) error {
	schema, names, kinds, err := avroSchema(t)
	if err != nil {
		return err
	}
	columns, err := json.Marshal(t.Columns)
	if err != nil {
		return err
	}
	ocfw, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:        w,
		Schema:   schema,
		MetaData: map[string][]byte{columnsMetaKey: columns},
	})
	if err != nil {
		return fmt.Errorf("cannot build Avro schema: %w", err)
	}

	batch := make([]any, 0, 256)
	for _, row := range t.Rows {
		rec := make(map[string]any, len(names))
		for i, name := range names {
			v := row.Values[i]
			switch {
			case v.IsNull():
				rec[name] = goavro.Union("null", nil)
			case kinds[i] == "double":
				rec[name] = goavro.Union("double", v.Num)
			default:
				rec[name] = goavro.Union("string", v.AsString())
			}
		}
		batch = append(batch, rec)
		if len(batch) == cap(batch) {
			if err := ocfw.Append(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		return ocfw.Append(batch)
	}
	return nil
}
