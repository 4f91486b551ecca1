package local

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/nao1215/supagate/internal/backend"
)

// idColumn は行を識別するカラム名。
const idColumn = "id"

// List は条件に一致する行を挿入順に取得する。
func (s *Store) List(ctx context.Context, table string, q backend.ListQuery) (backend.ListResult, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT doc FROM records WHERE table_name = ? ORDER BY seq", table)
	if err != nil {
		return backend.ListResult{}, fmt.Errorf("行の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matched []backend.Record
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return backend.ListResult{}, fmt.Errorf("行の読み取りに失敗: %w", err)
		}
		rec, err := decodeDoc(doc)
		if err != nil {
			return backend.ListResult{}, err
		}
		if matchesAll(rec, q.Filters) {
			matched = append(matched, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return backend.ListResult{}, fmt.Errorf("行の読み取りに失敗: %w", err)
	}

	start := min(max(q.Offset, 0), len(matched))
	end := min(max(q.Offset+q.Limit, start), len(matched))
	columns := parseSelect(q.Select)

	out := make([]backend.Record, 0, end-start)
	for _, rec := range matched[start:end] {
		out = append(out, project(rec, columns))
	}
	return backend.ListResult{Rows: out, Total: len(matched)}, nil
}

// Get はidが一致する行を取得する。存在しない場合は (nil, nil) を返す。
func (s *Store) Get(ctx context.Context, table, id string) (backend.Record, error) {
	return getRecord(ctx, s.db, table, id)
}

// Insert は1行を挿入する。idが無い場合はUUIDを割り当てる。
func (s *Store) Insert(ctx context.Context, table string, fields backend.Record) (backend.Record, error) {
	rec := make(backend.Record, len(fields)+1)
	for k, v := range fields {
		rec[k] = v
	}
	if v, ok := rec[idColumn]; !ok || v == nil {
		rec[idColumn] = uuid.NewString()
	}
	id := scalarString(rec[idColumn])

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := getRecord(ctx, tx, table, id)
		if err != nil {
			return err
		}
		if existing != nil {
			return backend.NewError(http.StatusConflict, "23505",
				`duplicate key value violates unique constraint "`+table+`_pkey"`)
		}
		doc, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("行のシリアライズに失敗: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO records (table_name, id, doc) VALUES (?, ?, ?)", table, id, string(doc)); err != nil {
			return fmt.Errorf("行の挿入に失敗: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return getRecord(ctx, s.db, table, id)
}

// Update はidが一致する行にfieldsをマージする。idは変更しない。
// 存在しない場合は (nil, nil) を返す。
func (s *Store) Update(ctx context.Context, table, id string, fields backend.Record) (backend.Record, error) {
	var updated backend.Record
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rec, err := getRecord(ctx, tx, table, id)
		if err != nil || rec == nil {
			return err
		}
		for k, v := range fields {
			if k == idColumn {
				continue
			}
			rec[k] = v
		}
		doc, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("行のシリアライズに失敗: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE records SET doc = ? WHERE table_name = ? AND id = ?", string(doc), table, id); err != nil {
			return fmt.Errorf("行の更新に失敗: %w", err)
		}
		updated = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete はidが一致する行を削除する。存在しなくてもエラーにしない。
func (s *Store) Delete(ctx context.Context, table, id string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM records WHERE table_name = ? AND id = ?", table, id); err != nil {
		return fmt.Errorf("行の削除に失敗: %w", err)
	}
	return nil
}

// getRecord は (table, id) の行を取得する。存在しない場合は (nil, nil) を返す。
func getRecord(ctx context.Context, q querier, table, id string) (backend.Record, error) {
	var doc string
	err := q.QueryRowContext(ctx,
		"SELECT doc FROM records WHERE table_name = ? AND id = ?", table, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("行の取得に失敗: %w", err)
	}
	return decodeDoc(doc)
}

// decodeDoc は保存されたJSONドキュメントを行に変換する。
// 数値は元の表記を保つためjson.Numberとして読み込む。
func decodeDoc(doc string) (backend.Record, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(doc)))
	dec.UseNumber()
	var rec backend.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("行のデシリアライズに失敗: %w", err)
	}
	return rec, nil
}

// matchesAll は行が全ての等値条件を満たすかを返す。
func matchesAll(rec backend.Record, filters map[string]string) bool {
	for k, want := range filters {
		v, ok := rec[k]
		if !ok || scalarString(v) != want {
			return false
		}
	}
	return true
}

// scalarString は値をクエリ文字列と比較するための文字列表現に変換する。
func scalarString(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

// parseSelect は射影指定をカラム名の一覧に変換する。全カラムの場合はnilを返す。
func parseSelect(sel string) []string {
	sel = strings.TrimSpace(sel)
	if sel == "" || sel == "*" {
		return nil
	}
	var columns []string
	for _, c := range strings.Split(sel, ",") {
		c = strings.TrimSpace(c)
		if c == "*" {
			return nil
		}
		if c != "" {
			columns = append(columns, c)
		}
	}
	return columns
}

// project は行から指定カラムのみを取り出す。columnsがnilの場合は行をそのまま返す。
func project(rec backend.Record, columns []string) backend.Record {
	if columns == nil {
		return rec
	}
	out := make(backend.Record, len(columns))
	for _, c := range columns {
		if v, ok := rec[c]; ok {
			out[c] = v
		}
	}
	return out
}
