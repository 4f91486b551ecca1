package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/nao1215/supagate/internal/backend"
	"github.com/nao1215/supagate/pkg/httpclient"
)

// tablePath はテーブル名をREST APIのパスに変換する。
func tablePath(table string) string {
	return "/" + url.PathEscape(table)
}

// eq はREST APIの等値フィルタ値を返す。
func eq(value string) string {
	return "eq." + value
}

// List は条件に一致する行を取得する。
// 取得範囲はRangeヘッダーで指定し、総数はContent-Rangeヘッダーから読み取る。
func (c *Client) List(ctx context.Context, table string, q backend.ListQuery) (backend.ListResult, error) {
	sel := q.Select
	if sel == "" {
		sel = "*"
	}
	query := url.Values{"select": {sel}}
	for k, v := range q.Filters {
		query.Set(k, eq(v))
	}

	resp, err := c.rest.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		Path:   tablePath(table),
		Query:  query,
		Header: http.Header{
			"Range-Unit": {"items"},
			"Range":      {fmt.Sprintf("%d-%d", q.Offset, q.Offset+q.Limit-1)},
			"Prefer":     {"count=exact"},
		},
	})
	if err != nil {
		return backend.ListResult{}, toBackendError(err)
	}

	rows := []backend.Record{}
	if err := resp.DecodeJSON(&rows); err != nil {
		return backend.ListResult{}, err
	}
	total, ok := parseContentRangeTotal(resp.Header.Get("Content-Range"))
	if !ok {
		total = len(rows)
	}
	return backend.ListResult{Rows: rows, Total: total}, nil
}

// parseContentRangeTotal は "0-9/57" や "*/0" 形式のContent-Rangeから総数を取り出す。
func parseContentRangeTotal(contentRange string) (int, bool) {
	_, total, found := strings.Cut(contentRange, "/")
	if !found || total == "*" {
		return 0, false
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Get はidが一致する行を取得する。
func (c *Client) Get(ctx context.Context, table, id string) (backend.Record, error) {
	resp, err := c.rest.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		Path:   tablePath(table),
		Query:  url.Values{"select": {"*"}, "id": {eq(id)}, "limit": {"1"}},
	})
	if err != nil {
		return nil, toBackendError(err)
	}
	return firstRow(resp)
}

// Insert は1行を挿入する。
func (c *Client) Insert(ctx context.Context, table string, fields backend.Record) (backend.Record, error) {
	resp, err := c.rest.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   tablePath(table),
		Query:  url.Values{"select": {"*"}},
		Header: http.Header{"Prefer": {"return=representation"}},
		Body:   []backend.Record{fields},
	})
	if err != nil {
		return nil, toBackendError(err)
	}
	row, err := firstRow(resp)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, backend.NewError(http.StatusInternalServerError, "", "insert returned no rows")
	}
	return row, nil
}

// Update はidが一致する行を部分更新する。
func (c *Client) Update(ctx context.Context, table, id string, fields backend.Record) (backend.Record, error) {
	resp, err := c.rest.Do(ctx, httpclient.Request{
		Method: http.MethodPatch,
		Path:   tablePath(table),
		Query:  url.Values{"select": {"*"}, "id": {eq(id)}},
		Header: http.Header{"Prefer": {"return=representation"}},
		Body:   fields,
	})
	if err != nil {
		return nil, toBackendError(err)
	}
	return firstRow(resp)
}

// Delete はidが一致する行を削除する。該当行が無くても成功として扱う。
func (c *Client) Delete(ctx context.Context, table, id string) error {
	_, err := c.rest.Do(ctx, httpclient.Request{
		Method: http.MethodDelete,
		Path:   tablePath(table),
		Query:  url.Values{"id": {eq(id)}},
	})
	if err != nil {
		return toBackendError(err)
	}
	return nil
}

// firstRow はレスポンスの配列から先頭行を返す。空の場合はnilを返す。
func firstRow(resp *httpclient.Response) (backend.Record, error) {
	var rows []backend.Record
	if err := resp.DecodeJSON(&rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}
