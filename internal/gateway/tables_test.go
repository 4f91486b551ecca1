package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/nao1215/supagate/internal/backend"
)

func TestHandleListRecords(t *testing.T) {
	t.Parallel()

	t.Run("既定の条件でバックエンドが呼ばれること", func(t *testing.T) {
		t.Parallel()

		var gotTable string
		var gotQuery backend.ListQuery
		s := newTestServer(t, &fakeBackend{
			listFn: func(_ context.Context, table string, q backend.ListQuery) (backend.ListResult, error) {
				gotTable, gotQuery = table, q
				return backend.ListResult{Rows: []backend.Record{{"id": "1"}}, Total: 7}, nil
			},
		})
		w := doRequest(t, s, http.MethodGet, "/products", nil, nil)

		assertStatus(t, w, http.StatusOK)
		if gotTable != "products" {
			t.Errorf("table: got %q, want products", gotTable)
		}
		if gotQuery.Select != "*" || gotQuery.Limit != 100 || gotQuery.Offset != 0 {
			t.Errorf("query: got %+v", gotQuery)
		}
		if len(gotQuery.Filters) != 0 {
			t.Errorf("filters: got %v, want 空", gotQuery.Filters)
		}

		result := decodeBody(t, w)
		if result["success"] != true {
			t.Errorf("success: got %v", result["success"])
		}
		if result["total"] != float64(7) {
			t.Errorf("total: got %v, want 7", result["total"])
		}
		if rows, ok := result["data"].([]any); !ok || len(rows) != 1 {
			t.Errorf("data: got %v", result["data"])
		}
	})

	t.Run("select, limit, offset以外のパラメータがフィルタになること", func(t *testing.T) {
		t.Parallel()

		var gotQuery backend.ListQuery
		s := newTestServer(t, &fakeBackend{
			listFn: func(_ context.Context, _ string, q backend.ListQuery) (backend.ListResult, error) {
				gotQuery = q
				return backend.ListResult{}, nil
			},
		})
		w := doRequest(t, s, http.MethodGet, "/products?select=id,name&limit=5&offset=10&status=active&category=tools", nil, nil)

		assertStatus(t, w, http.StatusOK)
		if gotQuery.Select != "id,name" || gotQuery.Limit != 5 || gotQuery.Offset != 10 {
			t.Errorf("query: got %+v", gotQuery)
		}
		if len(gotQuery.Filters) != 2 || gotQuery.Filters["status"] != "active" || gotQuery.Filters["category"] != "tools" {
			t.Errorf("filters: got %v", gotQuery.Filters)
		}

		result := decodeBody(t, w)
		if rows, ok := result["data"].([]any); !ok || len(rows) != 0 {
			t.Errorf("data: got %v, want 空配列", result["data"])
		}
	})

	t.Run("不正なlimitとoffsetは400になること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{})
		for _, path := range []string{
			"/products?limit=abc",
			"/products?limit=0",
			"/products?offset=-1",
			"/products?offset=x",
		} {
			w := doRequest(t, s, http.MethodGet, path, nil, nil)
			if w.Code != http.StatusBadRequest {
				t.Errorf("%s: ステータスコード got %d, want %d", path, w.Code, http.StatusBadRequest)
			}
		}
	})

	t.Run("バックエンドのエラーは500でメッセージを返すこと", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{
			listFn: func(context.Context, string, backend.ListQuery) (backend.ListResult, error) {
				return backend.ListResult{}, backend.NewError(http.StatusNotFound, "42P01", `relation "public.nope" does not exist`)
			},
		})
		w := doRequest(t, s, http.MethodGet, "/nope", nil, nil)

		assertError(t, w, http.StatusInternalServerError, `relation "public.nope" does not exist`)
	})
}

func TestHandleGetRecord(t *testing.T) {
	t.Parallel()

	t.Run("行が返ること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{
			getFn: func(_ context.Context, table, id string) (backend.Record, error) {
				return backend.Record{"id": id, "table": table}, nil
			},
		})
		w := doRequest(t, s, http.MethodGet, "/products/p1", nil, nil)

		assertStatus(t, w, http.StatusOK)
		data, _ := decodeBody(t, w)["data"].(map[string]any)
		if data["id"] != "p1" || data["table"] != "products" {
			t.Errorf("data: got %v", data)
		}
	})

	t.Run("存在しない行は404になること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{})
		w := doRequest(t, s, http.MethodGet, "/products/missing", nil, nil)

		assertError(t, w, http.StatusNotFound, "Record not found")
	})

	t.Run("バックエンドのエラーは500になること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{
			getFn: func(context.Context, string, string) (backend.Record, error) {
				return nil, errors.New("connection refused")
			},
		})
		w := doRequest(t, s, http.MethodGet, "/products/p1", nil, nil)

		assertError(t, w, http.StatusInternalServerError, "connection refused")
	})
}

func TestHandleCreateRecord(t *testing.T) {
	t.Parallel()

	t.Run("作成した行が201で返ること", func(t *testing.T) {
		t.Parallel()

		var gotFields backend.Record
		s := newTestServer(t, &fakeBackend{
			insertFn: func(_ context.Context, _ string, fields backend.Record) (backend.Record, error) {
				gotFields = fields
				out := backend.Record{"id": "generated"}
				for k, v := range fields {
					out[k] = v
				}
				return out, nil
			},
		})
		w := doRequest(t, s, http.MethodPost, "/products", map[string]any{"name": "Widget", "price": 10}, nil)

		assertStatus(t, w, http.StatusCreated)
		if gotFields["name"] != "Widget" || gotFields["price"] != json.Number("10") {
			t.Errorf("fields: got %v", gotFields)
		}
		data, _ := decodeBody(t, w)["data"].(map[string]any)
		if data["id"] != "generated" {
			t.Errorf("data: got %v", data)
		}
	})

	t.Run("オブジェクト以外のボディは400になること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{
			insertFn: func(context.Context, string, backend.Record) (backend.Record, error) {
				t.Error("不正なボディでバックエンドが呼ばれた")
				return nil, nil
			},
		})
		for _, body := range []string{`[{"name":"a"}]`, `null`, `"text"`, ``} {
			w := doRequest(t, s, http.MethodPost, "/products", body, nil)
			assertError(t, w, http.StatusBadRequest, "request body must be a JSON object")
		}
	})

	t.Run("不正なJSONは400になること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{})
		w := doRequest(t, s, http.MethodPost, "/products", `{invalid`, nil)

		assertError(t, w, http.StatusBadRequest, "invalid JSON body")
	})

	t.Run("重複エラーも500になること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{
			insertFn: func(context.Context, string, backend.Record) (backend.Record, error) {
				return nil, backend.NewError(http.StatusConflict, "23505", `duplicate key value violates unique constraint "products_pkey"`)
			},
		})
		w := doRequest(t, s, http.MethodPost, "/products", map[string]any{"id": "p1"}, nil)

		assertError(t, w, http.StatusInternalServerError, `duplicate key value violates unique constraint "products_pkey"`)
	})
}

func TestHandleUpdateRecord(t *testing.T) {
	t.Parallel()

	t.Run("更新後の行が返ること", func(t *testing.T) {
		t.Parallel()

		var gotID string
		s := newTestServer(t, &fakeBackend{
			updateFn: func(_ context.Context, _, id string, fields backend.Record) (backend.Record, error) {
				gotID = id
				return backend.Record{"id": id, "name": fields["name"]}, nil
			},
		})
		w := doRequest(t, s, http.MethodPut, "/products/p1", map[string]any{"name": "New"}, nil)

		assertStatus(t, w, http.StatusOK)
		if gotID != "p1" {
			t.Errorf("id: got %q, want p1", gotID)
		}
		data, _ := decodeBody(t, w)["data"].(map[string]any)
		if data["name"] != "New" {
			t.Errorf("data: got %v", data)
		}
	})

	t.Run("存在しない行は404になること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{})
		w := doRequest(t, s, http.MethodPut, "/products/missing", map[string]any{"name": "x"}, nil)

		assertError(t, w, http.StatusNotFound, "Record not found")
	})

	t.Run("バックエンドのエラーは500になること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{
			updateFn: func(context.Context, string, string, backend.Record) (backend.Record, error) {
				return nil, errors.New("update failed")
			},
		})
		w := doRequest(t, s, http.MethodPut, "/products/p1", map[string]any{"name": "x"}, nil)

		assertError(t, w, http.StatusInternalServerError, "update failed")
	})
}

func TestHandleDeleteRecord(t *testing.T) {
	t.Parallel()

	t.Run("成功レスポンスが返ること", func(t *testing.T) {
		t.Parallel()

		var gotTable, gotID string
		s := newTestServer(t, &fakeBackend{
			deleteFn: func(_ context.Context, table, id string) error {
				gotTable, gotID = table, id
				return nil
			},
		})
		w := doRequest(t, s, http.MethodDelete, "/products/p1", nil, nil)

		assertStatus(t, w, http.StatusOK)
		if gotTable != "products" || gotID != "p1" {
			t.Errorf("got table=%q id=%q", gotTable, gotID)
		}
		if decodeBody(t, w)["success"] != true {
			t.Error("successがtrueではない")
		}
	})

	t.Run("バックエンドのエラーは500になること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{
			deleteFn: func(context.Context, string, string) error {
				return errors.New("delete failed")
			},
		})
		w := doRequest(t, s, http.MethodDelete, "/products/p1", nil, nil)

		assertError(t, w, http.StatusInternalServerError, "delete failed")
	})
}
