package gateway

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/supagate/internal/backend"
)

const (
	// defaultLimit はlimit未指定時の取得件数。
	defaultLimit = 100
	// defaultSelect はselect未指定時の射影（全カラム）。
	defaultSelect = "*"
)

// reservedTables はGateway自身のルートと衝突するため、テーブル名として扱わない名前。
var reservedTables = map[string]bool{
	"api":    true,
	"health": true,
}

// listControlParams はフィルタとして扱わないクエリパラメータ。
var listControlParams = map[string]bool{
	"select": true,
	"limit":  true,
	"offset": true,
}

// tableParam はパスからテーブル名を取り出す。予約名の場合は404を返してfalseを返す。
func (s *Server) tableParam(c *gin.Context) (string, bool) {
	table := c.Param("table")
	if reservedTables[table] {
		s.handleNotFound()(c)
		return "", false
	}
	return table, true
}

// handleListRecords はテーブルの行一覧を返すハンドラを返す。
// select, limit, offset以外のクエリパラメータは等値条件として扱う。
func (s *Server) handleListRecords() gin.HandlerFunc {
	return func(c *gin.Context) {
		table, ok := s.tableParam(c)
		if !ok {
			return
		}

		q, err := parseListQuery(c)
		if err != nil {
			respondError(c, kindValidation, err.Error())
			return
		}

		ctx, cancel := s.backendContext(c)
		defer cancel()

		res, err := s.backend.List(ctx, table, q)
		if err != nil {
			log.Printf("行一覧の取得に失敗: table=%s, error=%v", table, err)
			respondBackendError(c, passThrough, err)
			return
		}
		rows := res.Rows
		if rows == nil {
			rows = []backend.Record{}
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    rows,
			"total":   res.Total,
		})
	}
}

// parseListQuery はクエリパラメータから一覧取得の条件を組み立てる。
// 同じキーが複数指定された場合は最初の値を使う。
func parseListQuery(c *gin.Context) (backend.ListQuery, error) {
	q := backend.ListQuery{
		Select:  c.DefaultQuery("select", defaultSelect),
		Limit:   defaultLimit,
		Filters: map[string]string{},
	}

	if v, ok := c.GetQuery("limit"); ok {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return backend.ListQuery{}, errors.New("limit must be a positive integer")
		}
		q.Limit = limit
	}
	if v, ok := c.GetQuery("offset"); ok {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return backend.ListQuery{}, errors.New("offset must be a non-negative integer")
		}
		q.Offset = offset
	}

	for key, values := range c.Request.URL.Query() {
		if listControlParams[key] || len(values) == 0 {
			continue
		}
		q.Filters[key] = values[0]
	}
	return q, nil
}

// handleGetRecord はidが一致する行を返すハンドラを返す。
func (s *Server) handleGetRecord() gin.HandlerFunc {
	return func(c *gin.Context) {
		table, ok := s.tableParam(c)
		if !ok {
			return
		}
		id := c.Param("id")

		ctx, cancel := s.backendContext(c)
		defer cancel()

		rec, err := s.backend.Get(ctx, table, id)
		if err != nil {
			log.Printf("行の取得に失敗: table=%s, id=%s, error=%v", table, id, err)
			respondBackendError(c, passThrough, err)
			return
		}
		if rec == nil {
			respondError(c, kindNotFound, msgRecordNotFound)
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "data": rec})
	}
}

// handleCreateRecord は1行を挿入するハンドラを返す。
func (s *Server) handleCreateRecord() gin.HandlerFunc {
	return func(c *gin.Context) {
		table, ok := s.tableParam(c)
		if !ok {
			return
		}
		fields, ok := bindRecord(c)
		if !ok {
			return
		}

		ctx, cancel := s.backendContext(c)
		defer cancel()

		rec, err := s.backend.Insert(ctx, table, fields)
		if err != nil {
			log.Printf("行の作成に失敗: table=%s, error=%v", table, err)
			respondBackendError(c, passThrough, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"success": true, "data": rec})
	}
}

// handleUpdateRecord はidが一致する行を部分更新するハンドラを返す。
func (s *Server) handleUpdateRecord() gin.HandlerFunc {
	return func(c *gin.Context) {
		table, ok := s.tableParam(c)
		if !ok {
			return
		}
		id := c.Param("id")
		fields, ok := bindRecord(c)
		if !ok {
			return
		}

		ctx, cancel := s.backendContext(c)
		defer cancel()

		rec, err := s.backend.Update(ctx, table, id, fields)
		if err != nil {
			log.Printf("行の更新に失敗: table=%s, id=%s, error=%v", table, id, err)
			respondBackendError(c, passThrough, err)
			return
		}
		if rec == nil {
			respondError(c, kindNotFound, msgRecordNotFound)
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "data": rec})
	}
}

// handleDeleteRecord はidが一致する行を削除するハンドラを返す。
// 行が存在しない場合も成功として扱う。
func (s *Server) handleDeleteRecord() gin.HandlerFunc {
	return func(c *gin.Context) {
		table, ok := s.tableParam(c)
		if !ok {
			return
		}
		id := c.Param("id")

		ctx, cancel := s.backendContext(c)
		defer cancel()

		if err := s.backend.Delete(ctx, table, id); err != nil {
			log.Printf("行の削除に失敗: table=%s, id=%s, error=%v", table, id, err)
			respondBackendError(c, passThrough, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// bindRecord はリクエストボディをJSONオブジェクトとして読み取る。
// 失敗した場合はエラーレスポンスを書き込んでfalseを返す。
func bindRecord(c *gin.Context) (backend.Record, bool) {
	var fields map[string]any
	if err := bindJSON(c, &fields); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.Is(err, errEmptyBody) || errors.As(err, &typeErr) {
			respondError(c, kindValidation, msgBodyNotObject)
			return nil, false
		}
		respondBindError(c, err)
		return nil, false
	}
	if fields == nil {
		respondError(c, kindValidation, msgBodyNotObject)
		return nil, false
	}
	return backend.Record(fields), true
}
