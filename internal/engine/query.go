package engine

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/powersheet/sheetbase/internal/coerce"
	sheeterrors "github.com/powersheet/sheetbase/internal/errors"
	"github.com/powersheet/sheetbase/pkg/types"
)

// rowReturning lists the leading keywords of statements that produce rows.
var rowReturning = []string{"SELECT", "WITH", "PRAGMA", "VALUES", "EXPLAIN"}

// RunQuery executes query as-is and returns its result. The text is not
// validated or rewritten; callers are responsible for what they run.
func (e *Engine) RunQuery(ctx context.Context, query string) (*types.QueryResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, sheeterrors.New(sheeterrors.ErrCategoryQuery, sheeterrors.CodeEmptyQuery, "query is empty")
	}

	start := time.Now()
	var (
		result *types.QueryResult
		err    error
	)
	if returnsRows(query) {
		result, err = e.query(ctx, query)
	} else {
		result, err = e.exec(ctx, query)
	}
	if err != nil {
		e.log.WithError(err).Debug("query failed")
		return nil, err
	}
	result.ExecutionTimeMs = time.Since(start).Milliseconds()

	e.log.WithFields(logrus.Fields{
		"rows":     result.RowCount,
		"affected": result.RowsAffected,
		"duration": time.Since(start),
	}).Debug("query executed")
	return result, nil
}

func (e *Engine) query(ctx context.Context, query string) (*types.QueryResult, error) {
	rs, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, queryFailed(err)
	}
	defer rs.Close()

	cols, err := rs.Columns()
	if err != nil {
		return nil, queryFailed(err)
	}

	result := &types.QueryResult{Columns: cols, Rows: [][]interface{}{}}
	for rs.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rs.Scan(ptrs...); err != nil {
			return nil, queryFailed(err)
		}
		for i, v := range values {
			values[i] = coerce.Display(v)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rs.Err(); err != nil {
		return nil, queryFailed(err)
	}
	result.RowCount = len(result.Rows)
	return result, nil
}

func (e *Engine) exec(ctx context.Context, query string) (*types.QueryResult, error) {
	res, err := e.db.ExecContext(ctx, query)
	if err != nil {
		return nil, queryFailed(err)
	}
	affected, _ := res.RowsAffected()
	return &types.QueryResult{Columns: []string{}, Rows: [][]interface{}{}, RowsAffected: affected}, nil
}

func returnsRows(query string) bool {
	head := strings.ToUpper(query)
	if i := strings.IndexFunc(head, func(r rune) bool { return r == ' ' || r == '\n' || r == '\t' || r == '(' }); i > 0 {
		head = head[:i]
	}
	for _, kw := range rowReturning {
		if head == kw {
			return true
		}
	}
	return false
}

func queryFailed(err error) error {
	return sheeterrors.NewQueryError("query failed", err)
}
