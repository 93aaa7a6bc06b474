package surrealstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// query executes SurrealQL and returns the rows of the first statement.
func query[T any](ctx context.Context, db *surrealdb.DB, q string, params map[string]any) ([]T, error) {
	results, err := surrealdb.Query[[]T](ctx, db, q, params)
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	first := (*results)[0]
	if first.Status != "" && first.Status != "OK" {
		return nil, fmt.Errorf("query failed with status: %s", first.Status)
	}
	return first.Result, nil
}

// queryOne returns the first row or nil when there is none.
func queryOne[T any](ctx context.Context, db *surrealdb.DB, q string, params map[string]any) (*T, error) {
	rows, err := query[T](ctx, db, q, params)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

// execute runs statements whose results are not needed and surfaces the first
// failing statement.
func execute(ctx context.Context, db *surrealdb.DB, q string, params map[string]any) error {
	results, err := surrealdb.Query[any](ctx, db, q, params)
	if err != nil {
		return fmt.Errorf("query execution failed: %w", err)
	}
	if results != nil {
		for _, r := range *results {
			if r.Status != "" && r.Status != "OK" {
				return fmt.Errorf("query failed with status: %s", r.Status)
			}
		}
	}
	return nil
}

func isDuplicate(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already contains") || strings.Contains(msg, "already exists")
}
