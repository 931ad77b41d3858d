package trino

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/sergeytiron/trino-go/query_json"
)

// BasicQueryInfo is one entry of the query list served at /v1/query.
type BasicQueryInfo struct {
	QueryId    string                 `json:"queryId"`
	State      string                 `json:"state"`
	Query      string                 `json:"query"`
	CreateTime time.Time              `json:"createTime"`
	ErrorCode  *query_json.ErrorCode  `json:"errorCode"`
	QueryStats *query_json.QueryStats `json:"queryStats"`
	Session    *query_json.Session    `json:"session"`
}

// ListQueriesOptions includes parameters for the /v1/query endpoint.
type ListQueriesOptions struct {
	State *string `query:"state"`
	User  *string `query:"user"`
	Limit *int    `query:"limit"`
}

// GenerateHttpQueryParameter converts a struct with `query` tags into a URL
// query string. Nil pointer fields are skipped.
func GenerateHttpQueryParameter(v any) string {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return ""
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return ""
	}
	queryBuilder := strings.Builder{}
	vt := rv.Type()
	for i := range vt.NumField() {
		fv, ft := rv.Field(i), vt.Field(i)
		// Dereference pointers; skip nil
		for fv.Kind() == reflect.Pointer || fv.Kind() == reflect.Interface {
			if fv.IsNil() {
				break
			}
			fv = fv.Elem()
		}
		if !fv.IsValid() || !fv.CanInterface() {
			continue
		}
		if rv.Field(i).Kind() == reflect.Pointer && rv.Field(i).IsNil() {
			continue
		}
		if tag := ft.Tag.Get("query"); tag != "" {
			if queryBuilder.Len() > 0 {
				queryBuilder.WriteString("&")
			}
			queryBuilder.WriteString(fmt.Sprintf("%s=%s", url.QueryEscape(tag), url.QueryEscape(fmt.Sprint(fv.Interface()))))
		}
	}
	return queryBuilder.String()
}

// ListQueries retrieves the list of known queries from the /v1/query
// endpoint, optionally filtered by state or user.
func (s *Session) ListQueries(ctx context.Context, listOpt *ListQueriesOptions, opts ...RequestOption) ([]BasicQueryInfo, *http.Response, error) {
	urlStr := "v1/query"
	if listOpt != nil {
		if params := GenerateHttpQueryParameter(listOpt); params != "" {
			urlStr = fmt.Sprintf("v1/query?%s", params)
		}
	}
	req, err := s.NewRequest("GET", urlStr, nil, opts...)
	if err != nil {
		return nil, nil, err
	}

	infoArray := make([]BasicQueryInfo, 0, 16)
	resp, err := s.Do(ctx, req, &infoArray)
	if err != nil {
		return nil, resp, err
	}
	return infoArray, resp, nil
}

// GetQueryInfo retrieves the full execution details for one query from the
// /v1/query/{queryId} endpoint. When normalize is set, the stage tree is
// flattened and derived metrics computed before the info is returned.
func (s *Session) GetQueryInfo(ctx context.Context, queryId string, normalize bool, opts ...RequestOption) (*query_json.QueryInfo, *http.Response, error) {
	req, err := s.NewRequest("GET", "v1/query/"+url.PathEscape(queryId), nil, opts...)
	if err != nil {
		return nil, nil, err
	}

	info := new(query_json.QueryInfo)
	resp, err := s.Do(ctx, req, info)
	if err != nil {
		return nil, resp, err
	}
	if normalize {
		if err := info.Normalize(); err != nil {
			return info, resp, err
		}
	}
	return info, resp, nil
}

// KillQuery requests termination of a query through the management
// endpoint, without needing a live poll URI.
func (s *Session) KillQuery(ctx context.Context, queryId string, opts ...RequestOption) (*http.Response, error) {
	req, err := s.NewRequest("DELETE", "v1/query/"+url.PathEscape(queryId), nil, opts...)
	if err != nil {
		return nil, err
	}
	return s.Do(ctx, req, nil)
}
