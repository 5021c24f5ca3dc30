package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ronittamrakar/jobqueue/types"
)

type DataMap struct {
	Data map[string]interface{}
}

func NewPaginatedDataMap[T any](data types.PaginationResult[T]) DataMap {
	return DataMap{
		Data: map[string]interface{}{
			"Page":            data.Page,
			"PageSize":        data.PageSize,
			"TotalPages":      data.TotalPages,
			"Items":           data.Items,
			"HasPreviousPage": data.HasPreviousPage,
			"HasNextPage":     data.HasNextPage,
			"TotalItems":      data.TotalItems,
		},
	}
}

func (d DataMap) Add(key string, value interface{}) DataMap {
	d.Data[key] = value
	return d
}

func getPageNumber(r *http.Request) int {
	return getIntParam(r, "page", 1)
}

func getIntParam(r *http.Request, name string, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

// getDurationParam returns zero when the parameter is absent, which the
// engine reads as "use the configured default".
func getDurationParam(r *http.Request, name string) (time.Duration, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return d, nil
}

func tenantParam(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("tenant"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
