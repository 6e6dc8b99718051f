package common

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPageFromQuery(t *testing.T) {
	cases := map[string]Page{
		"/":                   {Number: 1, Size: 10},
		"/?page=3&limit=25":   {Number: 3, Size: 25},
		"/?page=-1&limit=abc": {Number: 1, Size: 10},
		"/?limit=500":         {Number: 1, Size: 100},
	}
	for target, want := range cases {
		got := PageFromQuery(httptest.NewRequest(http.MethodGet, target, nil), 10)
		require.Equal(t, want, got, target)
	}
}

func TestWritePage(t *testing.T) {
	rec := httptest.NewRecorder()
	WritePage(rec, []string{"a", "b"}, Page{Number: 2, Size: 2}, 5)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "5", rec.Header().Get("X-Total-Count"))
	var body struct {
		Data       []string       `json:"data"`
		Pagination map[string]int `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, []string{"a", "b"}, body.Data)
	require.Equal(t, 3, body.Pagination["totalPages"])
	require.Equal(t, 2, body.Pagination["page"])
}
