package dto

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func testContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, w
}

func TestSuccessEnvelope(t *testing.T) {
	c, w := testContext()
	c.Set("trace_id", "t-1")

	Success(c, map[string]string{"id": "j-1"})

	require.Equal(t, http.StatusOK, w.Code)
	var resp Response[map[string]string]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 200, resp.Code)
	require.Equal(t, "j-1", resp.Data["id"])
	require.Equal(t, "t-1", resp.TraceID)
}

func TestSuccessWithPageCarriesMeta(t *testing.T) {
	c, w := testContext()

	SuccessWithPage(c, []string{"a", "b"}, NewPageMeta(2, 10, 25))

	var resp Response[[]string]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Meta)
	require.Equal(t, 2, resp.Meta.Page)
	require.Equal(t, 3, resp.Meta.TotalPages)
}

func TestErrorWithDetailEnvelope(t *testing.T) {
	c, w := testContext()

	ErrorWithDetail(c, http.StatusConflict, "resource conflict", &ErrorDetail{
		ErrorCode: "1005",
		Details:   "idempotency key already exists",
	})

	require.Equal(t, http.StatusConflict, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, http.StatusConflict, resp.Code)
	require.Equal(t, "1005", resp.Error.ErrorCode)
}

func TestNewPageMetaRoundsUp(t *testing.T) {
	require.Equal(t, 1, NewPageMeta(1, 10, 10).TotalPages)
	require.Equal(t, 2, NewPageMeta(1, 10, 11).TotalPages)
	require.Equal(t, 0, NewPageMeta(1, 10, 0).TotalPages)
}
