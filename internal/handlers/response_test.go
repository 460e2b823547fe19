package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	Name   string `validate:"required,min=2"`
	Amount int    `validate:"required,gt=0"`
}

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid struct", func(t *testing.T) {
		assert.NoError(t, vh.ValidateStruct(&sampleRequest{Name: "ok", Amount: 5}))
	})

	t.Run("invalid struct", func(t *testing.T) {
		err := vh.ValidateStruct(&sampleRequest{Name: "x"})
		require.Error(t, err)

		rec := httptest.NewRecorder()
		SendErrorResponse(rec, "Validation failed", http.StatusBadRequest, err)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Validation failed", resp.Error)
		assert.Len(t, resp.Details, 2)
		assert.Contains(t, resp.Details["Name"], "min")
	})
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("plain message", func(t *testing.T) {
		rec := httptest.NewRecorder()
		SendErrorResponse(rec, "Not found", http.StatusNotFound, nil)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"error":"Not found"}`, rec.Body.String())
	})

	t.Run("non-validation error has no details", func(t *testing.T) {
		rec := httptest.NewRecorder()
		SendErrorResponse(rec, "Bad", http.StatusBadRequest, errors.New("boom"))
		assert.JSONEq(t, `{"error":"Bad"}`, rec.Body.String())
	})
}
