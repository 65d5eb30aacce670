package common

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("read a.pdf: %w", ErrTextExtraction), "text_extraction"},
		{fmt.Errorf("decode: %w", ErrSchemaViolation), "schema_violation"},
		{NewAppError("LLM", "call failed", ErrUpstreamService), "upstream_service"},
		{WrapError(ErrPersistence, "save"), "persistence"},
		{errors.Join(ErrConfig, errors.New("bad")), "config"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err), "%v", tt.err)
	}
}

func TestAppError(t *testing.T) {
	err := NewAppError("CONFIG_ERROR", "load config", ErrConfig)
	assert.Equal(t, "CONFIG_ERROR: load config: configuration error", err.Error())
	assert.True(t, errors.Is(err, ErrConfig))

	bare := NewAppError("NOT_FOUND", "ledger", nil)
	assert.Equal(t, "NOT_FOUND: ledger", bare.Error())
	assert.Nil(t, bare.Unwrap())

	var app *AppError
	require.True(t, errors.As(fmt.Errorf("outer: %w", err), &app))
	assert.Equal(t, "CONFIG_ERROR", app.Code)
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError(nil, "ignored"))
	err := WrapError(ErrNotFound, "load ledger")
	assert.EqualError(t, err, "load ledger: resource not found")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestValidator(t *testing.T) {
	empty := ""
	v := NewValidator().
		Field("vendor", "  ", Required).
		Field("ptr", &empty, Required).
		Field("nil", nil, Required).
		Field("name", "ok", Required, MaxLength(5)).
		Field("long", "ÄÄÄÄÄÄ", MaxLength(5)).
		Field("format", "xml", OneOf("text", "json")).
		Field("format_type", 3, OneOf("text")).
		Field("workers", 0, Positive).
		Field("workers_type", "4", Positive).
		Check(true, "fine", 1, "never").
		Check(false, "timeout", -1, "must not be negative")

	require.True(t, v.HasErrors())
	var fields []string
	for _, e := range v.Errors() {
		fields = append(fields, e.Field)
	}
	assert.Equal(t, []string{"vendor", "ptr", "nil", "long", "format", "format_type", "workers", "workers_type", "timeout"}, fields)
	assert.Contains(t, v.ErrorMessage(), "must be one of text, json")
	assert.Contains(t, v.ErrorMessage(), "must be at most 5 characters")
	assert.EqualError(t, v.Error(), v.ErrorMessage())

	ok := NewValidator().Field("workers", 2, Positive).Field("name", "Acme", Required, MaxLength(10))
	assert.False(t, ok.HasErrors())
	assert.NoError(t, ok.Error())
	assert.Empty(t, ok.ErrorMessage())
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RunIDFromContext(ctx))
	assert.Empty(t, FileFromContext(ctx))

	ctx = WithFile(WithRunID(ctx, "run-1"), "/in/a.pdf")
	assert.Equal(t, "run-1", RunIDFromContext(ctx))
	assert.Equal(t, "/in/a.pdf", FileFromContext(ctx))
}

func TestLoggerFromContext(t *testing.T) {
	var fallbackBuf, scopedBuf bytes.Buffer
	fallback := slog.New(slog.NewTextHandler(&fallbackBuf, nil))
	scoped := slog.New(slog.NewTextHandler(&scopedBuf, nil))

	LoggerFromContext(WithRunID(context.Background(), "run-7"), fallback).Info("pipeline.file.ok")
	assert.Contains(t, fallbackBuf.String(), "run_id=run-7")

	LoggerFromContext(WithLogger(context.Background(), scoped), fallback).Info("scoped")
	assert.Contains(t, scopedBuf.String(), "msg=scoped")
	assert.NotContains(t, fallbackBuf.String(), "scoped")
	assert.NotContains(t, scopedBuf.String(), "run_id")

	assert.NotNil(t, LoggerFromContext(context.Background(), nil))
}
