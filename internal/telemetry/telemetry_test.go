package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Disable: true})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestEnd_RecordsStatus(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tracer := tp.Tracer("test")

	_, ok := tracer.Start(context.Background(), "ok")
	End(ok, nil)
	_, failed := tracer.Start(context.Background(), "failed")
	End(failed, errors.New("boom"))
	End(nil, nil)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "boom", spans[1].Status().Description)
}
