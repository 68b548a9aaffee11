package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" authorization = Bearer x ,,bad, =empty,team=lending")
	require.Equal(t, map[string]string{"authorization": "Bearer x", "team": "lending"}, headers)
}

func TestInitWithoutExporters(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "lendingd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, err = Init(context.Background(), Config{})
	require.Error(t, err)
	_, err = Init(context.Background(), Config{ServiceName: "lendingd", SampleRatio: 2})
	require.Error(t, err)
}

func TestTracerAndMeterBeforeInit(t *testing.T) {
	_, span := Tracer().Start(context.Background(), "lending.test")
	span.End()
	counter, err := Meter().Int64Counter("lending.test.calls")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)
}
