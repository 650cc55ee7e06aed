package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func resetLogger() {
	global = nil
	once = sync.Once{}
}

func TestInit(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		format    string
		wantLevel zapcore.Level
		wantErr   bool
	}{
		{"json info", "info", "json", zapcore.InfoLevel, false},
		{"console debug", "debug", "console", zapcore.DebugLevel, false},
		{"json error", "error", "json", zapcore.ErrorLevel, false},
		{"invalid level", "loud", "json", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetLogger()
			err := Init(tt.level, tt.format)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLevel, Level())
		})
	}
}

func TestSetLevel(t *testing.T) {
	resetLogger()
	require.NoError(t, Init("info", "json"))

	require.NoError(t, SetLevel("debug"))
	assert.Equal(t, zapcore.DebugLevel, Level())
	assert.Error(t, SetLevel("bogus"))
	assert.Equal(t, zapcore.DebugLevel, Level())
	require.NoError(t, SetLevel("info"))
}

func TestL_PanicsWithoutInit(t *testing.T) {
	resetLogger()
	assert.Panics(t, func() { L() })
}

func TestLevelHandler(t *testing.T) {
	resetLogger()
	require.NoError(t, Init("info", "json"))
	t.Cleanup(func() { _ = SetLevel("info") })

	rec := httptest.NewRecorder()
	LevelHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"level":"warn"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, zapcore.WarnLevel, Level())

	rec = httptest.NewRecorder()
	LevelHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.JSONEq(t, `{"level":"warn"}`, rec.Body.String())
}

func TestFromContext(t *testing.T) {
	resetLogger()
	require.NoError(t, Init("info", "json"))

	assert.Same(t, L(), FromContext(context.Background()))

	core, logs := observer.New(zapcore.InfoLevel)
	scoped := zap.New(core).With(zap.String("request_id", "r-1"))
	FromContext(WithContext(context.Background(), scoped)).Info("handled")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "r-1", logs.All()[0].ContextMap()["request_id"])
}

func TestForAction(t *testing.T) {
	resetLogger()
	require.NoError(t, Init("info", "json"))

	child := ForAction("a-1", "CLUSTER_CREATE", "c-1")
	require.NotNil(t, child)
	child.Info("action claimed")
	Debug("not shown")
	Warn("shown")
}

func TestSync(t *testing.T) {
	resetLogger()
	assert.NoError(t, Sync())
}
