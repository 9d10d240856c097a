package correlation

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewID_Length(t *testing.T) {
	assert.Len(t, NewID(), 8)
}

func TestNewID_Unique(t *testing.T) {
	ids := make(map[string]struct{}, 100)
	for range 100 {
		ids[NewID()] = struct{}{}
	}
	assert.Len(t, ids, 100)
}

func TestFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{"missing header", "", false},
		{"proxy id", "req-42_abc", true},
		{"uuid", "3f2b8c1e-9d4a-4b7e-a1c2-5e6f7a8b9c0d", true},
		{"injection attempt", "abc\nlevel=ERROR", false},
		{"spaces", "a b", false},
		{"too long", strings.Repeat("a", 65), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/ws", nil)
			if tt.header != "" {
				req.Header.Set(Header, tt.header)
			}

			id := FromRequest(req)
			if tt.keep {
				assert.Equal(t, tt.header, id)
			} else {
				assert.Len(t, id, 8)
			}
		})
	}
}

func TestWithID_and_ID_Roundtrip(t *testing.T) {
	ctx := WithID(context.Background(), "abc12345")
	id, ok := ID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "abc12345", id)
}

func TestID_MissingOrEmpty(t *testing.T) {
	id, ok := ID(context.Background())
	assert.False(t, ok)
	assert.Empty(t, id)

	id, ok = ID(WithID(context.Background(), ""))
	assert.False(t, ok)
	assert.Empty(t, id)
}

func TestHandler_AddsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	ctx := WithID(context.Background(), "test1234")
	logger.InfoContext(ctx, "client connected", "conn_id", "c1")

	output := buf.String()
	assert.Contains(t, output, "correlation_id=test1234")
	assert.Contains(t, output, "conn_id=c1")
	assert.Contains(t, output, "client connected")
}

func TestHandler_NoCorrelationID_WhenMissing(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(slog.NewTextHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "no correlation")

	assert.NotContains(t, buf.String(), "correlation_id")
}

func TestHandler_WithAttrsAndGroup_PreserveCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(slog.NewTextHandler(&buf, nil))).With("component", "relay").WithGroup("conn")

	ctx := WithID(context.Background(), "attr1234")
	logger.InfoContext(ctx, "with attrs", "id", "c1")

	output := buf.String()
	assert.Contains(t, output, "correlation_id=attr1234")
	assert.Contains(t, output, "component=relay")
	assert.Contains(t, output, "conn.id=c1")
}
