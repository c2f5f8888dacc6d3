package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/environment"
	"github.com/dmitrymomot/notifykit/pkg/logger"
)

func TestError(t *testing.T) {
	err := errors.New("boom")
	attr := logger.Error(err)
	require.Equal(t, "error", attr.Key)
	assert.Equal(t, err, attr.Value.Any())

	assert.True(t, logger.Error(nil).Equal(slog.Attr{}))
}

func TestErrors(t *testing.T) {
	err1 := errors.New("first")
	err2 := errors.New("second")

	attr := logger.Errors(err1, nil, err2)
	require.Equal(t, "errors", attr.Key)
	require.Len(t, attr.Value.Group(), 2)

	assert.True(t, logger.Errors(nil).Equal(slog.Attr{}))
}

func TestDomainAttrs(t *testing.T) {
	assert.Equal(t, "user_id", logger.UserID("u1").Key)
	assert.True(t, logger.UserID("").Equal(slog.Attr{}))
	assert.Equal(t, "notification_id", logger.NotificationID("n1").Key)
	assert.Equal(t, "email", logger.Channel("email").Value.String())
	assert.Equal(t, []string{"in_app", "push"}, logger.Channels([]string{"in_app", "push"}).Value.Any())
	assert.Equal(t, "job", logger.Job("digest").Key)
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(
		logger.WithEnvironment(environment.Production, "notifyd"),
		logger.WithOutput(&buf),
	)

	log.Debug("hidden")
	log.Info("delivered", logger.UserID("u1"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "delivered", rec["msg"])
	assert.Equal(t, "notifyd", rec["service"])
	assert.Equal(t, "production", rec["env"])
	assert.Equal(t, "u1", rec["user_id"])
}

func TestNew_ContextExtractor(t *testing.T) {
	var buf bytes.Buffer
	type key struct{}
	log := logger.New(
		logger.WithFormat(logger.FormatJSON),
		logger.WithOutput(&buf),
		logger.WithContextExtractors(func(ctx context.Context) (slog.Attr, bool) {
			v, ok := ctx.Value(key{}).(string)
			return slog.String("request_id", v), ok
		}),
	)

	ctx := context.WithValue(context.Background(), key{}, "req-1")
	log.InfoContext(ctx, "hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "req-1", rec["request_id"])
}

func TestWithLevelName(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.WithOutput(&buf), logger.WithLevelName("warn"))

	log.Info("skip")
	assert.Empty(t, buf.String())

	log.Warn("keep")
	assert.Contains(t, buf.String(), "keep")
}
