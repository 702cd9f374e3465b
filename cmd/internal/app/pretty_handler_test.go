package app

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func prettyLine(t *testing.T, level string, color bool, emit func(*slog.Logger)) string {
	t.Helper()

	var buf bytes.Buffer
	emit(newLogger(&buf, level, "pretty", color))
	return buf.String()
}

func TestPrettyHandler_ChatSendSummary(t *testing.T) {
	t.Parallel()

	line := prettyLine(t, "debug", false, func(log *slog.Logger) {
		log.Debug("chat.send.ok", "message_id", int64(42), "sender_id", int64(7), "receiver_id", int64(9))
	})

	require.True(t, strings.HasSuffix(line, "\n"))
	require.Contains(t, line, "DEBUG chat.send.ok")
	require.Contains(t, line, "[#42 7→9]")
	require.NotContains(t, line, "sender_id=")
	require.NotContains(t, line, "\x1b[")
}

func TestPrettyHandler_RealtimeEvents(t *testing.T) {
	t.Parallel()

	line := prettyLine(t, "info", false, func(log *slog.Logger) {
		log.With("topic", "/topic/messages").Warn("topic.publish.drop", "session_id", "1b4e28ba-2fa1-11d2-883f-0016d3cca427")
	})
	require.Contains(t, line, "WARN  topic.publish.drop")
	require.Contains(t, line, "[sess 1b4e28ba]")
	require.Contains(t, line, "topic=/topic/messages")

	line = prettyLine(t, "info", false, func(log *slog.Logger) {
		log.Warn("chat.send.persist_fail",
			"session_id", "abc", "sender_id", int64(1), "receiver_id", int64(2), "err", errors.New("db down"))
	})
	require.Contains(t, line, "[1→2 sess abc]")
	require.Contains(t, line, `err="db down"`)

	line = prettyLine(t, "info", false, func(log *slog.Logger) {
		log.Info("friends.add.ok", "user_id", int64(3), "friend_id", int64(4))
	})
	require.Contains(t, line, "[user 3 ↔ 4]")
}

func TestPrettyHandler_HTTPRequest(t *testing.T) {
	t.Parallel()

	line := prettyLine(t, "info", false, func(log *slog.Logger) {
		log.Warn("http.request",
			"method", "get",
			"path", "/api/messages/9",
			"route", "/api/messages/{friendID}",
			"status", 404,
			"status_class", "4xx",
			"result", "client_error",
			"duration_ms", int64(12),
			"request_id", "r-1",
		)
	})

	require.Contains(t, line, "[GET /api/messages/{friendID} 404 12ms]")
	require.Contains(t, line, "request_id=r-1")
	require.NotContains(t, line, "status_class")
}

func TestPrettyHandler_LevelFilterAndGroups(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := newLogger(&buf, "warn", "pretty", false)

	log.Info("dropped")
	require.Zero(t, buf.Len())

	log.WithGroup("store").Warn("store.open", slog.Group("pg", "schema", "parley"), "note", "two words")
	require.Contains(t, buf.String(), "store.pg.schema=parley")
	require.Contains(t, buf.String(), `store.note="two words"`)
}

func TestPrettyHandler_Color(t *testing.T) {
	t.Parallel()

	line := prettyLine(t, "info", true, func(log *slog.Logger) {
		log.Error("http.request", "method", "POST", "status", 503, "duration_ms", int64(1500))
	})
	require.Contains(t, line, ansiRed+"ERROR"+ansiReset)
	require.Contains(t, line, ansiRed+"503"+ansiReset)
	require.Contains(t, line, ansiRed+"1500ms"+ansiReset)
}
