package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloseLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	closeLogged(logger, "components", func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return nil
	})
	assert.Empty(t, buf.String())

	closeLogged(logger, "mongo client", func(context.Context) error {
		return errors.New("connection reset")
	})
	assert.Contains(t, buf.String(), `"msg":"failed to close mongo client"`)
	assert.Contains(t, buf.String(), `"error":"connection reset"`)
}
