package postgres

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"repohub/config"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newBufferedGormLogger(debug bool) (logger.Interface, *bytes.Buffer) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	cfg := &config.Config{}
	cfg.Env.Debug = debug

	return newGormSlogLogger(base, cfg), &buf
}

func TestGormSlogLogger_Trace(t *testing.T) {
	sqlFn := func() (string, int64) { return `SELECT * FROM "users" WHERE email = $1`, 1 }

	t.Run("error is logged", func(t *testing.T) {
		l, buf := newBufferedGormLogger(false)
		l.Trace(context.Background(), time.Now(), sqlFn, errors.New("boom"))
		assert.Contains(t, buf.String(), "GORM query failed")
		assert.Contains(t, buf.String(), "boom")
	})

	t.Run("record not found is ignored", func(t *testing.T) {
		l, buf := newBufferedGormLogger(false)
		l.Trace(context.Background(), time.Now(), sqlFn, gorm.ErrRecordNotFound)
		assert.Empty(t, buf.String())
	})

	t.Run("slow query warns", func(t *testing.T) {
		l, buf := newBufferedGormLogger(false)
		l.Trace(context.Background(), time.Now().Add(-time.Second), sqlFn, nil)
		assert.Contains(t, buf.String(), "GORM slow query")
	})

	t.Run("queries only logged in debug", func(t *testing.T) {
		l, buf := newBufferedGormLogger(false)
		l.Trace(context.Background(), time.Now(), sqlFn, nil)
		assert.Empty(t, buf.String())

		l, buf = newBufferedGormLogger(true)
		l.Trace(context.Background(), time.Now(), sqlFn, nil)
		assert.Contains(t, buf.String(), "GORM query")
	})
}

func TestGormSlogLogger_ParamsFilterDropsValues(t *testing.T) {
	l, _ := newBufferedGormLogger(true)

	filter, ok := l.(gorm.ParamsFilter)
	if !assert.True(t, ok) {
		return
	}

	sql, params := filter.ParamsFilter(context.Background(), "INSERT INTO users VALUES ($1)", "secret-hash")
	assert.Equal(t, "INSERT INTO users VALUES ($1)", sql)
	assert.Empty(t, params)
}
