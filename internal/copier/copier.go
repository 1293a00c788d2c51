package copier

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/SkynetNext/stagepool/internal/logger"
	"github.com/SkynetNext/stagepool/internal/metrics"
	"github.com/SkynetNext/stagepool/internal/pool"
	"github.com/SkynetNext/stagepool/internal/sink"
	"github.com/SkynetNext/stagepool/internal/tracing"
)

// Copier produces independent copies of values by encoding them into a pooled buffer
// and decoding the staged bytes into a fresh value
type Copier struct {
	pool  *pool.Pool
	codec Codec
}

// New creates a copier staging through p. A nil codec selects Gob.
func New(p *pool.Pool, codec Codec) *Copier {
	if codec == nil {
		codec = Gob{}
	}
	return &Copier{
		pool:  p,
		codec: codec,
	}
}

// Codec returns the codec used by the copier
func (c *Copier) Codec() Codec {
	return c.codec
}

// CopyInto encodes src and decodes the result into dst, which must be a pointer.
// Blocks while every buffer of the pool is in use.
func (c *Copier) CopyInto(ctx context.Context, dst, src any) (err error) {
	ctx, span := tracing.StartSpan(ctx, "copier.Copy",
		attribute.String("codec", c.codec.Name()),
		attribute.String("pool", c.pool.Name()),
	)
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.DebugWithTrace(ctx, "copy failed",
				zap.String("codec", c.codec.Name()),
				zap.Error(err),
			)
		}
		metrics.CopiesTotal.WithLabelValues(c.codec.Name(), result).Inc()
		metrics.CopyLatency.WithLabelValues(c.codec.Name()).Observe(time.Since(start).Seconds())
		span.End()
	}()

	s, err := sink.New(ctx, c.pool)
	if err != nil {
		return err
	}
	// The buffer goes back only after decoding has finished reading from it
	defer s.Close()

	if err := c.codec.Encode(s, src); err != nil {
		return fmt.Errorf("failed to encode %T: %w", src, err)
	}

	view, err := s.ReadView()
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("staged_bytes", view.Len()))

	if err := c.codec.Decode(view, dst); err != nil {
		return fmt.Errorf("failed to decode into %T: %w", dst, err)
	}
	return nil
}

// Copy returns an independent copy of src
func Copy[T any](ctx context.Context, c *Copier, src T) (T, error) {
	var dst T
	if err := c.CopyInto(ctx, &dst, src); err != nil {
		var zero T
		return zero, err
	}
	return dst, nil
}
