package frames

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/coverage.explorer/internal/geometry"
	"github.com/banshee-data/coverage.explorer/internal/monitoring"
	"github.com/banshee-data/coverage.explorer/internal/timeutil"
)

// TransformPoint re-expresses pt in the target frame using the latest data.
func TransformPoint(p Provider, target string, pt geometry.PointStamped) (geometry.PointStamped, error) {
	if pt.Frame == target {
		return pt, nil
	}
	tf, err := p.LookupTransform(target, pt.Frame, time.Time{})
	if err != nil {
		return geometry.PointStamped{}, err
	}
	return geometry.PointStamped{Frame: target, Point: tf.Apply(pt.Point)}, nil
}

// Origin returns the position of source's origin expressed in target, which
// for a robot base frame is the robot's position.
func Origin(p Provider, target, source string) (r3.Vec, error) {
	tf, err := p.LookupTransform(target, source, time.Time{})
	if err != nil {
		return r3.Vec{}, err
	}
	return tf.Translation, nil
}

// LookupWithRetry waits up to timeout for the transform to appear. If it
// never does the lookup fails at once with ErrTransformUnavailable.
// Otherwise lookups that still fail are retried every retry interval until
// the same timeout runs out, so the whole call never takes longer than
// timeout.
func LookupWithRetry(ctx context.Context, p Provider, clock timeutil.Clock, target, source string, timeout, retry time.Duration) (Transform, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	deadline := clock.Now().Add(timeout)
	if !p.WaitForTransform(ctx, target, source, time.Time{}, timeout) {
		if err := ctx.Err(); err != nil {
			return Transform{}, fmt.Errorf("lookup %s -> %s: %w", source, target, err)
		}
		tf, err := p.LookupTransform(target, source, time.Time{})
		if err == nil {
			return tf, nil
		}
		monitoring.Logf("[frames] WARNING: no transform %s -> %s after %s", source, target, timeout)
		return Transform{}, fmt.Errorf("lookup %s -> %s: %w after %s: %w", source, target, ErrTransformUnavailable, timeout, err)
	}

	attempts := 0
	for {
		tf, err := p.LookupTransform(target, source, time.Time{})
		attempts++
		if err == nil {
			return tf, nil
		}
		remaining := deadline.Sub(clock.Now())
		if retry <= 0 || remaining <= 0 {
			return Transform{}, fmt.Errorf("lookup %s -> %s gave up after %d attempts: %w", source, target, attempts, err)
		}
		monitoring.Logf("[frames] WARNING: lookup %s -> %s failed, retrying: %v", source, target, err)

		timer := clock.NewTimer(min(retry, remaining))
		select {
		case <-timer.C():
		case <-ctx.Done():
			timer.Stop()
			return Transform{}, fmt.Errorf("lookup %s -> %s: %w", source, target, ctx.Err())
		}
	}
}
