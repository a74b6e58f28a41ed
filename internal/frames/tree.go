package frames

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/coverage.explorer/internal/timeutil"
)

// ErrTransformUnavailable is returned when two frames cannot be related:
// a frame is unknown, the frames are not connected, or a dynamic link is
// older than the tree's MaxAge.
var ErrTransformUnavailable = errors.New("transform unavailable")

// Provider resolves transforms between named frames.
type Provider interface {
	// LookupTransform returns the transform mapping points in source into
	// target. A zero at means the latest available data.
	LookupTransform(target, source string, at time.Time) (Transform, error)

	// WaitForTransform blocks until the lookup would succeed, the timeout
	// elapses, or ctx is done.
	WaitForTransform(ctx context.Context, target, source string, at time.Time, timeout time.Duration) bool
}

type link struct {
	parent    string
	transform Transform // child -> parent
	stamp     time.Time
	dynamic   bool
}

// Tree is an in-process Provider. Each frame has at most one parent.
// Static links are set once with SetTransform; dynamic links (odometry)
// are refreshed with Update and expire after MaxAge.
type Tree struct {
	// MaxAge bounds how old a dynamic link may be. Zero disables the check.
	MaxAge time.Duration

	clock timeutil.Clock

	mu      sync.RWMutex
	links   map[string]link
	changed chan struct{}
}

// NewTree creates an empty tree. A nil clock uses the real clock.
func NewTree(clock timeutil.Clock) *Tree {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Tree{
		clock:   clock,
		links:   make(map[string]link),
		changed: make(chan struct{}),
	}
}

// SetTransform records a static link placing child in parent.
func (t *Tree) SetTransform(parent, child string, tf Transform) error {
	return t.set(parent, child, link{parent: parent, transform: tf})
}

// Update records a dynamic link stamped with the current clock time.
func (t *Tree) Update(parent, child string, tf Transform) error {
	return t.set(parent, child, link{parent: parent, transform: tf, stamp: t.clock.Now(), dynamic: true})
}

func (t *Tree) set(parent, child string, l link) error {
	if parent == "" || child == "" {
		return fmt.Errorf("frame names must not be empty")
	}
	if parent == child {
		return fmt.Errorf("frame %q cannot be its own parent", child)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// Reject links that would make child its own ancestor.
	for f := parent; ; {
		if f == child {
			return fmt.Errorf("linking %q under %q would create a cycle", child, parent)
		}
		next, ok := t.links[f]
		if !ok {
			break
		}
		f = next.parent
	}
	t.links[child] = l
	close(t.changed)
	t.changed = make(chan struct{})
	return nil
}

// Frames lists every frame the tree knows about, sorted.
func (t *Tree) Frames() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := make(map[string]struct{}, 2*len(t.links))
	for child, l := range t.links {
		seen[child] = struct{}{}
		seen[l.parent] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// chain returns the transform from frame into the root of its tree.
func (t *Tree) chain(frame string, now time.Time) (root string, tf Transform, err error) {
	tf = Identity()
	known := false
	for f := frame; ; {
		l, ok := t.links[f]
		if !ok {
			if !known && !t.isParent(f) {
				return "", Transform{}, fmt.Errorf("%w: unknown frame %q", ErrTransformUnavailable, frame)
			}
			return f, tf, nil
		}
		known = true
		if l.dynamic && t.MaxAge > 0 && now.Sub(l.stamp) > t.MaxAge {
			return "", Transform{}, fmt.Errorf("%w: %s -> %s is %s old", ErrTransformUnavailable, f, l.parent, now.Sub(l.stamp))
		}
		tf = l.transform.Compose(tf)
		f = l.parent
	}
}

func (t *Tree) isParent(frame string) bool {
	for _, l := range t.links {
		if l.parent == frame {
			return true
		}
	}
	return false
}

// LookupTransform implements Provider. at is accepted for interface
// compatibility; the tree only keeps the latest value of each link.
func (t *Tree) LookupTransform(target, source string, at time.Time) (Transform, error) {
	if target == source {
		return Identity(), nil
	}
	now := t.clock.Now()

	t.mu.RLock()
	defer t.mu.RUnlock()

	srcRoot, srcTF, err := t.chain(source, now)
	if err != nil {
		return Transform{}, err
	}
	dstRoot, dstTF, err := t.chain(target, now)
	if err != nil {
		return Transform{}, err
	}
	if srcRoot != dstRoot {
		return Transform{}, fmt.Errorf("%w: %q and %q are not connected", ErrTransformUnavailable, source, target)
	}
	return dstTF.Inverse().Compose(srcTF), nil
}

// WaitForTransform implements Provider. It wakes on every tree update
// rather than polling.
func (t *Tree) WaitForTransform(ctx context.Context, target, source string, at time.Time, timeout time.Duration) bool {
	timer := t.clock.NewTimer(timeout)
	defer timer.Stop()
	for {
		t.mu.RLock()
		changed := t.changed
		t.mu.RUnlock()

		if _, err := t.LookupTransform(target, source, at); err == nil {
			return true
		}
		select {
		case <-changed:
		case <-timer.C():
			return false
		case <-ctx.Done():
			return false
		}
	}
}
