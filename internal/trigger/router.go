// Package trigger reacts to committed document changes, the way store
// triggers would, and turns them into notifications.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jwalitptl/medaccess-api/internal/model"
	"github.com/jwalitptl/medaccess-api/pkg/logger"
)

// Handler reacts to one change. Handlers report nothing; they log their own
// failures.
type Handler func(ctx context.Context, change model.DocumentChange)

type route struct {
	name     string
	segments []string
	kinds    map[model.ChangeKind]bool
	handler  Handler
}

// Router fans a change out to every enabled route whose pattern matches the
// change path. Pattern segments in braces match any single segment.
type Router struct {
	routes   []route
	disabled map[string]bool
	logger   *logger.Logger
}

func NewRouter(log *logger.Logger, disabled ...string) *Router {
	if log == nil {
		log = logger.Nop()
	}
	r := &Router{disabled: make(map[string]bool), logger: log}
	for _, name := range disabled {
		r.disabled[strings.TrimSpace(name)] = true
	}
	return r
}

// Register adds a route. With no kinds the route sees every change kind.
func (r *Router) Register(name, pattern string, h Handler, kinds ...model.ChangeKind) {
	if r.disabled[name] {
		r.logger.Info("trigger disabled", "trigger", name)
		return
	}
	rt := route{name: name, segments: strings.Split(pattern, "/"), handler: h}
	if len(kinds) > 0 {
		rt.kinds = make(map[model.ChangeKind]bool, len(kinds))
		for _, k := range kinds {
			rt.kinds[k] = true
		}
	}
	r.routes = append(r.routes, rt)
}

// Routes lists the registered route names.
func (r *Router) Routes() []string {
	names := make([]string, 0, len(r.routes))
	for _, rt := range r.routes {
		names = append(names, rt.name)
	}
	return names
}

// Dispatch runs every matching route and returns how many ran.
func (r *Router) Dispatch(ctx context.Context, change model.DocumentChange) int {
	ran := 0
	for _, rt := range r.routes {
		if rt.kinds != nil && !rt.kinds[change.Kind] {
			continue
		}
		if _, ok := match(rt.segments, change.Path); !ok {
			continue
		}
		r.invoke(ctx, rt, change)
		ran++
	}
	return ran
}

func (r *Router) invoke(ctx context.Context, rt route, change model.DocumentChange) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error(fmt.Errorf("panic: %v", rec), "trigger panicked",
				"trigger", rt.name, "path", change.Path)
		}
	}()
	rt.handler(ctx, change)
}

// HandleMessage decodes a published change and dispatches it.
func (r *Router) HandleMessage(ctx context.Context, payload []byte) {
	var change model.DocumentChange
	if err := json.Unmarshal(payload, &change); err != nil {
		r.logger.Error(err, "Failed to decode document change")
		return
	}
	r.Dispatch(ctx, change)
}

// Consume dispatches every message from msgs until ctx is done or msgs closes.
func (r *Router) Consume(ctx context.Context, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgs:
			if !ok {
				return
			}
			r.HandleMessage(ctx, payload)
		}
	}
}

// Match extracts the named segments of pattern from path.
func Match(pattern, path string) (map[string]string, bool) {
	return match(strings.Split(pattern, "/"), path)
}

func match(segments []string, path string) (map[string]string, bool) {
	parts := strings.Split(path, "/")
	if len(parts) != len(segments) {
		return nil, false
	}
	params := make(map[string]string)
	for i, seg := range segments {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			if parts[i] == "" {
				return nil, false
			}
			params[seg[1:len(seg)-1]] = parts[i]
			continue
		}
		if seg != parts[i] {
			return nil, false
		}
	}
	return params, true
}
