package services

import (
	"math"
	"strconv"
	"strings"
)

type Route int

const (
	RouteExternal Route = iota
	RouteMock
)

func (r Route) String() string {
	if r == RouteMock {
		return "mock"
	}
	return "external"
}

// MockGroupSpan is how many groups after the starting id are also served from the mock pool.
const MockGroupSpan = 5

// GenerationRouter sends groups in [start, start+MockGroupSpan] to the mock pool and everyone else
// to the external image service.
type GenerationRouter struct {
	start int
}

func NewGenerationRouter(start int) GenerationRouter {
	return GenerationRouter{start: start}
}

func (r GenerationRouter) Start() int { return r.start }

// Route never errors: a group that is not a number goes external.
func (r GenerationRouter) Route(group string) Route {
	n, ok := parseGroupNumber(group)
	if !ok {
		return RouteExternal
	}
	if n >= float64(r.start) && n <= float64(r.start+MockGroupSpan) {
		return RouteMock
	}
	return RouteExternal
}

// parseGroupNumber reads a blank group as 0.
func parseGroupNumber(group string) (float64, bool) {
	g := strings.TrimSpace(group)
	if g == "" {
		return 0, true
	}
	n, err := strconv.ParseFloat(g, 64)
	if err != nil || math.IsNaN(n) {
		return 0, false
	}
	return n, true
}
