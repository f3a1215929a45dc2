package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"time"
)

// StatsProvider is the counter surface handed to the chat server. The
// chat server registers its metrics up front and only ever moves them by
// one, so the contract stays deliberately small.
type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

type statDelta struct {
	name  string
	delta int64
}

// StatsUpdater publishes counters over expvar. Deltas are applied on a
// single goroutine fed by a buffered channel, so hot paths never contend
// on the counters themselves.
type StatsUpdater struct {
	vars    *expvar.Map
	updates chan statDelta
}

func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		vars:    expvar.NewMap("chatline-stats"),
		updates: make(chan statDelta, 512),
	}
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.serveVars))

	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))

	return su
}

// serveVars renders only this service's expvar map, not the process-wide
// expvar page.
func (su *StatsUpdater) serveVars(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	data := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		data[kv.Key] = value
	})

	json.NewEncoder(w).Encode(data)
}

// RegisterMetric must be called before the first Incr/Decr for the name;
// applying a delta to an unknown metric panics.
func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, expvar.NewInt(name))
}

func (su *StatsUpdater) Incr(name string) {
	su.updates <- statDelta{name: name, delta: 1}
}

func (su *StatsUpdater) Decr(name string) {
	su.updates <- statDelta{name: name, delta: -1}
}

func (su *StatsUpdater) Run() {
	go func() {
		for d := range su.updates {
			metric := su.vars.Get(d.name)
			if metric == nil {
				panic("metric not found: " + d.name)
			}

			metric.(*expvar.Int).Add(d.delta)
		}
	}()
}

func (su *StatsUpdater) Stop() {
	close(su.updates)
}
