package controller

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/malbeclabs/dfr/internal/dcell"
)

// DebugHandler serves the metrics endpoint and a read-only view of the
// controller's tables.
func (c *Controller) DebugHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/debug/flows", c.handleDebugFlows)
	r.Get("/debug/links", c.handleDebugLinks)
	r.Get("/debug/topology", c.handleDebugTopology)
	return r
}

type flowView struct {
	DPID int `json:"dpid"`
	Src  int `json:"src"`
	Dst  int `json:"dst"`
	Port int `json:"port"`
}

type linkView struct {
	Low      int `json:"low"`
	LowPort  int `json:"low_port"`
	High     int `json:"high"`
	HighPort int `json:"high_port"`
	Level    int `json:"level"`
}

func viewOf(l dcell.Link) linkView {
	return linkView{
		Low:      l.LowDPID,
		LowPort:  l.LowPort,
		High:     l.HighDPID,
		HighPort: l.HighPort,
		Level:    l.Level,
	}
}

func (c *Controller) handleDebugFlows(w http.ResponseWriter, r *http.Request) {
	dump := c.flows.Dump()
	dpids := make([]int, 0, len(dump))
	for dpid := range dump {
		dpids = append(dpids, dpid)
	}
	sort.Ints(dpids)

	flows := make([]flowView, 0, c.flows.Len())
	for _, dpid := range dpids {
		for _, p := range c.flows.EntriesOn(dpid) {
			flows = append(flows, flowView{DPID: dpid, Src: p.Src, Dst: p.Dst, Port: dump[dpid][p]})
		}
	}
	writeJSON(w, map[string]any{
		"count": len(flows),
		"flows": flows,
	})
}

func (c *Controller) handleDebugLinks(w http.ResponseWriter, r *http.Request) {
	live := c.prober.Live()
	views := make([]linkView, 0, len(live))
	for _, l := range live {
		views = append(views, viewOf(l))
	}
	writeJSON(w, map[string]any{
		"broken": c.links.Bad(),
		"live":   views,
	})
}

func (c *Controller) handleDebugTopology(w http.ResponseWriter, r *http.Request) {
	links := c.topo.SwitchLinks()
	views := make([]linkView, 0, len(links))
	for _, l := range links {
		views = append(views, viewOf(l))
	}
	writeJSON(w, map[string]any{
		"k":             c.topo.K(),
		"n":             c.topo.N(),
		"hosts":         c.topo.NumHosts(),
		"mini_switches": c.topo.NumMiniSwitches(),
		"switches":      c.topo.NumSwitches(),
		"links":         views,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
