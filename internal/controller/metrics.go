package controller

import "github.com/prometheus/client_golang/prometheus"

var (
	connectedSwitches = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "controller_connected_switches",
		Help: "The number of switches currently connected",
	})

	brokenLinks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "controller_broken_links",
		Help: "The number of links currently marked down",
	})

	fleetBringup = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "controller_fleet_bringup_seconds",
		Help: "Seconds from the first switch connection until the full fleet's routes were installed",
	})

	flowModsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controller_flow_mods_sent_total",
		Help: "The total number of flow modifications written, by command",
	}, []string{"command"})

	routeBuilds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controller_route_builds_total",
		Help: "The total number of host pair route computations, by outcome",
	}, []string{"outcome"})

	linkEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controller_link_events_total",
		Help: "The total number of link transitions observed, by direction",
	}, []string{"direction"})

	packetIns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controller_packet_ins_total",
		Help: "The total number of packets punted to the controller, by kind",
	}, []string{"kind"})

	arpReplies = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "controller_arp_replies_total",
		Help: "The total number of ARP requests answered on behalf of hosts",
	})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "controller_build_info",
		Help: "Build information of the running controller",
	}, []string{"version", "commit", "date"})
)

func init() {
	prometheus.MustRegister(connectedSwitches)
	prometheus.MustRegister(brokenLinks)
	prometheus.MustRegister(fleetBringup)
	prometheus.MustRegister(flowModsSent)
	prometheus.MustRegister(routeBuilds)
	prometheus.MustRegister(linkEvents)
	prometheus.MustRegister(packetIns)
	prometheus.MustRegister(arpReplies)
	prometheus.MustRegister(buildInfo)
}

// SetBuildInfo publishes the binary's version labels.
func SetBuildInfo(version, commit, date string) {
	buildInfo.WithLabelValues(version, commit, date).Set(1)
}
