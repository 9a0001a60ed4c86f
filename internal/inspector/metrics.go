package inspector

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "inspector_connected_clients",
		Help: "Number of currently registered client connections",
	})

	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inspector_connections_total",
		Help: "Total client connections accepted since process start",
	})

	FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inspector_frames_total",
		Help: "Frames relayed by direction and kind",
	}, []string{"direction", "kind"})

	ServerUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "inspector_server_up",
		Help: "1 while a listener is bound, 0 otherwise",
	})

	ShutdownDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "inspector_shutdown_seconds",
		Help:    "Time taken by Stop to drain all connections",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(ConnectedClients)
	prometheus.MustRegister(ConnectionsTotal)
	prometheus.MustRegister(FramesTotal)
	prometheus.MustRegister(ServerUp)
	prometheus.MustRegister(ShutdownDuration)
}

func countFrame(d Direction, f Frame) {
	FramesTotal.WithLabelValues(d.String(), f.Kind.String()).Inc()
}
