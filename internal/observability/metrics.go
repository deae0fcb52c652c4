package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupchat_http_requests_total",
			Help: "Total number of HTTP requests processed by the groupchat service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "groupchat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "groupchat_ws_active_connections",
			Help: "Number of live websocket connections on this instance.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupchat_ws_events_total",
			Help: "Total number of realtime events by name, inbound and lifecycle.",
		},
		[]string{"event"},
	)
	fanoutRecipients = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "groupchat_fanout_recipients",
			Help:    "Local connections reached by a single room delivery.",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		},
	)
	backplaneMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupchat_backplane_messages_total",
			Help: "Cross-instance fan-out frames by direction.",
		},
		[]string{"direction"},
	)
	messagePersistDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "groupchat_message_persist_duration_seconds",
			Help:    "Time spent storing a chat message.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)
	presenceOnlineUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "groupchat_presence_online_users",
			Help: "Number of users with at least one live connection on this instance.",
		},
	)
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupchat_messages_total",
			Help: "Total number of chat messages by send path and outcome.",
		},
		[]string{"path", "outcome"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupchat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors by routing key family.",
		},
		[]string{"family"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveConnections,
		wsEventsTotal,
		fanoutRecipients,
		backplaneMessagesTotal,
		messagePersistDuration,
		presenceOnlineUsers,
		messagesTotal,
		amqpPublishErrorsTotal,
	)
}

// Handler exposes the default registry for scraping.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		statusInfo := status.Convert(err)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, statusInfo.Code().String()).Inc()
		return resp, err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	service, method, ok := strings.Cut(strings.TrimPrefix(fullMethod, "/"), "/")
	if !ok || service == "" || method == "" {
		return "unknown", "unknown"
	}
	return service, method
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

// ObserveFanout records how many local connections a room delivery reached.
func ObserveFanout(recipients int) {
	fanoutRecipients.Observe(float64(recipients))
}

// IncBackplane counts a backplane frame; direction is "published", "received" or "failed".
func IncBackplane(direction string) {
	backplaneMessagesTotal.WithLabelValues(direction).Inc()
}

// ObservePersist records message store latency for path.
func ObservePersist(path string, d time.Duration) {
	messagePersistDuration.WithLabelValues(path).Observe(d.Seconds())
}

func IncPresenceOnline() {
	presenceOnlineUsers.Inc()
}

func DecPresenceOnline() {
	presenceOnlineUsers.Dec()
}

// IncMessage counts a message on path ("ws" or "http") with outcome ("stored" or "failed").
func IncMessage(path, outcome string) {
	messagesTotal.WithLabelValues(path, outcome).Inc()
}

// IncAMQPPublishError counts a failed publish; family is the routing key up to its first dot.
func IncAMQPPublishError(routingKey string) {
	family, _, _ := strings.Cut(routingKey, ".")
	amqpPublishErrorsTotal.WithLabelValues(family).Inc()
}
