package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_http_requests_total",
			Help: "Total number of HTTP requests processed by the sync agent.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcClientHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_grpc_client_handled_total",
			Help: "Total number of gRPC calls made to collaborators.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_ws_active_connections",
			Help: "Number of open websocket connections to the chat server.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_ws_events_total",
			Help: "Total number of websocket lifecycle events.",
		},
		[]string{"event"},
	)
	inboundEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_inbound_events_total",
			Help: "Inbound chat events by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	outboundCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_outbound_commands_total",
			Help: "Outbound chat commands by command and result.",
		},
		[]string{"command", "result"},
	)
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_notifications_total",
			Help: "Notification dispatch attempts by result.",
		},
		[]string{"result"},
	)
	historyLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_history_loads_total",
			Help: "History loads by terminal state.",
		},
		[]string{"result"},
	)
	activeConversations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_active_conversations",
			Help: "Number of open conversation controllers.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcClientHandledTotal,
		wsActiveConnections,
		wsEventsTotal,
		inboundEventsTotal,
		outboundCommandsTotal,
		notificationsTotal,
		historyLoadsTotal,
		activeConversations,
		amqpPublishErrorsTotal,
	)
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

func GRPCClientMetricsUnaryInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		err := invoker(ctx, method, req, reply, cc, opts...)
		service, name := splitFullMethod(method)
		grpcClientHandledTotal.WithLabelValues(service, name, status.Code(err).String()).Inc()
		return err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
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

// IncInbound counts an inbound event. outcome is applied, ignored, unrouted or dropped.
func IncInbound(kind, outcome string) {
	inboundEventsTotal.WithLabelValues(kind, outcome).Inc()
}

func IncOutbound(command string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	outboundCommandsTotal.WithLabelValues(command, result).Inc()
}

func IncNotification(err error) {
	result := "dispatched"
	if err != nil {
		result = "failed"
	}
	notificationsTotal.WithLabelValues(result).Inc()
}

func IncHistoryLoad(result string) {
	historyLoadsTotal.WithLabelValues(result).Inc()
}

func IncActiveConversations() {
	activeConversations.Inc()
}

func DecActiveConversations() {
	activeConversations.Dec()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
