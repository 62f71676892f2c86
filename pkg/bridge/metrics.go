package bridge

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arzzra/iot_bridge/pkg/signaling"
)

// MetricsConfig — настройки сборщика метрик моста
type MetricsConfig struct {
	// Enabled включает сбор метрик
	Enabled bool

	// Namespace — префикс имен Prometheus метрик
	Namespace string

	// Subsystem — подсистема в именах метрик
	Subsystem string

	// Registerer — внешний приемник регистрации. nil означает
	// собственный изолированный реестр экземпляра.
	Registerer prometheus.Registerer
}

// DefaultMetricsConfig возвращает конфигурацию метрик по умолчанию
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "iotbridge",
		Subsystem: "core",
	}
}

// metricsCollector экспортирует метрики моста. Каждый экземпляр моста
// несет собственный реестр, поэтому несколько мостов в одном процессе
// не конфликтуют регистрацией.
type metricsCollector struct {
	enabled  bool
	registry *prometheus.Registry
	factory  promauto.Factory

	namespace string
	subsystem string

	sessionsCreated   prometheus.Counter
	sessionsDestroyed prometheus.Counter
	messagesTotal     *prometheus.CounterVec
	requestErrors     *prometheus.CounterVec
	eventsPushed      *prometheus.CounterVec
	mediaFrames       *prometheus.CounterVec
	rtcpPackets       prometheus.Counter
	dataFrames        *prometheus.CounterVec
	slowLinks         *prometheus.CounterVec
	recorderFailures  *prometheus.CounterVec
}

// newMetricsCollector создает сборщик и регистрирует метрики
func newMetricsCollector(config MetricsConfig) *metricsCollector {
	if !config.Enabled {
		return &metricsCollector{enabled: false}
	}
	if config.Namespace == "" {
		config.Namespace = "iotbridge"
	}

	mc := &metricsCollector{
		enabled:   true,
		namespace: config.Namespace,
		subsystem: config.Subsystem,
	}

	registerer := config.Registerer
	if registerer == nil {
		mc.registry = prometheus.NewRegistry()
		registerer = mc.registry
	}
	mc.factory = promauto.With(registerer)

	mc.sessionsCreated = mc.factory.NewCounter(prometheus.CounterOpts{
		Namespace: mc.namespace,
		Subsystem: mc.subsystem,
		Name:      "sessions_created_total",
		Help:      "Total number of sessions registered",
	})

	mc.sessionsDestroyed = mc.factory.NewCounter(prometheus.CounterOpts{
		Namespace: mc.namespace,
		Subsystem: mc.subsystem,
		Name:      "sessions_destroyed_total",
		Help:      "Total number of sessions marked for destruction",
	})

	mc.messagesTotal = mc.factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: mc.namespace,
		Subsystem: mc.subsystem,
		Name:      "messages_total",
		Help:      "Total number of signaling messages by outcome",
	}, []string{"outcome"})

	mc.requestErrors = mc.factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: mc.namespace,
		Subsystem: mc.subsystem,
		Name:      "request_errors_total",
		Help:      "Total number of rejected requests by error code",
	}, []string{"code"})

	mc.eventsPushed = mc.factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: mc.namespace,
		Subsystem: mc.subsystem,
		Name:      "events_pushed_total",
		Help:      "Total number of events pushed to the host by status",
	}, []string{"status"})

	mc.mediaFrames = mc.factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: mc.namespace,
		Subsystem: mc.subsystem,
		Name:      "media_frames_total",
		Help:      "Total number of inbound media frames by kind and verdict",
	}, []string{"kind", "verdict"})

	mc.rtcpPackets = mc.factory.NewCounter(prometheus.CounterOpts{
		Namespace: mc.namespace,
		Subsystem: mc.subsystem,
		Name:      "rtcp_packets_total",
		Help:      "Total number of RTCP packets bounced back",
	})

	mc.dataFrames = mc.factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: mc.namespace,
		Subsystem: mc.subsystem,
		Name:      "data_frames_total",
		Help:      "Total number of data frames by direction",
	}, []string{"direction"})

	mc.slowLinks = mc.factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: mc.namespace,
		Subsystem: mc.subsystem,
		Name:      "slow_links_total",
		Help:      "Total number of slow link reports by kind",
	}, []string{"kind", "benign"})

	mc.recorderFailures = mc.factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: mc.namespace,
		Subsystem: mc.subsystem,
		Name:      "recorder_failures_total",
		Help:      "Total number of recorder open failures by kind",
	}, []string{"kind"})

	return mc
}

// trackDepths регистрирует gauge функции глубин: живые сессии, надгробия,
// очередь конвейера. Вызывается один раз после сборки моста.
func (mc *metricsCollector) trackDepths(live, deferred, queue func() float64) {
	if !mc.enabled {
		return
	}

	mc.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: mc.namespace,
		Subsystem: mc.subsystem,
		Name:      "sessions_live",
		Help:      "Number of live sessions",
	}, live)

	mc.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: mc.namespace,
		Subsystem: mc.subsystem,
		Name:      "sessions_deferred",
		Help:      "Number of tombstones awaiting the reaper",
	}, deferred)

	mc.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: mc.namespace,
		Subsystem: mc.subsystem,
		Name:      "queue_depth",
		Help:      "Depth of the signaling pipeline queue",
	}, queue)
}

// Registry возвращает изолированный реестр экземпляра, nil при внешнем
// Registerer или выключенных метриках
func (mc *metricsCollector) Registry() *prometheus.Registry {
	return mc.registry
}

func (mc *metricsCollector) SessionCreated() {
	if !mc.enabled {
		return
	}
	mc.sessionsCreated.Inc()
}

func (mc *metricsCollector) SessionDestroyed() {
	if !mc.enabled {
		return
	}
	mc.sessionsDestroyed.Inc()
}

func (mc *metricsCollector) MessageProcessed(outcome string) {
	if !mc.enabled {
		return
	}
	mc.messagesTotal.WithLabelValues(outcome).Inc()
}

func (mc *metricsCollector) RequestRejected(code signaling.RequestErrorCode) {
	if !mc.enabled {
		return
	}
	mc.requestErrors.WithLabelValues(strconv.Itoa(int(code))).Inc()
}

func (mc *metricsCollector) EventPushed(delivered bool) {
	if !mc.enabled {
		return
	}
	status := "delivered"
	if !delivered {
		status = "failed"
	}
	mc.eventsPushed.WithLabelValues(status).Inc()
}

func (mc *metricsCollector) MediaFrame(video, relayed bool) {
	if !mc.enabled {
		return
	}
	verdict := "relayed"
	if !relayed {
		verdict = "filtered"
	}
	mc.mediaFrames.WithLabelValues(mediaKind(video), verdict).Inc()
}

func (mc *metricsCollector) RTCPBounced() {
	if !mc.enabled {
		return
	}
	mc.rtcpPackets.Inc()
}

func (mc *metricsCollector) DataFrame(direction string) {
	if !mc.enabled {
		return
	}
	mc.dataFrames.WithLabelValues(direction).Inc()
}

func (mc *metricsCollector) SlowLinkReported(video, benign bool) {
	if !mc.enabled {
		return
	}
	mc.slowLinks.WithLabelValues(mediaKind(video), strconv.FormatBool(benign)).Inc()
}

func (mc *metricsCollector) RecorderOpenFailed(kind string) {
	if !mc.enabled {
		return
	}
	mc.recorderFailures.WithLabelValues(kind).Inc()
}

// mediaKind возвращает метку вида медиа потока
func mediaKind(video bool) string {
	if video {
		return "video"
	}
	return "audio"
}
