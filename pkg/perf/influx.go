package perf

import (
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/sirupsen/logrus"
)

// Exporter 将已完成的指标导出到外部系统。
// 导出是尽力而为的旁路：任何失败都不允许影响指标记录本身。
type Exporter interface {
	Export(metric Metric) error
	Close() error
}

// InfluxConfig 指标导出配置
type InfluxConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Token  string `json:"token" mapstructure:"token"`
	Org    string `json:"org" mapstructure:"org"`
	Bucket string `json:"bucket" mapstructure:"bucket"`
}

// InfluxExporter 将指标作为数据点写入 InfluxDB。
// 使用非阻塞 WriteAPI，写入错误通过错误通道异步记录。
type InfluxExporter struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *logrus.Entry
	done     chan struct{}
}

// NewInfluxExporter 创建 InfluxDB 指标导出器。
func NewInfluxExporter(config InfluxConfig, log *logrus.Entry) *InfluxExporter {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	client := influxdb2.NewClient(config.URL, config.Token)
	writeAPI := client.WriteAPI(config.Org, config.Bucket)

	e := &InfluxExporter{
		client:   client,
		writeAPI: writeAPI,
		logger:   log.WithField("component", "influx-exporter"),
		done:     make(chan struct{}),
	}

	go e.drainErrors()
	return e
}

// Export 将一条指标写为 operation_timing 数据点。
func (e *InfluxExporter) Export(metric Metric) error {
	point := influxdb2.NewPointWithMeasurement("operation_timing").
		AddTag("operation", metric.Name).
		AddField("duration_ms", float64(metric.Duration.Microseconds())/1000.0).
		SetTime(metric.Timestamp)

	for k, v := range metric.Metadata {
		point.AddField("meta_"+k, fmt.Sprintf("%v", v))
	}

	e.writeAPI.WritePoint(point)
	return nil
}

// Close 刷出尚未写入的数据点并关闭客户端。
func (e *InfluxExporter) Close() error {
	close(e.done)
	e.writeAPI.Flush()
	e.client.Close()
	return nil
}

// drainErrors 异步消费写入错误，避免错误通道堆积。
func (e *InfluxExporter) drainErrors() {
	errCh := e.writeAPI.Errors()
	for {
		select {
		case err, ok := <-errCh:
			if !ok {
				return
			}
			e.logger.WithError(err).Warn("InfluxDB 写入失败")
		case <-e.done:
			// 给已入队的错误一点排空时间
			select {
			case err := <-errCh:
				if err != nil {
					e.logger.WithError(err).Warn("InfluxDB 写入失败")
				}
			case <-time.After(100 * time.Millisecond):
			}
			return
		}
	}
}
