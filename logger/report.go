package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsLiquidation int64
	errorsTrade       int64
	warnsLiquidation  int64
	warnsTrade        int64
	liquidationReads  int64
	tradeReads        int64
	storeWrites       int64
	archiveWrites     int64
	channels          sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "liquidation") {
		atomic.AddInt64(&warnsLiquidation, 1)
	} else if strings.Contains(component, "trade") {
		atomic.AddInt64(&warnsTrade, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "liquidation") {
		atomic.AddInt64(&errorsLiquidation, 1)
	} else if strings.Contains(component, "trade") {
		atomic.AddInt64(&errorsTrade, 1)
	}
}

// IncrementLiquidationRead records one received liquidation stream message.
func IncrementLiquidationRead(size int) {
	atomic.AddInt64(&liquidationReads, 1)
	recordChannel("liquidation_ws", size)
}

// IncrementTradeRead records one received trade stream message.
func IncrementTradeRead(size int) {
	atomic.AddInt64(&tradeReads, 1)
	recordChannel("trade_ws", size)
}

// IncrementStoreWrite records one persisted batch of the given row count.
func IncrementStoreWrite(rows int) {
	atomic.AddInt64(&storeWrites, 1)
	recordChannel("store_write", rows)
}

// IncrementArchiveWrite records one uploaded archive object of the given size.
func IncrementArchiveWrite(size int64) {
	atomic.AddInt64(&archiveWrites, 1)
	recordChannel("archive_write", int(size))
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and channel statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_liquidation": atomic.LoadInt64(&errorsLiquidation),
		"errors_trade":       atomic.LoadInt64(&errorsTrade),
		"warns_liquidation":  atomic.LoadInt64(&warnsLiquidation),
		"warns_trade":        atomic.LoadInt64(&warnsTrade),
		"liquidation_reads":  atomic.LoadInt64(&liquidationReads),
		"trade_reads":        atomic.LoadInt64(&tradeReads),
		"store_writes":       atomic.LoadInt64(&storeWrites),
		"archive_writes":     atomic.LoadInt64(&archiveWrites),
		"goroutines":         runtime.NumGoroutine(),
		"cpu_percent":        cpuPct,
		"memory_mb":          int64(memStats.Used) / 1024 / 1024,
		"disk_mb":            int64(diskStats.Used) / 1024 / 1024,
		"channels":           channelData,
		"net_bytes_sent":     int64(bytesSent),
		"net_bytes_recv":     int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("MP-CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MP-MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("MP-DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("MP-ErrorsLiquidation"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsLiquidation)))},
		cwtypes.MetricDatum{MetricName: aws.String("MP-ErrorsTrade"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsTrade)))},
		cwtypes.MetricDatum{MetricName: aws.String("MP-WarnsLiquidation"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&warnsLiquidation)))},
		cwtypes.MetricDatum{MetricName: aws.String("MP-WarnsTrade"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&warnsTrade)))},
		cwtypes.MetricDatum{MetricName: aws.String("MP-LiquidationReads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&liquidationReads)))},
		cwtypes.MetricDatum{MetricName: aws.String("MP-TradeReads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&tradeReads)))},
		cwtypes.MetricDatum{MetricName: aws.String("MP-StoreWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&storeWrites)))},
		cwtypes.MetricDatum{MetricName: aws.String("MP-ArchiveWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&archiveWrites)))},
		cwtypes.MetricDatum{MetricName: aws.String("MP-NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("MP-NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("MP-ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("MP-ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
