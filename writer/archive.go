package writer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	"marketpulse/config"
	"marketpulse/logger"
	"marketpulse/models"
)

const defaultArchiveFlush = 5 * time.Minute

type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, io.EOF }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

// eventRecord is the parquet schema for archived events.
type eventRecord struct {
	Feed      string  `parquet:"name=feed, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol    string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Side      string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price     float64 `parquet:"name=price, type=DOUBLE"`
	Quantity  float64 `parquet:"name=quantity, type=DOUBLE"`
	ValueUSD  float64 `parquet:"name=value_usd, type=DOUBLE"`
	EventTime int64   `parquet:"name=event_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Origin    string  `parquet:"name=origin, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ArchiveWriter buffers committed events per feed and periodically flushes
// them to S3 as snappy-compressed parquet objects. The archive is cold
// storage past the relational retention window; losing a flush is logged but
// never fails an ingest cycle.
type ArchiveWriter struct {
	cfg      config.ArchiveConfig
	s3Client *s3.Client
	log      *logger.Log

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	buffer  map[models.Feed][]models.Event
}

// NewArchiveWriter builds the S3 client from the archive configuration.
func NewArchiveWriter(cfg config.ArchiveConfig) (*ArchiveWriter, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("archive storage is disabled")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("archive bucket not configured")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return &ArchiveWriter{
		cfg:      cfg,
		s3Client: client,
		log:      logger.GetLogger(),
		buffer:   make(map[models.Feed][]models.Event),
	}, nil
}

// Start launches the flush worker.
func (w *ArchiveWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("archive writer already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.buffer = make(map[models.Feed][]models.Event)

	w.wg.Add(1)
	go w.flushWorker()

	w.log.WithComponent("archive_writer").WithFields(logger.Fields{
		"bucket":   w.cfg.Bucket,
		"region":   w.cfg.Region,
		"endpoint": w.cfg.Endpoint,
	}).Info("archive writer started")
	return nil
}

// Stop cancels the worker and flushes whatever is still buffered.
func (w *ArchiveWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	w.wg.Wait()
	w.flushAll("stop")
	w.log.WithComponent("archive_writer").Info("archive writer stopped")
}

// ArchiveLiquidations buffers committed liquidation events for cold storage.
func (w *ArchiveWriter) ArchiveLiquidations(events []models.Event) {
	w.add(models.FeedLiquidations, events)
}

// ArchiveTrades buffers committed trade events for cold storage.
func (w *ArchiveWriter) ArchiveTrades(events []models.Event) {
	w.add(models.FeedTrades, events)
}

func (w *ArchiveWriter) add(feed models.Feed, events []models.Event) {
	if len(events) == 0 {
		return
	}

	w.mu.Lock()
	w.buffer[feed] = append(w.buffer[feed], events...)
	shouldFlush := w.cfg.MaxBuffered > 0 && len(w.buffer[feed]) >= w.cfg.MaxBuffered
	w.mu.Unlock()

	if shouldFlush {
		w.flushFeed(feed)
	}
}

func (w *ArchiveWriter) flushWorker() {
	defer w.wg.Done()

	interval := w.cfg.FlushInterval
	if interval <= 0 {
		interval = defaultArchiveFlush
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flushAll("interval")
		}
	}
}

func (w *ArchiveWriter) flushAll(reason string) {
	w.mu.Lock()
	feeds := make([]models.Feed, 0, len(w.buffer))
	for feed, events := range w.buffer {
		if len(events) > 0 {
			feeds = append(feeds, feed)
		}
	}
	w.mu.Unlock()

	if len(feeds) == 0 {
		return
	}

	w.log.WithComponent("archive_writer").WithFields(logger.Fields{
		"feeds":  len(feeds),
		"reason": reason,
	}).Debug("flushing archive buffers")

	for _, feed := range feeds {
		w.flushFeed(feed)
	}
}

func (w *ArchiveWriter) flushFeed(feed models.Feed) {
	w.mu.Lock()
	events := w.buffer[feed]
	if len(events) == 0 {
		w.mu.Unlock()
		return
	}
	delete(w.buffer, feed)
	w.mu.Unlock()

	data, err := buildParquet(feed, events)
	if err != nil {
		w.log.WithComponent("archive_writer").WithError(err).Error("parquet encoding failed, dropping batch")
		return
	}

	key := w.objectKey(feed, time.Now().UTC())
	if err := w.upload(key, data); err != nil {
		w.log.WithComponent("archive_writer").WithError(err).WithFields(logger.Fields{
			"s3_key": key,
		}).Error("archive upload failed, dropping batch")
		return
	}

	logger.IncrementArchiveWrite(int64(len(data)))
	w.log.WithComponent("archive_writer").WithFields(logger.Fields{
		"s3_key":  key,
		"records": len(events),
		"bytes":   len(data),
	}).Info("archive batch uploaded")
}

func buildParquet(feed models.Feed, events []models.Event) ([]byte, error) {
	mf := newMemFile()
	pw, err := pqwriter.NewParquetWriter(mf, new(eventRecord), 1)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, ev := range events {
		rec := eventRecord{
			Feed:      string(feed),
			Symbol:    strings.ToUpper(ev.Symbol),
			Side:      string(ev.Side),
			Price:     ev.Price,
			Quantity:  ev.Quantity,
			ValueUSD:  ev.ValueUSD,
			EventTime: ev.Timestamp.UTC().UnixMilli(),
			Origin:    string(ev.Origin),
		}
		if err := pw.Write(rec); err != nil {
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	return mf.Bytes(), nil
}

func (w *ArchiveWriter) objectKey(feed models.Feed, now time.Time) string {
	prefix := strings.Trim(w.cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return fmt.Sprintf("%s%s/%s/%s_%s.parquet",
		prefix, feed, now.Format("2006/01/02"),
		now.Format("150405"), uuid.NewString()[:8])
}

func (w *ArchiveWriter) upload(key string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := w.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.cfg.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}
