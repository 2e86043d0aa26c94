package csvreplay

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"TrustGate/internal/domain/models"
	domrepo "TrustGate/internal/domain/repository"
	applogger "TrustGate/pkg/logger"
	"TrustGate/pkg/util"
)

// ErrNoFiles is returned when the data directory holds no *.csv files.
var ErrNoFiles = errors.New("no CSV files found")

// TimestampColumn holds the event time of a row.
const TimestampColumn = "timestamp"

// Source replays every *.csv file of a directory in name order.
type Source struct {
	dir       string
	files     []string
	clock     func() time.Time
	log       *applogger.Logger
	processed atomic.Int64
}

var _ domrepo.EventSource = (*Source)(nil)

type Option func(*Source)

func WithClock(clock func() time.Time) Option {
	return func(s *Source) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func WithLogger(l *applogger.Logger) Option {
	return func(s *Source) {
		if l != nil {
			s.log = l
		}
	}
}

// New lists the CSV files of dir; it fails with ErrNoFiles when there are none.
func New(dir string, opts ...Option) (*Source, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFiles, dir)
	}
	sort.Strings(files)

	s := &Source{dir: dir, files: files, clock: time.Now, log: applogger.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(applogger.String("source", s.Name()))
	return s, nil
}

func (s *Source) Name() string { return "csv" }

// Files returns the files that will be replayed, in order.
func (s *Source) Files() []string { return append([]string(nil), s.files...) }

// FilesProcessed counts files read to the end or aborted by a read error.
func (s *Source) FilesProcessed() int { return int(s.processed.Load()) }

func (s *Source) Stream(ctx context.Context) (<-chan *models.Event, <-chan error) {
	events := make(chan *models.Event, 256)
	errs := make(chan error, 16)

	go func() {
		defer close(events)
		defer close(errs)
		for _, path := range s.files {
			if ctx.Err() != nil {
				return
			}
			stream := InferStream(path)
			s.log.Info("replaying file", applogger.String("file", filepath.Base(path)), applogger.String("stream", stream))
			if err := s.replayFile(ctx, path, stream, events, errs); err != nil {
				if ctx.Err() != nil {
					return
				}
				report(ctx, errs, err)
			}
		}
	}()

	return events, errs
}

func (s *Source) replayFile(ctx context.Context, path, stream string, events chan<- *models.Event, errs chan<- error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	defer s.processed.Add(1)

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read header %s: %w", path, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	for {
		record, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				report(ctx, errs, fmt.Errorf("%s: %w", filepath.Base(path), err))
				continue
			}
			return fmt.Errorf("read %s: %w", path, err)
		}

		ev := s.rowEvent(stream, header, record)
		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Source) rowEvent(stream string, header, record []string) *models.Event {
	now := util.UnixSeconds(s.clock())
	payload := make(map[string]any, len(header))
	for i, key := range header {
		if i < len(record) {
			payload[key] = record[i]
		}
	}
	eventTime := now
	if raw, ok := payload[TimestampColumn].(string); ok {
		if ts, ok := util.ParseEpoch(raw); ok {
			eventTime = ts
		}
	}
	return &models.Event{
		Stream:      stream,
		EventTime:   eventTime,
		ReceiveTime: now,
		Payload:     payload,
	}
}

// InferStream derives the stream from a file name.
func InferStream(path string) string {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.Contains(name, "orderbook"), strings.Contains(name, "depth"), strings.Contains(name, "book"):
		return models.StreamOrderbook
	case strings.Contains(name, "liquid"), strings.Contains(name, "force"):
		return models.StreamLiquidation
	case strings.Contains(name, "ticker"):
		return models.StreamTicker
	default:
		return models.StreamTrade
	}
}

func report(ctx context.Context, errs chan<- error, err error) {
	select {
	case errs <- err:
	case <-ctx.Done():
	}
}
