package correlation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pierrec/lz4/v4"

	apperrors "fxbuckets/internal/errors"
)

// StorageOptions configures access to S3-compatible object storage for s3:// sources
type StorageOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// LoadStats describes one table load
type LoadStats struct {
	Source      string `json:"source"`
	Format      Format `json:"format"`
	ValueColumn string `json:"value_column"`
	Rows        int    `json:"rows"`
	Skipped     int    `json:"skipped"`
	Items       int    `json:"items"`
	Pairs       int    `json:"pairs"`
}

// Loader reads correlation tables from local files or object storage
type Loader struct {
	opts    TableOptions
	storage StorageOptions
	logger  *slog.Logger

	clientOnce sync.Once
	client     *minio.Client
	clientErr  error
}

// NewLoader creates a loader; a nil logger uses slog.Default()
func NewLoader(opts TableOptions, storage StorageOptions, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		opts:    opts,
		storage: storage,
		logger:  logger.With(slog.String("component", "correlation.loader")),
	}
}

// Load opens source, decodes it according to its extension and builds an index.
// Supported sources are local paths and s3://bucket/key URLs; .gz, .zst and
// .lz4 suffixes are decompressed transparently.
func (l *Loader) Load(ctx context.Context, source string) (*Index, LoadStats, error) {
	rc, err := l.open(ctx, source)
	if err != nil {
		return nil, LoadStats{Source: source}, err
	}
	defer rc.Close()

	name, r, closer, err := decompress(source, rc)
	if err != nil {
		return nil, LoadStats{Source: source}, err
	}
	if closer != nil {
		defer closer.Close()
	}

	idx, stats, err := l.LoadReader(ctx, r, DetectFormat(name))
	stats.Source = source
	return idx, stats, err
}

// LoadReader decodes a table of the given format from r and builds an index
func (l *Loader) LoadReader(ctx context.Context, r io.Reader, format Format) (*Index, LoadStats, error) {
	stats := LoadStats{Format: format}

	var (
		table *Table
		err   error
	)
	switch format {
	case FormatXLSX:
		table, err = ReadXLSX(r, l.opts)
	default:
		stats.Format = FormatCSV
		table, err = ReadCSV(r, l.opts)
	}
	if err != nil {
		return nil, stats, err
	}

	idx := NewIndex()
	skipped := idx.Ingest(table.Rows, func(i int, row Row, err error) {
		l.logger.DebugContext(ctx, "skipping correlation row",
			slog.Int("row", i),
			slog.String("a", row.A),
			slog.String("b", row.B),
			slog.String("value", row.Value),
			slog.String("error", err.Error()),
		)
	})
	items := idx.Items()

	stats.ValueColumn = table.ValueName
	stats.Rows = len(table.Rows) + table.Short
	stats.Skipped = skipped + table.Short
	stats.Items = len(items)
	stats.Pairs = idx.Len()

	if stats.Skipped > 0 {
		l.logger.WarnContext(ctx, "skipped malformed correlation rows",
			slog.Int("skipped", stats.Skipped),
			slog.Int("short_rows", table.Short),
			slog.Int("rows", stats.Rows),
		)
	}
	if idx.Len() == 0 {
		return nil, stats, apperrors.NewDataError("correlation table contains no usable rows", nil)
	}

	l.logger.InfoContext(ctx, "correlation table loaded",
		slog.String("format", string(stats.Format)),
		slog.String("value_column", stats.ValueColumn),
		slog.Int("items", stats.Items),
		slog.Int("pairs", stats.Pairs),
	)

	return idx, stats, nil
}

func (l *Loader) open(ctx context.Context, source string) (io.ReadCloser, error) {
	if !strings.HasPrefix(source, "s3://") {
		f, err := os.Open(source)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, apperrors.NewNotFoundError(fmt.Sprintf("correlation table %s", source))
			}
			return nil, apperrors.NewStorageError(fmt.Sprintf("failed to open %s", source), err)
		}
		return f, nil
	}

	bucket, key, err := ParseS3URL(source)
	if err != nil {
		return nil, err
	}

	client, err := l.minioClient()
	if err != nil {
		return nil, err
	}

	if _, err := client.StatObject(ctx, bucket, key, minio.StatObjectOptions{}); err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" || errResp.Code == "NoSuchBucket" {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("correlation table %s", source))
		}
		return nil, apperrors.NewStorageError(fmt.Sprintf("failed to stat %s", source), err)
	}

	obj, err := client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, apperrors.NewStorageError(fmt.Sprintf("failed to get %s", source), err)
	}

	l.logger.DebugContext(ctx, "reading correlation table from object storage",
		slog.String("bucket", bucket),
		slog.String("key", key),
	)
	return obj, nil
}

func (l *Loader) minioClient() (*minio.Client, error) {
	l.clientOnce.Do(func() {
		if l.storage.Endpoint == "" {
			l.clientErr = apperrors.NewConfigError("storage endpoint is required for s3:// sources", nil)
			return
		}
		client, err := minio.New(l.storage.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(l.storage.AccessKey, l.storage.SecretKey, ""),
			Secure: l.storage.UseSSL,
			Region: l.storage.Region,
		})
		if err != nil {
			l.clientErr = apperrors.NewConfigError("failed to create object storage client", err)
			return
		}
		l.client = client
	})
	return l.client, l.clientErr
}

// ParseS3URL splits s3://bucket/key into its parts
func ParseS3URL(source string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(source, "s3://")
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", apperrors.NewConfigError(fmt.Sprintf("invalid object storage URL %q, want s3://bucket/key", source), nil)
	}
	return bucket, key, nil
}

// DetectFormat picks the table format from a (decompressed) file name
func DetectFormat(name string) Format {
	if strings.EqualFold(filepath.Ext(name), ".xlsx") {
		return FormatXLSX
	}
	return FormatCSV
}

// decompress wraps r according to the compression suffix of name and returns
// the name without that suffix. The closer, if any, releases the decoder.
func decompress(name string, r io.Reader) (string, io.Reader, io.Closer, error) {
	ext := strings.ToLower(filepath.Ext(name))
	base := strings.TrimSuffix(name, filepath.Ext(name))

	switch ext {
	case ".gz":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return "", nil, nil, apperrors.NewDataError("invalid gzip stream", err)
		}
		return base, zr, zr, nil
	case ".zst":
		dec, err := zstd.NewReader(r)
		if err != nil {
			return "", nil, nil, apperrors.NewDataError("invalid zstd stream", err)
		}
		rc := dec.IOReadCloser()
		return base, rc, rc, nil
	case ".lz4":
		return base, lz4.NewReader(r), nil, nil
	default:
		return name, r, nil, nil
	}
}
