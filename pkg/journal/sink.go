package journal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// encodeBatch renders batch as JSON lines.
func encodeBatch(batch []Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range batch {
		if err := enc.Encode(&batch[i]); err != nil {
			return nil, fmt.Errorf("encode record %d: %w", batch[i].Seq, err)
		}
	}
	return buf.Bytes(), nil
}

// WriterSink writes batches as JSON lines to an io.Writer.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer

	// closer is the file opened by OpenFileSink; nil when the caller owns w.
	closer io.Closer
}

// NewWriterSink creates a sink writing to w. Close does not close w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// OpenFileSink opens path for appending, creating it if needed, and returns
// a sink that owns the file. Close closes it.
func OpenFileSink(path string) (*WriterSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &WriterSink{w: f, closer: f}, nil
}

// Close closes the file opened by OpenFileSink. It is a no-op for sinks
// created with NewWriterSink and on later calls.
func (s *WriterSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}

// Write implements Sink.
func (s *WriterSink) Write(_ context.Context, batch []Record) error {
	data, err := encodeBatch(batch)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(data)
	return err
}

// PutObjectAPI is the subset of the S3 client used by S3Sink.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink stores each batch as one JSON-lines object in S3.
//
// Example usage:
//
//	client := s3.NewFromConfig(cfg)
//	sink := journal.NewS3Sink(client, "my-bucket", "herald/journal/")
//
// Object keys are <prefix><first time>-<first seq>-<last seq>.jsonl, so a
// lexical listing returns batches in order.
type S3Sink struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// NewS3Sink creates an S3 sink.
func NewS3Sink(client PutObjectAPI, bucket, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}
}

// Key returns the object key used for batch.
func (s *S3Sink) Key(batch []Record) string {
	first, last := batch[0], batch[len(batch)-1]
	return fmt.Sprintf("%s%s-%020d-%020d.jsonl",
		s.prefix,
		first.Time.UTC().Format("20060102T150405Z"),
		first.Seq,
		last.Seq,
	)
}

// Write implements Sink.
func (s *S3Sink) Write(ctx context.Context, batch []Record) error {
	if len(batch) == 0 {
		return nil
	}
	data, err := encodeBatch(batch)
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.Key(batch)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
		Metadata: map[string]string{
			"records":   strconv.Itoa(len(batch)),
			"first-seq": strconv.FormatUint(batch[0].Seq, 10),
			"last-seq":  strconv.FormatUint(batch[len(batch)-1].Seq, 10),
		},
	})
	if err != nil {
		return fmt.Errorf("s3 upload failed: %w", err)
	}
	return nil
}
