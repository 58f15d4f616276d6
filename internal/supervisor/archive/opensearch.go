package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	opensearch "github.com/opensearch-project/opensearch-go/v2"

	"github.com/cuongbtq/job-supervisor/internal/signalling"
)

const indexMapping = `{
  "mappings": {
    "properties": {
      "job_id":       {"type": "keyword"},
      "level":        {"type": "keyword"},
      "routing_key":  {"type": "keyword"},
      "message":      {"type": "text"},
      "content_type": {"type": "keyword"},
      "redelivered":  {"type": "boolean"},
      "timestamp":    {"type": "date"},
      "received_at":  {"type": "date"}
    }
  }
}`

// Document is one consumed log message as stored in the archive index
type Document struct {
	JobID       string     `json:"job_id"`
	Level       string     `json:"level"`
	RoutingKey  string     `json:"routing_key"`
	Message     string     `json:"message"`
	ContentType string     `json:"content_type,omitempty"`
	Redelivered bool       `json:"redelivered"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	ReceivedAt  time.Time  `json:"received_at"`
}

// NewDocument converts a consumed message. The broker timestamp is kept only when the
// publisher set one.
func NewDocument(msg *signalling.Message, receivedAt time.Time) Document {
	doc := Document{
		JobID:       msg.JobID().String(),
		Level:       msg.Level(),
		RoutingKey:  msg.RoutingKey,
		Message:     strings.TrimRight(string(msg.Body), "\n"),
		ContentType: msg.ContentType,
		Redelivered: msg.Redelivered,
		ReceivedAt:  receivedAt,
	}
	if !msg.Timestamp.IsZero() {
		ts := msg.Timestamp
		doc.Timestamp = &ts
	}
	return doc
}

// Config holds the OpenSearch connection settings
type Config struct {
	Addresses []string
	Username  string
	Password  string
	Index     string
}

// OpenSearchArchiver indexes job log messages into OpenSearch
type OpenSearchArchiver struct {
	client *opensearch.Client
	index  string
	logger *slog.Logger
}

// NewOpenSearchArchiver creates an archiver; it does not contact the cluster
func NewOpenSearchArchiver(cfg *Config, logger *slog.Logger) (*OpenSearchArchiver, error) {
	if cfg.Index == "" {
		return nil, fmt.Errorf("archive index is required")
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	return &OpenSearchArchiver{
		client: client,
		index:  cfg.Index,
		logger: logger,
	}, nil
}

// EnsureIndex creates the archive index with its mapping unless it already exists
func (a *OpenSearchArchiver) EnsureIndex(ctx context.Context) error {
	res, err := a.client.Indices.Exists([]string{a.index}, a.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check archive index: %w", err)
	}
	res.Body.Close()

	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = a.client.Indices.Create(a.index,
		a.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
		a.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to create archive index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("opensearch error creating index %s: %s", a.index, res.String())
	}

	a.logger.Info("Archive index created", slog.String("index", a.index))
	return nil
}

// Archive indexes a single document
func (a *OpenSearchArchiver) Archive(ctx context.Context, doc Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal archive document: %w", err)
	}

	res, err := a.client.Index(a.index, bytes.NewReader(body), a.client.Index.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to index log message: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("opensearch error indexing log message: %s", res.String())
	}

	return nil
}
