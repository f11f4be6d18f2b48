package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/betchain/settlementd/internal/domain"
)

// Writer archives settlement snapshots as JSON objects. Snapshots are keyed
// by event ID so a re-run of the same resolution overwrites the previous
// object rather than accumulating duplicates.
type Writer struct {
	client *Client
}

var _ domain.SnapshotWriter = (*Writer)(nil)

// NewWriter creates a snapshot writer over the given client.
func NewWriter(client *Client) *Writer {
	return &Writer{client: client}
}

// WriteSettlement marshals the snapshot and uploads it, returning the object
// key it was stored under.
func (w *Writer) WriteSettlement(ctx context.Context, snap domain.SettlementSnapshot) (string, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal snapshot for event %d: %w", snap.EventID, err)
	}

	key := fmt.Sprintf("settlements/%d.json", snap.EventID)

	_, err = w.client.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.client.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("s3blob: upload snapshot %s: %w", key, err)
	}

	return key, nil
}
