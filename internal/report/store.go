package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/kubewarden/posture-scanner/internal/scan"
)

// Store persists the record of a finished scan.
type Store interface {
	SaveScan(ctx context.Context, s *scan.Scan) error
}

// NewReportStoreOfKind returns the Kubernetes backed store for the given
// report kind. Reports are written into namespace. Unless keepHistory is set,
// saving a scan deletes the reports of the previous scans of the same tenant
// and benchmark.
func NewReportStoreOfKind(kind CrdKind, c client.Client, namespace string, keepHistory bool, logger *slog.Logger) (Store, error) {
	switch kind {
	case ReportKindOpenReport:
		return NewOpenReportStore(c, namespace, keepHistory, logger), nil
	case ReportKindPolicyReport:
		return NewPolicyReportStore(c, namespace, keepHistory, logger), nil
	default:
		return nil, fmt.Errorf("unknown report kind %d", kind)
	}
}

// Stores fans a scan record out to every store. All stores are attempted,
// the errors are joined.
type Stores []Store

func (m Stores) SaveScan(ctx context.Context, s *scan.Scan) error {
	var errs []error
	for _, store := range m {
		if store == nil {
			continue
		}
		if err := store.SaveScan(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// JSONStore writes every scan record as a single JSON line.
type JSONStore struct {
	mu  sync.Mutex
	out io.Writer
}

func NewJSONStore(out io.Writer) *JSONStore {
	return &JSONStore{out: out}
}

func (s *JSONStore) SaveScan(_ context.Context, record *scan.Scan) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("cannot encode scan %s: %w", record.ID, err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.out.Write(data); err != nil {
		return fmt.Errorf("cannot write scan %s: %w", record.ID, err)
	}
	return nil
}
