package bulk

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/congo-pay/payroll/internal/apperr"
	"github.com/congo-pay/payroll/internal/employee"
	"github.com/congo-pay/payroll/internal/payments"
)

// BatchDispatcher creates one batch on one network.
type BatchDispatcher interface {
	DispatchBatch(ctx context.Context, employeeIDs []string, network, actorID string) (payments.BatchResult, error)
}

// Entry is the outcome of one network partition.
type Entry struct {
	Network     string
	BatchID     string
	MemberCount int
	EmployeeIDs []string
	Batch       payments.BatchResult
	Error       error
}

// Result summarises an upload.
type Result struct {
	Entries   []Entry
	Processed int
	TotalRows int
}

// Service partitions uploaded rows by employee network.
type Service struct {
	employees  employee.Directory
	dispatcher BatchDispatcher
	logger     *slog.Logger
}

// NewService builds a bulk upload service.
func NewService(employees employee.Directory, dispatcher BatchDispatcher, logger *slog.Logger) *Service {
	return &Service{employees: employees, dispatcher: dispatcher, logger: logger}
}

// Ingest resolves the referenced employees, keeps the active ones and
// dispatches one batch per network in sorted network order. Each active
// employee lands in exactly one partition. It fails only when no partition
// could be dispatched.
func (s *Service) Ingest(ctx context.Context, rows []Row, actorID string) (Result, error) {
	if len(rows) == 0 {
		return Result{}, apperr.New(apperr.Validation, apperr.ReasonEmptyFile, "CSV file contains no rows")
	}

	seen := make(map[string]struct{}, len(rows))
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		if _, ok := seen[r.EmployeeID]; ok {
			continue
		}
		seen[r.EmployeeID] = struct{}{}
		ids = append(ids, r.EmployeeID)
	}

	found, err := s.employees.GetMany(ctx, ids)
	if err != nil {
		return Result{}, apperr.Wrap(err, apperr.Internal, "", "load employees: %v", err)
	}
	partitions := map[string][]string{}
	var inactive []string
	for _, e := range found {
		if !e.Active() {
			inactive = append(inactive, e.ID)
			continue
		}
		network := strings.ToUpper(strings.TrimSpace(e.Network))
		partitions[network] = append(partitions[network], e.ID)
	}
	processed := len(found) - len(inactive)
	if missing := len(ids) - len(found); missing > 0 || len(inactive) > 0 {
		s.logger.Warn("bulk upload rows ignored", "missing", missing, "inactive", inactive)
	}
	if processed == 0 {
		return Result{}, apperr.New(apperr.Validation, apperr.ReasonNoneActive, "No active employees found in file")
	}

	networks := make([]string, 0, len(partitions))
	for n := range partitions {
		networks = append(networks, n)
	}
	sort.Strings(networks)

	res := Result{Processed: processed, TotalRows: len(rows), Entries: make([]Entry, 0, len(networks))}
	var errs []error
	for _, network := range networks {
		members := partitions[network]
		entry := Entry{Network: network, EmployeeIDs: members}
		batch, err := s.dispatcher.DispatchBatch(ctx, members, network, actorID)
		if err != nil {
			s.logger.Error("bulk partition failed", "network", network, "members", len(members), "error", err)
			entry.Error = err
			errs = append(errs, err)
		} else {
			entry.BatchID = batch.BatchID
			entry.MemberCount = batch.MemberCount
			entry.Batch = batch
		}
		res.Entries = append(res.Entries, entry)
	}
	if len(errs) == len(networks) {
		if len(errs) == 1 {
			return res, errs[0]
		}
		return res, errors.Join(errs...)
	}
	s.logger.Info("bulk upload dispatched", "rows", res.TotalRows, "processed", res.Processed, "batches", len(networks)-len(errs))
	return res, nil
}
