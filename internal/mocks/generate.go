// Package mocks provides gomock implementations of the job ports for tests.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	backend := mocks.NewMockBackend(ctrl)
//	backend.EXPECT().SaveSnapshot(gomock.Any(), gomock.Any()).Return(nil)
package mocks

// Backend: SaveSnapshot, LoadSnapshot
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=backend_mock.go github.com/3leaps/gojobs/pkg/job Backend

// FailureSink: ReportFailure. Observer: JobSubmitted, JobStarted, JobFinished
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=hooks_mock.go github.com/3leaps/gojobs/pkg/job FailureSink,Observer
