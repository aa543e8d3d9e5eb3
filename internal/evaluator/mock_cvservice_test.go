package evaluator

import (
	context "context"
	reflect "reflect"

	gomock "go.uber.org/mock/gomock"

	cvservice "github.com/danielpatrickdp/segment-replay/internal/cvservice"
)

// MockObjectQuerier is a mock of ObjectQuerier interface.
type MockObjectQuerier struct {
	ctrl     *gomock.Controller
	recorder *MockObjectQuerierMockRecorder
}

// MockObjectQuerierMockRecorder is the mock recorder for MockObjectQuerier.
type MockObjectQuerierMockRecorder struct {
	mock *MockObjectQuerier
}

// NewMockObjectQuerier creates a new mock instance.
func NewMockObjectQuerier(ctrl *gomock.Controller) *MockObjectQuerier {
	mock := &MockObjectQuerier{ctrl: ctrl}
	mock.recorder = &MockObjectQuerierMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockObjectQuerier) EXPECT() *MockObjectQuerierMockRecorder {
	return m.recorder
}

// QueryObjects mocks base method.
func (m *MockObjectQuerier) QueryObjects(ctx context.Context, req cvservice.ObjectQueryRequest) ([]cvservice.ImageResult, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "QueryObjects", ctx, req)
	ret0, _ := ret[0].([]cvservice.ImageResult)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// QueryObjects indicates an expected call of QueryObjects.
func (mr *MockObjectQuerierMockRecorder) QueryObjects(ctx, req any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "QueryObjects", reflect.TypeOf((*MockObjectQuerier)(nil).QueryObjects), ctx, req)
}
