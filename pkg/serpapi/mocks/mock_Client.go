// Package mocks provides test doubles for the serpapi client.
package mocks

import (
	"context"

	serpapi "github.com/sells-group/skuboard/pkg/serpapi"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Shopping provides a mock function with given fields: ctx, req
func (_m *MockClient) Shopping(ctx context.Context, req serpapi.ShoppingRequest) ([]serpapi.ShoppingResult, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for Shopping")
	}

	var r0 []serpapi.ShoppingResult
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, serpapi.ShoppingRequest) ([]serpapi.ShoppingResult, error)); ok {
		return rf(ctx, req)
	}
	if rf, ok := ret.Get(0).(func(context.Context, serpapi.ShoppingRequest) []serpapi.ShoppingResult); ok {
		r0 = rf(ctx, req)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]serpapi.ShoppingResult)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, serpapi.ShoppingRequest) error); ok {
		r1 = rf(ctx, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Immersive provides a mock function with given fields: ctx, req
func (_m *MockClient) Immersive(ctx context.Context, req serpapi.ImmersiveRequest) (*serpapi.ImmersiveResult, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for Immersive")
	}

	var r0 *serpapi.ImmersiveResult
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, serpapi.ImmersiveRequest) (*serpapi.ImmersiveResult, error)); ok {
		return rf(ctx, req)
	}
	if rf, ok := ret.Get(0).(func(context.Context, serpapi.ImmersiveRequest) *serpapi.ImmersiveResult); ok {
		r0 = rf(ctx, req)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*serpapi.ImmersiveResult)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, serpapi.ImmersiveRequest) error); ok {
		r1 = rf(ctx, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockClient creates a new instance of MockClient.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	mock := &MockClient{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
