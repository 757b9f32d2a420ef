package order_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mthsnx/caffe-diem/internal/events"
	"github.com/mthsnx/caffe-diem/internal/order"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) Insert(ctx context.Context, o *order.Order) (int64, error) {
	args := m.Called(ctx, o)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOrderRepository) GetByCode(ctx context.Context, code string) (*order.Order, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderRepository) UpdateStatus(ctx context.Context, code string, newStatus order.Status) error {
	args := m.Called(ctx, code, newStatus)
	return args.Error(0)
}

func (m *MockOrderRepository) SetCallbackToken(ctx context.Context, code, callbackTokenHash string) error {
	args := m.Called(ctx, code, callbackTokenHash)
	return args.Error(0)
}

func (m *MockOrderRepository) MarkPaymentPending(ctx context.Context, code string) error {
	args := m.Called(ctx, code)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishStatusChanged(ctx context.Context, evt events.StatusChanged) error {
	args := m.Called(ctx, evt)
	return args.Error(0)
}

func americano() []order.Item {
	return []order.Item{{Name: "Americano", Price: decimal.RequireFromString("3.45")}}
}

func statusEvent(code string, status order.Status) interface{} {
	return mock.MatchedBy(func(evt events.StatusChanged) bool {
		return evt.OrderCode == code && evt.Status == status.String() && !evt.OccurredAt.IsZero()
	})
}

func TestOrderService_SubmitOrder_Success(t *testing.T) {
	mockRepo := new(MockOrderRepository)
	mockPub := new(MockPublisher)
	orderService := order.NewService(mockRepo, mockPub, order.StatusPending)

	mockRepo.On("Insert", mock.Anything, mock.MatchedBy(func(o *order.Order) bool {
		return o.Code == "482913" &&
			o.Status == order.StatusPending &&
			o.Total.Equal(decimal.RequireFromString("3.45")) &&
			!o.CreatedAt.IsZero()
	})).
		Run(func(args mock.Arguments) {
			args.Get(1).(*order.Order).ID = 7
		}).
		Return(int64(7), nil).
		Once()
	mockPub.On("PublishStatusChanged", mock.Anything, statusEvent("482913", order.StatusPending)).Return(nil).Once()

	created, err := orderService.SubmitOrder(context.Background(), order.SubmitInput{
		Code:  "482913",
		Items: americano(),
		Total: decimal.NewFromFloat(3.45),
	})

	require.NoError(t, err)
	require.NotNil(t, created)
	require.Equal(t, int64(7), created.ID)
	require.Equal(t, "482913", created.Code)
	diff := cmp.Diff(americano(), created.Items)
	require.Empty(t, diff)
	mockRepo.AssertExpectations(t)
	mockPub.AssertExpectations(t)
}

func TestOrderService_SubmitOrder_PaymentVariantStatus(t *testing.T) {
	mockRepo := new(MockOrderRepository)
	orderService := order.NewService(mockRepo, nil, order.StatusPaymentPending)

	mockRepo.On("Insert", mock.Anything, mock.MatchedBy(func(o *order.Order) bool {
		return o.Status == order.StatusPaymentPending
	})).Return(int64(1), nil).Once()

	_, err := orderService.SubmitOrder(context.Background(), order.SubmitInput{
		Code:  "482913",
		Items: americano(),
		Total: decimal.RequireFromString("3.45"),
	})

	require.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestOrderService_SubmitOrder_FloatingPointTotal(t *testing.T) {
	mockRepo := new(MockOrderRepository)
	orderService := order.NewService(mockRepo, nil, order.StatusPending)

	mockRepo.On("Insert", mock.Anything, mock.MatchedBy(func(o *order.Order) bool {
		return o.Total.String() == "10.2"
	})).Return(int64(1), nil).Once()

	_, err := orderService.SubmitOrder(context.Background(), order.SubmitInput{
		Code: "100200",
		Items: []order.Item{
			{Name: "Carpe Diem Latte", Price: decimal.NewFromFloat(4.95)},
			{Name: "Nitro Cold Brew", Price: decimal.NewFromFloat(5.25)},
		},
		// 4.95 + 5.25 as summed by a browser
		Total: decimal.NewFromFloat(10.200000000000001),
	})

	require.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestOrderService_SubmitOrder_Validation(t *testing.T) {
	tests := []struct {
		name    string
		input   order.SubmitInput
		wantMsg string
	}{
		{
			name:    "missing code",
			input:   order.SubmitInput{Items: americano(), Total: decimal.RequireFromString("3.45")},
			wantMsg: "order code is required",
		},
		{
			name:    "malformed code",
			input:   order.SubmitInput{Code: "12ab56", Items: americano(), Total: decimal.RequireFromString("3.45")},
			wantMsg: "6-digit",
		},
		{
			name:    "no items",
			input:   order.SubmitInput{Code: "482913", Total: decimal.RequireFromString("3.45")},
			wantMsg: "at least one item",
		},
		{
			name:    "zero total",
			input:   order.SubmitInput{Code: "482913", Items: americano()},
			wantMsg: "total must be at least 0.01",
		},
		{
			name: "total rounds to zero",
			input: order.SubmitInput{
				Code:  "482913",
				Items: []order.Item{{Name: "Sugar cube", Price: decimal.RequireFromString("0.004")}},
				Total: decimal.RequireFromString("0.004"),
			},
			wantMsg: "total must be at least 0.01",
		},
		{
			name: "unnamed item",
			input: order.SubmitInput{
				Code:  "482913",
				Items: []order.Item{{Name: " ", Price: decimal.RequireFromString("3.45")}},
				Total: decimal.RequireFromString("3.45"),
			},
			wantMsg: "item 0: name is required",
		},
		{
			name: "negative price",
			input: order.SubmitInput{
				Code:  "482913",
				Items: []order.Item{{Name: "Refund", Price: decimal.RequireFromString("-1")}, {Name: "Americano", Price: decimal.RequireFromString("4.45")}},
				Total: decimal.RequireFromString("3.45"),
			},
			wantMsg: "item 0: price cannot be negative",
		},
		{
			name:    "total does not match items",
			input:   order.SubmitInput{Code: "482913", Items: americano(), Total: decimal.RequireFromString("0.01")},
			wantMsg: "total 0.01 does not match item sum 3.45",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockOrderRepository)
			orderService := order.NewService(mockRepo, nil, order.StatusPending)

			created, err := orderService.SubmitOrder(context.Background(), tt.input)

			require.ErrorIs(t, err, order.ErrValidation)
			require.Contains(t, err.Error(), tt.wantMsg)
			require.Nil(t, created)
			mockRepo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
		})
	}
}

func TestOrderService_SubmitOrder_DuplicateCode(t *testing.T) {
	mockRepo := new(MockOrderRepository)
	mockPub := new(MockPublisher)
	orderService := order.NewService(mockRepo, mockPub, order.StatusPending)

	mockRepo.On("Insert", mock.Anything, mock.AnythingOfType("*order.Order")).
		Return(int64(0), order.ErrDuplicateCode).
		Once()

	created, err := orderService.SubmitOrder(context.Background(), order.SubmitInput{
		Code:  "482913",
		Items: americano(),
		Total: decimal.RequireFromString("3.45"),
	})

	require.ErrorIs(t, err, order.ErrCodeCollision)
	require.NotErrorIs(t, err, order.ErrStorageFailure)
	require.Nil(t, created)
	mockRepo.AssertExpectations(t)
	mockPub.AssertNotCalled(t, "PublishStatusChanged", mock.Anything, mock.Anything)
}

func TestOrderService_SubmitOrder_StorageFailure(t *testing.T) {
	mockRepo := new(MockOrderRepository)
	orderService := order.NewService(mockRepo, nil, order.StatusPending)

	mockRepo.On("Insert", mock.Anything, mock.AnythingOfType("*order.Order")).
		Return(int64(0), errors.New("connection reset")).
		Once()

	created, err := orderService.SubmitOrder(context.Background(), order.SubmitInput{
		Code:  "482913",
		Items: americano(),
		Total: decimal.RequireFromString("3.45"),
	})

	require.ErrorIs(t, err, order.ErrStorageFailure)
	require.NotErrorIs(t, err, order.ErrCodeCollision)
	require.Nil(t, created)
	mockRepo.AssertExpectations(t)
}

func TestOrderService_SubmitOrder_PublishFailureIsNotFatal(t *testing.T) {
	mockRepo := new(MockOrderRepository)
	mockPub := new(MockPublisher)
	orderService := order.NewService(mockRepo, mockPub, order.StatusPending)

	mockRepo.On("Insert", mock.Anything, mock.AnythingOfType("*order.Order")).Return(int64(3), nil).Once()
	mockPub.On("PublishStatusChanged", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()

	created, err := orderService.SubmitOrder(context.Background(), order.SubmitInput{
		Code:  "482913",
		Items: americano(),
		Total: decimal.RequireFromString("3.45"),
	})

	require.NoError(t, err)
	require.NotNil(t, created)
	mockPub.AssertExpectations(t)
}

func TestOrderService_GetOrder(t *testing.T) {
	mockRepo := new(MockOrderRepository)
	orderService := order.NewService(mockRepo, nil, order.StatusPending)

	expected := &order.Order{ID: 1, Code: "482913", Items: americano(), Total: decimal.RequireFromString("3.45"), Status: order.StatusPaid}
	mockRepo.On("GetByCode", mock.Anything, "482913").Return(expected, nil).Once()
	mockRepo.On("GetByCode", mock.Anything, "111111").Return(nil, order.ErrOrderNotFound).Once()
	mockRepo.On("GetByCode", mock.Anything, "222222").Return(nil, order.ErrStorage).Once()

	found, err := orderService.GetOrder(context.Background(), "482913")
	require.NoError(t, err)
	require.Equal(t, expected, found)

	_, err = orderService.GetOrder(context.Background(), "111111")
	require.ErrorIs(t, err, order.ErrOrderNotFound)

	_, err = orderService.GetOrder(context.Background(), "222222")
	require.ErrorIs(t, err, order.ErrStorage)
	mockRepo.AssertExpectations(t)
}

func TestOrderService_UpdateStatus(t *testing.T) {
	tests := []struct {
		name       string
		repoErr    error
		wantErr    error
		wantPublish bool
	}{
		{name: "success", wantPublish: true},
		{name: "already set is a no-op", repoErr: order.ErrStatusAlreadySet},
		{name: "not found", repoErr: order.ErrOrderNotFound, wantErr: order.ErrOrderNotFound},
		{name: "backward transition", repoErr: order.ErrInvalidStatusTransition, wantErr: order.ErrInvalidStatusTransition},
		{name: "storage", repoErr: order.ErrStorage, wantErr: order.ErrStorage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockOrderRepository)
			mockPub := new(MockPublisher)
			orderService := order.NewService(mockRepo, mockPub, order.StatusPending)

			mockRepo.On("UpdateStatus", mock.Anything, "482913", order.StatusPaid).Return(tt.repoErr).Once()
			if tt.wantPublish {
				mockPub.On("PublishStatusChanged", mock.Anything, statusEvent("482913", order.StatusPaid)).Return(nil).Once()
			}

			err := orderService.UpdateStatus(context.Background(), "482913", order.StatusPaid)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			mockRepo.AssertExpectations(t)
			mockPub.AssertExpectations(t)
			if !tt.wantPublish {
				mockPub.AssertNotCalled(t, "PublishStatusChanged", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestOrderService_MarkPaymentPending(t *testing.T) {
	tests := []struct {
		name    string
		repoErr error
		wantErr error
	}{
		{name: "success"},
		{name: "not found", repoErr: order.ErrOrderNotFound, wantErr: order.ErrOrderNotFound},
		{name: "already paid", repoErr: order.ErrInvalidStatusTransition, wantErr: order.ErrInvalidStatusTransition},
		{name: "storage", repoErr: errors.New("timeout"), wantErr: order.ErrStorageFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockOrderRepository)
			mockPub := new(MockPublisher)
			orderService := order.NewService(mockRepo, mockPub, order.StatusPending)

			mockRepo.On("MarkPaymentPending", mock.Anything, "482913").Return(tt.repoErr).Once()
			if tt.wantErr == nil {
				mockPub.On("PublishStatusChanged", mock.Anything, statusEvent("482913", order.StatusPaymentPending)).Return(nil).Once()
			}

			err := orderService.MarkPaymentPending(context.Background(), "482913")

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			mockRepo.AssertExpectations(t)
			mockPub.AssertExpectations(t)
		})
	}
}

func TestOrderService_SetCallbackToken(t *testing.T) {
	tests := []struct {
		name    string
		repoErr error
		wantErr error
	}{
		{name: "success"},
		{name: "not found", repoErr: order.ErrOrderNotFound, wantErr: order.ErrOrderNotFound},
		{name: "already settled", repoErr: order.ErrInvalidStatusTransition, wantErr: order.ErrInvalidStatusTransition},
		{name: "storage", repoErr: errors.New("timeout"), wantErr: order.ErrStorageFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockOrderRepository)
			mockPub := new(MockPublisher)
			orderService := order.NewService(mockRepo, mockPub, order.StatusPending)

			mockRepo.On("SetCallbackToken", mock.Anything, "482913", "hash").Return(tt.repoErr).Once()

			err := orderService.SetCallbackToken(context.Background(), "482913", "hash")

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			mockRepo.AssertExpectations(t)
			mockPub.AssertNotCalled(t, "PublishStatusChanged", mock.Anything, mock.Anything)
		})
	}
}
