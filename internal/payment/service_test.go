package payment_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/MrJamesThe3rd/payments/internal/money"
	"github.com/MrJamesThe3rd/payments/internal/payment"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(repo payment.Repository, gw payment.Gateway, opts ...payment.Option) *payment.Service {
	opts = append([]payment.Option{payment.WithClock(func() time.Time { return now })}, opts...)
	return payment.NewService(repo, gw, zap.NewNop(), opts...)
}

func authorizeParams(key, amount string) payment.AuthorizeParams {
	return payment.AuthorizeParams{
		Amount:         money.MustParse(amount, "USD"),
		IdempotencyKey: key,
	}
}

func storedTx(status payment.Status) *payment.Transaction {
	return &payment.Transaction{
		ID:             uuid.New(),
		IdempotencyKey: "idem-1",
		ExternalID:     new("mock_1"),
		Amount:         money.MustParse("50.00", "USD"),
		Status:         status,
		Version:        3,
	}
}

func TestService_Authorize(t *testing.T) {
	type testCase struct {
		name       string
		params     payment.AuthorizeParams
		setupMock  func(r *payment.MockRepository, g *payment.MockGateway)
		wantStatus payment.Status
		wantExtID  string
		wantErr    error
	}

	existing := storedTx(payment.StatusAuthorized)

	tests := []testCase{
		{
			name:   "Authorized",
			params: authorizeParams("idem-1", "50.00"),
			setupMock: func(r *payment.MockRepository, g *payment.MockGateway) {
				r.EXPECT().GetByIdempotencyKey(gomock.Any(), "idem-1").Return(nil, payment.ErrNotFound)
				r.EXPECT().Reserve(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, tx *payment.Transaction) error {
					assert.Equal(t, payment.StatusPending, tx.Status)
					tx.Version = 1
					return nil
				})
				g.EXPECT().Authorize(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req payment.AuthorizeRequest) (payment.GatewayResult, error) {
					assert.Equal(t, "idem-1", req.IdempotencyKey)
					return payment.GatewayResult{Status: payment.StatusAuthorized, ExternalID: "mock_abc", Trace: "ok"}, nil
				})
				r.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, tx *payment.Transaction) error {
					assert.Equal(t, payment.StatusAuthorized, tx.Status)
					tx.Version++
					return nil
				})
			},
			wantStatus: payment.StatusAuthorized,
			wantExtID:  "mock_abc",
		},
		{
			name:   "DeclinedHasNoExternalID",
			params: authorizeParams("idem-2", "2000.00"),
			setupMock: func(r *payment.MockRepository, g *payment.MockGateway) {
				r.EXPECT().GetByIdempotencyKey(gomock.Any(), "idem-2").Return(nil, payment.ErrNotFound)
				r.EXPECT().Reserve(gomock.Any(), gomock.Any()).Return(nil)
				g.EXPECT().Authorize(gomock.Any(), gomock.Any()).Return(payment.GatewayResult{Status: payment.StatusDeclined, Trace: "Amount exceeds limit"}, nil)
				r.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil)
			},
			wantStatus: payment.StatusDeclined,
		},
		{
			name:   "AuthorizedWithoutExternalIDFails",
			params: authorizeParams("idem-3", "10"),
			setupMock: func(r *payment.MockRepository, g *payment.MockGateway) {
				r.EXPECT().GetByIdempotencyKey(gomock.Any(), gomock.Any()).Return(nil, payment.ErrNotFound)
				r.EXPECT().Reserve(gomock.Any(), gomock.Any()).Return(nil)
				g.EXPECT().Authorize(gomock.Any(), gomock.Any()).Return(payment.GatewayResult{Status: payment.StatusAuthorized}, nil)
				r.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil)
			},
			wantStatus: payment.StatusFailed,
		},
		{
			name:   "ImmediateCaptureStoredAsAuthorized",
			params: authorizeParams("idem-4", "10"),
			setupMock: func(r *payment.MockRepository, g *payment.MockGateway) {
				r.EXPECT().GetByIdempotencyKey(gomock.Any(), gomock.Any()).Return(nil, payment.ErrNotFound)
				r.EXPECT().Reserve(gomock.Any(), gomock.Any()).Return(nil)
				g.EXPECT().Authorize(gomock.Any(), gomock.Any()).Return(payment.GatewayResult{Status: payment.StatusCaptured, ExternalID: "pi_1"}, nil)
				r.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil)
			},
			wantStatus: payment.StatusAuthorized,
			wantExtID:  "pi_1",
		},
		{
			name:   "ExistingKeyReturnsStoredRow",
			params: authorizeParams("idem-1", "50.00"),
			setupMock: func(r *payment.MockRepository, _ *payment.MockGateway) {
				r.EXPECT().GetByIdempotencyKey(gomock.Any(), "idem-1").Return(existing, nil)
			},
			wantStatus: payment.StatusAuthorized,
			wantExtID:  "mock_1",
		},
		{
			name:   "InFlightReservationReturnedAsPending",
			params: authorizeParams("idem-1", "50.00"),
			setupMock: func(r *payment.MockRepository, _ *payment.MockGateway) {
				tx := storedTx(payment.StatusPending)
				tx.ExternalID = nil
				tx.LockedUntil = new(now.Add(time.Minute))

				r.EXPECT().GetByIdempotencyKey(gomock.Any(), "idem-1").Return(tx, nil)
			},
			wantStatus: payment.StatusPending,
		},
		{
			name:   "AbandonedReservationFails",
			params: authorizeParams("idem-1", "50.00"),
			setupMock: func(r *payment.MockRepository, _ *payment.MockGateway) {
				tx := storedTx(payment.StatusPending)
				tx.ExternalID = nil
				tx.LockedUntil = new(now.Add(-time.Second))

				r.EXPECT().GetByIdempotencyKey(gomock.Any(), "idem-1").Return(tx, nil)
				r.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, got *payment.Transaction) error {
					assert.Equal(t, payment.StatusFailed, got.Status)
					assert.Contains(t, got.GatewayTrace, "abandoned")
					assert.Nil(t, got.LockedUntil)
					return nil
				})
			},
			wantStatus: payment.StatusFailed,
		},
		{
			name:   "FinalWriteRetried",
			params: authorizeParams("idem-8", "10"),
			setupMock: func(r *payment.MockRepository, g *payment.MockGateway) {
				r.EXPECT().GetByIdempotencyKey(gomock.Any(), gomock.Any()).Return(nil, payment.ErrNotFound)
				r.EXPECT().Reserve(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, tx *payment.Transaction) error {
					require.NotNil(t, tx.LockedUntil)
					assert.True(t, tx.LockedUntil.After(now))
					return nil
				})
				g.EXPECT().Authorize(gomock.Any(), gomock.Any()).Return(payment.GatewayResult{Status: payment.StatusAuthorized, ExternalID: "mock_x"}, nil)
				gomock.InOrder(
					r.EXPECT().Update(gomock.Any(), gomock.Any()).Return(errors.New("db blip")),
					r.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, tx *payment.Transaction) error {
						assert.Nil(t, tx.LockedUntil)
						return nil
					}),
				)
			},
			wantStatus: payment.StatusAuthorized,
			wantExtID:  "mock_x",
		},
		{
			name:   "LostReservationRaceReturnsWinner",
			params: authorizeParams("idem-1", "50.00"),
			setupMock: func(r *payment.MockRepository, _ *payment.MockGateway) {
				gomock.InOrder(
					r.EXPECT().GetByIdempotencyKey(gomock.Any(), "idem-1").Return(nil, payment.ErrNotFound),
					r.EXPECT().Reserve(gomock.Any(), gomock.Any()).Return(payment.ErrDuplicateKey),
					r.EXPECT().GetByIdempotencyKey(gomock.Any(), "idem-1").Return(existing, nil),
				)
			},
			wantStatus: payment.StatusAuthorized,
			wantExtID:  "mock_1",
		},
		{
			name:   "GatewayFaultReleasesReservation",
			params: authorizeParams("idem-5", "10"),
			setupMock: func(r *payment.MockRepository, g *payment.MockGateway) {
				r.EXPECT().GetByIdempotencyKey(gomock.Any(), gomock.Any()).Return(nil, payment.ErrNotFound)
				r.EXPECT().Reserve(gomock.Any(), gomock.Any()).Return(nil)
				g.EXPECT().Authorize(gomock.Any(), gomock.Any()).Return(payment.GatewayResult{}, payment.ErrMisconfigured)
				r.EXPECT().Release(gomock.Any(), gomock.Any()).Return(nil)
			},
			wantErr: payment.ErrMisconfigured,
		},
		{
			name:   "GatewayTimeoutIsFailed",
			params: authorizeParams("idem-6", "10"),
			setupMock: func(r *payment.MockRepository, g *payment.MockGateway) {
				r.EXPECT().GetByIdempotencyKey(gomock.Any(), gomock.Any()).Return(nil, payment.ErrNotFound)
				r.EXPECT().Reserve(gomock.Any(), gomock.Any()).Return(nil)
				g.EXPECT().Authorize(gomock.Any(), gomock.Any()).Return(payment.GatewayResult{}, context.DeadlineExceeded)
				r.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, tx *payment.Transaction) error {
					assert.Contains(t, tx.GatewayTrace, "timed out")
					return nil
				})
			},
			wantStatus: payment.StatusFailed,
		},
		{
			name:    "MissingKey",
			params:  authorizeParams("  ", "10"),
			wantErr: payment.ErrValidation,
		},
		{
			name:    "ZeroAmount",
			params:  payment.AuthorizeParams{Amount: money.Money{Currency: "USD"}, IdempotencyKey: "k"},
			wantErr: payment.ErrValidation,
		},
		{
			name:   "RepositoryError",
			params: authorizeParams("idem-7", "10"),
			setupMock: func(r *payment.MockRepository, _ *payment.MockGateway) {
				r.EXPECT().GetByIdempotencyKey(gomock.Any(), gomock.Any()).Return(nil, errors.New("db down"))
			},
			wantErr: errors.New("db down"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			repo := payment.NewMockRepository(ctrl)
			gw := payment.NewMockGateway(ctrl)

			if tt.setupMock != nil {
				tt.setupMock(repo, gw)
			}

			got, err := newService(repo, gw).Authorize(context.Background(), tt.params)

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.Nil(t, got)

				if !errors.Is(err, tt.wantErr) {
					assert.Contains(t, err.Error(), tt.wantErr.Error())
				}

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantExtID, got.ExternalIDValue())
		})
	}
}

func TestService_Capture(t *testing.T) {
	type testCase struct {
		name       string
		stored     *payment.Transaction
		setupMock  func(r *payment.MockRepository, g *payment.MockGateway, tx *payment.Transaction)
		wantStatus payment.Status
		wantErr    error
	}

	tests := []testCase{
		{
			name:   "Captured",
			stored: storedTx(payment.StatusAuthorized),
			setupMock: func(r *payment.MockRepository, g *payment.MockGateway, tx *payment.Transaction) {
				r.EXPECT().GetByID(gomock.Any(), tx.ID).Return(tx.Clone(), nil)
				gomock.InOrder(
					r.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, got *payment.Transaction) error {
						require.NotNil(t, got.LockedUntil)
						assert.Equal(t, payment.StatusAuthorized, got.Status)
						got.Version++
						return nil
					}),
					r.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, got *payment.Transaction) error {
						assert.Nil(t, got.LockedUntil)
						assert.Equal(t, payment.StatusCaptured, got.Status)
						got.Version++
						return nil
					}),
				)
				g.EXPECT().Capture(gomock.Any(), payment.CaptureRequest{
					ExternalID:     "mock_1",
					Amount:         tx.Amount,
					IdempotencyKey: "idem-1:capture",
				}).Return(payment.GatewayResult{Status: payment.StatusCaptured, ExternalID: "mock_1"}, nil)
			},
			wantStatus: payment.StatusCaptured,
		},
		{
			name:   "GatewayFailure",
			stored: storedTx(payment.StatusAuthorized),
			setupMock: func(r *payment.MockRepository, g *payment.MockGateway, tx *payment.Transaction) {
				r.EXPECT().GetByID(gomock.Any(), tx.ID).Return(tx.Clone(), nil)
				r.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil).Times(2)
				g.EXPECT().Capture(gomock.Any(), gomock.Any()).Return(payment.GatewayResult{Status: payment.StatusFailed}, nil)
			},
			wantStatus: payment.StatusFailed,
		},
		{
			name:   "StillProcessingStaysAuthorized",
			stored: storedTx(payment.StatusAuthorized),
			setupMock: func(r *payment.MockRepository, g *payment.MockGateway, tx *payment.Transaction) {
				r.EXPECT().GetByID(gomock.Any(), tx.ID).Return(tx.Clone(), nil)
				r.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil).Times(2)
				g.EXPECT().Capture(gomock.Any(), gomock.Any()).Return(payment.GatewayResult{Status: payment.StatusAuthorized}, nil)
			},
			wantStatus: payment.StatusAuthorized,
		},
		{
			name:   "AlreadyCaptured",
			stored: storedTx(payment.StatusCaptured),
			setupMock: func(r *payment.MockRepository, _ *payment.MockGateway, tx *payment.Transaction) {
				r.EXPECT().GetByID(gomock.Any(), tx.ID).Return(tx.Clone(), nil)
			},
			wantErr: payment.ErrInvalidState,
		},
		{
			name:   "NotFound",
			stored: storedTx(payment.StatusAuthorized),
			setupMock: func(r *payment.MockRepository, _ *payment.MockGateway, tx *payment.Transaction) {
				r.EXPECT().GetByID(gomock.Any(), tx.ID).Return(nil, payment.ErrNotFound)
			},
			wantErr: payment.ErrNotFound,
		},
		{
			name: "LeaseHeld",
			stored: func() *payment.Transaction {
				tx := storedTx(payment.StatusAuthorized)
				tx.LockedUntil = new(now.Add(time.Minute))
				return tx
			}(),
			setupMock: func(r *payment.MockRepository, _ *payment.MockGateway, tx *payment.Transaction) {
				r.EXPECT().GetByID(gomock.Any(), tx.ID).Return(tx.Clone(), nil)
			},
			wantErr: payment.ErrConflict,
		},
		{
			name: "ExpiredLeaseIsTakenOver",
			stored: func() *payment.Transaction {
				tx := storedTx(payment.StatusAuthorized)
				tx.LockedUntil = new(now.Add(-time.Second))
				return tx
			}(),
			setupMock: func(r *payment.MockRepository, g *payment.MockGateway, tx *payment.Transaction) {
				r.EXPECT().GetByID(gomock.Any(), tx.ID).Return(tx.Clone(), nil)
				r.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil).Times(2)
				g.EXPECT().Capture(gomock.Any(), gomock.Any()).Return(payment.GatewayResult{Status: payment.StatusCaptured}, nil)
			},
			wantStatus: payment.StatusCaptured,
		},
		{
			name:   "LostLeaseRace",
			stored: storedTx(payment.StatusAuthorized),
			setupMock: func(r *payment.MockRepository, _ *payment.MockGateway, tx *payment.Transaction) {
				r.EXPECT().GetByID(gomock.Any(), tx.ID).Return(tx.Clone(), nil)
				r.EXPECT().Update(gomock.Any(), gomock.Any()).Return(payment.ErrVersionConflict)
			},
			wantErr: payment.ErrConflict,
		},
		{
			name:   "WebhookWonFinalWrite",
			stored: storedTx(payment.StatusAuthorized),
			setupMock: func(r *payment.MockRepository, g *payment.MockGateway, tx *payment.Transaction) {
				captured := tx.Clone()
				captured.Status = payment.StatusCaptured

				gomock.InOrder(
					r.EXPECT().GetByID(gomock.Any(), tx.ID).Return(tx.Clone(), nil),
					r.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil),
					r.EXPECT().Update(gomock.Any(), gomock.Any()).Return(payment.ErrVersionConflict),
					r.EXPECT().GetByID(gomock.Any(), tx.ID).Return(captured, nil),
				)
				g.EXPECT().Capture(gomock.Any(), gomock.Any()).Return(payment.GatewayResult{Status: payment.StatusCaptured}, nil)
			},
			wantStatus: payment.StatusCaptured,
		},
		{
			name:   "GatewayFaultUnlocks",
			stored: storedTx(payment.StatusAuthorized),
			setupMock: func(r *payment.MockRepository, g *payment.MockGateway, tx *payment.Transaction) {
				r.EXPECT().GetByID(gomock.Any(), tx.ID).Return(tx.Clone(), nil)
				gomock.InOrder(
					r.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil),
					r.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, got *payment.Transaction) error {
						assert.Nil(t, got.LockedUntil)
						assert.Equal(t, payment.StatusAuthorized, got.Status)
						return nil
					}),
				)
				g.EXPECT().Capture(gomock.Any(), gomock.Any()).Return(payment.GatewayResult{}, payment.ErrMisconfigured)
			},
			wantErr: payment.ErrMisconfigured,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			repo := payment.NewMockRepository(ctrl)
			gw := payment.NewMockGateway(ctrl)
			tt.setupMock(repo, gw, tt.stored)

			got, err := newService(repo, gw).Capture(context.Background(), tt.stored.ID)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Nil(t, got.LockedUntil)
		})
	}
}

func TestService_Refund(t *testing.T) {
	type testCase struct {
		name       string
		stored     *payment.Transaction
		setupMock  func(r *payment.MockRepository, g *payment.MockGateway, tx *payment.Transaction)
		wantStatus payment.Status
		wantErr    error
	}

	tests := []testCase{
		{
			name:   "Refunded",
			stored: storedTx(payment.StatusCaptured),
			setupMock: func(r *payment.MockRepository, g *payment.MockGateway, tx *payment.Transaction) {
				r.EXPECT().GetByID(gomock.Any(), tx.ID).Return(tx.Clone(), nil)
				r.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil).Times(2)
				g.EXPECT().Refund(gomock.Any(), payment.RefundRequest{
					ExternalID:     "mock_1",
					Amount:         tx.Amount,
					IdempotencyKey: "idem-1:refund:3",
				}).Return(payment.GatewayResult{Status: payment.StatusRefunded}, nil)
			},
			wantStatus: payment.StatusRefunded,
		},
		{
			name:   "FailedRefundStaysCaptured",
			stored: storedTx(payment.StatusCaptured),
			setupMock: func(r *payment.MockRepository, g *payment.MockGateway, tx *payment.Transaction) {
				r.EXPECT().GetByID(gomock.Any(), tx.ID).Return(tx.Clone(), nil)
				r.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil).Times(2)
				g.EXPECT().Refund(gomock.Any(), gomock.Any()).Return(payment.GatewayResult{Status: payment.StatusFailed, Trace: "declined"}, nil)
			},
			wantStatus: payment.StatusCaptured,
		},
		{
			name:   "Authorized",
			stored: storedTx(payment.StatusAuthorized),
			setupMock: func(r *payment.MockRepository, _ *payment.MockGateway, tx *payment.Transaction) {
				r.EXPECT().GetByID(gomock.Any(), tx.ID).Return(tx.Clone(), nil)
			},
			wantErr: payment.ErrInvalidState,
		},
		{
			name:   "AlreadyRefunded",
			stored: storedTx(payment.StatusRefunded),
			setupMock: func(r *payment.MockRepository, _ *payment.MockGateway, tx *payment.Transaction) {
				r.EXPECT().GetByID(gomock.Any(), tx.ID).Return(tx.Clone(), nil)
			},
			wantErr: payment.ErrInvalidState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			repo := payment.NewMockRepository(ctrl)
			gw := payment.NewMockGateway(ctrl)
			tt.setupMock(repo, gw, tt.stored)

			got, err := newService(repo, gw).Refund(context.Background(), tt.stored.ID)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
		})
	}
}

func TestService_List(t *testing.T) {
	type testCase struct {
		name      string
		filter    payment.ListFilter
		setupMock func(r *payment.MockRepository)
		wantLen   int
		wantErr   bool
	}

	tests := []testCase{
		{
			name:   "DefaultLimit",
			filter: payment.ListFilter{},
			setupMock: func(r *payment.MockRepository) {
				r.EXPECT().List(gomock.Any(), payment.ListFilter{Limit: 50}).Return([]*payment.Transaction{{ID: uuid.New()}}, nil)
			},
			wantLen: 1,
		},
		{
			name:   "LimitCapped",
			filter: payment.ListFilter{Limit: 10_000},
			setupMock: func(r *payment.MockRepository) {
				r.EXPECT().List(gomock.Any(), payment.ListFilter{Limit: 500}).Return(nil, nil)
			},
		},
		{
			name:    "UnknownStatus",
			filter:  payment.ListFilter{Status: new(payment.Status("SETTLED"))},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			repo := payment.NewMockRepository(ctrl)
			if tt.setupMock != nil {
				tt.setupMock(repo)
			}

			got, err := newService(repo, payment.NewMockGateway(ctrl)).List(context.Background(), tt.filter)

			if tt.wantErr {
				assert.ErrorIs(t, err, payment.ErrValidation)
				return
			}

			require.NoError(t, err)
			assert.Len(t, got, tt.wantLen)
		})
	}
}

func TestService_Reconcile(t *testing.T) {
	type testCase struct {
		name        string
		event       string
		setupMock   func(r *payment.MockRepository)
		wantOutcome payment.Outcome
		wantErr     error
	}

	tests := []testCase{
		{
			name:  "SucceededCaptures",
			event: payment.EventPaymentSucceeded,
			setupMock: func(r *payment.MockRepository) {
				r.EXPECT().GetByExternalID(gomock.Any(), "mock_1").Return(storedTx(payment.StatusAuthorized), nil)
				r.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, tx *payment.Transaction) error {
					assert.Equal(t, payment.StatusCaptured, tx.Status)
					return nil
				})
			},
			wantOutcome: payment.OutcomeApplied,
		},
		{
			name:  "AlreadyCapturedIsNoop",
			event: payment.EventPaymentSucceeded,
			setupMock: func(r *payment.MockRepository) {
				r.EXPECT().GetByExternalID(gomock.Any(), "mock_1").Return(storedTx(payment.StatusCaptured), nil)
			},
			wantOutcome: payment.OutcomeUnchanged,
		},
		{
			name:  "SucceededAfterRefundIsNoop",
			event: payment.EventPaymentSucceeded,
			setupMock: func(r *payment.MockRepository) {
				r.EXPECT().GetByExternalID(gomock.Any(), "mock_1").Return(storedTx(payment.StatusRefunded), nil)
			},
			wantOutcome: payment.OutcomeUnchanged,
		},
		{
			name:  "FailedMarksFailed",
			event: payment.EventPaymentFailed,
			setupMock: func(r *payment.MockRepository) {
				r.EXPECT().GetByExternalID(gomock.Any(), "mock_1").Return(storedTx(payment.StatusAuthorized), nil)
				r.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil)
			},
			wantOutcome: payment.OutcomeApplied,
		},
		{
			name:  "RefundOnAuthorizedIsInvalid",
			event: payment.EventChargeRefunded,
			setupMock: func(r *payment.MockRepository) {
				r.EXPECT().GetByExternalID(gomock.Any(), "mock_1").Return(storedTx(payment.StatusAuthorized), nil)
			},
			wantOutcome: payment.OutcomeRejected,
			wantErr:     payment.ErrInvalidState,
		},
		{
			name:  "FailureAfterRefundIsInvalid",
			event: payment.EventPaymentFailed,
			setupMock: func(r *payment.MockRepository) {
				r.EXPECT().GetByExternalID(gomock.Any(), "mock_1").Return(storedTx(payment.StatusRefunded), nil)
			},
			wantOutcome: payment.OutcomeRejected,
			wantErr:     payment.ErrInvalidState,
		},
		{
			name:  "UnknownExternalID",
			event: payment.EventPaymentSucceeded,
			setupMock: func(r *payment.MockRepository) {
				r.EXPECT().GetByExternalID(gomock.Any(), "mock_1").Return(nil, payment.ErrNotFound)
			},
			wantOutcome: payment.OutcomeRejected,
			wantErr:     payment.ErrNotFound,
		},
		{
			name:        "UnhandledType",
			event:       "customer.created",
			wantOutcome: payment.OutcomeIgnored,
		},
		{
			name:  "RetriesVersionConflict",
			event: payment.EventPaymentSucceeded,
			setupMock: func(r *payment.MockRepository) {
				gomock.InOrder(
					r.EXPECT().GetByExternalID(gomock.Any(), "mock_1").Return(storedTx(payment.StatusAuthorized), nil),
					r.EXPECT().Update(gomock.Any(), gomock.Any()).Return(payment.ErrVersionConflict),
					r.EXPECT().GetByExternalID(gomock.Any(), "mock_1").Return(storedTx(payment.StatusAuthorized), nil),
					r.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil),
				)
			},
			wantOutcome: payment.OutcomeApplied,
		},
		{
			name:  "GivesUpAfterRepeatedConflicts",
			event: payment.EventPaymentSucceeded,
			setupMock: func(r *payment.MockRepository) {
				r.EXPECT().GetByExternalID(gomock.Any(), "mock_1").Return(storedTx(payment.StatusAuthorized), nil).Times(3)
				r.EXPECT().Update(gomock.Any(), gomock.Any()).Return(payment.ErrVersionConflict).Times(3)
			},
			wantOutcome: payment.OutcomeRejected,
			wantErr:     payment.ErrConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			repo := payment.NewMockRepository(ctrl)
			if tt.setupMock != nil {
				tt.setupMock(repo)
			}

			svc := newService(repo, payment.NewMockGateway(ctrl))

			got, err := svc.Reconcile(context.Background(), payment.Notification{
				EventID:    "evt_1",
				Type:       tt.event,
				ExternalID: "mock_1",
			})

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}

			assert.Equal(t, tt.wantOutcome, got)
		})
	}
}
