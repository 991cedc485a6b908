package payout

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/creatorfund/backend/internal/apperrors"
	"github.com/creatorfund/backend/internal/database/testutil"
	"github.com/creatorfund/backend/internal/lock"
	"github.com/creatorfund/backend/internal/logger"
	"github.com/creatorfund/backend/internal/models"
	"github.com/creatorfund/backend/internal/security"
	"github.com/creatorfund/backend/internal/services/ledger"
	"github.com/creatorfund/backend/internal/services/notify"
	"github.com/creatorfund/backend/internal/services/transport"
	"github.com/creatorfund/backend/internal/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Transfer(ctx context.Context, req transport.TransferRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockTransport) HasPayoutAccount(ctx context.Context, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockTransport) LookupTransfer(ctx context.Context, idempotencyKey string) (string, bool, error) {
	args := m.Called(ctx, idempotencyKey)
	return args.String(0), args.Bool(1), args.Error(2)
}

type sentNotification struct {
	UserID uuid.UUID
	Type   notify.Type
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (r *recordingSender) Send(_ context.Context, userID uuid.UUID, typ notify.Type, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentNotification{UserID: userID, Type: typ})
}

func (r *recordingSender) types() []notify.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Type, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Type)
	}
	return out
}

type ServiceSuite struct {
	suite.Suite
	ctx      context.Context
	db       *gorm.DB
	agg      *ledger.Aggregator
	tr       *mockTransport
	sender   *recordingSender
	service  *Service
	admin    security.Principal
	creator  uuid.UUID
	settings Config
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.db = testutil.NewTestDB(s.T())
	s.tr = new(mockTransport)
	s.tr.On("HasPayoutAccount", mock.Anything, mock.Anything).Return(true, nil).Maybe()
	s.sender = &recordingSender{}
	s.admin = security.Principal{UserID: uuid.New(), Roles: []string{security.RoleFinance}}
	s.settings = Config{MinAmount: decimal.NewFromInt(5), AllowRejectApproved: true}
	s.service = s.newService(s.tr, s.settings)

	// 20.00 completed + 25.00 pending referrals, one active 20.00 subscription: 63.00
	s.creator = uuid.New()
	testutil.CreateReferral(s.T(), s.db, s.creator, "20.00", models.ReferralStatusCompleted)
	testutil.CreateReferral(s.T(), s.db, s.creator, "25.00", models.ReferralStatusPending)
	testutil.CreateSubscription(s.T(), s.db, s.creator, "20.00", models.SubscriptionStatusActive)
}

func (s *ServiceSuite) newService(tr transport.Transport, cfg Config) *Service {
	locker := lock.NewKeyedMutex()
	s.agg = ledger.NewAggregator(s.db, locker, ledger.Config{
		CreatorShare:   decimal.RequireFromString("0.90"),
		DriftTolerance: decimal.RequireFromString("0.01"),
	}, logger.Discard())
	refs, err := utils.NewReferenceGenerator(1)
	s.Require().NoError(err)
	return NewService(s.db, locker, s.agg, tr, security.NewRoleAuthorizer(), s.sender, refs, cfg, logger.Discard())
}

func (s *ServiceSuite) input(amount string) CreateInput {
	return CreateInput{Amount: testutil.Money(amount), Method: "bank_transfer", DestinationAccountID: "acct_123"}
}

func (s *ServiceSuite) balance() *models.Balance {
	b, err := s.agg.GetBalance(s.ctx, s.creator)
	s.Require().NoError(err)
	return b
}

func (s *ServiceSuite) reload(id uuid.UUID) *models.PayoutRequest {
	req, err := s.service.Get(s.ctx, id)
	s.Require().NoError(err)
	return req
}

func (s *ServiceSuite) transactionCount(id uuid.UUID) int64 {
	var n int64
	s.Require().NoError(s.db.Model(&models.PayoutTransaction{}).Where("payout_request_id = ?", id).Count(&n).Error)
	return n
}

func (s *ServiceSuite) approved(amount string) *models.PayoutRequest {
	req, err := s.service.Create(s.ctx, s.creator, s.input(amount))
	s.Require().NoError(err)
	req, err = s.service.Approve(s.ctx, s.admin, req.ID, "")
	s.Require().NoError(err)
	return req
}

func (s *ServiceSuite) TestCreateReservesFullBalanceThenRejectsOverdraw() {
	req, err := s.service.Create(s.ctx, s.creator, s.input("63.00"))
	s.Require().NoError(err)
	s.Equal(models.PayoutStatusPending, req.Status)
	s.Equal("payout_"+req.ID.String(), req.IdempotencyKey)

	b := s.balance()
	s.Equal("63.00", b.TotalEarnings.StringFixed(2))
	s.Equal("63.00", b.ReservedAmount.StringFixed(2))
	s.Equal("0.00", b.AvailableBalance.StringFixed(2))
	s.True(b.PayoutCapable)

	_, err = s.service.Create(s.ctx, s.creator, s.input("1.00"))
	s.ErrorIs(err, apperrors.ErrInsufficientBalance)
	s.Equal([]notify.Type{notify.TypePayoutRequested}, s.sender.types())
}

func (s *ServiceSuite) TestCreateRejectsSecondInFlightRequest() {
	_, err := s.service.Create(s.ctx, s.creator, s.input("20.00"))
	s.Require().NoError(err)

	_, err = s.service.Create(s.ctx, s.creator, s.input("10.00"))
	s.ErrorIs(err, apperrors.ErrConflictingInFlightRequest)

	requests, err := s.service.ListForUser(s.ctx, s.creator)
	s.Require().NoError(err)
	s.Len(requests, 1)
}

func (s *ServiceSuite) TestCreateValidation() {
	tests := []struct {
		name  string
		input CreateInput
	}{
		{"zero amount", s.input("0")},
		{"negative amount", s.input("-5.00")},
		{"fractional cents", s.input("10.005")},
		{"missing method", CreateInput{Amount: testutil.Money("10"), DestinationAccountID: "acct"}},
		{"missing destination", CreateInput{Amount: testutil.Money("10"), Method: "bank_transfer"}},
		{"below minimum", s.input("4.99")},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.service.Create(s.ctx, s.creator, tt.input)
			s.ErrorIs(err, apperrors.ErrValidation)
		})
	}

	requests, err := s.service.ListForUser(s.ctx, s.creator)
	s.Require().NoError(err)
	s.Empty(requests)
}

func (s *ServiceSuite) TestCreateRequiresPayoutAccount() {
	tr := new(mockTransport)
	tr.On("HasPayoutAccount", mock.Anything, s.creator).Return(false, nil)
	service := s.newService(tr, s.settings)

	_, err := service.Create(s.ctx, s.creator, s.input("10.00"))
	var verr *apperrors.ValidationError
	s.Require().ErrorAs(err, &verr)
	s.Equal("destination_account_id", verr.Field)
	s.False(s.balance().PayoutCapable)
}

func (s *ServiceSuite) TestCreateRecordsLostPayoutAccount() {
	req, err := s.service.Create(s.ctx, s.creator, s.input("10.00"))
	s.Require().NoError(err)
	s.True(s.balance().PayoutCapable)
	_, err = s.service.Reject(s.ctx, s.admin, req.ID, "")
	s.Require().NoError(err)

	tr := new(mockTransport)
	tr.On("HasPayoutAccount", mock.Anything, s.creator).Return(false, nil)
	service := s.newService(tr, s.settings)

	_, err = service.Create(s.ctx, s.creator, s.input("10.00"))
	s.ErrorIs(err, apperrors.ErrValidation)
	s.False(s.balance().PayoutCapable)
}

func (s *ServiceSuite) TestConcurrentCreatesYieldOneRequest() {
	const workers = 6
	var wg sync.WaitGroup
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.service.Create(s.ctx, s.creator, s.input("10.00"))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		s.ErrorIs(err, apperrors.ErrConflictingInFlightRequest)
	}
	s.Equal(1, succeeded)
	s.Equal("53.00", s.balance().AvailableBalance.StringFixed(2))
}

func (s *ServiceSuite) TestRejectPendingRestoresBalance() {
	req, err := s.service.Create(s.ctx, s.creator, s.input("30.00"))
	s.Require().NoError(err)
	s.Equal("33.00", s.balance().AvailableBalance.StringFixed(2))

	rejected, err := s.service.Reject(s.ctx, s.admin, req.ID, "duplicate account")
	s.Require().NoError(err)
	s.Equal(models.PayoutStatusRejected, rejected.Status)
	s.Equal("duplicate account", rejected.AdminNotes)
	s.NotNil(rejected.RejectedAt)
	s.Equal("63.00", s.balance().AvailableBalance.StringFixed(2))
	s.Equal("0.00", s.balance().ReservedAmount.StringFixed(2))

	// a new request is allowed once the previous one is closed
	_, err = s.service.Create(s.ctx, s.creator, s.input("63.00"))
	s.NoError(err)
}

func (s *ServiceSuite) TestRejectApprovedRestoresBalance() {
	req := s.approved("40.00")
	s.Equal("23.00", s.balance().AvailableBalance.StringFixed(2))

	_, err := s.service.Reject(s.ctx, s.admin, req.ID, "")
	s.Require().NoError(err)
	s.Equal("63.00", s.balance().AvailableBalance.StringFixed(2))
}

func (s *ServiceSuite) TestRejectApprovedCanBeDisabled() {
	service := s.newService(s.tr, Config{MinAmount: decimal.NewFromInt(5), AllowRejectApproved: false})
	req, err := service.Create(s.ctx, s.creator, s.input("40.00"))
	s.Require().NoError(err)
	_, err = service.Approve(s.ctx, s.admin, req.ID, "")
	s.Require().NoError(err)

	_, err = service.Reject(s.ctx, s.admin, req.ID, "")
	var terr *apperrors.InvalidStateTransitionError
	s.Require().ErrorAs(err, &terr)
	s.Equal("approved", terr.Current)
}

func (s *ServiceSuite) TestApproveTwiceIsInvalid() {
	req := s.approved("10.00")
	s.Equal(s.admin.UserID, *req.ReviewedBy)

	_, err := s.service.Approve(s.ctx, s.admin, req.ID, "")
	s.ErrorIs(err, apperrors.ErrInvalidStateTransition)
}

func (s *ServiceSuite) TestMarkPaidFromPendingIsInvalid() {
	req, err := s.service.Create(s.ctx, s.creator, s.input("10.00"))
	s.Require().NoError(err)

	_, err = s.service.MarkPaid(s.ctx, s.admin, req.ID)
	var terr *apperrors.InvalidStateTransitionError
	s.Require().ErrorAs(err, &terr)
	s.Equal("pending", terr.Current)
	s.Equal(models.PayoutStatusPending, s.reload(req.ID).Status)
	s.tr.AssertNotCalled(s.T(), "Transfer", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestMarkPaidRecordsOneTransaction() {
	req := s.approved("63.00")
	s.tr.On("Transfer", mock.Anything, mock.MatchedBy(func(r transport.TransferRequest) bool {
		return r.IdempotencyKey == req.IdempotencyKey && r.Amount.Equal(testutil.Money("63.00"))
	})).Return("tr_001", nil).Once()

	paid, err := s.service.MarkPaid(s.ctx, s.admin, req.ID)
	s.Require().NoError(err)
	s.Equal(models.PayoutStatusPaid, paid.Status)
	s.Equal("tr_001", paid.TransferID)
	s.NotNil(paid.PaidAt)
	s.Equal(int64(1), s.transactionCount(req.ID))

	var txn models.PayoutTransaction
	s.Require().NoError(s.db.First(&txn, "payout_request_id = ?", req.ID).Error)
	s.Equal(models.PayoutTransactionCompleted, txn.Status)
	s.Equal(models.PlatformIdentity, txn.FromIdentity)
	s.Equal(req.DestinationAccountID, txn.ToIdentity)
	s.Contains(txn.Reference, "PAY_")
	s.Equal(req.IdempotencyKey, txn.Metadata["idempotency_key"])

	b := s.balance()
	s.Equal("63.00", b.TotalPaidOut.StringFixed(2))
	s.Equal("0.00", b.ReservedAmount.StringFixed(2))
	s.Equal("0.00", b.AvailableBalance.StringFixed(2))

	_, err = s.service.MarkPaid(s.ctx, s.admin, req.ID)
	s.ErrorIs(err, apperrors.ErrInvalidStateTransition)
	s.Equal(int64(1), s.transactionCount(req.ID))
	s.tr.AssertNumberOfCalls(s.T(), "Transfer", 1)

	s.Equal([]notify.Type{notify.TypePayoutRequested, notify.TypePayoutApproved, notify.TypePayoutPaid}, s.sender.types())
}

func (s *ServiceSuite) TestTransportFailureFlagsRequestForOperator() {
	req := s.approved("25.00")
	failure := &apperrors.TransportError{Attempts: 4, Err: errors.New("processor unavailable")}
	s.tr.On("Transfer", mock.Anything, mock.Anything).Return("", failure).Once()

	_, err := s.service.MarkPaid(s.ctx, s.admin, req.ID)
	s.ErrorIs(err, apperrors.ErrExternalTransportFailure)

	current := s.reload(req.ID)
	s.Equal(models.PayoutStatusApproved, current.Status)
	s.True(current.NeedsAttention)
	s.Equal(1, current.TransferAttempts)
	s.Contains(current.LastTransferError, "processor unavailable")
	s.Zero(s.transactionCount(req.ID))
	s.Equal("25.00", s.balance().ReservedAmount.StringFixed(2))

	queue, err := s.service.ListNeedingAttention(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(queue, 1)
	s.Equal(req.ID, queue[0].ID)

	// the operator retries with the same idempotency key
	s.tr.On("Transfer", mock.Anything, mock.MatchedBy(func(r transport.TransferRequest) bool {
		return r.IdempotencyKey == req.IdempotencyKey
	})).Return("tr_002", nil).Once()

	paid, err := s.service.MarkPaid(s.ctx, s.admin, req.ID)
	s.Require().NoError(err)
	s.False(paid.NeedsAttention)
	s.Equal(2, paid.TransferAttempts)
	s.Equal(int64(1), s.transactionCount(req.ID))
	s.Contains(s.sender.types(), notify.TypePayoutTransferFailed)
}

// failedTransfer leaves an approved request whose transfer outcome is unknown
func (s *ServiceSuite) failedTransfer(amount string) *models.PayoutRequest {
	req := s.approved(amount)
	s.tr.On("Transfer", mock.Anything, mock.Anything).Return("", context.DeadlineExceeded).Once()

	_, err := s.service.MarkPaid(s.ctx, s.admin, req.ID)
	s.Require().ErrorIs(err, apperrors.ErrExternalTransportFailure)
	return s.reload(req.ID)
}

func (s *ServiceSuite) TestRejectRefusedWhileProcessorHoldsTransfer() {
	req := s.failedTransfer("25.00")
	s.Require().True(req.NeedsAttention)
	s.tr.On("LookupTransfer", mock.Anything, req.IdempotencyKey).Return("tr_late", true, nil).Once()

	_, err := s.service.Reject(s.ctx, s.admin, req.ID, "processor timed out")
	var terr *apperrors.InvalidStateTransitionError
	s.Require().ErrorAs(err, &terr)
	s.Equal(string(models.PayoutStatusApproved), terr.Current)

	current := s.reload(req.ID)
	s.Equal(models.PayoutStatusApproved, current.Status)
	s.True(current.NeedsAttention)
	s.Equal("25.00", s.balance().ReservedAmount.StringFixed(2))
	s.Equal("38.00", s.balance().AvailableBalance.StringFixed(2))

	_, err = s.service.Create(s.ctx, s.creator, s.input("63.00"))
	s.ErrorIs(err, apperrors.ErrInsufficientBalance)

	// the operator completes the record instead; the processor answers with the existing transfer
	s.tr.On("Transfer", mock.Anything, mock.Anything).Return("tr_late", nil).Once()
	paid, err := s.service.MarkPaid(s.ctx, s.admin, req.ID)
	s.Require().NoError(err)
	s.Equal("tr_late", paid.TransferID)
	s.Equal("25.00", s.balance().TotalPaidOut.StringFixed(2))
	s.Equal("38.00", s.balance().AvailableBalance.StringFixed(2))
}

func (s *ServiceSuite) TestRejectAfterFailedTransferConfirmedAbsent() {
	req := s.failedTransfer("25.00")
	s.tr.On("LookupTransfer", mock.Anything, req.IdempotencyKey).Return("", false, nil).Once()

	rejected, err := s.service.Reject(s.ctx, s.admin, req.ID, "destination closed")
	s.Require().NoError(err)
	s.Equal(models.PayoutStatusRejected, rejected.Status)
	s.False(rejected.NeedsAttention)
	s.Equal("63.00", s.balance().AvailableBalance.StringFixed(2))
	s.tr.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestRejectAfterFailedTransferNeedsProcessorAnswer() {
	req := s.failedTransfer("25.00")
	s.tr.On("LookupTransfer", mock.Anything, req.IdempotencyKey).Return("", false, errors.New("connection reset")).Once()

	_, err := s.service.Reject(s.ctx, s.admin, req.ID, "")
	s.ErrorIs(err, apperrors.ErrExternalTransportFailure)
	s.Equal(models.PayoutStatusApproved, s.reload(req.ID).Status)
	s.Equal("38.00", s.balance().AvailableBalance.StringFixed(2))
}

func (s *ServiceSuite) TestRejectApprovedWithoutTransferSkipsLookup() {
	req := s.approved("25.00")

	_, err := s.service.Reject(s.ctx, s.admin, req.ID, "")
	s.Require().NoError(err)
	s.tr.AssertNotCalled(s.T(), "LookupTransfer", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestTransportErrorIsWrapped() {
	req := s.approved("25.00")
	s.tr.On("Transfer", mock.Anything, mock.Anything).Return("", errors.New("connection reset")).Once()

	_, err := s.service.MarkPaid(s.ctx, s.admin, req.ID)
	var terr *apperrors.TransportError
	s.Require().ErrorAs(err, &terr)
	s.Equal(1, terr.Attempts)
}

func (s *ServiceSuite) TestAdminOperationsRequirePermission() {
	req, err := s.service.Create(s.ctx, s.creator, s.input("10.00"))
	s.Require().NoError(err)

	creator := security.Principal{UserID: s.creator}
	_, err = s.service.Approve(s.ctx, creator, req.ID, "")
	s.ErrorIs(err, apperrors.ErrPermissionDenied)
	_, err = s.service.Reject(s.ctx, creator, req.ID, "")
	s.ErrorIs(err, apperrors.ErrPermissionDenied)
	_, err = s.service.MarkPaid(s.ctx, creator, req.ID)
	s.ErrorIs(err, apperrors.ErrPermissionDenied)

	s.Equal(models.PayoutStatusPending, s.reload(req.ID).Status)
}

func (s *ServiceSuite) TestUnknownRequest() {
	_, err := s.service.Approve(s.ctx, s.admin, uuid.New(), "")
	s.ErrorIs(err, apperrors.ErrNotFound)
}

func (s *ServiceSuite) TestListByStatus() {
	other := uuid.New()
	testutil.CreatePayoutRequest(s.T(), s.db, other, "12.00", models.PayoutStatusPending)
	testutil.CreatePayoutRequest(s.T(), s.db, uuid.New(), "7.00", models.PayoutStatusPaid)
	_, err := s.service.Create(s.ctx, s.creator, s.input("10.00"))
	s.Require().NoError(err)

	pending, total, err := s.service.ListByStatus(s.ctx, models.PayoutStatusPending, 1, 1)
	s.Require().NoError(err)
	s.Equal(int64(2), total)
	s.Len(pending, 1)

	all, total, err := s.service.ListByStatus(s.ctx, "", 1, 10)
	s.Require().NoError(err)
	s.Equal(int64(3), total)
	s.Len(all, 3)
}
