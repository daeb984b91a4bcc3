package payment

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	dompay "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/payment"
	domoutbox "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/outbox"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability/logctx"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/pkg/keylock"
)

const (
	defaultProviderTimeout = 10 * time.Second
	defaultPollInterval    = 3 * time.Second
	defaultPollTimeout     = 10 * time.Minute
)

type Config struct {
	MaxAttempts     int
	ProviderTimeout time.Duration
	PollInterval    time.Duration
	PollTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = dompay.DefaultMaxAttempts
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = defaultProviderTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = defaultPollTimeout
	}
	return c
}

type Dependencies struct {
	Repo      dompay.Repository
	Orders    OrderPort
	Notifier  Notifier
	IDs       IDGenerator
	Router    *Router
	Publisher domoutbox.Publisher
	Tel       observability.Observability
}

// Service is the payment engine: every exposed operation is one instrumented use case.
type Service struct {
	cfg        Config
	manager    *Manager
	router     *Router
	machine    *StateMachine
	reconciler *Reconciler
	hub        *ConfirmationHub
	poller     *Poller

	tracer      observability.Tracer
	log         observability.Logger
	reqCounter  observability.Counter   // usecase_requests_total{use_case,outcome}
	durHist     observability.Histogram // usecase_duration_seconds{use_case}
	extCounter  observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extDuration observability.Histogram // external_request_duration_seconds{peer,endpoint}
}

func NewService(deps Dependencies, cfg Config) *Service {
	cfg = cfg.withDefaults()
	tel := deps.Tel
	if tel == nil {
		tel = observability.Nop()
	}
	locks := keylock.New()
	reconciler := NewReconciler(deps.Orders, deps.Notifier, locks, tel)

	s := &Service{
		cfg:         cfg,
		manager:     NewManager(deps.Repo, deps.Orders, deps.IDs, locks, cfg.MaxAttempts),
		router:      deps.Router,
		machine:     NewStateMachine(deps.Repo, locks, reconciler, deps.Notifier, deps.Publisher, tel),
		reconciler:  reconciler,
		hub:         NewConfirmationHub(),
		tracer:      tel.Tracer(),
		log:         tel.Logger().With(observability.F("service", paymentService)),
		reqCounter:  tel.Metrics().Counter(observability.MUsecaseRequests),
		durHist:     tel.Metrics().Histogram(observability.MUsecaseDuration),
		extCounter:  tel.Metrics().Counter(observability.MExternalRequests),
		extDuration: tel.Metrics().Histogram(observability.MExternalRequestDuration),
	}
	s.poller = NewPoller(s, s.hub, cfg.ProviderTimeout, tel)
	return s
}

func (s *Service) Poller() *Poller { return s.poller }

// Shutdown stops every confirmation poller.
func (s *Service) Shutdown() { s.poller.Shutdown() }

type RequestPaymentInput struct {
	OrderID   string
	Method    string
	Amount    *decimal.Decimal
	Currency  string
	Country   string
	Card      *dompay.Card
	ReturnURL string
}

// RequestPayment creates (or re-enters) the order's intent and, when the
// intent is fresh, runs its first attempt.
func (s *Service) RequestPayment(ctx context.Context, in RequestPaymentInput) (intent *dompay.Intent, err error) {
	ctx, r := s.begin(ctx, useCaseRequest, "RequestPayment",
		attribute.String("order.id", in.OrderID),
		attribute.String("payment.method", in.Method),
	)
	defer func() {
		r.intent = intent
		r.end(err,
			observability.F("order_id", in.OrderID),
			observability.F("method", in.Method),
			observability.F("country", in.Country),
		)
	}()

	method, err := dompay.ParseMethod(in.Method)
	if err != nil {
		return nil, err
	}
	adapter, err := s.router.Resolve(method, RouteContext{Country: in.Country})
	if err != nil {
		return nil, err
	}
	r.span.SetAttributes(attribute.String("payment.adapter", adapter))

	intent, err = s.manager.CreateOrGet(ctx, CreateIntentInput{
		OrderID:  in.OrderID,
		Method:   method,
		Amount:   in.Amount,
		Currency: in.Currency,
		Country:  in.Country,
		Adapter:  adapter,
	})
	if err != nil {
		return nil, err
	}
	if intent.Status != dompay.StatusCreated {
		r.statusText = "EXISTING_INTENT"
		return intent, nil
	}

	return s.process(ctx, intent.ID, processRequest{
		onlyIfCreated: true,
		checkout:      dompay.Checkout{Country: in.Country, ReturnURL: in.ReturnURL, Card: in.Card},
	})
}

type ProcessPaymentInput struct {
	IntentID  string
	Result    *dompay.ExternalResult
	Card      *dompay.Card
	ReturnURL string
}

// ProcessPayment advances an intent: a new attempt for CREATED or FAILED
// intents, or a confirmation for intents waiting on the payer.
func (s *Service) ProcessPayment(ctx context.Context, in ProcessPaymentInput) (intent *dompay.Intent, err error) {
	ctx, r := s.begin(ctx, useCaseProcess, "ProcessPayment",
		attribute.String("payment.id", in.IntentID),
	)
	defer func() {
		r.intent = intent
		r.end(err, observability.F("intent_id", in.IntentID))
	}()

	current, err := s.manager.Get(ctx, in.IntentID)
	if err != nil {
		return nil, err
	}
	return s.process(ctx, current.ID, processRequest{
		result:   in.Result,
		checkout: dompay.Checkout{Country: current.Country, ReturnURL: in.ReturnURL, Card: in.Card},
	})
}

// CancelPayment stops any poller, asks the provider to void the attempt and
// moves a non-terminal intent to CANCELLED. Terminal intents are returned as is.
func (s *Service) CancelPayment(ctx context.Context, intentID string) (intent *dompay.Intent, err error) {
	ctx, r := s.begin(ctx, useCaseCancel, "CancelPayment",
		attribute.String("payment.id", intentID),
	)
	defer func() {
		r.intent = intent
		r.end(err, observability.F("intent_id", intentID))
	}()

	current, err := s.manager.Get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if current.IsTerminal() {
		r.statusText = "ALREADY_TERMINAL"
		return current, nil
	}

	// the poll loop settles through the state machine, so it has to be gone
	// before the intent lock is taken
	s.poller.Stop(intentID)
	defer s.poller.Stop(intentID)

	return s.machine.Do(ctx, intentID, func(sess *Session) error {
		cur := sess.Intent()
		if cur.IsTerminal() {
			return nil
		}
		if adapter, lerr := s.router.Lookup(cur.Adapter); lerr == nil && cur.ProviderRef != "" {
			callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
			cerr := s.observeExternal(callCtx, adapter.Name(), "cancel", func(c context.Context) error {
				_, e := adapter.Cancel(c, cur)
				return e
			})
			cancel()
			if cerr != nil {
				logctx.FromOr(ctx, s.log).Warn("provider_cancel_failed",
					observability.F("intent_id", cur.ID),
					observability.F("adapter", adapter.Name()),
					observability.F("error", cerr),
				)
			}
		}
		return sess.Cancel()
	})
}

func (s *Service) GetPayment(ctx context.Context, intentID string) (intent *dompay.Intent, err error) {
	ctx, r := s.begin(ctx, useCaseGet, "GetPayment",
		attribute.String("payment.id", intentID),
	)
	defer func() {
		r.intent = intent
		r.end(err, observability.F("intent_id", intentID))
	}()

	return s.manager.Get(ctx, intentID)
}

// ReportConfirmation accepts an out-of-band provider verdict. Unknown
// references and settled intents are ignored with a warning; callers never
// learn whether a reference exists.
func (s *Service) ReportConfirmation(ctx context.Context, providerRef string, result dompay.ExternalResult) (err error) {
	ctx, r := s.begin(ctx, useCaseConfirmation, "ReportConfirmation",
		attribute.String("payment.provider_ref", providerRef),
		attribute.String("payment.outcome", string(result.Outcome)),
	)
	var intent *dompay.Intent
	defer func() {
		r.intent = intent
		r.end(err,
			observability.F("provider_ref", providerRef),
			observability.F("outcome", string(result.Outcome)),
		)
	}()

	ignore := func(reason string) error {
		r.statusText = "IGNORED"
		r.logger.Warn("payment_confirmation_ignored",
			observability.F("provider_ref", providerRef),
			observability.F("reason", reason),
		)
		return nil
	}

	if _, ok := dompay.ParseOutcome(string(result.Outcome)); !ok {
		return ignore("unknown_outcome")
	}
	intent, err = s.manager.FindByProviderRef(ctx, providerRef)
	switch {
	case errors.Is(err, dompay.ErrNotFound), errors.Is(err, dompay.ErrValidation):
		return ignore("unknown_reference")
	case err != nil:
		return err
	}
	if intent.Status != dompay.StatusRequiresAction {
		return ignore("not_awaiting_confirmation")
	}

	intent, err = s.process(ctx, intent.ID, processRequest{result: &result})
	if err != nil && isBusinessOutcome(err) {
		// the verdict was applied; the declined status is on the intent
		return nil
	}
	return err
}

func isBusinessOutcome(err error) bool {
	return errors.Is(err, dompay.ErrProviderRejected) ||
		errors.Is(err, dompay.ErrProviderTimeout) ||
		errors.Is(err, dompay.ErrConflict)
}

type processRequest struct {
	onlyIfCreated bool
	result        *dompay.ExternalResult
	checkout      dompay.Checkout
}

// process runs one step for the intent under the state machine.
// Business failures come back as (intent, err) with the intent in FAILED.
func (s *Service) process(ctx context.Context, intentID string, req processRequest) (*dompay.Intent, error) {
	const op = "process payment"
	var (
		outcomeErr error
		poller     dompay.StatusPoller
		forward    bool
	)

	intent, err := s.machine.Do(ctx, intentID, func(sess *Session) error {
		cur := sess.Intent()
		adapter, err := s.router.Lookup(cur.Adapter)
		if err != nil {
			return err
		}

		switch cur.Status {
		case dompay.StatusCreated, dompay.StatusFailed:
			if req.onlyIfCreated && cur.Status != dompay.StatusCreated {
				return nil
			}
			if err := sess.BeginAttempt(); err != nil {
				return err
			}
			res, callErr := s.initiate(ctx, adapter, sess.Intent(), req.checkout)
			outcomeErr = initiateOutcome(res, callErr)
			if err := applyInitiate(sess, res, outcomeErr); err != nil {
				return err
			}
			if sess.Intent().Status == dompay.StatusRequiresAction {
				poller, _ = adapter.(dompay.StatusPoller)
			}
			return nil

		case dompay.StatusRequiresAction:
			if req.result == nil {
				return nil
			}
			if p, ok := adapter.(dompay.StatusPoller); ok {
				poller, forward = p, true
				return nil
			}
			res, callErr := s.confirm(ctx, adapter, cur, *req.result)
			outcomeErr = confirmOutcome(res, callErr)
			return applyConfirm(sess, res, outcomeErr)

		case dompay.StatusCompleted:
			return nil

		case dompay.StatusCancelled:
			return dompay.Conflict(op, "payment was cancelled")

		default:
			return dompay.Conflict(op, "payment is already being processed")
		}
	})
	if err != nil {
		return intent, err
	}

	if poller != nil {
		s.poller.Start(intent, poller.Poll, s.cfg.PollInterval, s.cfg.PollTimeout)
		if forward && !s.hub.Deliver(intent.ProviderRef, *req.result) {
			logctx.FromOr(ctx, s.log).Warn("confirmation_not_delivered",
				observability.F("intent_id", intent.ID),
				observability.F("provider_ref", intent.ProviderRef),
			)
		}
	}
	return intent, outcomeErr
}

// initiate calls the adapter under the provider timeout.
func (s *Service) initiate(ctx context.Context, adapter dompay.Adapter, intent *dompay.Intent, checkout dompay.Checkout) (dompay.InitiateResult, error) {
	var res dompay.InitiateResult
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()
	err := s.observeExternal(callCtx, adapter.Name(), "initiate", func(c context.Context) error {
		var e error
		res, e = adapter.Initiate(c, intent, checkout)
		return e
	})
	return res, err
}

func (s *Service) confirm(ctx context.Context, adapter dompay.Adapter, intent *dompay.Intent, result dompay.ExternalResult) (dompay.ConfirmResult, error) {
	var res dompay.ConfirmResult
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()
	err := s.observeExternal(callCtx, adapter.Name(), "confirm", func(c context.Context) error {
		var e error
		res, e = adapter.Confirm(c, intent, result)
		return e
	})
	return res, err
}

// observeExternal records external_* metrics and turns an overrun into a timeout.
func (s *Service) observeExternal(ctx context.Context, peer, endpoint string, call func(context.Context) error) error {
	start := time.Now()
	err := call(ctx)
	if err == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = ctx.Err()
	}
	elapsed := time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	s.extCounter.Add(1,
		observability.L("peer", peer),
		observability.L("endpoint", endpoint),
		observability.L("outcome", outcome),
	)
	s.extDuration.Observe(elapsed.Seconds(),
		observability.L("peer", peer),
		observability.L("endpoint", endpoint),
	)
	return dompay.Normalize(peer+" "+endpoint, err)
}

// initiateOutcome is the error handed back to the caller for a failed attempt.
func initiateOutcome(res dompay.InitiateResult, callErr error) error {
	const op = "initiate payment"
	switch {
	case callErr != nil:
		return callErr
	case res.Status == dompay.StatusCompleted:
		return nil
	case res.Status == dompay.StatusRequiresAction && res.ProviderRef != "":
		return nil
	case res.Status == dompay.StatusRequiresAction:
		return dompay.Rejected(op, "provider did not return a reference")
	case res.Status == dompay.StatusFailed:
		return dompay.Rejected(op, res.Message)
	default:
		return dompay.Rejected(op, "provider returned an unexpected status")
	}
}

func applyInitiate(sess *Session, res dompay.InitiateResult, outcome error) error {
	if outcome != nil {
		return sess.Fail(failureReason(outcome), dompay.MessageOf(outcome))
	}
	if res.Status == dompay.StatusRequiresAction {
		return sess.RequireAction(res.ProviderRef, res.NextAction)
	}
	return sess.Complete(res.ProviderRef)
}

// confirmOutcome mirrors initiateOutcome; a pending result is not an error.
func confirmOutcome(res dompay.ConfirmResult, callErr error) error {
	switch {
	case callErr != nil:
		return callErr
	case res.Status == dompay.StatusFailed, res.Status == dompay.StatusCancelled:
		return dompay.Rejected("confirm payment", res.Message)
	default:
		return nil
	}
}

func applyConfirm(sess *Session, res dompay.ConfirmResult, outcome error) error {
	if errors.Is(outcome, dompay.ErrProviderUnavailable) {
		// no verdict from the provider; the intent keeps waiting
		return nil
	}
	if outcome != nil {
		return sess.Fail(failureReason(outcome), dompay.MessageOf(outcome))
	}
	if res.Status == dompay.StatusCompleted {
		return sess.Complete("")
	}
	// still pending at the provider
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, dompay.ErrProviderTimeout):
		return dompay.ReasonProviderTimeout
	case errors.Is(err, dompay.ErrProviderRejected):
		return dompay.ReasonProviderRejected
	default:
		return dompay.ReasonProviderError
	}
}

// Awaiting reports whether the intent still waits on the payer.
func (s *Service) Awaiting(ctx context.Context, intentID string) (bool, error) {
	intent, err := s.manager.Get(ctx, intentID)
	if err != nil {
		return false, err
	}
	return intent.Status == dompay.StatusRequiresAction, nil
}

// Settle applies a terminal verdict found by the poller.
func (s *Service) Settle(ctx context.Context, intentID string, result dompay.ExternalResult) error {
	_, err := s.machine.Do(ctx, intentID, func(sess *Session) error {
		cur := sess.Intent()
		if cur.Status != dompay.StatusRequiresAction {
			return nil
		}
		adapter, err := s.router.Lookup(cur.Adapter)
		if err != nil {
			return err
		}
		res, callErr := s.confirm(ctx, adapter, cur, result)
		outcome := confirmOutcome(res, callErr)
		if errors.Is(outcome, dompay.ErrProviderUnavailable) {
			// the poller retries on error
			return outcome
		}
		return applyConfirm(sess, res, outcome)
	})
	return err
}

// Expire fails an intent whose confirmation never arrived.
func (s *Service) Expire(ctx context.Context, intentID string) error {
	_, err := s.machine.Do(ctx, intentID, func(sess *Session) error {
		if sess.Intent().Status != dompay.StatusRequiresAction {
			return nil
		}
		return sess.Fail(dompay.ReasonConfirmationTimeout, "payment confirmation timed out")
	})
	return err
}
