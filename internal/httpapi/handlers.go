package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"

	"github.com/harborpoint/bookingbridge/internal/caspio"
	"github.com/harborpoint/bookingbridge/internal/chatbot"
	"github.com/harborpoint/bookingbridge/internal/payments"
	"github.com/harborpoint/bookingbridge/internal/store/eventlog"
	"github.com/harborpoint/bookingbridge/pkg/booking"
	"github.com/harborpoint/bookingbridge/pkg/swrcache"
)

const (
	dateLayout            = "2006-01-02"
	webhookSource         = "stripe"
	defaultRecentEvents   = 50
	maxRecentEvents       = 500
	eventCheckoutComplete = "checkout.session.completed"
	eventChargeRefunded   = "charge.refunded"
)

// ReservationStore is the datastore surface the handlers proxy to.
type ReservationStore interface {
	Availability(ctx context.Context, date string, unit string) ([]caspio.Record, error)
	Listings(ctx context.Context, category string) ([]caspio.Record, error)
	InsertReservation(ctx context.Context, input caspio.ReservationInput) error
	ReservationRecord(ctx context.Context, resID string) (caspio.Record, error)
	TransactionByIDKey(ctx context.Context, idKey string) (caspio.Record, error)
	TransactionByCharge(ctx context.Context, chargeID string) (caspio.Record, error)
	MarkTransactionPaid(ctx context.Context, resID string, sessionID string, chargeID string) error
	MarkTransactionRefunded(ctx context.Context, chargeID string) error
}

// PaymentsClient is the payment-provider surface the handlers depend on.
type PaymentsClient interface {
	CreateCheckoutSession(ctx context.Context, input payments.CheckoutInput) (payments.CheckoutSession, error)
	Refund(ctx context.Context, paymentID string) (payments.RefundInfo, error)
	VerifyWebhook(payload []byte, signatureHeader string) (stripe.Event, error)
}

// RollupEngine recomputes the per-reservation aggregate row.
type RollupEngine interface {
	Recompute(ctx context.Context, entityID booking.EntityID) (booking.RollupResult, error)
}

// EventJournal persists webhook deliveries for idempotency and ops visibility.
type EventJournal interface {
	Record(ctx context.Context, event eventlog.Event) (bool, error)
	MarkStatus(ctx context.Context, eventID string, status string) error
	Recent(ctx context.Context, limit int) ([]eventlog.Event, error)
}

type httpHandler struct {
	logger         *zap.Logger
	cfg            Config
	store          ReservationStore
	availability   *swrcache.Cache[[]caspio.Record]
	listings       *swrcache.Cache[[]caspio.Record]
	rollups        RollupEngine
	paymentsClient PaymentsClient
	journal        EventJournal
	receipts       *payments.ReceiptTokens
	script         *chatbot.Script
}

func (handler *httpHandler) handleHealthz(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (handler *httpHandler) handleAvailability(ctx *gin.Context) {
	date := ctx.Query("date")
	if date == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeValidation, "date query parameter is required"))
		return
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeValidation, "date must be formatted YYYY-MM-DD"))
		return
	}
	unit := ctx.Query("unit")
	key := "availability|" + date + "|" + unit
	result, err := handler.availability.Get(ctx.Request.Context(), key, func(fetchCtx context.Context) ([]caspio.Record, error) {
		return handler.store.Availability(fetchCtx, date, unit)
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"cached":    result.Freshness != swrcache.FreshnessLive,
		"freshness": result.Freshness,
		"age_ms":    result.Age.Milliseconds(),
		"rows":      result.Value,
	})
}

func (handler *httpHandler) handleListings(ctx *gin.Context) {
	category := ctx.Query("category")
	key := "listings|" + category
	result, err := handler.listings.Get(ctx.Request.Context(), key, func(fetchCtx context.Context) ([]caspio.Record, error) {
		return handler.store.Listings(fetchCtx, category)
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"cached":    result.Freshness != swrcache.FreshnessLive,
		"freshness": result.Freshness,
		"age_ms":    result.Age.Milliseconds(),
		"pairs":     result.Value,
	})
}

type createReservationRequest struct {
	ResID        string `json:"resId"`
	BusinessUnit string `json:"businessUnit"`
	Email        string `json:"email"`
	Date         string `json:"date"`
	Total        string `json:"total"`
}

func (handler *httpHandler) handleCreateReservation(ctx *gin.Context) {
	var request createReservationRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeValidation, "invalid reservation payload"))
		return
	}
	if request.Date == "" || request.BusinessUnit == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeValidation, "businessUnit and date are required"))
		return
	}
	if _, err := time.Parse(dateLayout, request.Date); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeValidation, "date must be formatted YYYY-MM-DD"))
		return
	}
	total, err := decimal.NewFromString(request.Total)
	if err != nil || total.IsNegative() {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeValidation, "total must be a non-negative decimal"))
		return
	}
	resID := request.ResID
	if resID == "" {
		resID = uuid.NewString()
	}
	input := caspio.ReservationInput{
		ResID:        resID,
		IDKey:        uuid.NewString(),
		BusinessUnit: request.BusinessUnit,
		Email:        request.Email,
		Date:         request.Date,
		Total:        total,
	}
	if err := handler.store.InsertReservation(ctx.Request.Context(), input); err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"ok": true, "resId": resID})
}

func (handler *httpHandler) handleGetReservation(ctx *gin.Context) {
	record, err := handler.store.ReservationRecord(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"ok": true, "reservation": record})
}

type checkoutRequest struct {
	ResID string `json:"resId"`
}

func (handler *httpHandler) handleCheckout(ctx *gin.Context) {
	var request checkoutRequest
	if err := ctx.ShouldBindJSON(&request); err != nil || request.ResID == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeValidation, "resId is required"))
		return
	}
	record, err := handler.store.ReservationRecord(ctx.Request.Context(), request.ResID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	token, err := handler.receipts.Mint(record.Text(caspio.FieldIDKey), request.ResID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	amountCents := record.Number(caspio.FieldTotal).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	session, err := handler.paymentsClient.CreateCheckoutSession(ctx.Request.Context(), payments.CheckoutInput{
		ResID:        request.ResID,
		Description:  fmt.Sprintf("Reservation %s (%s)", request.ResID, record.Text(caspio.FieldBusinessUnit)),
		Email:        record.Text(caspio.FieldEmail),
		AmountCents:  amountCents,
		ReceiptToken: token,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"ok": true, "sessionId": session.SessionID, "url": session.URL})
}

type recomputeRequest struct {
	Event string            `json:"event"`
	Data  map[string]string `json:"data"`
}

// handleRollupRecompute is the trigger endpoint the datastore fires on every
// transaction mutation. It authenticates with the shared secret on its own so
// the fired webhook can carry the token as a query parameter.
func (handler *httpHandler) handleRollupRecompute(ctx *gin.Context) {
	if !secretMatches(tokenFromRequest(ctx), handler.cfg.SharedSecret) {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorCodeAuth, "missing or invalid shared secret"))
		return
	}
	var request recomputeRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeValidation, "invalid trigger payload"))
		return
	}
	entityID, err := booking.NewEntityID(request.Data["RES_ID"])
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeValidation, "RES_ID is required"))
		return
	}
	result, err := handler.rollups.Recompute(ctx.Request.Context(), entityID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"ok":              true,
		"action":          result.Action,
		"entityId":        result.EntityID,
		"subtotalPrimary": result.SubtotalPrimary,
		"subtotalAddon":   result.SubtotalAddon,
		"total":           result.Total,
		"source":          result.Source,
	})
}

func (handler *httpHandler) handleStripeWebhook(ctx *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(ctx.Writer, ctx.Request.Body, payments.WebhookBodyLimit))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeValidation, "unreadable webhook body"))
		return
	}
	event, err := handler.paymentsClient.VerifyWebhook(payload, ctx.GetHeader("Stripe-Signature"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	entityID := webhookEntityID(event)
	isNew, err := handler.journal.Record(ctx.Request.Context(), eventlog.Event{
		EventID:  event.ID,
		Source:   webhookSource,
		Type:     string(event.Type),
		EntityID: entityID,
		Payload:  string(payload),
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	if !isNew {
		ctx.JSON(http.StatusOK, gin.H{"received": true, "status": "duplicate"})
		return
	}
	if err := handler.processStripeEvent(ctx, event); err != nil {
		if markErr := handler.journal.MarkStatus(ctx.Request.Context(), event.ID, eventlog.StatusFailed); markErr != nil {
			handler.logger.Warn("mark webhook event failed", zap.String("event_id", event.ID), zap.Error(markErr))
		}
		respondError(ctx, err)
		return
	}
	if err := handler.journal.MarkStatus(ctx.Request.Context(), event.ID, eventlog.StatusProcessed); err != nil {
		handler.logger.Warn("mark webhook event processed", zap.String("event_id", event.ID), zap.Error(err))
	}
	ctx.JSON(http.StatusOK, gin.H{"received": true, "status": "processed"})
}

func (handler *httpHandler) processStripeEvent(ctx *gin.Context, event stripe.Event) error {
	switch string(event.Type) {
	case eventCheckoutComplete:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("%w: decode checkout session: %v", booking.ErrValidation, err)
		}
		resID := session.ClientReferenceID
		if resID == "" {
			resID = session.Metadata["RES_ID"]
		}
		if resID == "" {
			return fmt.Errorf("%w: checkout session carries no reservation id", booking.ErrValidation)
		}
		chargeID := ""
		if session.PaymentIntent != nil {
			chargeID = session.PaymentIntent.ID
		}
		if err := handler.store.MarkTransactionPaid(ctx.Request.Context(), resID, session.ID, chargeID); err != nil {
			return err
		}
		return handler.recomputeFor(ctx, resID)
	case eventChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return fmt.Errorf("%w: decode charge: %v", booking.ErrValidation, err)
		}
		transaction, err := handler.store.TransactionByCharge(ctx.Request.Context(), charge.ID)
		if err != nil {
			return err
		}
		if err := handler.store.MarkTransactionRefunded(ctx.Request.Context(), charge.ID); err != nil {
			return err
		}
		return handler.recomputeFor(ctx, transaction.Text(caspio.FieldResID))
	default:
		handler.logger.Info("ignoring webhook event", zap.String("type", string(event.Type)))
		return nil
	}
}

func (handler *httpHandler) recomputeFor(ctx *gin.Context, resID string) error {
	entityID, err := booking.NewEntityID(resID)
	if err != nil {
		return err
	}
	_, err = handler.rollups.Recompute(ctx.Request.Context(), entityID)
	return err
}

type refundRequest struct {
	TransactionID string `json:"transactionId"`
}

func (handler *httpHandler) handleRefund(ctx *gin.Context) {
	var request refundRequest
	if err := ctx.ShouldBindJSON(&request); err != nil || request.TransactionID == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeValidation, "transactionId is required"))
		return
	}
	record, err := handler.store.TransactionByIDKey(ctx.Request.Context(), request.TransactionID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	chargeID := record.Text(caspio.FieldChargeID)
	if chargeID == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeValidation, "transaction has no charge to refund"))
		return
	}
	refund, err := handler.paymentsClient.Refund(ctx.Request.Context(), chargeID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	if err := handler.store.MarkTransactionRefunded(ctx.Request.Context(), chargeID); err != nil {
		respondError(ctx, err)
		return
	}
	if err := handler.recomputeFor(ctx, record.Text(caspio.FieldResID)); err != nil {
		handler.logger.Warn("recompute after refund", zap.String("res_id", record.Text(caspio.FieldResID)), zap.Error(err))
	}
	ctx.JSON(http.StatusOK, gin.H{"ok": true, "refundId": refund.RefundID, "status": refund.Status})
}

func (handler *httpHandler) handleReceipt(ctx *gin.Context) {
	claims, err := handler.receipts.Verify(ctx.Query("token"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	record, err := handler.store.TransactionByIDKey(ctx.Request.Context(), claims.TransactionID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"ok": true,
		"receipt": gin.H{
			"resId":        record.Text(caspio.FieldResID),
			"businessUnit": record.Text(caspio.FieldBusinessUnit),
			"date":         record.Text(caspio.FieldDate),
			"email":        record.Text(caspio.FieldEmail),
			"status":       record.Text(caspio.FieldStatus),
			"total":        record.Number(caspio.FieldTotal),
			"chargeId":     record.Text(caspio.FieldChargeID),
		},
	})
}

type chatbotRequest struct {
	Step   string        `json:"step"`
	Answer string        `json:"answer"`
	State  chatbot.State `json:"state"`
}

func (handler *httpHandler) handleChatbotStep(ctx *gin.Context) {
	var request chatbotRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeValidation, "invalid chatbot payload"))
		return
	}
	if request.Step == "" {
		start := handler.script.Start()
		ctx.JSON(http.StatusOK, chatbotStepResponse(start, chatbot.State{}))
		return
	}
	next, state, err := handler.script.Advance(request.State, request.Step, request.Answer)
	if err != nil {
		respondError(ctx, err)
		return
	}
	response := chatbotStepResponse(next, state)
	if next.Terminal() {
		lead := chatbot.LeadFromState(state)
		response["lead"] = gin.H{
			"unit":      lead.Unit,
			"date":      lead.Date,
			"partySize": lead.PartySize,
			"email":     lead.Email,
		}
	}
	ctx.JSON(http.StatusOK, response)
}

func chatbotStepResponse(step chatbot.Step, state chatbot.State) gin.H {
	options := make([]string, 0, len(step.Options))
	for _, option := range step.Options {
		options = append(options, option.Label)
	}
	return gin.H{
		"ok": true,
		"step": gin.H{
			"id":      step.ID,
			"prompt":  step.Prompt,
			"options": options,
		},
		"state": state,
		"done":  step.Terminal(),
	}
}

func (handler *httpHandler) handleRecentEvents(ctx *gin.Context) {
	limit := defaultRecentEvents
	if raw := ctx.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeValidation, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	if limit > maxRecentEvents {
		limit = maxRecentEvents
	}
	events, err := handler.journal.Recent(ctx.Request.Context(), limit)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"ok": true, "events": events})
}

func webhookEntityID(event stripe.Event) string {
	var envelope struct {
		ClientReferenceID string            `json:"client_reference_id"`
		Metadata          map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(event.Data.Raw, &envelope); err != nil {
		return ""
	}
	if envelope.ClientReferenceID != "" {
		return envelope.ClientReferenceID
	}
	return envelope.Metadata["RES_ID"]
}
