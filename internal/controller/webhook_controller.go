package controller

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"contentlift_backend/pkg/archive"
	"contentlift_backend/pkg/billing"
	"contentlift_backend/pkg/subscription"
)

type WebhookController struct {
	manager  *subscription.Manager
	archiver archive.Archiver
	secret   string
	log      logrus.FieldLogger
}

func NewWebhookController(manager *subscription.Manager, archiver archive.Archiver, secret string, log logrus.FieldLogger) *WebhookController {
	if archiver == nil {
		archiver = archive.Discard{}
	}
	return &WebhookController{
		manager:  manager,
		archiver: archiver,
		secret:   secret,
		log:      log,
	}
}

// HandleStripeWebhook verifies, archives and reconciles a Stripe event.
// Anything that a retry cannot fix is acknowledged with 200 so Stripe stops
// redelivering. Bad signatures and events in the wrong API version answer
// 400, local failures 500.
func (ctl *WebhookController) HandleStripeWebhook(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.Body()...)

	evt, err := billing.ParseWebhook(payload, c.Get("Stripe-Signature"), ctl.secret)
	if errors.Is(err, billing.ErrInvalidSignature) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid webhook signature",
		})
	}

	log := ctl.log
	if evt != nil {
		log = ctl.log.WithFields(logrus.Fields{"event_id": evt.ID, "event_type": evt.Type})
		ctl.archive(c.UserContext(), evt, payload, log)
	}

	if errors.Is(err, billing.ErrAPIVersionMismatch) {
		log.WithError(err).Error("webhook endpoint is on the wrong Stripe API version, events are not reconciled")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unsupported webhook API version",
		})
	}
	if errors.Is(err, billing.ErrUnhandledEvent) {
		log.Debug("ignoring webhook event")
		return c.JSON(fiber.Map{"received": true, "outcome": subscription.OutcomeIgnored})
	}
	if err != nil {
		log.WithError(err).Warn("could not translate webhook event")
		return c.JSON(fiber.Map{"received": true, "outcome": subscription.OutcomeRejected})
	}

	log.Info("Processing Stripe webhook event")
	outcome, err := ctl.manager.Reconcile(c.UserContext(), *evt.Event)
	if err != nil {
		var (
			nf  *subscription.NotFoundError
			it  *subscription.InvalidTransitionError
			iev *subscription.InvalidEventError
		)
		switch {
		case errors.As(err, &nf):
			log.WithError(err).Warn("webhook for unknown subscription")
		case errors.As(err, &it), errors.As(err, &iev):
			// Already logged by the manager.
		default:
			return err
		}
	}

	return c.JSON(fiber.Map{"received": true, "outcome": outcome})
}

func (ctl *WebhookController) archive(ctx context.Context, evt *billing.WebhookEvent, payload []byte, log logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := ctl.archiver.Archive(ctx, evt.ID, evt.Type, time.Now(), payload); err != nil {
		log.WithError(err).Warn("could not archive webhook payload")
	}
}
