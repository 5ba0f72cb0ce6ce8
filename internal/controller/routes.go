package controller

import "github.com/gofiber/fiber/v2"

type Handlers struct {
	Auth          fiber.Handler
	Subscriptions *SubscriptionController
	Billing       *BillingController
	Webhooks      *WebhookController
}

func SetupRoutes(app *fiber.App, h Handlers) {
	api := app.Group("/api")

	// Public Routes
	api.Get("/subscription-plans", h.Subscriptions.ListPlans)
	api.Post("/webhook", h.Webhooks.HandleStripeWebhook)

	// Subscription Routes
	subs := api.Group("/subscription", h.Auth)
	subs.Get("/current", h.Subscriptions.GetMySubscription)
	subs.Get("/overview", h.Subscriptions.GetOverview)
	subs.Get("/allowance/:resource", h.Subscriptions.CheckAllowance)
	subs.Post("/checkout", h.Subscriptions.Subscribe)
	subs.Post("/change-plan", h.Subscriptions.ChangePlan)
	subs.Post("/cancel", h.Subscriptions.CancelSubscription)
	subs.Post("/reactivate", h.Subscriptions.ReactivateSubscription)

	// Invoice Routes
	invoices := api.Group("/invoices", h.Auth)
	invoices.Get("/", h.Billing.ListInvoices)
	invoices.Get("/:id/download", h.Billing.DownloadInvoice)

	// Payment Method Routes
	methods := api.Group("/payment-methods", h.Auth)
	methods.Get("/", h.Billing.ListPaymentMethods)
	methods.Post("/", h.Billing.AddPaymentMethod)
	methods.Put("/:id/default", h.Billing.SetDefaultPaymentMethod)
	methods.Delete("/:id", h.Billing.RemovePaymentMethod)
}
