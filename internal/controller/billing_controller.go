package controller

import (
	"github.com/gofiber/fiber/v2"

	"contentlift_backend/internal/middleware"
	"contentlift_backend/pkg/subscription"
)

type PaymentMethodInput struct {
	PaymentMethodID string `json:"paymentMethodId" validate:"required,max=255"`
	MakeDefault     bool   `json:"makeDefault"`
}

type BillingController struct {
	manager *subscription.Manager
}

func NewBillingController(manager *subscription.Manager) *BillingController {
	return &BillingController{manager: manager}
}

func (ctl *BillingController) ListInvoices(c *fiber.Ctx) error {
	claims := middleware.Claims(c)

	invoices, err := ctl.manager.ListInvoices(c.UserContext(), claims.AccountID)
	if err != nil {
		return err
	}
	return c.JSON(invoices)
}

// DownloadInvoice redirects to the provider-hosted PDF.
func (ctl *BillingController) DownloadInvoice(c *fiber.Ctx) error {
	claims := middleware.Claims(c)

	invoice, err := ctl.manager.Invoice(c.UserContext(), claims.AccountID, c.Params("id"))
	if err != nil {
		return err
	}
	if invoice.PDFURL == "" {
		return fiber.NewError(fiber.StatusNotFound, "Invoice PDF is not available yet")
	}
	return c.Redirect(invoice.PDFURL, fiber.StatusFound)
}

func (ctl *BillingController) ListPaymentMethods(c *fiber.Ctx) error {
	claims := middleware.Claims(c)

	methods, err := ctl.manager.ListPaymentMethods(c.UserContext(), claims.AccountID)
	if err != nil {
		return err
	}
	return c.JSON(methods)
}

func (ctl *BillingController) AddPaymentMethod(c *fiber.Ctx) error {
	input := new(PaymentMethodInput)
	if err := parseBody(c, input); err != nil {
		return err
	}
	claims := middleware.Claims(c)

	methods, err := ctl.manager.AddPaymentMethod(c.UserContext(), claims.AccountID, input.PaymentMethodID, input.MakeDefault)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(methods)
}

func (ctl *BillingController) SetDefaultPaymentMethod(c *fiber.Ctx) error {
	claims := middleware.Claims(c)

	methods, err := ctl.manager.SetDefaultPaymentMethod(c.UserContext(), claims.AccountID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(methods)
}

func (ctl *BillingController) RemovePaymentMethod(c *fiber.Ctx) error {
	claims := middleware.Claims(c)

	methods, err := ctl.manager.RemovePaymentMethod(c.UserContext(), claims.AccountID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(methods)
}
