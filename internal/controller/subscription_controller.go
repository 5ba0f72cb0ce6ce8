package controller

import (
	"github.com/gofiber/fiber/v2"

	"contentlift_backend/internal/middleware"
	"contentlift_backend/pkg/subscription"
)

type PlanInput struct {
	PlanID string `json:"planId" validate:"required,max=64"`
}

type SubscriptionController struct {
	manager *subscription.Manager
}

func NewSubscriptionController(manager *subscription.Manager) *SubscriptionController {
	return &SubscriptionController{manager: manager}
}

func (ctl *SubscriptionController) ListPlans(c *fiber.Ctx) error {
	plans, err := ctl.manager.Plans(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(plans)
}

func (ctl *SubscriptionController) GetMySubscription(c *fiber.Ctx) error {
	claims := middleware.Claims(c)

	sub, err := ctl.manager.CurrentSubscription(c.UserContext(), claims.AccountID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"subscription": sub,
		"badge":        sub.Status.Badge(),
		"limits":       subscription.GetPlanLimits(sub.Plan),
	})
}

func (ctl *SubscriptionController) GetOverview(c *fiber.Ctx) error {
	claims := middleware.Claims(c)

	overview, err := ctl.manager.Overview(c.UserContext(), claims.AccountID)
	if err != nil {
		return err
	}
	return c.JSON(overview)
}

// CheckAllowance answers whether the account may use one more unit of a
// resource, given ?used=N already consumed this period.
func (ctl *SubscriptionController) CheckAllowance(c *fiber.Ctx) error {
	claims := middleware.Claims(c)

	used := c.QueryInt("used", 0)
	if used < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "used must not be negative")
	}
	allowance, err := ctl.manager.Allowance(c.UserContext(), claims.AccountID, subscription.Resource(c.Params("resource")), used)
	if err != nil {
		return err
	}
	return c.JSON(allowance)
}

func (ctl *SubscriptionController) Subscribe(c *fiber.Ctx) error {
	input := new(PlanInput)
	if err := parseBody(c, input); err != nil {
		return err
	}
	claims := middleware.Claims(c)

	sub, err := ctl.manager.Subscribe(c.UserContext(), claims.AccountID, claims.Email, input.PlanID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":      "Subscription created successfully",
		"subscription": sub,
	})
}

func (ctl *SubscriptionController) ChangePlan(c *fiber.Ctx) error {
	input := new(PlanInput)
	if err := parseBody(c, input); err != nil {
		return err
	}
	claims := middleware.Claims(c)

	sub, err := ctl.manager.ChangePlan(c.UserContext(), claims.AccountID, input.PlanID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"message":      "Plan updated successfully",
		"subscription": sub,
	})
}

func (ctl *SubscriptionController) CancelSubscription(c *fiber.Ctx) error {
	claims := middleware.Claims(c)

	sub, err := ctl.manager.Cancel(c.UserContext(), claims.AccountID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"message":      "Subscription will be cancelled at the end of the billing period",
		"subscription": sub,
	})
}

func (ctl *SubscriptionController) ReactivateSubscription(c *fiber.Ctx) error {
	claims := middleware.Claims(c)

	sub, err := ctl.manager.Reactivate(c.UserContext(), claims.AccountID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"message":      "Subscription reactivated successfully",
		"subscription": sub,
	})
}
