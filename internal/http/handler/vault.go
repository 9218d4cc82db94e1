package handler

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"docvault/internal/model"
	"docvault/internal/service"
	"docvault/internal/vault"
)

type lockAction func(ctx context.Context, documentID string, actor model.Actor) (*service.LockStatus, error)

// transition runs a lock state change on behalf of the calling actor.
func transition(action lockAction) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := documentID(c)
		if id == "" {
			return err
		}
		actor, ok := actorFromCtx(c)
		if !ok {
			return actorRequired(c)
		}
		st, err := action(c.UserContext(), id, actor)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(st)
	}
}

// GetLockStatus godoc
// @Summary Lock and retention state of a document
// @Param id path string true "document id"
// @Success 200 {object} service.LockStatus
// @Router /vault/documents/{id}/lock [get]
func GetLockStatus(vaultSvc service.VaultService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := documentID(c)
		if id == "" {
			return err
		}
		st, err := vaultSvc.Status(c.UserContext(), id)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(st)
	}
}

// LockDocument godoc
// @Summary Manually lock a document
// @Param id path string true "document id"
// @Success 200 {object} service.LockStatus
// @Failure 409 {object} errorPayload "locked by another actor or retention-locked"
// @Router /vault/documents/{id}/lock [post]
func LockDocument(vaultSvc service.VaultService) fiber.Handler {
	return transition(vaultSvc.Lock)
}

// UnlockDocument godoc
// @Summary Unlock a document
// @Param id path string true "document id"
// @Success 200 {object} service.LockStatus
// @Failure 409 {object} errorPayload "retention period has not ended"
// @Router /vault/documents/{id}/unlock [post]
func UnlockDocument(vaultSvc service.VaultService) fiber.Handler {
	return transition(vaultSvc.Unlock)
}

// VerifyDocument submits the document to the verification provider. A
// rejection answers 422; the rejected state is then visible on GET .../lock.
func VerifyDocument(vaultSvc service.VaultService) fiber.Handler {
	return transition(vaultSvc.Verify)
}

func DocumentActivity(vaultSvc service.VaultService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := documentID(c)
		if id == "" {
			return err
		}
		entries, err := vaultSvc.Activity(c.UserContext(), id)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(fiber.Map{"data": entries})
	}
}

// LockTransaction godoc
// @Summary Lock every document of a transaction
// @Param id path string true "transaction id"
// @Success 200 {object} service.BulkLockResult
// @Router /vault/transactions/{id}/lock-all [post]
func LockTransaction(vaultSvc service.VaultService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := actorFromCtx(c)
		if !ok {
			return actorRequired(c)
		}
		res, err := vaultSvc.LockAll(c.UserContext(), c.Params("id"), actor)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(res)
	}
}

type transactionStatusRequest struct {
	Status         string `json:"status"`
	Role           string `json:"role"`
	CollateralType string `json:"collateral_type"`
	RequestType    string `json:"request_type"`
	InstrumentType string `json:"instrument_type"`
}

// TransactionStatus godoc
// @Summary Report a transaction status change; "funded" applies retention
// @Param id path string true "transaction id"
// @Success 200 {object} service.BulkLockResult
// @Router /vault/transactions/{id}/status [post]
func TransactionStatus(vaultSvc service.VaultService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req transactionStatusRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}
		if strings.TrimSpace(req.Status) == "" {
			return writeError(c, fiber.StatusBadRequest, "STATUS_REQUIRED", "status is required")
		}
		role := req.Role
		if role == "" {
			role = c.Get(ActorRoleHeader)
		}

		res, err := vaultSvc.TransactionStatus(c.UserContext(), vault.TransactionStatusChange{
			TransactionID:  c.Params("id"),
			Status:         req.Status,
			Role:           strings.ToLower(strings.TrimSpace(role)),
			CollateralType: req.CollateralType,
			RequestType:    req.RequestType,
			InstrumentType: req.InstrumentType,
		})
		if err != nil {
			if errors.Is(err, vault.ErrNoPolicy) && role == "" {
				return writeError(c, fiber.StatusBadRequest, "ROLE_REQUIRED", "role is required to resolve a retention policy")
			}
			return writeServiceError(c, err)
		}
		return c.JSON(res)
	}
}
