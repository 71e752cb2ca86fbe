package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dimonss/AccountingForRepairsBackend/internal/model"
	"github.com/dimonss/AccountingForRepairsBackend/internal/service"
)

type updateUserReq struct {
	FullName *string `json:"full_name"`
	Role     *string `json:"role"`
	IsActive *bool   `json:"is_active"`
}

type accountPart struct {
	userPart
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login"`
}

func account(u model.User) accountPart {
	return accountPart{
		userPart:  principalPart(u.Principal()),
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
		LastLogin: u.LastLogin,
	}
}

// Register: admin creates a staff account.
func (h *AuthHandler) Register(c echo.Context) error {
	p, found := principal(c)
	if !found {
		return nil
	}
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := timeout(c)
	defer cancel()

	u, err := h.Users.Register(ctx, p, service.NewUser{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Role:     req.Role,
	})
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return ok(c, http.StatusCreated, echo.Map{"user": principalPart(u.Principal())}, "User created successfully")
}

// ListUsers: admin lists every account.
func (h *AuthHandler) ListUsers(c echo.Context) error {
	p, found := principal(c)
	if !found {
		return nil
	}
	ctx, cancel := timeout(c)
	defer cancel()

	users, err := h.Users.List(ctx, p)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	out := make([]accountPart, 0, len(users))
	for _, u := range users {
		out = append(out, account(u))
	}
	return ok(c, http.StatusOK, out, "")
}

// UpdateUser: admin edits name, role or active flag of an account.
func (h *AuthHandler) UpdateUser(c echo.Context) error {
	p, found := principal(c)
	if !found {
		return nil
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return fail(c, http.StatusBadRequest, "Invalid user id", "VALIDATION_ERROR")
	}
	var req updateUserReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	patch := model.UserPatch{FullName: req.FullName, IsActive: req.IsActive}
	if req.Role != nil {
		role, valid := model.ParseRole(*req.Role)
		if !valid {
			return fail(c, http.StatusBadRequest, "Invalid role. Must be admin, manager, or employee", "VALIDATION_ERROR")
		}
		patch.Role = &role
	}

	ctx, cancel := timeout(c)
	defer cancel()

	u, err := h.Users.Update(ctx, p, id, patch)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return fail(c, http.StatusNotFound, "User not found", "NOT_FOUND")
		}
		return writeError(c, h.Log, err)
	}
	return ok(c, http.StatusOK, echo.Map{"user": account(u)}, "User updated successfully")
}
