package handler

import (
	"context"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"

	"StillOK/internal/middleware"
	"StillOK/internal/model"
	"StillOK/internal/model/dto"
	"StillOK/internal/service"
	pkgerrors "StillOK/pkg/errors"
	"StillOK/pkg/response"
)

// ListContacts 联系人列表
// GET /v1/contacts
func ListContacts(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserIDInt64(ctx, c)
	if !ok {
		response.Error(ctx, c, pkgerrors.Unauthorized)
		return
	}

	result, err := service.Contact().ListContacts(ctx, userID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, result)
}

// AddContact 通过发现码添加联系人
// POST /v1/contacts
func AddContact(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserIDInt64(ctx, c)
	if !ok {
		response.Error(ctx, c, pkgerrors.Unauthorized)
		return
	}

	var req dto.AddContactRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	result, err := service.Contact().AddContact(ctx, userID, &req)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, result)
}

// RemoveContact 删除联系人
// DELETE /v1/contacts/:contact_id
func RemoveContact(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserIDInt64(ctx, c)
	if !ok {
		response.Error(ctx, c, pkgerrors.Unauthorized)
		return
	}

	contactID, err := strconv.ParseInt(c.Param("contact_id"), 10, 64)
	if err != nil {
		response.Error(ctx, c, pkgerrors.InvalidUserID)
		return
	}

	if err := service.Contact().RemoveContact(ctx, userID, contactID); err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.NoContent(ctx, c)
}

// ToggleRole 翻转与联系人的一侧角色
// PATCH /v1/contacts/:contact_id/role
func ToggleRole(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserIDInt64(ctx, c)
	if !ok {
		response.Error(ctx, c, pkgerrors.Unauthorized)
		return
	}

	contactID, err := strconv.ParseInt(c.Param("contact_id"), 10, 64)
	if err != nil {
		response.Error(ctx, c, pkgerrors.InvalidUserID)
		return
	}

	var req dto.ToggleRoleRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	result, err := service.Contact().ToggleRole(ctx, userID, contactID, model.ContactRole(req.Role))
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, result)
}
