package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/storefront-orderflow/internal/identity"
	"github.com/imrishuroy/storefront-orderflow/internal/validation"
)

func registerProfileRoutes(r *gin.RouterGroup, a *api) {
	r.GET("/me", a.getMe)
	r.PUT("/me", a.putMe)
}

func registerAdminUserRoutes(r *gin.RouterGroup, a *api) {
	r.GET("/users", a.listUsers)
	r.PUT("/users/:uid", a.putUser)
	r.DELETE("/users/:uid", a.deleteUser)
}

// getMe falls back to the resolved identity when no profile is stored yet.
func (a *api) getMe(c *gin.Context) {
	id := currentIdentity(c)
	p, err := a.Profiles.Get(c.Request.Context(), id.UID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	if p == nil {
		p = &identity.Profile{UID: id.UID, Role: id.Role, Name: id.Name, Email: id.Email}
	}
	c.JSON(http.StatusOK, p)
}

func (a *api) putMe(c *gin.Context) {
	var req validation.ProfileRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	p, err := a.Profiles.UpdateOwn(c.Request.Context(), currentIdentity(c), profileUpdate(req))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (a *api) listUsers(c *gin.Context) {
	list, err := a.Profiles.List(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": list})
}

func (a *api) putUser(c *gin.Context) {
	var req validation.AdminProfileRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	u := profileUpdate(req.ProfileRequest)
	if req.Role != nil {
		role := identity.Role(*req.Role)
		u.Role = &role
	}
	p, err := a.Profiles.Update(c.Request.Context(), c.Param("uid"), u)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (a *api) deleteUser(c *gin.Context) {
	if err := a.Profiles.Delete(c.Request.Context(), c.Param("uid")); err != nil {
		a.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func profileUpdate(req validation.ProfileRequest) identity.ProfileUpdate {
	return identity.ProfileUpdate{
		Name:    req.Name,
		Email:   req.Email,
		Address: req.Address,
		Phone:   req.Phone,
	}
}
