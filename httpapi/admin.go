package httpapi

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	access "github.com/goliatone/go-access"
	goerrors "github.com/goliatone/go-errors"
)

// AdminSearch lists principals. Query parameters: q, verified, admin,
// active, created_after, created_before (RFC 3339), page and page_size.
func (a *Controller) AdminSearch(c *fiber.Ctx) error {
	filter, err := filterFromQuery(c)
	if err != nil {
		return a.ErrorHandler(c, err)
	}
	page := access.Page{
		Number: c.QueryInt("page", 1),
		Size:   c.QueryInt("page_size", access.DefaultPageSize),
	}

	result, err := a.Accounts.SearchPrincipals(c.UserContext(), filter, page)
	if err != nil {
		return a.ErrorHandler(c, err)
	}
	return c.JSON(result)
}

func filterFromQuery(c *fiber.Ctx) (access.PrincipalFilter, error) {
	filter := access.PrincipalFilter{Query: c.Query("q")}

	flags := []struct {
		key string
		dst **bool
	}{
		{"verified", &filter.Verified},
		{"admin", &filter.Admin},
		{"active", &filter.Active},
	}
	for _, f := range flags {
		raw := c.Query(f.key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, badQuery(f.key, err)
		}
		*f.dst = access.Bool(v)
	}

	dates := []struct {
		key string
		dst **time.Time
	}{
		{"created_after", &filter.CreatedAfter},
		{"created_before", &filter.CreatedBefore},
	}
	for _, d := range dates {
		raw := c.Query(d.key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, badQuery(d.key, err)
		}
		*d.dst = &t
	}
	return filter, nil
}

func badQuery(key string, err error) error {
	return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid query parameter "+key).
		WithCode(goerrors.CodeBadRequest).
		WithTextCode(goerrors.TextCodeDataParseError)
}

func (a *Controller) AdminCreate(c *fiber.Ctx) error {
	payload := new(CreatePrincipalRequest)
	if err := a.bind(c, payload); err != nil {
		return a.ErrorHandler(c, err)
	}

	p, err := a.Accounts.CreatePrincipal(c.UserContext(), actor(c), access.RegisterInput{
		Username: payload.Username,
		Email:    payload.Email,
		Password: payload.Password,
	}, payload.Admin)
	if err != nil {
		return a.ErrorHandler(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

func (a *Controller) AdminGet(c *fiber.Ctx) error {
	p, err := a.Accounts.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return a.ErrorHandler(c, err)
	}
	return c.JSON(fiber.Map{
		"principal": p,
		"status":    access.StatusOf(p),
	})
}

func (a *Controller) AdminDelete(c *fiber.Ctx) error {
	if err := a.Accounts.DeleteAccount(c.UserContext(), actor(c), c.Params("id")); err != nil {
		return a.ErrorHandler(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AdminAction applies promote, demote, disable, enable or verify.
func (a *Controller) AdminAction(c *fiber.Ctx) error {
	actions := map[string]func(context.Context, access.ActorRef, string) (*access.Principal, error){
		"promote": a.Accounts.Promote,
		"demote":  a.Accounts.Demote,
		"disable": a.Accounts.Disable,
		"enable":  a.Accounts.Enable,
		"verify":  a.Accounts.ForceVerify,
	}
	op, ok := actions[c.Params("action")]
	if !ok {
		return a.ErrorHandler(c, fiber.ErrNotFound)
	}

	p, err := op(c.UserContext(), actor(c), c.Params("id"))
	if err != nil {
		return a.ErrorHandler(c, err)
	}
	return c.JSON(fiber.Map{
		"principal": p,
		"status":    access.StatusOf(p),
	})
}

func (a *Controller) AdminSetTags(c *fiber.Ctx) error {
	payload := new(TagsRequest)
	if err := c.BodyParser(payload); err != nil {
		return a.ErrorHandler(c, fiber.ErrBadRequest)
	}
	p, err := a.Accounts.SetTags(c.UserContext(), actor(c), c.Params("id"), payload.Roles, payload.Permissions)
	if err != nil {
		return a.ErrorHandler(c, err)
	}
	return c.JSON(p)
}

func (a *Controller) AdminStats(c *fiber.Ctx) error {
	stats, err := a.Accounts.Stats(c.UserContext())
	if err != nil {
		return a.ErrorHandler(c, err)
	}
	return c.JSON(stats)
}

// AdminCleanup runs the eviction sweep now. Admins are spared unless
// include_admins is set.
func (a *Controller) AdminCleanup(c *fiber.Ctx) error {
	payload := new(CleanupRequest)
	if len(c.Body()) > 0 {
		if err := a.bind(c, payload); err != nil {
			return a.ErrorHandler(c, err)
		}
	}

	report, err := a.Cleaner.RunWith(c.UserContext(), payload.Staleness(a.Cleaner.Staleness()), !payload.IncludeAdmins)
	if err != nil {
		return a.ErrorHandler(c, err)
	}
	status := fiber.StatusOK
	if report.Skipped {
		status = fiber.StatusConflict
	}
	return c.Status(status).JSON(report)
}

func (a *Controller) AdminListResources(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"resources": a.Catalog.Nodes()})
}

func (a *Controller) AdminAddResource(c *fiber.Ctx) error {
	payload := new(ResourceRequest)
	if err := a.bind(c, payload); err != nil {
		return a.ErrorHandler(c, err)
	}
	node, err := a.Catalog.AddNode(c.UserContext(), actor(c), payload.Node())
	if err != nil {
		return a.ErrorHandler(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(node)
}

func (a *Controller) AdminUpdatePolicy(c *fiber.Ctx) error {
	payload := new(PolicyRequest)
	if err := a.bind(c, payload); err != nil {
		return a.ErrorHandler(c, err)
	}
	node, err := a.Catalog.UpdateAccessPolicy(c.UserContext(), actor(c), c.Params("name"), payload.Policy())
	if err != nil {
		return a.ErrorHandler(c, err)
	}
	return c.JSON(node)
}

func (a *Controller) AdminToggleResource(c *fiber.Ctx) error {
	node, err := a.Catalog.ToggleNode(c.UserContext(), actor(c), c.Params("name"))
	if err != nil {
		return a.ErrorHandler(c, err)
	}
	return c.JSON(node)
}

func (a *Controller) AdminRemoveResource(c *fiber.Ctx) error {
	if err := a.Catalog.RemoveNode(c.UserContext(), actor(c), c.Params("name")); err != nil {
		return a.ErrorHandler(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func actor(c *fiber.Ctx) access.ActorRef {
	return access.ActorFromContext(c.UserContext())
}
